package enum

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	BillStatusOpen      = "OPEN"
	BillStatusSubmitted = "SUBMITTED"
	BillStatusSettled   = "SETTLED"
	BillStatusCancelled = "CANCELLED"
)

const (
	PaymentStatusUnpaid = "UNPAID"
	PaymentStatusPaid   = "PAID"
	PaymentStatusFailed = "FAILED"
)

const (
	ApprovalStatusPending  = "PENDING"
	ApprovalStatusApproved = "APPROVED"
	ApprovalStatusRejected = "REJECTED"
)

const (
	SplitSessionStatusActive    = "ACTIVE"
	SplitSessionStatusSettled   = "SETTLED"
	SplitSessionStatusCancelled = "CANCELLED"
)

const (
	ShiftStatusOpen   = "OPEN"
	ShiftStatusClosed = "CLOSED"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	UserRoleAdmin   = "ADMIN"
	UserRoleManager = "MANAGER"
	UserRoleCashier = "CASHIER"
)

const (
	MovementDirectionIn  = "IN"
	MovementDirectionOut = "OUT"
)

// ── Group B: Configurable labels (no DB constraint) ──

const (
	PaymentMethodCash = "CASH"
	PaymentMethodQRIS = "QRIS"
)

const (
	MovementCategoryDeposit = "DEPOSIT"
	MovementCategoryExpense = "EXPENSE"
	MovementCategoryOther   = "OTHER"
)

// Request-level tags, never persisted.

const (
	BillModeCreate  = "CREATE"
	BillModeReplace = "REPLACE"
)

const (
	SettleModeCart      = "CART"
	SettleModeWholeBill = "WHOLE_BILL"
	SettleModeSplitPart = "SPLIT_PART"
)
