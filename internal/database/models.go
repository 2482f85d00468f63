package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type User struct {
	ID             uuid.UUID
	Email          string
	HashedPassword string
	PinHash        pgtype.Text
	FullName       string
	Role           string
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type MenuItem struct {
	ID        uuid.UUID
	Name      string
	Category  string
	Price     pgtype.Numeric
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Shift struct {
	ID             uuid.UUID
	CashierID      uuid.UUID
	Status         string
	InitialCash    pgtype.Numeric
	FinalCash      pgtype.Numeric
	SystemCash     pgtype.Numeric
	CashDifference pgtype.Numeric
	TotalOrders    int32
	TotalRevenue   pgtype.Numeric
	CashRevenue    pgtype.Numeric
	NoncashRevenue pgtype.Numeric
	OpenedAt       time.Time
	ClosedAt       pgtype.Timestamptz
}

type CashMovement struct {
	ID          uuid.UUID
	ShiftID     uuid.UUID
	CashierID   uuid.UUID
	Direction   string
	Amount      pgtype.Numeric
	Description string
	Category    string
	CreatedAt   time.Time
}

type Bill struct {
	ID            uuid.UUID
	BillNumber    string
	CustomerName  pgtype.Text
	TableNumber   pgtype.Text
	Status        string
	PaymentStatus string
	PaymentMethod pgtype.Text
	Subtotal      pgtype.Numeric
	Discount      pgtype.Numeric
	Total         pgtype.Numeric
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SettledAt     pgtype.Timestamptz
}

type BillItem struct {
	ID         uuid.UUID
	BillID     uuid.UUID
	MenuItemID uuid.UUID
	Name       string
	UnitPrice  pgtype.Numeric
	Quantity   int32
	Note       pgtype.Text
	CreatedAt  time.Time
}

type ApprovalRequest struct {
	ID            uuid.UUID
	BillID        uuid.UUID
	BillItemID    uuid.UUID
	ItemName      string
	ItemQuantity  int32
	ItemUnitPrice pgtype.Numeric
	Reason        string
	Status        string
	RequestedBy   uuid.UUID
	ResolvedBy    pgtype.UUID
	RequestedAt   time.Time
	ResolvedAt    pgtype.Timestamptz
}

type DeletionLogEntry struct {
	ID            uuid.UUID
	BillID        uuid.UUID
	BillNumber    string
	ItemName      string
	ItemQuantity  int32
	ItemUnitPrice pgtype.Numeric
	Reason        string
	RequestedBy   uuid.UUID
	ApprovedBy    uuid.UUID
	RequestedAt   time.Time
	DeletedAt     time.Time
}

type SplitSession struct {
	ID        uuid.UUID
	BillID    uuid.UUID
	Status    string
	CreatedBy uuid.UUID
	CreatedAt time.Time
	ClosedAt  pgtype.Timestamptz
}

type SplitPart struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	PartNumber   int32
	AssigneeName pgtype.Text
	Paid         bool
	PaidAt       pgtype.Timestamptz
	CreatedAt    time.Time
}

type SplitAllocation struct {
	ID         uuid.UUID
	PartID     uuid.UUID
	BillItemID uuid.UUID
	Quantity   int32
}

type Payment struct {
	ID              uuid.UUID
	BillID          uuid.UUID
	SplitPartID     pgtype.UUID
	ShiftID         uuid.UUID
	PaymentMethod   string
	Amount          pgtype.Numeric
	AmountTendered  pgtype.Numeric
	ChangeAmount    pgtype.Numeric
	ReferenceNumber pgtype.Text
	IdempotencyKey  pgtype.Text
	ProcessedBy     uuid.UUID
	ProcessedAt     time.Time
}
