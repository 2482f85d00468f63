package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const approvalColumns = `id, bill_id, bill_item_id, item_name, item_quantity, item_unit_price, reason, status, requested_by, resolved_by, requested_at, resolved_at`

func scanApprovalRequest(row pgx.Row) (ApprovalRequest, error) {
	var a ApprovalRequest
	err := row.Scan(
		&a.ID,
		&a.BillID,
		&a.BillItemID,
		&a.ItemName,
		&a.ItemQuantity,
		&a.ItemUnitPrice,
		&a.Reason,
		&a.Status,
		&a.RequestedBy,
		&a.ResolvedBy,
		&a.RequestedAt,
		&a.ResolvedAt,
	)
	return a, err
}

const createApprovalRequest = `
INSERT INTO approval_requests (bill_id, bill_item_id, item_name, item_quantity, item_unit_price, reason, requested_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + approvalColumns

type CreateApprovalRequestParams struct {
	BillID        uuid.UUID
	BillItemID    uuid.UUID
	ItemName      string
	ItemQuantity  int32
	ItemUnitPrice pgtype.Numeric
	Reason        string
	RequestedBy   uuid.UUID
}

func (q *Queries) CreateApprovalRequest(ctx context.Context, arg CreateApprovalRequestParams) (ApprovalRequest, error) {
	row := q.db.QueryRow(ctx, createApprovalRequest,
		arg.BillID,
		arg.BillItemID,
		arg.ItemName,
		arg.ItemQuantity,
		arg.ItemUnitPrice,
		arg.Reason,
		arg.RequestedBy,
	)
	return scanApprovalRequest(row)
}

const getApprovalRequest = `
SELECT ` + approvalColumns + `
FROM approval_requests
WHERE id = $1
`

func (q *Queries) GetApprovalRequest(ctx context.Context, id uuid.UUID) (ApprovalRequest, error) {
	return scanApprovalRequest(q.db.QueryRow(ctx, getApprovalRequest, id))
}

const getApprovalRequestForUpdate = `
SELECT ` + approvalColumns + `
FROM approval_requests
WHERE id = $1
FOR NO KEY UPDATE
`

// GetApprovalRequestForUpdate locks the request row so two managers resolving
// the same request serialize; the second sees the first one's resolution.
func (q *Queries) GetApprovalRequestForUpdate(ctx context.Context, id uuid.UUID) (ApprovalRequest, error) {
	return scanApprovalRequest(q.db.QueryRow(ctx, getApprovalRequestForUpdate, id))
}

const listPendingApprovalRequests = `
SELECT ` + approvalColumns + `
FROM approval_requests
WHERE status = 'PENDING'
ORDER BY requested_at
`

func (q *Queries) ListPendingApprovalRequests(ctx context.Context) ([]ApprovalRequest, error) {
	rows, err := q.db.Query(ctx, listPendingApprovalRequests)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ApprovalRequest
	for rows.Next() {
		a, err := scanApprovalRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listApprovalRequestsByBill = `
SELECT ` + approvalColumns + `
FROM approval_requests
WHERE bill_id = $1
ORDER BY requested_at
`

func (q *Queries) ListApprovalRequestsByBill(ctx context.Context, billID uuid.UUID) ([]ApprovalRequest, error) {
	rows, err := q.db.Query(ctx, listApprovalRequestsByBill, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ApprovalRequest
	for rows.Next() {
		a, err := scanApprovalRequest(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const resolveApprovalRequest = `
UPDATE approval_requests
SET status = $2, resolved_by = $3, resolved_at = now()
WHERE id = $1
RETURNING ` + approvalColumns

type ResolveApprovalRequestParams struct {
	ID         uuid.UUID
	Status     string
	ResolvedBy uuid.UUID
}

func (q *Queries) ResolveApprovalRequest(ctx context.Context, arg ResolveApprovalRequestParams) (ApprovalRequest, error) {
	return scanApprovalRequest(q.db.QueryRow(ctx, resolveApprovalRequest, arg.ID, arg.Status, arg.ResolvedBy))
}

const createDeletionLogEntry = `
INSERT INTO deletion_log (bill_id, bill_number, item_name, item_quantity, item_unit_price, reason, requested_by, approved_by, requested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, bill_id, bill_number, item_name, item_quantity, item_unit_price, reason, requested_by, approved_by, requested_at, deleted_at
`

type CreateDeletionLogEntryParams struct {
	BillID        uuid.UUID
	BillNumber    string
	ItemName      string
	ItemQuantity  int32
	ItemUnitPrice pgtype.Numeric
	Reason        string
	RequestedBy   uuid.UUID
	ApprovedBy    uuid.UUID
	RequestedAt   time.Time
}

func (q *Queries) CreateDeletionLogEntry(ctx context.Context, arg CreateDeletionLogEntryParams) (DeletionLogEntry, error) {
	row := q.db.QueryRow(ctx, createDeletionLogEntry,
		arg.BillID,
		arg.BillNumber,
		arg.ItemName,
		arg.ItemQuantity,
		arg.ItemUnitPrice,
		arg.Reason,
		arg.RequestedBy,
		arg.ApprovedBy,
		arg.RequestedAt,
	)
	return scanDeletionLogEntry(row)
}

func scanDeletionLogEntry(row pgx.Row) (DeletionLogEntry, error) {
	var e DeletionLogEntry
	err := row.Scan(
		&e.ID,
		&e.BillID,
		&e.BillNumber,
		&e.ItemName,
		&e.ItemQuantity,
		&e.ItemUnitPrice,
		&e.Reason,
		&e.RequestedBy,
		&e.ApprovedBy,
		&e.RequestedAt,
		&e.DeletedAt,
	)
	return e, err
}

const listDeletionLog = `
SELECT id, bill_id, bill_number, item_name, item_quantity, item_unit_price, reason, requested_by, approved_by, requested_at, deleted_at
FROM deletion_log
ORDER BY deleted_at DESC
LIMIT $1 OFFSET $2
`

type ListDeletionLogParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListDeletionLog(ctx context.Context, arg ListDeletionLogParams) ([]DeletionLogEntry, error) {
	rows, err := q.db.Query(ctx, listDeletionLog, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeletionLogEntry
	for rows.Next() {
		e, err := scanDeletionLogEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
