package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

func scanSplitSession(row pgx.Row) (SplitSession, error) {
	var s SplitSession
	err := row.Scan(
		&s.ID,
		&s.BillID,
		&s.Status,
		&s.CreatedBy,
		&s.CreatedAt,
		&s.ClosedAt,
	)
	return s, err
}

func scanSplitPart(row pgx.Row) (SplitPart, error) {
	var p SplitPart
	err := row.Scan(
		&p.ID,
		&p.SessionID,
		&p.PartNumber,
		&p.AssigneeName,
		&p.Paid,
		&p.PaidAt,
		&p.CreatedAt,
	)
	return p, err
}

const createSplitSession = `
INSERT INTO split_sessions (bill_id, created_by)
VALUES ($1, $2)
RETURNING id, bill_id, status, created_by, created_at, closed_at
`

type CreateSplitSessionParams struct {
	BillID    uuid.UUID
	CreatedBy uuid.UUID
}

func (q *Queries) CreateSplitSession(ctx context.Context, arg CreateSplitSessionParams) (SplitSession, error) {
	return scanSplitSession(q.db.QueryRow(ctx, createSplitSession, arg.BillID, arg.CreatedBy))
}

const getSplitSession = `
SELECT id, bill_id, status, created_by, created_at, closed_at
FROM split_sessions
WHERE id = $1
`

func (q *Queries) GetSplitSession(ctx context.Context, id uuid.UUID) (SplitSession, error) {
	return scanSplitSession(q.db.QueryRow(ctx, getSplitSession, id))
}

const getActiveSplitSessionByBill = `
SELECT id, bill_id, status, created_by, created_at, closed_at
FROM split_sessions
WHERE bill_id = $1 AND status = 'ACTIVE'
`

func (q *Queries) GetActiveSplitSessionByBill(ctx context.Context, billID uuid.UUID) (SplitSession, error) {
	return scanSplitSession(q.db.QueryRow(ctx, getActiveSplitSessionByBill, billID))
}

const closeSplitSession = `
UPDATE split_sessions
SET status = $2, closed_at = now()
WHERE id = $1
RETURNING id, bill_id, status, created_by, created_at, closed_at
`

type CloseSplitSessionParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) CloseSplitSession(ctx context.Context, arg CloseSplitSessionParams) (SplitSession, error) {
	return scanSplitSession(q.db.QueryRow(ctx, closeSplitSession, arg.ID, arg.Status))
}

const createSplitPart = `
INSERT INTO split_parts (session_id, part_number, assignee_name)
VALUES ($1, $2, $3)
RETURNING id, session_id, part_number, assignee_name, paid, paid_at, created_at
`

type CreateSplitPartParams struct {
	SessionID    uuid.UUID
	PartNumber   int32
	AssigneeName pgtype.Text
}

func (q *Queries) CreateSplitPart(ctx context.Context, arg CreateSplitPartParams) (SplitPart, error) {
	return scanSplitPart(q.db.QueryRow(ctx, createSplitPart, arg.SessionID, arg.PartNumber, arg.AssigneeName))
}

const getSplitPart = `
SELECT id, session_id, part_number, assignee_name, paid, paid_at, created_at
FROM split_parts
WHERE id = $1
`

func (q *Queries) GetSplitPart(ctx context.Context, id uuid.UUID) (SplitPart, error) {
	return scanSplitPart(q.db.QueryRow(ctx, getSplitPart, id))
}

const listSplitPartsBySession = `
SELECT id, session_id, part_number, assignee_name, paid, paid_at, created_at
FROM split_parts
WHERE session_id = $1
ORDER BY part_number
`

func (q *Queries) ListSplitPartsBySession(ctx context.Context, sessionID uuid.UUID) ([]SplitPart, error) {
	rows, err := q.db.Query(ctx, listSplitPartsBySession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SplitPart
	for rows.Next() {
		p, err := scanSplitPart(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteSplitPart = `
DELETE FROM split_parts
WHERE id = $1
`

func (q *Queries) DeleteSplitPart(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteSplitPart, id)
	return err
}

const markSplitPartPaid = `
UPDATE split_parts
SET paid = true, paid_at = now()
WHERE id = $1
RETURNING id, session_id, part_number, assignee_name, paid, paid_at, created_at
`

func (q *Queries) MarkSplitPartPaid(ctx context.Context, id uuid.UUID) (SplitPart, error) {
	return scanSplitPart(q.db.QueryRow(ctx, markSplitPartPaid, id))
}

const countUnpaidSplitParts = `
SELECT COUNT(*)
FROM split_parts
WHERE session_id = $1 AND paid = false
`

func (q *Queries) CountUnpaidSplitParts(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	row := q.db.QueryRow(ctx, countUnpaidSplitParts, sessionID)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const upsertSplitAllocation = `
INSERT INTO split_allocations (part_id, bill_item_id, quantity)
VALUES ($1, $2, $3)
ON CONFLICT (part_id, bill_item_id) DO UPDATE SET quantity = EXCLUDED.quantity
RETURNING id, part_id, bill_item_id, quantity
`

type UpsertSplitAllocationParams struct {
	PartID     uuid.UUID
	BillItemID uuid.UUID
	Quantity   int32
}

func (q *Queries) UpsertSplitAllocation(ctx context.Context, arg UpsertSplitAllocationParams) (SplitAllocation, error) {
	row := q.db.QueryRow(ctx, upsertSplitAllocation, arg.PartID, arg.BillItemID, arg.Quantity)
	var a SplitAllocation
	err := row.Scan(&a.ID, &a.PartID, &a.BillItemID, &a.Quantity)
	return a, err
}

const deleteSplitAllocation = `
DELETE FROM split_allocations
WHERE part_id = $1 AND bill_item_id = $2
`

type DeleteSplitAllocationParams struct {
	PartID     uuid.UUID
	BillItemID uuid.UUID
}

func (q *Queries) DeleteSplitAllocation(ctx context.Context, arg DeleteSplitAllocationParams) error {
	_, err := q.db.Exec(ctx, deleteSplitAllocation, arg.PartID, arg.BillItemID)
	return err
}

const listSplitAllocationsByPart = `
SELECT id, part_id, bill_item_id, quantity
FROM split_allocations
WHERE part_id = $1
`

func (q *Queries) ListSplitAllocationsByPart(ctx context.Context, partID uuid.UUID) ([]SplitAllocation, error) {
	rows, err := q.db.Query(ctx, listSplitAllocationsByPart, partID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SplitAllocation
	for rows.Next() {
		var a SplitAllocation
		if err := rows.Scan(&a.ID, &a.PartID, &a.BillItemID, &a.Quantity); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listSplitAllocationsBySession = `
SELECT a.id, a.part_id, a.bill_item_id, a.quantity
FROM split_allocations a
JOIN split_parts p ON p.id = a.part_id
WHERE p.session_id = $1
`

func (q *Queries) ListSplitAllocationsBySession(ctx context.Context, sessionID uuid.UUID) ([]SplitAllocation, error) {
	rows, err := q.db.Query(ctx, listSplitAllocationsBySession, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SplitAllocation
	for rows.Next() {
		var a SplitAllocation
		if err := rows.Scan(&a.ID, &a.PartID, &a.BillItemID, &a.Quantity); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
