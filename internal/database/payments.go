package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const paymentColumns = `id, bill_id, split_part_id, shift_id, payment_method, amount, amount_tendered, change_amount, reference_number, idempotency_key, processed_by, processed_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID,
		&p.BillID,
		&p.SplitPartID,
		&p.ShiftID,
		&p.PaymentMethod,
		&p.Amount,
		&p.AmountTendered,
		&p.ChangeAmount,
		&p.ReferenceNumber,
		&p.IdempotencyKey,
		&p.ProcessedBy,
		&p.ProcessedAt,
	)
	return p, err
}

const createPayment = `
INSERT INTO payments (bill_id, split_part_id, shift_id, payment_method, amount, amount_tendered, change_amount, reference_number, idempotency_key, processed_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + paymentColumns

type CreatePaymentParams struct {
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
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	row := q.db.QueryRow(ctx, createPayment,
		arg.BillID,
		arg.SplitPartID,
		arg.ShiftID,
		arg.PaymentMethod,
		arg.Amount,
		arg.AmountTendered,
		arg.ChangeAmount,
		arg.ReferenceNumber,
		arg.IdempotencyKey,
		arg.ProcessedBy,
	)
	return scanPayment(row)
}

const getPaymentByIdempotencyKey = `
SELECT ` + paymentColumns + `
FROM payments
WHERE idempotency_key = $1
`

func (q *Queries) GetPaymentByIdempotencyKey(ctx context.Context, key string) (Payment, error) {
	return scanPayment(q.db.QueryRow(ctx, getPaymentByIdempotencyKey, key))
}

const listPaymentsByBill = `
SELECT ` + paymentColumns + `
FROM payments
WHERE bill_id = $1
ORDER BY processed_at
`

func (q *Queries) ListPaymentsByBill(ctx context.Context, billID uuid.UUID) ([]Payment, error) {
	rows, err := q.db.Query(ctx, listPaymentsByBill, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
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

const sumPaymentsByShiftAndMethod = `
SELECT COALESCE(SUM(amount), 0)
FROM payments
WHERE shift_id = $1 AND payment_method = $2
`

type SumPaymentsByShiftAndMethodParams struct {
	ShiftID       uuid.UUID
	PaymentMethod string
}

func (q *Queries) SumPaymentsByShiftAndMethod(ctx context.Context, arg SumPaymentsByShiftAndMethodParams) (pgtype.Numeric, error) {
	row := q.db.QueryRow(ctx, sumPaymentsByShiftAndMethod, arg.ShiftID, arg.PaymentMethod)
	var sum pgtype.Numeric
	err := row.Scan(&sum)
	return sum, err
}
