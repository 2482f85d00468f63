package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const createMenuItem = `
INSERT INTO menu_items (name, category, price, is_active)
VALUES ($1, $2, $3, $4)
RETURNING id, name, category, price, is_active, created_at, updated_at
`

type CreateMenuItemParams struct {
	Name     string
	Category string
	Price    pgtype.Numeric
	IsActive bool
}

func (q *Queries) CreateMenuItem(ctx context.Context, arg CreateMenuItemParams) (MenuItem, error) {
	row := q.db.QueryRow(ctx, createMenuItem,
		arg.Name,
		arg.Category,
		arg.Price,
		arg.IsActive,
	)
	var m MenuItem
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Category,
		&m.Price,
		&m.IsActive,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

const getMenuItemForBill = `
SELECT id, name, price, is_active
FROM menu_items
WHERE id = $1
`

type GetMenuItemForBillRow struct {
	ID       uuid.UUID
	Name     string
	Price    pgtype.Numeric
	IsActive bool
}

func (q *Queries) GetMenuItemForBill(ctx context.Context, id uuid.UUID) (GetMenuItemForBillRow, error) {
	row := q.db.QueryRow(ctx, getMenuItemForBill, id)
	var m GetMenuItemForBillRow
	err := row.Scan(
		&m.ID,
		&m.Name,
		&m.Price,
		&m.IsActive,
	)
	return m, err
}

const listMenuItems = `
SELECT id, name, category, price, is_active, created_at, updated_at
FROM menu_items
WHERE is_active = true
ORDER BY category, name
`

func (q *Queries) ListMenuItems(ctx context.Context) ([]MenuItem, error) {
	rows, err := q.db.Query(ctx, listMenuItems)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []MenuItem
	for rows.Next() {
		var m MenuItem
		if err := rows.Scan(
			&m.ID,
			&m.Name,
			&m.Category,
			&m.Price,
			&m.IsActive,
			&m.CreatedAt,
			&m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
