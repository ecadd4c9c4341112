package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/fjod/trophythreads/internal/domain"
)

// ListPurchasesByToken returns the purchases of one commit. userID nil
// matches anonymous purchases only, so tokens never leak across owners.
func (r *Repository) ListPurchasesByToken(ctx context.Context, token uuid.UUID, userID *int64) ([]domain.Purchase, error) {
	query := `SELECT id, order_token, user_id, product_id, product_name, unit_price, quantity, created_at
	          FROM purchases WHERE order_token = $1 AND user_id IS NULL ORDER BY id`
	args := []any{token}
	if userID != nil {
		query = `SELECT id, order_token, user_id, product_id, product_name, unit_price, quantity, created_at
		         FROM purchases WHERE order_token = $1 AND user_id = $2 ORDER BY id`
		args = append(args, *userID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query purchases by token: %w", err)
	}
	defer rows.Close()

	var purchases []domain.Purchase
	for rows.Next() {
		var (
			p         domain.Purchase
			owner     sql.NullInt64
			productID uuid.NullUUID
		)
		if err := rows.Scan(
			&p.ID,
			&p.OrderToken,
			&owner,
			&productID,
			&p.ProductName,
			&p.UnitPrice,
			&p.Quantity,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan purchase row: %w", err)
		}
		if owner.Valid {
			p.UserID = &owner.Int64
		}
		if productID.Valid {
			p.ProductID = &productID.UUID
		}
		purchases = append(purchases, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	if len(purchases) == 0 {
		return nil, domain.ErrOrderNotFound
	}

	return purchases, nil
}

func (r *Repository) CountPurchases(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM purchases").Scan(&n); err != nil {
		return 0, fmt.Errorf("count purchases: %w", err)
	}
	return n, nil
}
