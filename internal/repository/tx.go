package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/fjod/trophythreads/internal/domain"
)

// Tx holds the primitives of one commit. All of them run on the same
// database transaction.
type Tx interface {
	LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error)
	DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error
	InsertPurchase(ctx context.Context, p *domain.Purchase) error
	DeleteCartItems(ctx context.Context, owner domain.Owner, itemIDs []int64) error
	InsertOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error
}

type sqlTx struct {
	tx      *sql.Tx
	dialect dialect
}

func (r *Repository) RunAtomic(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin transaction: %w", err))
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	if r.dialect == dialectPostgres && r.lockTimeout > 0 {
		if _, err = tx.ExecContext(ctx, lockTimeoutStatement(r.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err = fn(&sqlTx{tx: tx, dialect: r.dialect}); err != nil {
		return classify(err)
	}

	if err = tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// LockProducts reads and locks every distinct product row in ascending id
// order so that two commits sharing products always lock in the same order.
func (t *sqlTx) LockProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	ordered := uniqueSorted(ids)
	locked := make(map[uuid.UUID]*domain.Product, len(ordered))

	query := "SELECT " + productColumns + " FROM products WHERE id = $1" + t.dialect.lockClause()
	for _, id := range ordered {
		p, err := scanProduct(t.tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("lock product %s: %w", id, domain.ErrProductNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("lock product %s: %w", id, err)
		}
		locked[id] = p
	}
	return locked, nil
}

// DecrementStock moves quantity from stock to sold. The stock guard makes the
// update fail rather than go negative if a caller skipped validation.
func (t *sqlTx) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $1, sold = sold + $1
		WHERE id = $2 AND stock >= $1`, quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("decrement stock for %s: guard rejected update", productID)
	}
	return nil
}

func (t *sqlTx) InsertPurchase(ctx context.Context, p *domain.Purchase) error {
	var userID sql.NullInt64
	if p.UserID != nil {
		userID = sql.NullInt64{Int64: *p.UserID, Valid: true}
	}
	var productID uuid.NullUUID
	if p.ProductID != nil {
		productID = uuid.NullUUID{UUID: *p.ProductID, Valid: true}
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO purchases (order_token, user_id, product_id, product_name, unit_price, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		p.OrderToken, userID, productID, p.ProductName, p.UnitPrice, p.Quantity, p.CreatedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("insert purchase: %w", err)
	}
	return nil
}

// DeleteCartItems removes consumed items from the owner's cart. An item that
// is already gone means the selection was committed or edited elsewhere.
func (t *sqlTx) DeleteCartItems(ctx context.Context, owner domain.Owner, itemIDs []int64) error {
	if len(itemIDs) == 0 {
		return nil
	}

	filter, arg := ownerFilter(owner)
	var cartID int64
	err := t.tx.QueryRowContext(ctx, "SELECT id FROM carts WHERE "+filter, arg).Scan(&cartID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrCartChanged
	}
	if err != nil {
		return fmt.Errorf("query cart id: %w", err)
	}

	for _, id := range itemIDs {
		res, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE id = $1 AND cart_id = $2", id, cartID)
		if err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return domain.ErrCartChanged
		}
	}

	if _, err := t.tx.ExecContext(ctx, "UPDATE carts SET updated_at = $1 WHERE id = $2", time.Now().UTC(), cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}

func (t *sqlTx) InsertOutboxEvent(ctx context.Context, aggregateID, eventType string, payload []byte) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4)`,
		aggregateID, eventType, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}
