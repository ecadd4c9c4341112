package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fjod/trophythreads/internal/domain"
)

const cartItemColumns = `
	ci.id, ci.cart_id, ci.product_id, ci.name, ci.unit_price, ci.thumbnail,
	ci.stock_hint, ci.quantity, ci.selected, ci.created_at,
	p.id, p.name, p.price, p.category, p.stock, p.sold, p.thumbnail, p.description, p.created_at`

// errQuantityCap is returned when a repeated add would push a line past
// domain.MaxLineQuantity. The upsert leaves the row untouched.
var errQuantityCap = domain.NewValidationError("quantity",
	fmt.Sprintf("cart line cannot hold more than %d", domain.MaxLineQuantity))

func ownerFilter(owner domain.Owner) (string, any) {
	if owner.IsUser() {
		return "user_id = $1", owner.UserID
	}
	return "session_key = $1", owner.SessionKey
}

func (r *Repository) cartID(ctx context.Context, owner domain.Owner) (int64, error) {
	filter, arg := ownerFilter(owner)
	var id int64
	err := r.db.QueryRowContext(ctx, "SELECT id FROM carts WHERE "+filter, arg).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrCartNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("query cart id: %w", err)
	}
	return id, nil
}

func (r *Repository) GetOrCreateCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	if _, err := r.ensureCartID(ctx, owner); err != nil {
		return nil, err
	}
	return r.GetCart(ctx, owner)
}

// ensureCartID creates the owner's cart on first use and returns its id.
func (r *Repository) ensureCartID(ctx context.Context, owner domain.Owner) (int64, error) {
	if !owner.Valid() {
		return 0, domain.NewValidationError("owner", "cart needs exactly one of user or session")
	}

	var userID sql.NullInt64
	var sessionKey sql.NullString
	if owner.IsUser() {
		userID = sql.NullInt64{Int64: owner.UserID, Valid: true}
	} else {
		sessionKey = sql.NullString{String: owner.SessionKey, Valid: true}
	}

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO carts (user_id, session_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)
		 ON CONFLICT DO NOTHING`,
		userID, sessionKey, now)
	if err != nil {
		return 0, fmt.Errorf("insert cart: %w", err)
	}

	return r.cartID(ctx, owner)
}

func (r *Repository) GetCart(ctx context.Context, owner domain.Owner) (*domain.Cart, error) {
	filter, arg := ownerFilter(owner)

	cart := &domain.Cart{}
	var userID sql.NullInt64
	var sessionKey sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, session_key, created_at, updated_at FROM carts WHERE "+filter, arg).
		Scan(&cart.ID, &userID, &sessionKey, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cart: %w", err)
	}
	if userID.Valid {
		cart.UserID = &userID.Int64
	}
	if sessionKey.Valid {
		cart.SessionKey = &sessionKey.String
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cartItemColumns+`
		FROM cart_items ci
		LEFT JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("query cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = []domain.CartItem{}
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, err
		}
		cart.Items = append(cart.Items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return cart, nil
}

func (r *Repository) GetItem(ctx context.Context, owner domain.Owner, itemID int64) (*domain.CartItem, error) {
	cartID, err := r.cartID(ctx, owner)
	if errors.Is(err, ErrCartNotFound) {
		return nil, domain.ErrCartItemNotFound
	}
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT `+cartItemColumns+`
		FROM cart_items ci
		LEFT JOIN products p ON p.id = ci.product_id
		WHERE ci.id = $1 AND ci.cart_id = $2`, itemID, cartID)

	item, err := scanCartItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCartItemNotFound
	}
	return item, err
}

// AddCatalogItem inserts a catalog-backed row or adds quantity to the
// existing one. Name, price and stock are kept as a fallback snapshot in case
// the product later leaves the catalog.
func (r *Repository) AddCatalogItem(ctx context.Context, owner domain.Owner, product *domain.Product, quantity int) (int64, error) {
	cartID, err := r.ensureCartID(ctx, owner)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, name, unit_price, thumbnail, stock_hint, quantity, selected, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + excluded.quantity
		WHERE cart_items.quantity + excluded.quantity <= $9
		RETURNING id`,
		cartID, product.ID, product.Name, product.Price, product.Thumbnail, product.Stock, quantity, time.Now().UTC(),
		domain.MaxLineQuantity,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errQuantityCap
	}
	if err != nil {
		return 0, fmt.Errorf("upsert catalog cart item: %w", err)
	}

	r.touchCart(ctx, cartID)
	return id, nil
}

// AddExternalItem stores the snapshot once; repeated adds of the same
// external product increment the existing row.
func (r *Repository) AddExternalItem(ctx context.Context, owner domain.Owner, snapshot domain.ExternalSnapshot, quantity int) (int64, error) {
	cartID, err := r.ensureCartID(ctx, owner)
	if err != nil {
		return 0, err
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (cart_id, product_id, name, unit_price, thumbnail, stock_hint, quantity, selected, created_at)
		VALUES ($1, NULL, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (cart_id, name) WHERE product_id IS NULL
		DO UPDATE SET quantity = cart_items.quantity + excluded.quantity
		WHERE cart_items.quantity + excluded.quantity <= $8
		RETURNING id`,
		cartID, snapshot.Name, snapshot.Price, snapshot.Thumbnail, snapshot.Stock, quantity, time.Now().UTC(),
		domain.MaxLineQuantity,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, errQuantityCap
	}
	if err != nil {
		return 0, fmt.Errorf("upsert external cart item: %w", err)
	}

	r.touchCart(ctx, cartID)
	return id, nil
}

func (r *Repository) UpdateItemQuantity(ctx context.Context, owner domain.Owner, itemID int64, quantity int) error {
	if err := domain.ValidateQuantity(quantity); err != nil {
		return err
	}
	return r.execItem(ctx, owner, itemID,
		"UPDATE cart_items SET quantity = $3 WHERE id = $1 AND cart_id = $2", quantity)
}

func (r *Repository) ToggleItemSelected(ctx context.Context, owner domain.Owner, itemID int64) (bool, error) {
	cartID, err := r.cartID(ctx, owner)
	if errors.Is(err, ErrCartNotFound) {
		return false, domain.ErrCartItemNotFound
	}
	if err != nil {
		return false, err
	}

	var selected bool
	err = r.db.QueryRowContext(ctx, `
		UPDATE cart_items SET selected = NOT selected
		WHERE id = $1 AND cart_id = $2
		RETURNING selected`, itemID, cartID).Scan(&selected)
	if errors.Is(err, sql.ErrNoRows) {
		return false, domain.ErrCartItemNotFound
	}
	if err != nil {
		return false, fmt.Errorf("toggle cart item: %w", err)
	}
	r.touchCart(ctx, cartID)
	return selected, nil
}

func (r *Repository) SetAllSelected(ctx context.Context, owner domain.Owner, selected bool) error {
	cartID, err := r.cartID(ctx, owner)
	if errors.Is(err, ErrCartNotFound) {
		return nil // nothing to select
	}
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx,
		"UPDATE cart_items SET selected = $1 WHERE cart_id = $2", selected, cartID); err != nil {
		return fmt.Errorf("select all cart items: %w", err)
	}
	r.touchCart(ctx, cartID)
	return nil
}

func (r *Repository) RemoveItem(ctx context.Context, owner domain.Owner, itemID int64) error {
	return r.execItem(ctx, owner, itemID, "DELETE FROM cart_items WHERE id = $1 AND cart_id = $2")
}

// execItem runs an owner-scoped statement against one cart item. The query
// must bind $1 to the item id and $2 to the cart id.
func (r *Repository) execItem(ctx context.Context, owner domain.Owner, itemID int64, query string, extra ...any) error {
	cartID, err := r.cartID(ctx, owner)
	if errors.Is(err, ErrCartNotFound) {
		return domain.ErrCartItemNotFound
	}
	if err != nil {
		return err
	}

	args := append([]any{itemID, cartID}, extra...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update cart item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrCartItemNotFound
	}
	r.touchCart(ctx, cartID)
	return nil
}

// touchCart bumps updated_at. The item write already landed, so a failure
// here is only logged.
func (r *Repository) touchCart(ctx context.Context, cartID int64) {
	_, err := r.db.ExecContext(ctx, "UPDATE carts SET updated_at = $1 WHERE id = $2", time.Now().UTC(), cartID)
	if err != nil {
		log.Warn().Err(err).Int64("cart_id", cartID).Msg("failed to touch cart")
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCartItem(row rowScanner) (*domain.CartItem, error) {
	var (
		item      domain.CartItem
		productID uuid.NullUUID

		pID          uuid.NullUUID
		pName        sql.NullString
		pPrice       sql.NullInt64
		pCategory    sql.NullString
		pStock       sql.NullInt64
		pSold        sql.NullInt64
		pThumbnail   sql.NullString
		pDescription sql.NullString
		pCreatedAt   sql.NullTime
	)

	err := row.Scan(
		&item.ID, &item.CartID, &productID, &item.Name, &item.UnitPrice, &item.Thumbnail,
		&item.StockHint, &item.Quantity, &item.Selected, &item.CreatedAt,
		&pID, &pName, &pPrice, &pCategory, &pStock, &pSold, &pThumbnail, &pDescription, &pCreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan cart item: %w", err)
	}

	if productID.Valid {
		item.ProductID = &productID.UUID
	}
	if pID.Valid {
		item.Product = &domain.Product{
			ID:          pID.UUID,
			Name:        pName.String,
			Price:       pPrice.Int64,
			Category:    pCategory.String,
			Stock:       int(pStock.Int64),
			Sold:        int(pSold.Int64),
			Thumbnail:   pThumbnail.String,
			Description: pDescription.String,
			CreatedAt:   pCreatedAt.Time,
		}
	}
	return &item, nil
}
