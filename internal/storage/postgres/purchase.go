package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perkmill/member-discounts/internal/domain/purchase"
)

const (
	createPurchaseSQL = `INSERT INTO purchases (id, user_id, subtotal, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`

	getPurchaseSQL = `SELECT id, user_id, subtotal, total, status, applied_discount_id, discount_counted, created_at
		FROM purchases WHERE id = $1`

	setAppliedDiscountSQL = `UPDATE purchases SET applied_discount_id = $2 WHERE id = $1`

	updatePurchaseStatusSQL = `UPDATE purchases p
		SET status = $2
		FROM (SELECT status AS old_status FROM purchases WHERE id = $1) prev
		WHERE p.id = $1
		RETURNING prev.old_status`

	markDiscountCountedSQL = `UPDATE purchases
		SET discount_counted = TRUE
		WHERE id = $1 AND discount_counted = FALSE`
)

var _ purchase.Repository = (*PurchaseRepository)(nil)

// PurchaseRepository implements purchase.Repository backed by PostgreSQL.
type PurchaseRepository struct {
	pool *pgxpool.Pool
}

// NewPurchaseRepository returns a PurchaseRepository that uses the given pool.
func NewPurchaseRepository(pool *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

// Create persists a new purchase record.
func (r *PurchaseRepository) Create(ctx context.Context, p *purchase.Purchase) error {
	err := r.pool.QueryRow(ctx, createPurchaseSQL,
		p.ID, p.UserID, p.Subtotal, p.Total, p.Status,
	).Scan(&p.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating purchase %q: %w", p.ID, err)
	}
	return nil
}

// GetByID returns the purchase with the given ID.
// Returns purchase.ErrNotFound when no such purchase exists.
func (r *PurchaseRepository) GetByID(ctx context.Context, id string) (*purchase.Purchase, error) {
	rows, err := r.pool.Query(ctx, getPurchaseSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting purchase %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPurchase)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, purchase.ErrNotFound
		}
		return nil, fmt.Errorf("getting purchase %q: %w", id, err)
	}
	return &p, nil
}

// SetAppliedDiscount attaches the applied rule reference to the purchase.
func (r *PurchaseRepository) SetAppliedDiscount(ctx context.Context, purchaseID, discountID string) error {
	tag, err := r.pool.Exec(ctx, setAppliedDiscountSQL, purchaseID, discountID)
	if err != nil {
		return fmt.Errorf("setting applied discount on purchase %q: %w", purchaseID, err)
	}
	if tag.RowsAffected() == 0 {
		return purchase.ErrNotFound
	}
	return nil
}

// UpdateStatus sets the purchase status and returns the status it replaced.
func (r *PurchaseRepository) UpdateStatus(ctx context.Context, purchaseID string, status purchase.Status) (purchase.Status, error) {
	var old string
	err := r.pool.QueryRow(ctx, updatePurchaseStatusSQL, purchaseID, string(status)).Scan(&old)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", purchase.ErrNotFound
		}
		return "", fmt.Errorf("updating status of purchase %q: %w", purchaseID, err)
	}
	return purchase.Status(old), nil
}

// MarkDiscountCounted flips the counted flag. The conditional UPDATE makes
// the first caller win: only one invocation per purchase ever reports first.
func (r *PurchaseRepository) MarkDiscountCounted(ctx context.Context, purchaseID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, markDiscountCountedSQL, purchaseID)
	if err != nil {
		return false, fmt.Errorf("marking discount counted on purchase %q: %w", purchaseID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanPurchase(row pgx.CollectableRow) (purchase.Purchase, error) {
	var (
		p      purchase.Purchase
		status string
	)
	err := row.Scan(
		&p.ID, &p.UserID, &p.Subtotal, &p.Total, &status,
		&p.AppliedDiscountID, &p.DiscountCounted, &p.CreatedAt,
	)
	p.Status = purchase.Status(status)
	return p, err
}
