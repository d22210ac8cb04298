package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perkmill/member-discounts/internal/domain/discount"
)

const (
	createRuleSQL = `INSERT INTO discount_rules (id, title, tier_id, percent, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING created_at`

	updateRuleSQL = `UPDATE discount_rules
		SET title = $2, tier_id = $3, percent = $4, status = $5
		WHERE id = $1`

	getRuleSQL = `SELECT id, title, tier_id, percent, usage_count, status, created_at
		FROM discount_rules WHERE id = $1`

	listRulesSQL = `SELECT id, title, tier_id, percent, usage_count, status, created_at
		FROM discount_rules ORDER BY created_at DESC, id DESC`

	matchRuleByTierSQL = `SELECT id, title, tier_id, percent, usage_count, status, created_at
		FROM discount_rules
		WHERE tier_id = $1 AND status = 'publish'
		ORDER BY created_at DESC, id DESC
		LIMIT 1`

	incrementRuleUsageSQL = `UPDATE discount_rules SET usage_count = usage_count + 1 WHERE id = $1`
)

var _ discount.Repository = (*DiscountRepository)(nil)

// DiscountRepository implements discount.Repository backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// Create persists a new rule. The rule is always stored with publish status,
// regardless of what the admin form submitted.
func (r *DiscountRepository) Create(ctx context.Context, rule *discount.Rule) error {
	rule.Status = discount.StatusPublish

	var createdAt time.Time
	err := r.pool.QueryRow(ctx, createRuleSQL,
		rule.ID, rule.Title, rule.TierID, rule.Percent, rule.Status,
	).Scan(&createdAt)
	if err != nil {
		return fmt.Errorf("creating discount rule %q: %w", rule.ID, err)
	}
	rule.CreatedAt = createdAt

	return nil
}

// Update saves an edited rule, again forcing publish status.
func (r *DiscountRepository) Update(ctx context.Context, rule *discount.Rule) error {
	rule.Status = discount.StatusPublish

	tag, err := r.pool.Exec(ctx, updateRuleSQL,
		rule.ID, rule.Title, rule.TierID, rule.Percent, rule.Status,
	)
	if err != nil {
		return fmt.Errorf("updating discount rule %q: %w", rule.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return discount.ErrNotFound
	}

	return nil
}

// GetByID returns the rule with the given ID.
// Returns discount.ErrNotFound when no such rule exists.
func (r *DiscountRepository) GetByID(ctx context.Context, id string) (*discount.Rule, error) {
	rows, err := r.pool.Query(ctx, getRuleSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting discount rule %q: %w", id, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNotFound
		}
		return nil, fmt.Errorf("getting discount rule %q: %w", id, err)
	}
	return &rule, nil
}

// List returns all rules, newest first.
func (r *DiscountRepository) List(ctx context.Context) ([]discount.Rule, error) {
	rows, err := r.pool.Query(ctx, listRulesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing discount rules: %w", err)
	}

	rules, err := pgx.CollectRows(rows, scanRule)
	if err != nil {
		return nil, fmt.Errorf("listing discount rules: %w", err)
	}
	return rules, nil
}

// MatchByTier returns the published rule targeting the given tier. When
// several rules target the same tier the most recently created wins.
// Returns discount.ErrNoRule when no rule matches.
func (r *DiscountRepository) MatchByTier(ctx context.Context, tierID string) (*discount.Rule, error) {
	rows, err := r.pool.Query(ctx, matchRuleByTierSQL, tierID)
	if err != nil {
		return nil, fmt.Errorf("matching rule for tier %q: %w", tierID, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, discount.ErrNoRule
		}
		return nil, fmt.Errorf("matching rule for tier %q: %w", tierID, err)
	}
	return &rule, nil
}

// IncrementUsage atomically bumps the lifetime usage counter for the rule.
func (r *DiscountRepository) IncrementUsage(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, incrementRuleUsageSQL, id)
	if err != nil {
		return fmt.Errorf("incrementing usage for rule %q: %w", id, err)
	}
	return nil
}

func scanRule(row pgx.CollectableRow) (discount.Rule, error) {
	var rule discount.Rule
	err := row.Scan(
		&rule.ID, &rule.Title, &rule.TierID, &rule.Percent,
		&rule.UsageCount, &rule.Status, &rule.CreatedAt,
	)
	return rule, err
}
