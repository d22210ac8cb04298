package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perkmill/member-discounts/internal/domain/membership"
)

const (
	getMembershipSQL = `SELECT user_id, tier_id, status, expires_at
		FROM memberships WHERE user_id = $1`

	upsertMembershipSQL = `INSERT INTO memberships (user_id, tier_id, status, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET tier_id = EXCLUDED.tier_id, status = EXCLUDED.status, expires_at = EXCLUDED.expires_at`

	listTiersSQL = `SELECT id, name FROM membership_tiers ORDER BY id`

	upsertTierSQL = `INSERT INTO membership_tiers (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`
)

var _ membership.Provider = (*MembershipRepository)(nil)

// MembershipRepository reads and writes the membership data mirrored from
// the membership system.
type MembershipRepository struct {
	pool *pgxpool.Pool
}

// NewMembershipRepository returns a MembershipRepository that uses the given pool.
func NewMembershipRepository(pool *pgxpool.Pool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

// GetByUserID returns the membership snapshot for the user.
// Returns membership.ErrNotFound when the user has no record.
func (r *MembershipRepository) GetByUserID(ctx context.Context, userID string) (*membership.Snapshot, error) {
	rows, err := r.pool.Query(ctx, getMembershipSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("getting membership for user %q: %w", userID, err)
	}

	snap, err := pgx.CollectExactlyOneRow(rows, scanMembership)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, membership.ErrNotFound
		}
		return nil, fmt.Errorf("getting membership for user %q: %w", userID, err)
	}
	return &snap, nil
}

// Upsert writes a membership snapshot, replacing any prior record for the user.
func (r *MembershipRepository) Upsert(ctx context.Context, snap *membership.Snapshot) error {
	_, err := r.pool.Exec(ctx, upsertMembershipSQL,
		snap.UserID, snap.TierID, snap.Status, snap.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("upserting membership for user %q: %w", snap.UserID, err)
	}
	return nil
}

// ListTiers returns all known membership tiers.
func (r *MembershipRepository) ListTiers(ctx context.Context) ([]membership.Tier, error) {
	rows, err := r.pool.Query(ctx, listTiersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing tiers: %w", err)
	}

	tiers, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (membership.Tier, error) {
		var t membership.Tier
		err := row.Scan(&t.ID, &t.Name)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing tiers: %w", err)
	}
	return tiers, nil
}

// UpsertTier writes a tier definition.
func (r *MembershipRepository) UpsertTier(ctx context.Context, tier membership.Tier) error {
	_, err := r.pool.Exec(ctx, upsertTierSQL, tier.ID, tier.Name)
	if err != nil {
		return fmt.Errorf("upserting tier %q: %w", tier.ID, err)
	}
	return nil
}

func scanMembership(row pgx.CollectableRow) (membership.Snapshot, error) {
	var snap membership.Snapshot
	err := row.Scan(&snap.UserID, &snap.TierID, &snap.Status, &snap.ExpiresAt)
	return snap, err
}
