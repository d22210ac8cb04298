package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/perkmill/member-discounts/internal/domain/auth"
	"github.com/perkmill/member-discounts/internal/domain/discount"
	"github.com/perkmill/member-discounts/internal/domain/membership"
	"github.com/perkmill/member-discounts/internal/storage/postgres"
)

func main() {
	var (
		databaseURL  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or MEMDISC_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or MEMDISC_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("MEMDISC_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or MEMDISC_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("MEMDISC_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	members := postgres.NewMembershipRepository(pool)
	rules := postgres.NewDiscountRepository(pool)
	apikeys := postgres.NewAPIKeyRepository(pool)

	if err := seedTiers(ctx, members); err != nil {
		return errors.Wrap(err, "seed tiers")
	}
	if err := seedRules(ctx, rules); err != nil {
		return errors.Wrap(err, "seed discount rules")
	}
	if err := seedMemberships(ctx, members); err != nil {
		return errors.Wrap(err, "seed memberships")
	}
	if err := seedAPIKey(ctx, apikeys, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	return nil
}

func seedTiers(ctx context.Context, members *postgres.MembershipRepository) error {
	slog.Info("seeding membership tiers")

	tiers := []membership.Tier{
		{ID: "bronze", Name: "Bronze"},
		{ID: "silver", Name: "Silver"},
		{ID: "gold", Name: "Gold"},
	}

	for _, t := range tiers {
		if err := members.UpsertTier(ctx, t); err != nil {
			return errors.Wrapf(err, "upsert tier %s", t.ID)
		}

		slog.Info("upserted tier", slog.String("id", t.ID), slog.String("name", t.Name))
	}

	return nil
}

func seedRules(ctx context.Context, rules *postgres.DiscountRepository) error {
	slog.Info("seeding discount rules")

	seed := []discount.Rule{
		{ID: uuid.New().String(), Title: "Silver member discount", TierID: "silver", Percent: 10},
		{ID: uuid.New().String(), Title: "Gold member discount", TierID: "gold", Percent: 20},
	}

	for _, r := range seed {
		if err := rules.Create(ctx, &r); err != nil {
			return errors.Wrapf(err, "create rule for tier %s", r.TierID)
		}

		slog.Info("created rule",
			slog.String("tier", r.TierID),
			slog.Int64("percent", r.Percent),
		)
	}

	return nil
}

func seedMemberships(ctx context.Context, members *postgres.MembershipRepository) error {
	slog.Info("seeding demo memberships")

	inAYear := time.Now().AddDate(1, 0, 0)
	demo := []membership.Snapshot{
		{UserID: "user-silver", TierID: "silver", Status: membership.StatusActive, ExpiresAt: &inAYear},
		{UserID: "user-gold", TierID: "gold", Status: membership.StatusActive, ExpiresAt: nil},
		{UserID: "user-lapsed", TierID: "gold", Status: "expired", ExpiresAt: nil},
	}

	for _, m := range demo {
		if err := members.Upsert(ctx, &m); err != nil {
			return errors.Wrapf(err, "upsert membership %s", m.UserID)
		}

		slog.Info("upserted membership", slog.String("user", m.UserID), slog.String("tier", m.TierID))
	}

	return nil
}

func seedAPIKey(ctx context.Context, apikeys *postgres.APIKeyRepository, apiKey, pepper string) error {
	slog.Info("seeding default API key")

	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(apiKey))
	keyHash := hex.EncodeToString(mac.Sum(nil))

	if err := apikeys.Upsert(ctx, &auth.APIKeyInfo{
		ID:      "default",
		KeyHash: keyHash,
		Name:    "Default test key",
		Scopes:  []string{"manage_discounts"},
	}); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", "default"), slog.String("name", "Default test key"))

	return nil
}
