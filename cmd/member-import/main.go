// Command member-import loads a gzipped JSONL membership export into the
// database. Exports list the newest snapshot for a user first, so on
// duplicate user IDs the first record wins.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/perkmill/member-discounts/internal/domain/membership"
	"github.com/perkmill/member-discounts/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	numWorkers    = 8
	progressEvery = 100_000
)

func main() {
	var (
		databaseURL string
		expected    uint
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected", 1_000_000, "expected number of members, sizes the duplicate filter")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	files := flag.Args()
	if len(files) == 0 {
		slog.Error("no export files given: pass one or more members JSONL .gz files")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, files, expected); err != nil {
		slog.Error("member import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("member import completed successfully")
}

func run(ctx context.Context, databaseURL string, files []string, expected uint) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Wrapf(err, "check file %s", f)
		}
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	members := postgres.NewMembershipRepository(pool)

	records := make(chan membership.Snapshot, 4*numWorkers)
	var written atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for range numWorkers {
		g.Go(upsertWorker(ctx, members, records, &written))
	}

	// Producer streams the files in order so first-wins dedup holds across
	// file boundaries.
	g.Go(func() error {
		defer close(records)
		seen := bloom.NewWithEstimates(expected, bloomFPR)
		var total, dupes uint64

		for _, path := range files {
			slog.Info("streaming export", slog.String("path", path))

			if err := streamGzLines(ctx, path, func(line []byte) error {
				snap, err := decodeMember(line)
				if err != nil {
					return errors.Wrapf(err, "decode record %d", total+1)
				}

				total++
				if total%progressEvery == 0 {
					slog.Info("import progress", slog.Uint64("records", total))
				}

				if seen.TestAndAddString(snap.UserID) {
					dupes++
					return nil
				}

				select {
				case records <- snap:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}); err != nil {
				return errors.Wrapf(err, "stream %s", path)
			}
		}

		slog.Info("export streamed",
			slog.Uint64("records", total),
			slog.Uint64("duplicates_skipped", dupes),
		)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("members written", slog.Int64("count", written.Load()))
	return nil
}

// upsertWorker drains the records channel into the membership table.
func upsertWorker(
	ctx context.Context,
	members *postgres.MembershipRepository,
	records <-chan membership.Snapshot,
	written *atomic.Int64,
) func() error {
	return func() error {
		var n int64
		for snap := range records {
			if err := members.Upsert(ctx, &snap); err != nil {
				return errors.Wrapf(err, "upsert member %s", snap.UserID)
			}
			n++
		}
		written.Add(n)
		return nil
	}
}

// streamGzLines opens a gzip-compressed file and calls fn for each line.
func streamGzLines(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// decodeMember parses one JSONL export record:
//
//	{"user_id":"u1","tier_id":"gold","status":"active","expires_at":"2026-01-02T15:04:05Z"}
//
// expires_at may be null or absent for lifetime memberships.
func decodeMember(line []byte) (membership.Snapshot, error) {
	var snap membership.Snapshot
	d := jx.DecodeBytes(line)

	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "user_id":
			v, err := d.Str()
			snap.UserID = v
			return err
		case "tier_id":
			v, err := d.Str()
			snap.TierID = v
			return err
		case "status":
			v, err := d.Str()
			snap.Status = v
			return err
		case "expires_at":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return errors.Wrap(err, "parse expires_at")
			}
			snap.ExpiresAt = &t
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return snap, err
	}

	if snap.UserID == "" {
		return snap, errors.New("record missing user_id")
	}
	return snap, nil
}
