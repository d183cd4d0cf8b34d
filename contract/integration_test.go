package contract

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fundflow/test/infra"
)

func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test, skipped in short mode")
	}
	ctx := context.Background()

	pgC, dsn, err := infra.StartPostgres16(ctx, "")
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, false)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		pool.Close()
		_ = teardown(context.Background())
	})
	return pool
}

func seedContract(t *testing.T, ctx context.Context, pool *pgxpool.Pool, principal, upfrontRate, annualRate float64, termYears int) string {
	t.Helper()
	var id string
	err := pool.QueryRow(ctx, `
		INSERT INTO contracts (principal_amount, upfront_fee_rate, annual_fee_rate, term_years)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, principal, upfrontRate, annualRate, termYears).Scan(&id)
	if err != nil {
		t.Fatalf("seed contract: %v", err)
	}
	return id
}

func TestRepository(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()
	repo := NewRepository(pool)

	t.Run("commit is single shot", func(t *testing.T) {
		id := seedContract(t, ctx, pool, 100000, 0.02, 0.01, 3)

		ok, err := repo.CommitIfAwaiting(ctx, id)
		if err != nil || !ok {
			t.Fatalf("first commit: ok=%v err=%v", ok, err)
		}
		ok, err = repo.CommitIfAwaiting(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("replayed commit must affect zero rows")
		}

		rec, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status != "committed" || rec.CommittedAt == nil {
			t.Fatalf("contract not committed: %+v", rec)
		}
	})

	t.Run("document resolves to its contract", func(t *testing.T) {
		contractID := seedContract(t, ctx, pool, 50000, 0, 0, 1)
		var docID string
		if err := pool.QueryRow(ctx, `INSERT INTO documents (contract_id) VALUES ($1) RETURNING id`, contractID).Scan(&docID); err != nil {
			t.Fatal(err)
		}

		got, err := repo.ContractForDocument(ctx, docID)
		if err != nil {
			t.Fatal(err)
		}
		if got != contractID {
			t.Fatalf("resolved %s, want %s", got, contractID)
		}

		var orphan string
		if err := pool.QueryRow(ctx, `INSERT INTO documents DEFAULT VALUES RETURNING id`).Scan(&orphan); err != nil {
			t.Fatal(err)
		}
		if _, err := repo.ContractForDocument(ctx, orphan); !errors.Is(err, ErrNotFound) {
			t.Fatalf("orphan document should be ErrNotFound, got %v", err)
		}
	})

	t.Run("fee events roundtrip", func(t *testing.T) {
		id := seedContract(t, ctx, pool, 100000, 0.02, 0.01, 2)

		exists, err := repo.FeeEventsExist(ctx, id)
		if err != nil || exists {
			t.Fatalf("fresh contract must have no fee events: exists=%v err=%v", exists, err)
		}

		now := time.Now().UTC()
		events := []FeeEvent{
			{Kind: FeeKindUpfront, Amount: 2000, OccursAt: now},
			{Kind: FeeKindManagement, Amount: 1000, OccursAt: now.AddDate(1, 0, 0)},
		}
		if err := repo.InsertFeeEvents(ctx, id, events); err != nil {
			t.Fatal(err)
		}

		exists, err = repo.FeeEventsExist(ctx, id)
		if err != nil || !exists {
			t.Fatalf("fee events not visible: exists=%v err=%v", exists, err)
		}
	})
}

func TestScheduleComputer(t *testing.T) {
	pool := setupDB(t)
	ctx := context.Background()

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	computer := NewScheduleComputer(pool).WithClock(func() time.Time { return fixed })

	t.Run("upfront plus one management event per year", func(t *testing.T) {
		id := seedContract(t, ctx, pool, 100000, 0.02, 0.01, 3)

		events, err := computer.ComputeFeeEvents(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 4 {
			t.Fatalf("expected 4 events, got %d: %+v", len(events), events)
		}
		if events[0].Kind != FeeKindUpfront || events[0].Amount != 2000 || !events[0].OccursAt.Equal(fixed) {
			t.Fatalf("unexpected upfront event: %+v", events[0])
		}
		for year := 1; year <= 3; year++ {
			ev := events[year]
			if ev.Kind != FeeKindManagement || ev.Amount != 1000 {
				t.Fatalf("unexpected management event for year %d: %+v", year, ev)
			}
			if !ev.OccursAt.Equal(fixed.AddDate(year, 0, 0)) {
				t.Fatalf("management event %d at %v, want %v", year, ev.OccursAt, fixed.AddDate(year, 0, 0))
			}
		}
	})

	t.Run("zero rates yield no events", func(t *testing.T) {
		id := seedContract(t, ctx, pool, 100000, 0, 0, 5)
		events, err := computer.ComputeFeeEvents(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 0 {
			t.Fatalf("expected no events, got %+v", events)
		}
	})

	t.Run("unknown contract", func(t *testing.T) {
		_, err := computer.ComputeFeeEvents(ctx, "00000000-0000-0000-0000-000000000000")
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
