package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"fundflow/test/actors"
	"fundflow/test/chaos"
	"fundflow/test/infra"
	"fundflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestSigningConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("FUNDFLOW_TEST_PG_DSN") != "":
		dsn = os.Getenv("FUNDFLOW_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// requesters and submitters battling over the same workflow slot
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error { return actors.Requester(ctx2, pool, seedData.workflowID, stop) })
		g.Go(func() error { return actors.Submitter(ctx2, pool, seedData.workflowID, stop) })
	}

	// lock contenders, each with its own holder id
	for i := 0; i < *flConcurrency; i++ {
		holder := fmt.Sprintf("00000000-0000-0000-0000-%012d", i+1)
		g.Go(func() error { return actors.LockContender(ctx2, pool, seedData.workflowID, holder, stop) })
	}

	g.Go(func() error { return actors.Expirer(ctx2, pool, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })

	// chaos: kill random backends mid-flight
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	userID     string
	workflowID string
	requestID  string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	var s seedIDs
	if err := pool.QueryRow(ctx, `INSERT INTO users (email, full_name) VALUES ($1,$2) RETURNING id`,
		fmt.Sprintf("u%d@example.com", rand.Int63()), "Stress User").Scan(&s.userID); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := pool.QueryRow(ctx, `INSERT INTO workflows (kind) VALUES ('onboarding') RETURNING id`).Scan(&s.workflowID); err != nil {
		t.Fatalf("seed workflow: %v", err)
	}
	token := fmt.Sprintf("seed-%d", rand.Int63())
	if err := pool.QueryRow(ctx, `
		INSERT INTO signature_requests
		    (document_type, signer_email, signer_name, signer_role, position,
		     token, token_expires_at, unsigned_path, workflow_id)
		VALUES ('nda', 'seed@example.com', 'Seed Signer', 'investor', 'party_a',
		        $1, now() + interval '7 days', $2, $3)
		RETURNING id
	`, token, s.workflowID+"/"+token+"_unsigned.pdf", s.workflowID).Scan(&s.requestID); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"signature_requests", `SELECT id, workflow_id, signer_role, position, status, signed_at FROM signature_requests ORDER BY updated_at DESC LIMIT 50`},
		{"signature_events", `SELECT id, request_id, type, created_at FROM signature_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
		{"workflows", `SELECT id, lock_holder, lock_acquired_at FROM workflows ORDER BY updated_at DESC LIMIT 10`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
