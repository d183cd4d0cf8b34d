// Package oracles holds the invariant queries checked while actors hammer
// the schema. A row returned by any oracle is a correctness violation.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_pending_per_slot",
			SQL: `SELECT workflow_id, signer_role, COUNT(*) FROM signature_requests
                  WHERE status = 'pending' AND workflow_id IS NOT NULL
                  GROUP BY workflow_id, signer_role HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_signed_has_artifact",
			SQL: `SELECT id FROM signature_requests
                  WHERE status = 'signed' AND (signed_path IS NULL OR signed_at IS NULL)`,
		},
		{
			Name: "O3_single_capture_event",
			SQL: `SELECT request_id, COUNT(*) FROM signature_events
                  WHERE type = 'SIGNATURE_CAPTURED'
                  GROUP BY request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_capture_only_when_signed",
			SQL: `SELECT e.request_id FROM signature_events e
                  JOIN signature_requests r ON r.id = e.request_id
                  WHERE e.type = 'SIGNATURE_CAPTURED' AND r.status <> 'signed'`,
		},
		{
			Name: "O5_lock_fields_consistent",
			SQL: `SELECT id FROM workflows
                  WHERE (lock_holder IS NULL) <> (lock_acquired_at IS NULL)`,
		},
		{
			Name: "O6_expired_past_deadline",
			SQL: `SELECT id FROM signature_requests
                  WHERE status = 'expired' AND token_expires_at > now()`,
		},
		{
			Name: "O7_outbox_not_stuck",
			SQL: `SELECT id FROM outbox
                  WHERE status = 'pending' AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_exactly_one_grouping",
			SQL: `SELECT id FROM signature_requests
                  WHERE (workflow_id IS NOT NULL)::int
                      + (document_id IS NOT NULL)::int
                      + (introducer_agreement_id IS NOT NULL)::int
                      + (placement_agreement_id IS NOT NULL)::int <> 1`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
