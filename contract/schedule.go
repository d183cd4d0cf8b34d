package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Fee event kinds emitted by the schedule computer.
const (
	FeeKindUpfront    = "upfront"
	FeeKindManagement = "management_annual"
)

// ScheduleComputer derives a contract's fee schedule from its commercial
// terms: one upfront fee at commitment plus one management fee per contract
// year.
type ScheduleComputer struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewScheduleComputer(pool *pgxpool.Pool) *ScheduleComputer {
	return &ScheduleComputer{pool: pool, now: time.Now}
}

func (c *ScheduleComputer) WithClock(now func() time.Time) *ScheduleComputer {
	c.now = now
	return c
}

func (c *ScheduleComputer) ComputeFeeEvents(ctx context.Context, contractID string) ([]FeeEvent, error) {
	var (
		principal   float64
		upfrontRate float64
		annualRate  float64
		termYears   int
	)
	err := c.pool.QueryRow(ctx, `
		SELECT principal_amount, upfront_fee_rate, annual_fee_rate, term_years
		FROM contracts
		WHERE id = $1
	`, contractID).Scan(&principal, &upfrontRate, &annualRate, &termYears)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("contract: load terms: %w", err)
	}

	base := c.now().UTC()
	var events []FeeEvent
	if upfront := principal * upfrontRate; upfront > 0 {
		events = append(events, FeeEvent{Kind: FeeKindUpfront, Amount: upfront, OccursAt: base})
	}
	if annual := principal * annualRate; annual > 0 {
		for year := 1; year <= termYears; year++ {
			events = append(events, FeeEvent{
				Kind:     FeeKindManagement,
				Amount:   annual,
				OccursAt: base.AddDate(year, 0, 0),
			})
		}
	}
	return events, nil
}
