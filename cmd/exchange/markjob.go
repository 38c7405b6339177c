package main

import (
	"context"

	"exchange-sim/internal/fund"
)

// markToMarketJob sweeps every tracked fund's NAV via the scheduler
// (internal/scheduler) rather than waiting for the next capital event.
type markToMarketJob struct {
	ledger *fund.Ledger
}

func (j markToMarketJob) Name() string { return "fund-mark-to-market" }

func (j markToMarketJob) Run() error {
	ctx := context.Background()
	for _, fundID := range j.ledger.TrackedFunds() {
		if err := j.ledger.MarkToMarket(ctx, fundID); err != nil {
			return err
		}
	}
	return nil
}
