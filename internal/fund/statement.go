package fund

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

// Statement is one investor's derived monthly summary (§4.10: "Monthly
// statements are derived entirely from the units/NAV history").
type Statement struct {
	FundID         string
	UserID         string
	Month          time.Time // first instant of the month, UTC
	OpeningUnits   decimal.Decimal
	OpeningValue   decimal.Decimal
	ClosingUnits   decimal.Decimal
	ClosingValue   decimal.Decimal
	ManagementFee  decimal.Decimal
	PerformanceFee decimal.Decimal
}

// MonthlyStatement derives one investor's statement for the calendar
// month containing `month` (any instant within that month).
func MonthlyStatement(ctx context.Context, repo repository.Repository, f types.Fund, userID string, month time.Time) (Statement, error) {
	monthStart := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	snapshots, err := repo.GetRecentNavSnapshots(ctx, f.ID, 10000)
	if err != nil {
		return Statement{}, err
	}
	txs, err := repo.GetCapitalTransactions(ctx, f.ID)
	if err != nil {
		return Statement{}, err
	}

	startSnap, hasStart := nearestSnapshotBefore(snapshots, monthStart)
	endSnap, hasEnd := nearestSnapshotBefore(snapshots, monthEnd)

	openingUnits := unitsAsOf(txs, userID, monthStart)
	closingUnits := unitsAsOf(txs, userID, monthEnd)

	var openingValue, closingValue decimal.Decimal
	if hasStart {
		openingValue = openingUnits.Mul(startSnap.NavPerUnit)
	}
	switch {
	case hasEnd:
		closingValue = closingUnits.Mul(endSnap.NavPerUnit)
	case len(snapshots) > 0:
		// no snapshot yet at month-end (mid-month statement); fall back
		// to the latest known NAV per unit (snapshots is newest-first).
		closingValue = closingUnits.Mul(snapshots[0].NavPerUnit)
	}

	avgCapital := decimal.Zero
	switch {
	case hasStart && hasEnd:
		avgCapital = startSnap.Capital.Add(endSnap.Capital).Div(decimal.NewFromInt(2))
	case hasEnd:
		avgCapital = endSnap.Capital
	}

	managementFee := avgCapital.Mul(decimal.NewFromFloat(f.ManagementFeeAnnual)).Div(decimal.NewFromInt(12))

	grossPnL := closingValue.Sub(openingValue)
	performanceFee := decimal.Zero
	if grossPnL.IsPositive() {
		performanceFee = grossPnL.Mul(decimal.NewFromFloat(f.PerformanceFeeRate))
	}

	return Statement{
		FundID: f.ID, UserID: userID, Month: monthStart,
		OpeningUnits: openingUnits, OpeningValue: openingValue,
		ClosingUnits: closingUnits, ClosingValue: closingValue,
		ManagementFee: managementFee, PerformanceFee: performanceFee,
	}, nil
}

// nearestSnapshotBefore returns the most recent snapshot at or before t.
// snapshots is assumed newest-first, the repository's native order.
func nearestSnapshotBefore(snapshots []types.NavSnapshot, t time.Time) (types.NavSnapshot, bool) {
	for _, s := range snapshots {
		if !s.SnapshotAt.After(t) {
			return s, true
		}
	}
	return types.NavSnapshot{}, false
}

// unitsAsOf sums one user's UnitsDelta across every capital transaction
// executed at or before t.
func unitsAsOf(txs []types.CapitalTransaction, userID string, t time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, c := range txs {
		if c.UserID == userID && !c.CreatedAt.After(t) {
			total = total.Add(c.UnitsDelta)
		}
	}
	return total
}
