package fund

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exchange-sim/internal/types"
)

func TestMonthlyStatementDerivesOpeningAndClosingValueFromSnapshots(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	fundID := "fund-1"

	repo.snapshots = []types.NavSnapshot{
		{
			FundID: fundID, SnapshotAt: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			NavPerUnit: decimal.NewFromFloat(1.0), Capital: decimal.NewFromFloat(1000),
		},
		{
			FundID: fundID, SnapshotAt: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
			NavPerUnit: decimal.NewFromFloat(1.1), Capital: decimal.NewFromFloat(1100),
		},
	}
	repo.capitalTxs = []types.CapitalTransaction{
		{FundID: fundID, UserID: "u1", CreatedAt: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), UnitsDelta: decimal.NewFromInt(1000)},
		{FundID: fundID, UserID: "u1", CreatedAt: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), UnitsDelta: decimal.NewFromInt(200)},
	}

	f := types.Fund{ID: fundID, ManagementFeeAnnual: 0.02, PerformanceFeeRate: 0.2}
	st, err := MonthlyStatement(ctx, repo, f, "u1", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.True(t, st.OpeningUnits.Equal(decimal.NewFromInt(1000)))
	assert.True(t, st.ClosingUnits.Equal(decimal.NewFromInt(1200)))
	assert.InDelta(t, 1000.0, st.OpeningValue.InexactFloat64(), 1e-9)
	assert.InDelta(t, 1320.0, st.ClosingValue.InexactFloat64(), 1e-9)
	assert.InDelta(t, 1.75, st.ManagementFee.InexactFloat64(), 1e-9)
	assert.InDelta(t, 64.0, st.PerformanceFee.InexactFloat64(), 1e-9)
}

func TestMonthlyStatementNoPerformanceFeeOnLoss(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	fundID := "fund-1"

	repo.snapshots = []types.NavSnapshot{
		{
			FundID: fundID, SnapshotAt: time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC),
			NavPerUnit: decimal.NewFromFloat(1.2), Capital: decimal.NewFromFloat(1200),
		},
		{
			FundID: fundID, SnapshotAt: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
			NavPerUnit: decimal.NewFromFloat(1.0), Capital: decimal.NewFromFloat(1000),
		},
	}
	repo.capitalTxs = []types.CapitalTransaction{
		{FundID: fundID, UserID: "u1", CreatedAt: time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), UnitsDelta: decimal.NewFromInt(1000)},
	}

	f := types.Fund{ID: fundID, ManagementFeeAnnual: 0.02, PerformanceFeeRate: 0.2}
	st, err := MonthlyStatement(ctx, repo, f, "u1", time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.True(t, st.PerformanceFee.IsZero())
}
