package fund

import (
	"context"

	"github.com/shopspring/decimal"

	"exchange-sim/internal/repository"
)

// InvestorUnits sums every member's UnitsDelta across the fund's capital
// transaction history, giving the current unit holding per investor. Used
// by the /funds/{id}/investors view; same scan-the-ledger approach as
// userUnits, exported since the API boundary has no repository rollup to
// call instead.
func InvestorUnits(ctx context.Context, repo repository.Repository, fundID string) (map[string]decimal.Decimal, error) {
	txs, err := repo.GetCapitalTransactions(ctx, fundID)
	if err != nil {
		return nil, err
	}
	units := make(map[string]decimal.Decimal)
	for _, tx := range txs {
		units[tx.UserID] = units[tx.UserID].Add(tx.UnitsDelta)
	}
	return units, nil
}
