package fund

import "github.com/shopspring/decimal"

// DefaultTolerance is the absolute-difference tolerance the three
// reconciliation checks use unless a caller supplies their own (§4.10:
// "within tolerance").
var DefaultTolerance = decimal.New(1, -2) // $0.01

func withinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

// IsNavBalanced checks nav == capital + pnl - fees (§4.10 reconciliation
// check 1).
func IsNavBalanced(nav, capital, pnl, fees, tol decimal.Decimal) bool {
	return withinTolerance(nav, capital.Add(pnl).Sub(fees), tol)
}

// IsInvestorLedgerBalanced checks Σ investor_value == nav, where
// investor_value = investor_units × nav_per_unit (§4.10 reconciliation
// check 2).
func IsInvestorLedgerBalanced(investorUnits map[string]decimal.Decimal, navPerUnit, nav, tol decimal.Decimal) bool {
	sum := decimal.Zero
	for _, units := range investorUnits {
		sum = sum.Add(units.Mul(navPerUnit))
	}
	return withinTolerance(sum, nav, tol)
}

// IsUnitsBalanced checks total_units × nav_per_unit == nav (§4.10
// reconciliation check 3).
func IsUnitsBalanced(totalUnits, navPerUnit, nav, tol decimal.Decimal) bool {
	return withinTolerance(totalUnits.Mul(navPerUnit), nav, tol)
}
