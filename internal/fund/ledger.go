// Package fund implements the NAV/unit ledger (spec.md §4.10): every
// subscription or redemption runs in one repository transaction that
// locks the user row and the fund's capital aggregate, derives the
// pre-event NAV per unit, and books a capital transaction plus a NAV
// snapshot. Grounded on aristath-sentinel's WithTransaction idiom
// (recover-rollback-or-commit, surfaced here as repository.RunInTransaction)
// generalized from a single-table update to the multi-write capital event.
package fund

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"exchange-sim/internal/apierr"
	"exchange-sim/internal/auditbus"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

// unitFloor is the minimum nav-per-unit the ledger will divide by (§4.10
// step 4: "max(floor=1e-4, ...)"), guarding against a division blow-up
// when a fund's capital briefly nets to near zero.
var unitFloor = decimal.New(1, -4)

// withdrawalEpsilon tolerates float/decimal rounding noise on a
// full-redemption ("withdraw everything") request (§4.10 step 5: "≤
// user_units_before × nav_per_unit_before + ε").
var withdrawalEpsilon = decimal.New(1, -6)

// PnLLookup resolves a fund's current strategy-runner P&L snapshot
// (§4.10 step 2: "pnl_now ... from strategy runner snapshot or 0 when
// unavailable"). A nil Ledger.pnl, or a lookup returning ok=false, both
// fall back to zero.
type PnLLookup func(fundID string) (decimal.Decimal, bool)

// Ledger books capital events and derives NAV state from them.
type Ledger struct {
	repo  repository.Repository
	pnl   PnLLookup
	audit *auditbus.Publisher

	mu      sync.Mutex
	tracked map[string]struct{}
}

// New builds a Ledger. pnl may be nil if no strategy runner is wired yet.
func New(repo repository.Repository, pnl PnLLookup) *Ledger {
	return &Ledger{repo: repo, pnl: pnl, tracked: make(map[string]struct{})}
}

// SetAuditPublisher wires an optional audit mirror (§7, §9: capital
// transactions have no eventbus topic of their own, so auditbus.Publisher
// documents itself as "called directly by internal/fund"). A nil
// Publisher is safe to set and every publish call becomes a no-op.
func (l *Ledger) SetAuditPublisher(p *auditbus.Publisher) {
	l.audit = p
}

// TrackFund registers fundID so a periodic MarkToMarket sweep (wired from
// cmd/exchange's scheduler) knows to snapshot it. The repository has no
// list-all-funds query (§6.3), so the ledger keeps its own small registry
// rather than the scheduler needing one.
func (l *Ledger) TrackFund(fundID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tracked[fundID] = struct{}{}
}

// TrackedFunds returns every fund ID TrackFund has seen.
func (l *Ledger) TrackedFunds() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.tracked))
	for id := range l.tracked {
		out = append(out, id)
	}
	return out
}

// MarkToMarket books a NAV snapshot for fundID without any capital
// movement: it re-derives nav_per_unit from the fund's current capital
// and strategy P&L (§4.10 steps 2-4) and records it, so the NAV history
// reflects market moves between deposits/withdrawals and not only at
// capital-event boundaries.
func (l *Ledger) MarkToMarket(ctx context.Context, fundID string) error {
	return l.repo.RunInTransaction(ctx, "fund-mark-to-market", func(ctx context.Context, tx repository.Tx) error {
		state, err := l.currentNavState(ctx, tx, fundID)
		if err != nil {
			return err
		}
		snapshot := types.NavSnapshot{
			ID: uuid.NewString(), FundID: fundID, SnapshotAt: time.Now(),
			Nav: state.navBefore, NavPerUnit: state.navPerUnit, TotalUnits: state.unitsBefore,
			Capital: state.capitalBefore, PnL: state.pnlNow,
		}
		return tx.InsertNavSnapshot(ctx, snapshot)
	})
}

// navState is the pre-event NAV derivation shared by deposits and
// withdrawals (§4.10 steps 2-4).
type navState struct {
	capitalBefore decimal.Decimal
	pnlNow        decimal.Decimal
	navBefore     decimal.Decimal
	unitsBefore   decimal.Decimal
	navPerUnit    decimal.Decimal
}

func (l *Ledger) currentNavState(ctx context.Context, tx repository.Tx, fundID string) (navState, error) {
	capital, err := tx.GetNetCapital(ctx, fundID)
	if err != nil {
		return navState{}, err
	}
	capitalBefore := decimal.NewFromFloat(capital)

	pnlNow := decimal.Zero
	if l.pnl != nil {
		if v, ok := l.pnl(fundID); ok {
			pnlNow = v
		}
	}

	summary, err := tx.GetCapitalSummary(ctx, fundID)
	if err != nil {
		return navState{}, err
	}
	unitsBefore := summary.TotalUnits

	navBefore := capitalBefore.Add(pnlNow)
	var navPerUnit decimal.Decimal
	if unitsBefore.IsZero() {
		navPerUnit = decimal.NewFromInt(1)
	} else {
		navPerUnit = navBefore.Div(unitsBefore)
		if navPerUnit.LessThan(unitFloor) {
			navPerUnit = unitFloor
		}
	}

	return navState{
		capitalBefore: capitalBefore, pnlNow: pnlNow, navBefore: navBefore,
		unitsBefore: unitsBefore, navPerUnit: navPerUnit,
	}, nil
}

// userUnits sums a user's UnitsDelta across every capital transaction on
// the fund (no running-balance column to read instead — §6.3 keeps the
// repository to writes + the transaction list, same pragmatic scan the
// matcher and hub already use for other missing rollups).
func userUnits(ctx context.Context, tx repository.Tx, fundID, userID string) (decimal.Decimal, error) {
	txs, err := tx.GetCapitalTransactions(ctx, fundID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, c := range txs {
		if c.UserID == userID {
			total = total.Add(c.UnitsDelta)
		}
	}
	return total, nil
}

// Deposit subscribes amount of a user's cash into the fund (§4.10 step 5,
// deposit branch).
func (l *Ledger) Deposit(ctx context.Context, fundID, userID string, amount decimal.Decimal) (types.CapitalTransaction, error) {
	return l.apply(ctx, fundID, userID, amount, types.CapitalDeposit)
}

// Withdraw redeems amount of a user's fund value back to cash (§4.10 step
// 5, withdrawal branch).
func (l *Ledger) Withdraw(ctx context.Context, fundID, userID string, amount decimal.Decimal) (types.CapitalTransaction, error) {
	return l.apply(ctx, fundID, userID, amount, types.CapitalWithdrawal)
}

func (l *Ledger) apply(ctx context.Context, fundID, userID string, amount decimal.Decimal, kind types.CapitalTxType) (types.CapitalTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return types.CapitalTransaction{}, apierr.New(apierr.Invalid, "amount must be positive")
	}

	var result types.CapitalTransaction
	err := l.repo.RunInTransaction(ctx, "fund-capital-"+string(kind), func(ctx context.Context, tx repository.Tx) error {
		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		state, err := l.currentNavState(ctx, tx, fundID)
		if err != nil {
			return err
		}
		userUnitsBefore, err := userUnits(ctx, tx, fundID, userID)
		if err != nil {
			return err
		}

		var unitsDelta, cashDelta, navAfter decimal.Decimal
		switch kind {
		case types.CapitalDeposit:
			if amount.GreaterThan(decimal.NewFromFloat(user.Cash)) {
				return apierr.New(apierr.Invalid, "deposit exceeds available cash")
			}
			unitsDelta = amount.Div(state.navPerUnit)
			cashDelta = amount.Neg()
			navAfter = state.navBefore.Add(amount)
		case types.CapitalWithdrawal:
			maxRedeemable := userUnitsBefore.Mul(state.navPerUnit).Add(withdrawalEpsilon)
			if amount.GreaterThan(maxRedeemable) {
				return apierr.New(apierr.Invalid, "withdrawal exceeds redeemable fund value")
			}
			redeemUnits := decimal.Min(userUnitsBefore, amount.Div(state.navPerUnit))
			unitsDelta = redeemUnits.Neg()
			cashDelta = amount
			navAfter = state.navBefore.Sub(amount)
		default:
			return apierr.New(apierr.Invalid, "unknown capital transaction type")
		}

		if _, err := tx.UpdateCashForUpdate(ctx, userID, cashDelta.InexactFloat64()); err != nil {
			return err
		}

		result = types.CapitalTransaction{
			ID: uuid.NewString(), FundID: fundID, UserID: userID,
			Amount: amount, Type: kind, UnitsDelta: unitsDelta,
			NavPerUnitAt: state.navPerUnit, NavBefore: state.navBefore, NavAfter: navAfter,
			CreatedAt: time.Now(),
		}
		if err := tx.InsertCapitalTransaction(ctx, result); err != nil {
			return err
		}

		totalUnitsAfter := state.unitsBefore.Add(unitsDelta)
		navPerUnitAfter := state.navPerUnit
		if !totalUnitsAfter.IsZero() {
			navPerUnitAfter = navAfter.Div(totalUnitsAfter)
		}
		snapshot := types.NavSnapshot{
			ID: uuid.NewString(), FundID: fundID, SnapshotAt: time.Now(),
			Nav: navAfter, NavPerUnit: navPerUnitAfter, TotalUnits: totalUnitsAfter,
			Capital: state.capitalBefore.Add(cashNetOfCapital(kind, amount)), PnL: state.pnlNow,
		}
		return tx.InsertNavSnapshot(ctx, snapshot)
	})
	if err == nil {
		l.audit.PublishCapitalEvent(result)
	}
	return result, err
}

// cashNetOfCapital returns the signed change to the fund's net-capital
// aggregate for one event: a deposit adds to fund capital, a withdrawal
// removes from it (mirrors GetNetCapital's deposit-minus-withdrawal sum).
func cashNetOfCapital(kind types.CapitalTxType, amount decimal.Decimal) decimal.Decimal {
	if kind == types.CapitalWithdrawal {
		return amount.Neg()
	}
	return amount
}
