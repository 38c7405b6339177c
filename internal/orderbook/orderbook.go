// Package orderbook builds the synthetic order-book snapshot described in
// spec.md §4.5: a procedurally generated ladder around mid, folding in
// resting user limit orders.
package orderbook

import (
	"math"
	"math/rand"
	"sort"

	"exchange-sim/internal/types"
)

// Level is one price/quantity rung of the book.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
	Tag   string  `json:"tag,omitempty"` // "user" for folded-in limits
}

// Snapshot is the full two-sided book returned to callers.
type Snapshot struct {
	Symbol    string  `json:"symbol"`
	Bids      []Level `json:"bids"` // descending by price
	Asks      []Level `json:"asks"` // ascending by price
	Spread    float64 `json:"spread"`
	Mid       float64 `json:"mid"`
	Timestamp int64   `json:"timestamp"`
}

const depth = 10

// Build generates a synthetic book for symbol given the current tick and
// the user's resting limit orders on that symbol (§4.5 steps).
func Build(inst types.Instrument, tick types.Tick, userOrders []types.Order, rng *rand.Rand, tsMs int64) Snapshot {
	mid := tick.Mid
	step := math.Max(mid*tick.Volatility*0.015, inst.TickSize())
	if step <= 0 {
		step = inst.TickSize()
	}

	bids := make([]Level, 0, depth)
	asks := make([]Level, 0, depth)
	for i := 1; i <= depth; i++ {
		qty := math.Floor((800 - 50*float64(i)) * (0.5 + rng.Float64()))
		if qty < 0 {
			qty = 0
		}
		bids = append(bids, Level{Price: mid - float64(i)*step, Qty: qty})
		asks = append(asks, Level{Price: mid + float64(i)*step, Qty: qty})
	}

	for _, o := range userOrders {
		if o.Status != types.OrderOpen && o.Status != types.OrderPartial {
			continue
		}
		if o.Type != types.OrderLimit && o.Type != types.OrderStopLimit {
			continue
		}
		if o.LimitPrice == nil {
			continue
		}
		remaining := o.Remaining()
		if remaining <= 0 {
			continue
		}
		if o.Side == types.SideBuy {
			bids = foldLevel(bids, *o.LimitPrice, remaining, step, true)
		} else {
			asks = foldLevel(asks, *o.LimitPrice, remaining, step, false)
		}
	}

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })
	if len(bids) > depth {
		bids = bids[:depth]
	}
	if len(asks) > depth {
		asks = asks[:depth]
	}

	return Snapshot{
		Symbol: inst.Symbol, Bids: bids, Asks: asks,
		Spread: tick.Ask - tick.Bid, Mid: mid, Timestamp: tsMs,
	}
}

// foldLevel folds one user limit order into a level list: find the
// closest level within 0.5*step and add remaining qty, else insert a new
// level tagged "user".
func foldLevel(levels []Level, price, remaining, step float64, desc bool) []Level {
	bestIdx := -1
	bestDist := math.MaxFloat64
	for i, l := range levels {
		d := math.Abs(l.Price - price)
		if d < bestDist {
			bestDist = d
			bestIdx = i
		}
	}
	if bestIdx >= 0 && bestDist <= 0.5*step {
		levels[bestIdx].Qty += remaining
		return levels
	}
	_ = desc
	return append(levels, Level{Price: price, Qty: remaining, Tag: "user"})
}
