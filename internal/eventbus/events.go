package eventbus

import "exchange-sim/internal/types"

// TickBatch is emitted once per engine tick pass (§4.3).
type TickBatch struct {
	Ticks     []types.Tick
	Regime    map[string]types.Regime
	Timestamp int64
}

// NewsFired is emitted when the news generator fires a templated event.
type NewsFired struct {
	Event types.NewsEvent
}

// RegimeChanged is emitted on every instrument regime transition.
type RegimeChanged struct {
	Symbol string
	From   types.Regime
	To     types.Regime
}

// OrderFilled is emitted once per matcher fill, after the trade's
// repository commit (§4.6 ordering guarantee).
type OrderFilled struct {
	Trade types.Trade
	Order types.Order
}

// MarginCalled is emitted when the matcher force-liquidates a user.
type MarginCalled struct {
	UserID string
	Symbol string
	Qty    float64
	Price  float64
	PnL    float64
}

// CandleClosed is emitted whenever the engine rolls a candle over.
type CandleClosed struct {
	Candle types.Candle
}

// Bus bundles every topic the core wires together. Components receive a
// *Bus (or a narrower interface over it) rather than pointers to each
// other.
type Bus struct {
	Ticks         *Topic[TickBatch]
	News          *Topic[NewsFired]
	RegimeChanges *Topic[RegimeChanged]
	Fills         *Topic[OrderFilled]
	MarginCalls   *Topic[MarginCalled]
	Candles       *Topic[CandleClosed]
}

// New constructs an empty Bus with every topic initialized.
func New() *Bus {
	return &Bus{
		Ticks:         NewTopic[TickBatch](),
		News:          NewTopic[NewsFired](),
		RegimeChanges: NewTopic[RegimeChanged](),
		Fills:         NewTopic[OrderFilled](),
		MarginCalls:   NewTopic[MarginCalled](),
		Candles:       NewTopic[CandleClosed](),
	}
}
