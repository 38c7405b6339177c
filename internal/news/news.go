// Package news implements the templated news-event scheduler (spec.md
// §4.3 news shock application / §3 News generator): periodically picks a
// template, a target (one symbol or the whole market), and a magnitude,
// applies the resulting shock through the market engine, and emits a
// NewsFired event.
package news

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/types"
)

// Shocker is the narrow slice of market.Engine the generator needs. A
// separate interface (rather than importing internal/market) limits the
// generator's direct use of the engine to these two methods; the news
// events themselves go out on the event bus.
type Shocker interface {
	ApplyShock(symbol string, impactFraction float64, severityHigh bool, cooldownTicks int)
	Symbols() []string
}

// Template describes one class of news event.
type Template struct {
	Type          string
	Severity      string // low|medium|high
	HeadlineFmt   string
	BodyFmt       string
	MinImpactPct  float64
	MaxImpactPct  float64
	MarketWide    bool
	CooldownTicks int
}

// DefaultTemplates returns the baseline set of news templates.
func DefaultTemplates() []Template {
	return []Template{
		{Type: "earnings", Severity: "medium", HeadlineFmt: "%s reports quarterly earnings", BodyFmt: "Quarterly results for %s moved the market.", MinImpactPct: -0.04, MaxImpactPct: 0.06, CooldownTicks: 20},
		{Type: "guidance_cut", Severity: "high", HeadlineFmt: "%s cuts forward guidance", BodyFmt: "%s lowered its outlook for the coming quarter.", MinImpactPct: -0.15, MaxImpactPct: -0.05, CooldownTicks: 40},
		{Type: "upgrade", Severity: "low", HeadlineFmt: "Analyst upgrades %s", BodyFmt: "%s received a rating upgrade.", MinImpactPct: 0.005, MaxImpactPct: 0.02, CooldownTicks: 10},
		{Type: "macro_shock", Severity: "high", HeadlineFmt: "Market-wide macro shock", BodyFmt: "A macro event is moving the broad market.", MinImpactPct: -0.10, MaxImpactPct: -0.02, MarketWide: true, CooldownTicks: 60},
		{Type: "rate_relief", Severity: "medium", HeadlineFmt: "Rate relief lifts broad market", BodyFmt: "Easing expectations lifted risk assets broadly.", MinImpactPct: 0.01, MaxImpactPct: 0.04, MarketWide: true, CooldownTicks: 30},
	}
}

// InstrumentLookup resolves a symbol's safe-haven flag for market-wide
// dampening (§12 open question: deterministic per-symbol weighting via
// instrument SafeHaven flag).
type InstrumentLookup func(symbol string) (types.Instrument, bool)

// Generator periodically fires templated news events.
type Generator struct {
	templates []Template
	shocker   Shocker
	bus       *eventbus.Bus
	lookup    InstrumentLookup
	log       zerolog.Logger
	rng       *mathrand.Rand

	period time.Duration
	fireProb float64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New builds a news generator. fireProb is the probability of firing an
// event on any given scheduling tick (so the average inter-event gap is
// period/fireProb).
func New(shocker Shocker, bus *eventbus.Bus, lookup InstrumentLookup, period time.Duration, fireProb float64, log zerolog.Logger, seed int64) *Generator {
	return &Generator{
		templates: DefaultTemplates(),
		shocker:   shocker,
		bus:       bus,
		lookup:    lookup,
		log:       log.With().Str("component", "news.Generator").Logger(),
		rng:       mathrand.New(mathrand.NewSource(seed)),
		period:    period,
		fireProb:  fireProb,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run drives the scheduling loop until Stop is called. cmd/exchange
// launches it as its own goroutine.
func (g *Generator) Run() {
	ticker := time.NewTicker(g.period)
	defer ticker.Stop()
	defer close(g.done)
	for {
		select {
		case <-g.stop:
			return
		case now := <-ticker.C:
			g.mu.Lock()
			if g.rng.Float64() < g.fireProb {
				g.fireOne(now.UnixMilli())
			}
			g.mu.Unlock()
		}
	}
}

// Stop halts the scheduling loop.
func (g *Generator) Stop() {
	close(g.stop)
	<-g.done
}

func (g *Generator) fireOne(tsMs int64) {
	symbols := g.shocker.Symbols()
	if len(symbols) == 0 {
		return
	}
	tmpl := g.templates[g.rng.Intn(len(g.templates))]
	impact := tmpl.MinImpactPct + g.rng.Float64()*(tmpl.MaxImpactPct-tmpl.MinImpactPct)
	severityHigh := tmpl.Severity == "high"

	if tmpl.MarketWide {
		target := "MARKET"
		for _, symbol := range symbols {
			weight := 1.0
			if g.lookup != nil {
				if inst, ok := g.lookup(symbol); ok && inst.SafeHaven {
					weight = -0.35 // safe havens get reduced/inverted magnitude
				}
			}
			g.shocker.ApplyShock(symbol, impact*weight, severityHigh, tmpl.CooldownTicks)
		}
		ev := types.NewsEvent{
			ID: newID(), Symbol: target, Type: tmpl.Type, Severity: tmpl.Severity,
			Headline: tmpl.HeadlineFmt, Body: tmpl.BodyFmt, PriceImpact: impact, FiredAtMs: tsMs,
		}
		g.bus.News.Publish(eventbus.NewsFired{Event: ev})
		return
	}

	symbol := symbols[g.rng.Intn(len(symbols))]
	g.shocker.ApplyShock(symbol, impact, severityHigh, tmpl.CooldownTicks)
	ev := types.NewsEvent{
		ID: newID(), Symbol: symbol, Type: tmpl.Type, Severity: tmpl.Severity,
		Headline: sprintfOne(tmpl.HeadlineFmt, symbol), Body: sprintfOne(tmpl.BodyFmt, symbol),
		PriceImpact: impact, FiredAtMs: tsMs,
	}
	g.bus.News.Publish(eventbus.NewsFired{Event: ev})
}

func sprintfOne(format, symbol string) string {
	out := make([]byte, 0, len(format)+len(symbol))
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) && format[i+1] == 's' {
			out = append(out, symbol...)
			i++
			continue
		}
		out = append(out, format[i])
	}
	return string(out)
}

func newID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		n, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
		return "news-" + n.String()
	}
	return "news-" + hex.EncodeToString(buf)
}
