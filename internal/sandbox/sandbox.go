// Package sandbox runs a custom strategy's user-supplied source (spec.md
// §4.7) in a restricted JavaScript VM: no filesystem, no network, no
// process access, and a hard wall-clock budget. goja is a pure-Go JS
// interpreter with no host bindings unless a caller explicitly registers
// them, which makes "no I/O" the default rather than something to police.
package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"exchange-sim/internal/types"
)

// Input is the data a custom strategy's signal(ctx) function sees.
type Input struct {
	Prices     map[string]float64
	Candles    map[string][]types.Candle
	Parameters map[string]float64
	State      map[string]any
}

// Output is the parsed return value of signal(ctx).
type Output struct {
	Signal string
	Ticker string
	Reason string
	Data   map[string]any
	State  map[string]any // the script's (possibly mutated) state, persisted by the caller
	Logs   []string
}

// Executor runs custom-strategy source under a bounded wall-clock budget.
type Executor struct {
	budget time.Duration
}

// New builds an Executor with the given per-run wall-clock budget (§4.7:
// "a hard wall-clock budget (e.g., 250 ms)").
func New(budget time.Duration) *Executor {
	if budget <= 0 {
		budget = 250 * time.Millisecond
	}
	return &Executor{budget: budget}
}

// Run compiles and executes source, which must define a top-level
// function `signal(ctx)` returning `{signal, ticker, reason, data}`. It
// exposes `ctx.prices`, `ctx.candles`, `ctx.parameters`, `ctx.state`,
// `ctx.getPrice(ticker)`, and `ctx.log(message)` — nothing else. A
// timeout, a thrown exception, or a malformed return value all surface as
// an error; callers turn that into a `blocked` signal (§4.7).
func (e *Executor) Run(ctx context.Context, source string, in Input) (Output, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var logs []string
	jsCtx := vm.NewObject()
	_ = jsCtx.Set("prices", in.Prices)
	_ = jsCtx.Set("candles", in.Candles)
	_ = jsCtx.Set("parameters", in.Parameters)
	stateCopy := make(map[string]any, len(in.State))
	for k, v := range in.State {
		stateCopy[k] = v
	}
	_ = jsCtx.Set("state", stateCopy)
	_ = jsCtx.Set("getPrice", func(ticker string) float64 { return in.Prices[ticker] })
	_ = jsCtx.Set("log", func(msg string) {
		if len(logs) < 50 {
			logs = append(logs, msg)
		}
	})
	if err := vm.Set("ctx", jsCtx); err != nil {
		return Output{}, fmt.Errorf("sandbox: binding context: %w", err)
	}

	done := make(chan struct{})
	timer := time.AfterFunc(e.budget, func() {
		vm.Interrupt("execution budget exceeded")
	})
	defer timer.Stop()

	var (
		result goja.Value
		runErr error
	)
	go func() {
		defer close(done)
		if _, err := vm.RunString(source); err != nil {
			runErr = err
			return
		}
		fn, ok := goja.AssertFunction(vm.Get("signal"))
		if !ok {
			runErr = fmt.Errorf("sandbox: source must define function signal(ctx)")
			return
		}
		result, runErr = fn(goja.Undefined(), jsCtx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		vm.Interrupt("parent context cancelled")
		<-done
		return Output{}, ctx.Err()
	}
	if runErr != nil {
		return Output{}, fmt.Errorf("sandbox: %w", runErr)
	}

	var parsed struct {
		Signal string         `json:"signal"`
		Ticker string         `json:"ticker"`
		Reason string         `json:"reason"`
		Data   map[string]any `json:"data"`
	}
	exported := result.Export()
	raw, ok := exported.(map[string]any)
	if !ok {
		return Output{}, fmt.Errorf("sandbox: signal() must return an object")
	}
	if v, ok := raw["signal"].(string); ok {
		parsed.Signal = v
	}
	if v, ok := raw["ticker"].(string); ok {
		parsed.Ticker = v
	}
	if v, ok := raw["reason"].(string); ok {
		parsed.Reason = v
	}
	if v, ok := raw["data"].(map[string]any); ok {
		parsed.Data = v
	}

	finalState, _ := jsCtx.Get("state").Export().(map[string]any)

	return Output{
		Signal: parsed.Signal, Ticker: parsed.Ticker, Reason: parsed.Reason,
		Data: parsed.Data, State: finalState, Logs: logs,
	}, nil
}
