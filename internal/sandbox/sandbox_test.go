package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsParsedSignal(t *testing.T) {
	e := New(250 * time.Millisecond)
	src := `function signal(ctx) {
		var p = ctx.getPrice("AAA");
		if (p < 100) { return {signal: "buy", ticker: "AAA", reason: "cheap", data: {price: p}}; }
		return {signal: "hold", ticker: "AAA", reason: "no edge"};
	}`
	out, err := e.Run(context.Background(), src, Input{Prices: map[string]float64{"AAA": 90}})
	require.NoError(t, err)
	assert.Equal(t, "buy", out.Signal)
	assert.Equal(t, "AAA", out.Ticker)
}

func TestRunEnforcesWallClockBudget(t *testing.T) {
	e := New(50 * time.Millisecond)
	src := `function signal(ctx) { while(true) {} }`
	_, err := e.Run(context.Background(), src, Input{})
	require.Error(t, err)
}

func TestRunHasNoFilesystemOrNetworkGlobals(t *testing.T) {
	e := New(250 * time.Millisecond)
	src := `function signal(ctx) {
		return {signal: (typeof require === "undefined" && typeof fetch === "undefined") ? "hold" : "buy", ticker: "AAA", reason: "probe"};
	}`
	out, err := e.Run(context.Background(), src, Input{})
	require.NoError(t, err)
	assert.Equal(t, "hold", out.Signal, "require/fetch must not be reachable from sandboxed source")
}

func TestRunPersistsStateAcrossCalls(t *testing.T) {
	e := New(250 * time.Millisecond)
	src := `function signal(ctx) {
		var n = (ctx.state.calls || 0) + 1;
		ctx.state.calls = n;
		return {signal: "hold", ticker: "AAA", reason: "count", data: {calls: n}};
	}`
	out, err := e.Run(context.Background(), src, Input{State: map[string]any{}})
	require.NoError(t, err)
	require.NotNil(t, out.State)
	assert.Equal(t, int64(1), toInt64(out.State["calls"]))

	out2, err := e.Run(context.Background(), src, Input{State: out.State})
	require.NoError(t, err)
	assert.Equal(t, int64(2), toInt64(out2.State["calls"]))
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return -1
}
