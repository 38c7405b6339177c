package hub

import (
	"encoding/json"

	"exchange-sim/internal/types"
)

// inbound is the envelope every client message is parsed into (§4.6
// protocol: auth, subscribe, subscribe_all, unsubscribe, ping).
type inbound struct {
	Type    string   `json:"type"`
	Token   string   `json:"token,omitempty"`
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// every outbound payload is built from in-process data; a marshal
		// failure here means a programming error, not a runtime condition
		// worth surfacing to the client.
		return []byte(`{"type":"internal_error"}`)
	}
	return b
}

func connectedMsg() []byte {
	return marshal(struct {
		Type string `json:"type"`
	}{Type: "connected"})
}

func authenticatedMsg(principal types.Principal) []byte {
	return marshal(struct {
		Type     string `json:"type"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}{Type: "authenticated", UserID: principal.UserID, Username: principal.Username})
}

func authErrorMsg(reason string) []byte {
	return marshal(struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	}{Type: "auth_error", Reason: reason})
}

func ticksMsg(ticks []types.Tick) []byte {
	return marshal(struct {
		Type string       `json:"type"`
		Data []types.Tick `json:"data"`
	}{Type: "ticks", Data: ticks})
}

func orderbookMsg(symbol string, data any) []byte {
	return marshal(struct {
		Type   string `json:"type"`
		Symbol string `json:"symbol"`
		Data   any    `json:"data"`
	}{Type: "orderbook", Symbol: symbol, Data: data})
}

func fillMsg(trade types.Trade, order types.Order) []byte {
	return marshal(struct {
		Type  string      `json:"type"`
		Trade types.Trade `json:"trade"`
		Order types.Order `json:"order"`
	}{Type: "fill", Trade: trade, Order: order})
}

func marginCallMsg(userID, symbol string, qty, price, pnl float64) []byte {
	return marshal(struct {
		Type   string  `json:"type"`
		UserID string  `json:"userId"`
		Symbol string  `json:"symbol"`
		Qty    float64 `json:"qty"`
		Price  float64 `json:"price"`
		PnL    float64 `json:"pnl"`
	}{Type: "margin_call", UserID: userID, Symbol: symbol, Qty: qty, Price: price, PnL: pnl})
}

func newsMsg(ev types.NewsEvent) []byte {
	return marshal(struct {
		Type string         `json:"type"`
		Data types.NewsEvent `json:"data"`
	}{Type: "news", Data: ev})
}

// portfolioSnapshot is the payload of an outbound "portfolio" message.
type portfolioSnapshot struct {
	Cash       float64          `json:"cash"`
	Positions  []types.Position `json:"positions"`
	OpenOrders []types.Order    `json:"openOrders"`
}

func portfolioMsg(snap portfolioSnapshot) []byte {
	return marshal(struct {
		Type string            `json:"type"`
		portfolioSnapshot
	}{Type: "portfolio", portfolioSnapshot: snap})
}

func pongMsg() []byte {
	return marshal(struct {
		Type string `json:"type"`
	}{Type: "pong"})
}
