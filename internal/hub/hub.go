// Package hub implements the broadcast/push channel (spec.md §4.6): a
// single-process, many-connection WebSocket server. It generalizes the
// teacher's register/unregister/broadcast channel idiom
// (internal/websocket/hub.go) from an unauthenticated single-stream relay
// to per-session authentication, per-symbol subscriptions, and a bounded
// outbound queue per connection so one slow client cannot stall the rest.
package hub

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"exchange-sim/internal/auth"
	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/repository"
	"exchange-sim/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns every live session and fans out tick batches, fills, margin
// calls, and news without becoming a parallelism boundary across
// connections (§4.6).
type Hub struct {
	repo     repository.Repository
	bus      *eventbus.Bus
	verifier auth.Verifier
	log      zerolog.Logger

	pingInterval time.Duration

	mu       sync.RWMutex
	sessions map[*session]bool

	register   chan *session
	unregister chan *session
}

// New builds a Hub wired to the repository (for portfolio snapshots), the
// core event bus, and the auth collaborator.
func New(repo repository.Repository, bus *eventbus.Bus, verifier auth.Verifier, log zerolog.Logger) *Hub {
	h := &Hub{
		repo: repo, bus: bus, verifier: verifier,
		log:          log.With().Str("component", "hub.Hub").Logger(),
		pingInterval: 15 * time.Second,
		sessions:     make(map[*session]bool),
		register:     make(chan *session, 256),
		unregister:   make(chan *session, 256),
	}
	bus.Ticks.Subscribe(h.onTickBatch)
	bus.Fills.Subscribe(h.onFill)
	bus.MarginCalls.Subscribe(h.onMarginCall)
	bus.News.Subscribe(h.onNews)
	return h
}

// Run drives session (un)registration until ctx is cancelled. The tick
// batching itself happens synchronously inside onTickBatch, on the
// publisher's goroutine (eventbus.Topic's contract); Run only owns
// register/unregister bookkeeping so those two can't race one another.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for s := range h.sessions {
				close(s.send)
			}
			h.sessions = make(map[*session]bool)
			h.mu.Unlock()
			return
		case s := <-h.register:
			h.mu.Lock()
			h.sessions[s] = true
			h.mu.Unlock()
		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[s]; ok {
				delete(h.sessions, s)
				close(s.send)
			}
			h.mu.Unlock()
		}
	}
}

// ServeWs upgrades an HTTP request to a WebSocket connection and spins up
// the new session's read/write pumps.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("hub: upgrade failed")
		return
	}
	s := newSession(h, conn, h.log)
	h.register <- s
	s.enqueue(connectedMsg())

	go s.writePump()
	go s.readPump()
}

// disconnect requests removal of s. It never blocks and never takes h.mu
// itself: callers include onTickBatch/onFill/onNews/onMarginCall, which
// already hold h.mu.RLock() while iterating sessions, and a second Lock()
// from the same goroutine would deadlock. Run owns the actual removal.
func (h *Hub) disconnect(s *session) {
	select {
	case h.unregister <- s:
	default:
	}
}

// handleInbound dispatches one parsed client frame (§4.6 inbound
// protocol).
func (h *Hub) handleInbound(s *session, msg inbound) {
	switch msg.Type {
	case "auth":
		h.handleAuth(s, msg.Token)
	case "subscribe":
		s.mu.Lock()
		for _, sym := range msg.Symbols {
			s.symbols[sym] = true
		}
		s.mu.Unlock()
	case "subscribe_all":
		s.mu.Lock()
		s.subscribeAll = true
		s.mu.Unlock()
	case "unsubscribe":
		s.mu.Lock()
		delete(s.symbols, msg.Symbol)
		s.mu.Unlock()
	case "ping":
		s.enqueue(pongMsg())
	}
}

func (h *Hub) handleAuth(s *session, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	principal, err := h.verifier.VerifyToken(ctx, token)
	if err != nil {
		s.enqueue(authErrorMsg("invalid token"))
		return
	}
	s.mu.Lock()
	s.authenticated = true
	s.principal = principal
	s.subscribeAll = true // §4.6: authenticating defaults to subscribe_all
	s.mu.Unlock()

	s.enqueue(authenticatedMsg(principal))
	s.enqueue(portfolioMsg(h.buildPortfolio(ctx, principal.UserID)))
}

// buildPortfolio assembles the initial portfolio snapshot sent on
// authentication (§4.6). Open orders are scanned from the global open-set
// (the narrow §6.3 surface has no per-user order index) the same way the
// matcher's margin-call path scans for position owners.
func (h *Hub) buildPortfolio(ctx context.Context, userID string) portfolioSnapshot {
	snap := portfolioSnapshot{}
	user, err := h.repo.GetUserByID(ctx, userID)
	if err == nil {
		snap.Cash = user.Cash
	}
	if positions, err := h.repo.GetPositionsByUser(ctx, userID); err == nil {
		snap.Positions = positions
	}
	if orders, err := h.repo.GetOpenOrders(ctx); err == nil {
		for _, o := range orders {
			if o.UserID == userID {
				snap.OpenOrders = append(snap.OpenOrders, o)
			}
		}
	}
	return snap
}

// onTickBatch iterates authenticated sessions once per batch, builds a
// per-session filtered sub-batch, and enqueues a single message per
// session — never one message per tick per session (§4.6).
func (h *Hub) onTickBatch(batch eventbus.TickBatch) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if !s.isAuthenticated() {
			continue
		}
		var filtered []types.Tick
		for _, t := range batch.Ticks {
			if s.wantsSymbol(t.Symbol) {
				filtered = append(filtered, t)
			}
		}
		if len(filtered) > 0 {
			s.enqueue(ticksMsg(filtered))
		}
	}
}

// onFill delivers a fill only to the owning user's sessions, after the
// trade's repository commit (§4.6 ordering guarantee — the matcher
// publishes OrderFilled from inside the committed transaction's caller).
func (h *Hub) onFill(ev eventbus.OrderFilled) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg := fillMsg(ev.Trade, ev.Order)
	for s := range h.sessions {
		if s.isAuthenticated() && s.userID() == ev.Order.UserID {
			s.enqueue(msg)
		}
	}
}

func (h *Hub) onMarginCall(ev eventbus.MarginCalled) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg := marginCallMsg(ev.UserID, ev.Symbol, ev.Qty, ev.Price, ev.PnL)
	for s := range h.sessions {
		if s.isAuthenticated() && s.userID() == ev.UserID {
			s.enqueue(msg)
		}
	}
}

// onNews broadcasts to every authenticated session that subscribes to the
// event's symbol (or to everyone, for a market-wide event).
func (h *Hub) onNews(ev eventbus.NewsFired) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg := newsMsg(ev.Event)
	for s := range h.sessions {
		if !s.isAuthenticated() {
			continue
		}
		if ev.Event.Symbol == "MARKET" || s.wantsSymbol(ev.Event.Symbol) {
			s.enqueue(msg)
		}
	}
}

// BroadcastOrderbook pushes an on-demand order-book snapshot (§4.6
// outbound "orderbook") to every session subscribed to symbol. Callers
// (the REST boundary's order-book endpoint) decide when a push is
// warranted; the hub does not generate these on its own tick cadence.
func (h *Hub) BroadcastOrderbook(symbol string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg := orderbookMsg(symbol, data)
	for s := range h.sessions {
		if s.isAuthenticated() && s.wantsSymbol(symbol) {
			s.enqueue(msg)
		}
	}
}

// SessionCount reports the number of live sessions, for health/metrics.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
