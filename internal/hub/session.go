package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"exchange-sim/internal/types"
)

const (
	writeWait  = 10 * time.Second
	maxMessage = 1 << 16
	sendBuffer = 256
)

// session is one connection's state (§4.6): authenticated flag, principal,
// subscription set, and a bounded outbound queue. No last-pong timestamp
// is stored: pong liveness is tracked by the read deadline that the pong
// handler extends on every pong. A
// session whose queue overflows is disconnected rather than allowed to
// stall the hub's tick fan-out.
type session struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu            sync.Mutex
	authenticated bool
	principal     types.Principal
	subscribeAll  bool
	symbols       map[string]bool
}

func newSession(h *Hub, conn *websocket.Conn, log zerolog.Logger) *session {
	return &session{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		log:     log,
		symbols: make(map[string]bool),
	}
}

// enqueue attempts a non-blocking send; on overflow the session is
// dropped (§4.6: "a slow subscriber must not stall others").
func (s *session) enqueue(msg []byte) {
	select {
	case s.send <- msg:
	default:
		s.hub.disconnect(s)
	}
}

func (s *session) wantsSymbol(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated {
		return false
	}
	if s.subscribeAll || symbol == "" || symbol == "MARKET" {
		return true
	}
	return s.symbols[symbol]
}

func (s *session) isAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *session) userID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.principal.UserID
}

// readPump parses inbound JSON frames and dispatches them. It owns the
// connection's read deadline and pong handling for the heartbeat (§4.6:
// "any connection without a pong in two intervals is terminated").
func (s *session) readPump() {
	defer s.hub.disconnect(s)

	s.conn.SetReadLimit(maxMessage)
	_ = s.conn.SetReadDeadline(time.Now().Add(2 * s.hub.pingInterval))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(2 * s.hub.pingInterval))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		s.hub.handleInbound(s, msg)
	}
}

// writePump owns all writes to the connection: outbound messages plus
// the periodic heartbeat ping control frame.
func (s *session) writePump() {
	ticker := time.NewTicker(s.hub.pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
