// Package auditbus is the best-effort external audit side-channel (NEW,
// SPEC_FULL §7): every committed trade fill, margin call and fund
// capital event is mirrored, fire-and-forget, to a RabbitMQ exchange for
// downstream compliance/analytics consumers. A publish failure is logged
// and swallowed — it never blocks or fails the caller that triggered it.
// This is deliberately not the in-process coupling between engine,
// matcher, hub and strategy runner (that is internal/eventbus); it is an
// external observer wired onto the same bus topics.
//
// Grounded on the teacher's internal/amqp.Publisher: retrying Dial,
// Confirm(false) for publisher confirms, and PublishWithContext, carried
// over from "send a trade command to the JForex terminal" to "emit an
// audit record," generalized from one fixed queue per trade-command kind
// to a single topic exchange routed by event kind.
package auditbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"exchange-sim/internal/eventbus"
	"exchange-sim/internal/types"
)

const exchangeName = "exchange.audit"

// Kind names an audit record's category, used as the routing key prefix.
type Kind string

const (
	KindFill       Kind = "fill"
	KindMarginCall Kind = "margin_call"
	KindCapital    Kind = "capital"
)

// Event is one audit record published to the exchange.
type Event struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// Publisher connects to RabbitMQ and fans audit events out best-effort.
// The zero value is not usable; construct with Connect. A nil
// *Publisher is safe to call every method on (publish becomes a no-op),
// so callers can wire audit mirroring optionally without a nil check at
// every call site.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	log     zerolog.Logger
}

// Connect dials amqpURI with up to 10 attempts, 2 seconds apart
// (teacher's NewPublisher retry loop), returning early if ctx is
// cancelled, and declares the audit topic exchange.
func Connect(ctx context.Context, amqpURI string, log zerolog.Logger) (*Publisher, error) {
	var conn *amqp.Connection
	var err error
	for attempt := 1; attempt <= 10; attempt++ {
		conn, err = amqp.Dial(amqpURI)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("auditbus: rabbitmq dial failed, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("auditbus: connect after retries: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("auditbus: open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		log.Warn().Err(err).Msg("auditbus: publisher confirms unavailable")
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("auditbus: declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: ch, log: log}, nil
}

// Close releases the channel and connection. Safe on a nil Publisher.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// Wire subscribes to the fill and margin-call topics so every committed
// trade and forced liquidation is mirrored to the audit exchange without
// the matcher needing to know auditbus exists.
func (p *Publisher) Wire(bus *eventbus.Bus) {
	if p == nil {
		return
	}
	bus.Fills.Subscribe(func(ev eventbus.OrderFilled) {
		p.publish(KindFill, "trade.fill", ev.Trade)
	})
	bus.MarginCalls.Subscribe(func(ev eventbus.MarginCalled) {
		p.publish(KindMarginCall, "trade.margin_call", ev)
	})
}

// PublishCapitalEvent mirrors a fund deposit or withdrawal. Called
// directly by internal/fund since capital events have no eventbus topic
// of their own — §9's bus topics cover ticks, closed candles, news,
// regime changes, fills and margin calls; a fund's capital ledger is not
// one of them.
func (p *Publisher) PublishCapitalEvent(tx types.CapitalTransaction) {
	p.publish(KindCapital, "fund.capital", tx)
}

func (p *Publisher) publish(kind Kind, routingKey string, payload any) {
	if p == nil {
		return
	}
	body, err := json.Marshal(Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
	if err != nil {
		p.log.Error().Err(err).Str("kind", string(kind)).Msg("auditbus: marshal failed")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		}); err != nil {
			p.log.Error().Err(err).Str("kind", string(kind)).Msg("auditbus: publish failed")
		}
	}()
}
