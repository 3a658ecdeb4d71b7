// Package events publishes order notifications for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// OrderItem is one cart line of a placed order.
type OrderItem struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	// ValueMinor is the line total in minor units.
	ValueMinor int64 `json:"value_minor"`
}

// OrderPlaced is emitted once a delivery order is handed to a courier.
type OrderPlaced struct {
	ID            string      `json:"id"`
	Front         string      `json:"front"`
	UserID        string      `json:"user_id"`
	FacilityAlias string      `json:"facility_alias"`
	CourierID     string      `json:"courier_id"`
	Items         []OrderItem `json:"items"`
	TotalMinor    int64       `json:"total_minor"`
	ShippingMinor int64       `json:"shipping_minor"`
	Lon           float64     `json:"lon"`
	Lat           float64     `json:"lat"`
	PlacedAt      time.Time   `json:"placed_at"`
}

// NewOrderPlaced stamps an event with a fresh id and time.
func NewOrderPlaced(front, userID string, now time.Time) OrderPlaced {
	return OrderPlaced{ID: uuid.NewString(), Front: front, UserID: userID, PlacedAt: now.UTC()}
}

// Publisher sends order events.
type Publisher interface {
	PublishOrder(ctx context.Context, ev OrderPlaced) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) PublishOrder(context.Context, OrderPlaced) error { return nil }
func (Nop) Close() error                                    { return nil }

// AMQP publishes events to a topic exchange and waits for broker confirms.
type AMQP struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string

	mu   sync.Mutex
	acks <-chan amqp.Confirmation
}

// DialAMQP connects, declares the exchange and enables publisher confirms.
func DialAMQP(url, exchange, routingKey string) (*AMQP, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("events: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("events: enable confirms: %w", err)
	}
	acks := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	return &AMQP{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey, acks: acks}, nil
}

// PublishOrder publishes one persistent JSON message and waits for its ack.
// Calls are serialized so that each confirm matches its publish.
func (p *AMQP) PublishOrder(ctx context.Context, ev OrderPlaced) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   "application/json",
		MessageId:     ev.ID,
		CorrelationId: ev.UserID,
		Timestamp:     ev.PlacedAt,
		Headers:       amqp.Table{"front": ev.Front},
		Body:          body,
	}); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}

	select {
	case conf, ok := <-p.acks:
		if !ok {
			return errors.New("events: channel closed before confirm")
		}
		if !conf.Ack {
			return errors.New("events: publish NACK from broker")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel and the connection.
func (p *AMQP) Close() error {
	return errors.Join(p.ch.Close(), p.conn.Close())
}
