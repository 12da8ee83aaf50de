// Package queue_publisher publishes domain events to RabbitMQ. Publishing is
// best effort: callers log failures and carry on with the request.
package queue_publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/iliyamo/movieflix-seatlock/internal/metrics"
	q "github.com/iliyamo/movieflix-seatlock/internal/queue"
)

// Publisher sends booking events through a circuit breaker so a dead broker
// costs one fast failure per request instead of a dial timeout.
type Publisher struct {
	url  string
	cb   *gobreaker.CircuitBreaker
	send func(ctx context.Context, queue string, body []byte) error
}

// NewPublisher returns a Publisher for the broker at url. The breaker opens
// after 5 consecutive failures and probes again after 30s.
func NewPublisher(url string) *Publisher {
	p := &Publisher{url: url}
	p.send = p.publishAMQP
	p.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rabbitmq",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
		},
	})
	return p
}

// PublishBookingConfirmed publishes event to the booking.confirmed queue as
// a persistent message.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, event q.BookingConfirmedEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal booking event: %w", err)
	}
	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.send(ctx, q.BookingConfirmedQueue, body)
	})
	if err != nil {
		metrics.PublishFailures.WithLabelValues(q.BookingConfirmedQueue).Inc()
		return fmt.Errorf("publish %s: %w", q.BookingConfirmedQueue, err)
	}
	return nil
}

// State reports the breaker state for the health endpoint.
func (p *Publisher) State() gobreaker.State { return p.cb.State() }

// publishAMQP dials per call. Booking volume is low and this avoids holding a
// channel across broker restarts.
func (p *Publisher) publishAMQP(ctx context.Context, queue string, body []byte) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
