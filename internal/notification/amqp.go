package notification

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventsExchange is the topic exchange domain events are published to.
const EventsExchange = "kelo.events"

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes each message as a JSON event routed by its kind.
type AMQPNotifier struct {
	mu       sync.Mutex
	ch       Channel
	logger   *slog.Logger
	declared bool
}

// NewAMQPNotifier builds a publisher over an open channel.
func NewAMQPNotifier(ch Channel, logger *slog.Logger) *AMQPNotifier {
	return &AMQPNotifier{ch: ch, logger: logger}
}

type event struct {
	Message
	OccurredAt time.Time `json:"occurred_at"`
}

// Send implements Notifier.
func (n *AMQPNotifier) Send(ctx context.Context, m Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.declared {
		if err := n.ch.ExchangeDeclare(EventsExchange, "topic", true, false, false, false, nil); err != nil {
			return err
		}
		n.declared = true
	}

	body, err := json.Marshal(event{Message: m, OccurredAt: time.Now().UTC()})
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := n.ch.PublishWithContext(pubCtx, EventsExchange, m.Kind, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}); err != nil {
		// Force a re-declare on the next send in case the channel was reopened.
		n.declared = false
		return err
	}
	if n.logger != nil {
		n.logger.Debug("event published", slog.String("exchange", EventsExchange), slog.String("routing_key", m.Kind))
	}
	return nil
}
