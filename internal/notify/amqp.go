package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ktxgo/ktxgo/internal/interfaces"
	"github.com/ktxgo/ktxgo/internal/logging"
)

// DefaultRoutingKey is the queue reservation events are published to when
// no exchange is configured.
const DefaultRoutingKey = "reservation.confirmed"

// AMQPPublisher publishes reservation events as persistent JSON messages.
// A connection is opened per event.
type AMQPPublisher struct {
	url        string
	exchange   string
	routingKey string
	logger     *logging.Logger
}

// NewAMQPPublisher creates a publisher for the broker at url. With an empty
// exchange the message goes to the default exchange and the routing key
// names a durable queue that is declared on publish.
func NewAMQPPublisher(url, exchange string, logger *logging.Logger) (*AMQPPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if logger == nil {
		logger = logging.GetNotifyLogger()
	}
	return &AMQPPublisher{
		url:        url,
		exchange:   exchange,
		routingKey: DefaultRoutingKey,
		logger:     logger,
	}, nil
}

// Name implements interfaces.Notifier
func (p *AMQPPublisher) Name() string { return "amqp" }

// publishing builds the broker message for event.
func publishing(event interfaces.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	timestamp := event.OccurredAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     event.PNR,
		CorrelationId: event.RunID,
		Timestamp:     timestamp.UTC(),
		Type:          DefaultRoutingKey,
		Body:          body,
	}, nil
}

// Notify implements interfaces.Notifier
func (p *AMQPPublisher) Notify(ctx context.Context, event interfaces.Event) error {
	msg, err := publishing(event)
	if err != nil {
		return err
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return fmt.Errorf("amqp dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel open failed: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if p.exchange == "" {
		if _, err := ch.QueueDeclare(p.routingKey, true, false, false, false, nil); err != nil {
			return fmt.Errorf("amqp queue declare failed: %w", err)
		}
	}

	if err := ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, msg); err != nil {
		return fmt.Errorf("amqp publish failed: %w", err)
	}

	p.logger.Info("Reservation event published", "exchange", p.exchange, "routing_key", p.routingKey, "pnr", event.PNR)
	return nil
}
