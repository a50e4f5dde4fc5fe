package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/yourusername/social-dl-go/internal/domain"
)

// amqpChannel is the part of *amqp.Channel the publisher uses
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPEventPublisher is a domain.EventSink publishing session events to a
// topic exchange. Routing keys are session.<type>.
type AMQPEventPublisher struct {
	exchange string
	logger   *zap.Logger
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
}

// NewAMQPEventPublisher dials url and declares a durable topic exchange
func NewAMQPEventPublisher(url, exchange string, logger *zap.Logger) (*AMQPEventPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logger.Info("Event publisher connected", zap.String("exchange", exchange))
	return &AMQPEventPublisher{
		exchange: exchange,
		logger:   logger,
		conn:     conn,
		channel:  ch,
	}, nil
}

// Name implements domain.EventSink
func (p *AMQPEventPublisher) Name() string {
	return "amqp"
}

// RoutingKey returns the routing key of an event type
func RoutingKey(t domain.EventType) string {
	return "session." + string(t)
}

// Publish implements domain.EventSink
func (p *AMQPEventPublisher) Publish(ctx context.Context, event domain.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel == nil {
		return fmt.Errorf("event publisher closed")
	}

	return p.channel.PublishWithContext(ctx,
		p.exchange,             // exchange
		RoutingKey(event.Type), // routing key
		false,                  // mandatory
		false,                  // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.Session.ID + "." + string(event.Type),
			Type:         string(event.Type),
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
		},
	)
}

// Close closes the channel and the connection
func (p *AMQPEventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.channel != nil {
		firstErr = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.conn = nil
	}
	return firstErr
}
