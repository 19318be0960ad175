package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchangeName is the topic exchange carrying identity events
	DefaultExchangeName = "identity_events"
	// DefaultInvalidationExchange is the fanout exchange broadcasting cache
	// invalidations to every server process
	DefaultInvalidationExchange = "identity_cache_invalidation"
)

// RabbitMQPublisher implements Publisher using RabbitMQ. Identity events go
// to a durable topic exchange keyed by event type; cache invalidations go to
// a fanout exchange every process subscribes to.
type RabbitMQPublisher struct {
	conn                 *amqp.Connection
	channel              *amqp.Channel
	exchangeName         string
	invalidationExchange string
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchanges
func NewRabbitMQPublisher(amqpURL string) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			_ = closeErr
		}
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	p := &RabbitMQPublisher{
		conn:                 conn,
		channel:              ch,
		exchangeName:         DefaultExchangeName,
		invalidationExchange: DefaultInvalidationExchange,
	}

	if err := p.setup(); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			_ = closeErr
		}
		return nil, fmt.Errorf("failed to declare exchanges: %w", err)
	}

	return p, nil
}

func (p *RabbitMQPublisher) setup() error {
	err := p.channel.ExchangeDeclare(
		p.exchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare topic exchange: %w", err)
	}

	err = p.channel.ExchangeDeclare(
		p.invalidationExchange,
		"fanout",
		false, // invalidations are ephemeral, no need to survive a broker restart
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare fanout exchange: %w", err)
	}

	return nil
}

// Publish routes the event to the exchange matching its type. Cache
// invalidations fan out to every process; everything else is topic-routed
// for external collaborators.
func (p *RabbitMQPublisher) Publish(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	exchange := p.exchangeName
	routingKey := string(event.Type)
	if event.Type == EventCacheInvalidate {
		exchange = p.invalidationExchange
		routingKey = ""
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    event.ID.String(),
			Timestamp:    event.OccurredAt,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// ConsumeInvalidations binds an exclusive queue to the invalidation fanout
// and returns a channel of events. The queue is auto-deleted with the
// connection, so every process sees every broadcast while it is alive and
// nothing accumulates when it is not.
func (p *RabbitMQPublisher) ConsumeInvalidations(ctx context.Context) (<-chan *Event, error) {
	queue, err := p.channel.QueueDeclare(
		"",    // broker-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare invalidation queue: %w", err)
	}

	if err := p.channel.QueueBind(queue.Name, "", p.invalidationExchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind invalidation queue: %w", err)
	}

	deliveries, err := p.channel.Consume(
		queue.Name,
		"",    // consumer tag
		true,  // auto-ack: a lost invalidation is bounded by the cache TTL
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume invalidations: %w", err)
	}

	out := make(chan *Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal(delivery.Body, &event); err != nil {
					continue
				}
				select {
				case out <- &event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the channel and connection
func (p *RabbitMQPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		if closeErr := p.conn.Close(); closeErr != nil {
			_ = closeErr
		}
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

var _ Publisher = (*RabbitMQPublisher)(nil)
