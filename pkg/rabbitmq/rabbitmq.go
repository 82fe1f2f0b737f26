package rabbitmq

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"handmade/internal/realtime"

	amqp "github.com/streadway/amqp"
)

// ProductEventsExchange is the fanout exchange every instance publishes product changes to.
const ProductEventsExchange = "product_events"

// Client holds the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex // amqp channels are not safe for concurrent publishing
}

// Config holds RabbitMQ connection details.
type Config struct {
	URL string
}

// NewClient creates a new RabbitMQ client.
// It connects to RabbitMQ, opens a channel and declares the product exchange.
func NewClient(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ProductEventsExchange, // name
		amqp.ExchangeFanout,   // kind
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare %s exchange: %w", ProductEventsExchange, err)
	}

	log.Printf("RabbitMQ client connected and %s exchange declared.", ProductEventsExchange)

	return &Client{
		conn:    conn,
		channel: ch,
	}, nil
}

// Close closes the RabbitMQ connection and channel.
func (c *Client) Close() error {
	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close connection: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("multiple errors occurred during RabbitMQ client close: %v", errs)
	}
	return nil
}

// EncodeChange builds the AMQP message for a product change.
func EncodeChange(change realtime.Change) (amqp.Publishing, error) {
	body, err := json.Marshal(change)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal product change to JSON: %w", err)
	}
	return amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	}, nil
}

// DecodeChange parses a delivered product change.
func DecodeChange(body []byte) (realtime.Change, error) {
	var change realtime.Change
	if err := json.Unmarshal(body, &change); err != nil {
		return realtime.Change{}, fmt.Errorf("failed to unmarshal product change: %w", err)
	}
	if change.Kind == "" || change.ProductID == "" {
		return realtime.Change{}, fmt.Errorf("incomplete product change: %s", body)
	}
	return change, nil
}

// PublishProductChange publishes a change to every instance bound to the exchange.
func (c *Client) PublishProductChange(change realtime.Change) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available")
	}

	msg, err := EncodeChange(change)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.channel.Publish(
		ProductEventsExchange, // exchange
		"",                    // routing key: ignored by fanout
		false,                 // mandatory
		false,                 // immediate
		msg)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// ConsumeProductChanges binds a private, exclusive queue to the exchange and
// hands every change to handler on a background goroutine. Changes are
// notifications only, so malformed ones are dropped rather than requeued.
func (c *Client) ConsumeProductChanges(handler func(realtime.Change)) error {
	if c.channel == nil {
		return fmt.Errorf("RabbitMQ channel is not available for consumption")
	}

	queue, err := c.channel.QueueDeclare(
		"",    // name: server generated
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue for consuming: %w", err)
	}

	if err := c.channel.QueueBind(queue.Name, "", ProductEventsExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", ProductEventsExchange, err)
	}

	msgs, err := c.channel.Consume(
		queue.Name, // queue
		"",         // consumer tag
		true,       // auto-ack
		true,       // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	log.Printf(" [*] Waiting for product changes on %s", queue.Name)

	go func() {
		for msg := range msgs {
			change, err := DecodeChange(msg.Body)
			if err != nil {
				log.Printf("Dropping product change %d: %v", msg.DeliveryTag, err)
				continue
			}
			handler(change)
		}
		log.Printf(" [*] Product change consumer stopped")
	}()

	return nil
}
