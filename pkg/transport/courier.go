/**
 * @description
 * This file provides the AMQP courier for delivering transfer messages and
 * receipts between chain deployments. It encapsulates the logic for connecting
 * to RabbitMQ and publishing to the shared transport exchange.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The RabbitMQ client library.
 */
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// Courier delivers transfer envelopes and receipts to other chain deployments.
// Send must reject synchronously when the destination is not routable, so the
// caller can roll the debit back before anything leaves the ledger.
type Courier interface {
	Send(ctx context.Context, env Envelope) error
	SendReceipt(ctx context.Context, sourceChain string, receipt DeliveryReceipt) error
	Close()
}

// AMQPCourier publishes transfer traffic to a durable topic exchange shared by
// all chain deployments.
type AMQPCourier struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	known    map[string]struct{}
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// If any stray characters precede the scheme, slice from first occurrence of amqp
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPCourier connects to RabbitMQ and returns a courier scoped to the
// given exchange and chain universe.
func NewAMQPCourier(amqpURL, exchange string, knownChains []string) (*AMQPCourier, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	// Use a bounded dial timeout so startup does not hang indefinitely
	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	known := make(map[string]struct{}, len(knownChains))
	for _, chain := range knownChains {
		known[chain] = struct{}{}
	}

	return &AMQPCourier{conn: conn, channel: ch, exchange: exchange, known: known}, nil
}

// Send publishes a transfer envelope to its destination chain. Unknown
// destinations are rejected before anything is published.
func (c *AMQPCourier) Send(ctx context.Context, env Envelope) error {
	if _, ok := c.known[env.DestinationChain]; !ok {
		return ErrUnknownDestination
	}
	return c.publish(ctx, DeliveryRoutingKey(env.DestinationChain), env.MessageID, env)
}

// SendReceipt publishes a delivery receipt back to the chain that originated
// the transfer.
func (c *AMQPCourier) SendReceipt(ctx context.Context, sourceChain string, receipt DeliveryReceipt) error {
	if _, ok := c.known[sourceChain]; !ok {
		return ErrUnknownDestination
	}
	return c.publish(ctx, ReceiptRoutingKey(sourceChain), receipt.MessageID, receipt)
}

func (c *AMQPCourier) publish(ctx context.Context, routingKey, messageID string, body interface{}) error {
	// Ensure the exchange exists (durable topic)
	if err := c.channel.ExchangeDeclare(
		c.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // autoDelete
		false,      // internal
		false,      // noWait
		nil,        // args
	); err != nil {
		log.Printf("level=warn component=transport_courier msg=\"exchange declare failed; reopening channel\" exchange=%s err=%v", c.exchange, err)
		// Attempt simple channel reopen once
		if c.conn != nil {
			if ch, chErr := c.conn.Channel(); chErr == nil {
				c.channel = ch
				if err2 := c.channel.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err2 != nil {
					return err2
				}
			} else {
				return chErr
			}
		} else {
			return err
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("level=error component=transport_courier msg=\"json marshal failed\" routing_key=%s err=%v", routingKey, err)
		return err
	}

	err = c.channel.PublishWithContext(ctx,
		c.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			MessageId:   messageID,
			Timestamp:   time.Now(),
			Body:        jsonBody,
		},
	)
	if err != nil {
		log.Printf("level=warn component=transport_courier msg=\"publish failed; reopening channel\" routing_key=%s err=%v", routingKey, err)
		// One-shot retry: reopen channel and try again
		if c.conn != nil {
			if ch, chErr := c.conn.Channel(); chErr == nil {
				c.channel = ch
				if exErr := c.channel.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); exErr == nil {
					err = c.channel.PublishWithContext(ctx, c.exchange, routingKey, false, false, amqp091.Publishing{
						ContentType: "application/json",
						MessageId:   messageID,
						Timestamp:   time.Now(),
						Body:        jsonBody,
					})
					if err == nil {
						return nil
					}
				}
			}
		}
		return err
	}
	return nil
}

// Close gracefully closes the channel and connection to RabbitMQ.
func (c *AMQPCourier) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
