// Package notify implements the shipment-notification collaborator. Sends are
// fire-and-forget: callers log failures and never block on them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/vmoreno/curiosa-api/internal/domain"
)

const shipmentQueue = "order.shipped"

// AMQPNotifier publishes shipment events to a RabbitMQ queue.
type AMQPNotifier struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewAMQPNotifier(url string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(shipmentQueue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &AMQPNotifier{conn: conn, channel: ch}, nil
}

type shipmentEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerEmail  string    `json:"buyer_email"`
	ShippedAt   time.Time `json:"shipped_at"`
}

func (n *AMQPNotifier) ShipmentNotified(ctx context.Context, order domain.Order) error {
	ev := shipmentEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		BuyerEmail:  order.BuyerEmail,
	}
	if order.ShippedAt != nil {
		ev.ShippedAt = *order.ShippedAt
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal shipment event: %w", err)
	}

	err = n.channel.PublishWithContext(ctx, "", shipmentQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish shipment event: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Close() {
	if n.channel != nil {
		_ = n.channel.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
}

// LogNotifier is the fallback when no broker is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) ShipmentNotified(_ context.Context, order domain.Order) error {
	n.Logger.Info().
		Str("order_id", order.ID).
		Str("order_number", order.OrderNumber).
		Msg("shipment notified")
	return nil
}
