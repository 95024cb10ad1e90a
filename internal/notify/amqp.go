package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"github.com/projectpulse/internal/models"
)

// AMQPNotifier publishes events to a topic exchange. The routing key is
// suffixed with the event severity.
type AMQPNotifier struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	exchange   string
	routingKey string
}

func NewAMQPNotifier(url, exchange, routingKey string) (*AMQPNotifier, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange, routingKey: routingKey}, nil
}

func (n *AMQPNotifier) Name() string { return "amqp" }

func (n *AMQPNotifier) Notify(ctx context.Context, e models.AlertEvent) error {
	if n.conn == nil || n.conn.IsClosed() {
		return fmt.Errorf("amqp connection is closed")
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}
	return n.channel.PublishWithContext(ctx,
		n.exchange,
		routingKey(n.routingKey, e),
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			MessageId:    e.AlertID + ":" + string(e.Kind),
			Timestamp:    e.At,
		},
	)
}

func routingKey(base string, e models.AlertEvent) string {
	return base + "." + string(e.Severity)
}

func (n *AMQPNotifier) Close() error {
	if n.channel != nil {
		_ = n.channel.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}
