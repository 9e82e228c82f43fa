package alert

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpPublisher is the part of *amqp.Channel the sink uses.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPAlerter publishes events to a durable topic exchange, routed by
// "<kind>.<job_type>" so consumers can bind to just the classes they watch.
type AMQPAlerter struct {
	conn     *amqp.Connection
	ch       amqpPublisher
	exchange string
}

// DialAMQP connects to url and declares the alert exchange. Idempotent.
func DialAMQP(url, exchange string) (*AMQPAlerter, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPAlerter{conn: conn, ch: ch, exchange: exchange}, nil
}

func (a *AMQPAlerter) Alert(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return a.ch.PublishWithContext(ctx,
		a.exchange,
		string(ev.Kind)+"."+ev.JobType,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.At,
			MessageId:    ev.JobID,
			Body:         body,
		})
}

func (a *AMQPAlerter) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
