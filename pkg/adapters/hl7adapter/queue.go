package hl7adapter

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueSource consumes raw messages from an AMQP queue. Each delivery body
// is one complete message, published as plain text by an upstream feeder.
type QueueSource struct {
	uri       string
	queueName string
	conn      *amqp.Connection
	channel   *amqp.Channel
	consumer  <-chan amqp.Delivery
}

// NewQueueSource builds a QueueSource for the given connection URI and
// queue. An empty queue name falls back to "default".
func NewQueueSource(uri, queueName string) *QueueSource {
	if queueName == "" {
		queueName = "default"
	}
	return &QueueSource{uri: uri, queueName: queueName}
}

// Setup dials the broker and declares the queue.
func (q *QueueSource) Setup(_ context.Context) error {
	conn, err := amqp.Dial(q.uri)
	if err != nil {
		return err
	}
	q.conn = conn
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	q.channel = ch
	_, err = ch.QueueDeclare(
		q.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	return err
}

// Extract streams delivery bodies until the consumer channel closes or ctx
// is done.
func (q *QueueSource) Extract(ctx context.Context) (<-chan string, error) {
	if q.consumer == nil {
		consumer, err := q.channel.Consume(
			q.queueName,
			"",
			true,
			false,
			false,
			false,
			nil,
		)
		if err != nil {
			return nil, err
		}
		q.consumer = consumer
	}
	out := make(chan string, 100)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-q.consumer:
				if !ok {
					return
				}
				out <- string(d.Body)
			}
		}
	}()
	return out, nil
}

// Publish sends one raw message onto the queue. Used by feeders and tests
// that replay captured traffic.
func (q *QueueSource) Publish(ctx context.Context, message string) error {
	return q.channel.PublishWithContext(
		ctx,
		"",
		q.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType: "text/plain",
			Body:        []byte(message),
		},
	)
}

// Close releases the channel and connection.
func (q *QueueSource) Close() error {
	if q.channel != nil {
		_ = q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
