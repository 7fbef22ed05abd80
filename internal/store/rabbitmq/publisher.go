package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// JobMessage is the body of every reconcile job delivery.
type JobMessage struct {
	JobID   string `json:"job_id"`
	Attempt int    `json:"attempt,omitempty"`
}

func RetryQueue(queue string) string { return queue + ".retry" }

func DeadLetterQueue(queue string) string { return queue + ".dlq" }

// DeclareTopology declares the main queue, its retry queue (messages expire
// back into the main queue) and its dead-letter queue. Publisher and worker
// must declare identical arguments.
func DeclareTopology(ch *amqp.Channel, queue string) error {
	mainQ := queue
	retryQ := RetryQueue(queue)
	dlqQ := DeadLetterQueue(queue)

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return errors.Wrapf(err, "declare %s", dlqQ)
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		return errors.Wrapf(err, "declare %s", retryQ)
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return errors.Wrapf(err, "declare %s", mainQ)
	}
	return nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "rabbit dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbit channel")
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return NewPublisherOnChannel(ch, queue), nil
}

// NewPublisherOnChannel publishes on an existing channel; Close leaves the
// connection alone.
func NewPublisherOnChannel(ch *amqp.Channel, queue string) *Publisher {
	return &Publisher{ch: ch, queue: queue}
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishJob(ctx context.Context, jobID string) error {
	return p.publish(ctx, p.queue, JobMessage{JobID: jobID}, 0)
}

// PublishRetry parks the job on the retry queue for delay, after which it
// is dead-lettered back into the main queue.
func (p *Publisher) PublishRetry(ctx context.Context, msg JobMessage, delay time.Duration) error {
	return p.publish(ctx, RetryQueue(p.queue), msg, delay)
}

func (p *Publisher) publish(ctx context.Context, queue string, msg JobMessage, ttl time.Duration) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
		Timestamp:    time.Now(),
	}
	if ttl > 0 {
		pub.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	return p.ch.PublishWithContext(cctx,
		"",    // default exchange
		queue, // routing key = queue
		false,
		false,
		pub,
	)
}

// RetryDelay backs off linearly, capped at one minute.
func RetryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 5 * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	if d <= 0 {
		d = 5 * time.Second
	}
	return d
}
