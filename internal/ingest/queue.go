package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/classmate-app/classmate/internal/models"
)

// Job is one unit of pipeline work. Stage names the pipeline entry point so a
// single durable queue can carry both fresh ingests and resumed assets.
type Job struct {
	AssetID string           `json:"asset_id"`
	Kind    models.AssetKind `json:"kind"`
	Stage   string           `json:"stage"`
}

const (
	StageProcess = "process" // full ingest from registered/failed
	StageIndex   = "index"   // rebuild index docs from stored units
)

// Dispatcher enqueues pipeline jobs. The broker-backed implementation is
// Queue; tests substitute an in-memory recorder.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Queue is a durable RabbitMQ work queue. One connection, one channel for
// publishing; consumers open their own channel with prefetch equal to the
// worker count so slow assets don't starve the pool.
type Queue struct {
	url   string
	name  string
	conn  *amqp.Connection
	ch    *amqp.Channel
	log   zerolog.Logger
	queue amqp.Queue
}

func NewQueue(url, name string, log zerolog.Logger) (*Queue, error) {
	q := &Queue{url: url, name: name, log: log.With().Str("queue", name).Logger()}
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) connect() error {
	conn, err := connectWithRetry(q.url)
	if err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	queue, err := ch.QueueDeclare(q.name, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare queue %s: %w", q.name, err)
	}

	q.conn = conn
	q.ch = ch
	q.queue = queue
	return nil
}

func connectWithRetry(url string) (*amqp.Connection, error) {
	op := func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	return backoff.Retry(context.Background(), op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(10),
	)
}

func (q *Queue) Dispatch(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	err = q.ch.PublishWithContext(ctx, "", q.queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job for asset %s: %w", job.AssetID, err)
	}
	q.log.Debug().Str("asset_id", job.AssetID).Str("stage", job.Stage).Msg("job dispatched")
	return nil
}

// Consume runs `workers` goroutines over the queue until ctx is cancelled.
// A handler error nacks the delivery without requeue; the pipeline has
// already recorded the failure on the asset, so redelivery would only repeat
// a deterministic error.
func (q *Queue) Consume(ctx context.Context, workers int, handle func(ctx context.Context, job Job) error) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(workers, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(q.queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	done := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for d := range deliveries {
				q.handleDelivery(ctx, d, handle)
			}
			done <- struct{}{}
		}()
	}

	<-ctx.Done()
	ch.Close()
	for i := 0; i < workers; i++ {
		<-done
	}
	return nil
}

func (q *Queue) handleDelivery(ctx context.Context, d amqp.Delivery, handle func(ctx context.Context, job Job) error) {
	var job Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		q.log.Error().Err(err).Msg("malformed job payload, dropping")
		_ = d.Nack(false, false)
		return
	}

	log := q.log.With().Str("asset_id", job.AssetID).Str("stage", job.Stage).Logger()
	jctx := log.WithContext(ctx)

	if err := handle(jctx, job); err != nil {
		log.Error().Err(err).Msg("job failed")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (q *Queue) Close() error {
	if q.ch != nil {
		q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
