// Package pubsub implements the job queue on Google Cloud Pub/Sub.
//
// Messages are JSON-encoded JobMessages. Enqueue injects the caller's trace
// context into the message attributes. Dequeue hands one message at a time to
// a worker and acknowledges it at hand-off; a job lost after hand-off is
// re-enqueued by the scheduler on its next tick.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// Config names the topic and subscription the queue uses.
type Config struct {
	Topic          string
	Subscription   string
	MaxOutstanding int
}

// Queue is a crawler.Queue backed by a Pub/Sub topic and subscription.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	deliveries chan crawler.JobMessage
	startOnce  sync.Once
	closeOnce  sync.Once
	cancel     context.CancelFunc
	stopped    chan struct{}
	recvErr    error
}

// New checks that the topic and subscription exist and returns a queue over them.
// The caller owns client.
func New(ctx context.Context, client *pubsub.Client, cfg Config, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	if cfg.Topic == "" || cfg.Subscription == "" {
		return nil, fmt.Errorf("pubsub topic and subscription are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	topic := client.Topic(cfg.Topic)
	ok, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.Topic, err)
	}
	if !ok {
		return nil, fmt.Errorf("pubsub topic %q does not exist", cfg.Topic)
	}
	sub := client.Subscription(cfg.Subscription)
	ok, err = sub.Exists(ctx)
	if err != nil {
		topic.Stop()
		return nil, fmt.Errorf("check pubsub subscription %q: %w", cfg.Subscription, err)
	}
	if !ok {
		topic.Stop()
		return nil, fmt.Errorf("pubsub subscription %q does not exist", cfg.Subscription)
	}

	maxOutstanding := cfg.MaxOutstanding
	if maxOutstanding <= 0 {
		maxOutstanding = 10
	}
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	sub.ReceiveSettings.NumGoroutines = 1

	return &Queue{
		topic:      topic,
		sub:        sub,
		logger:     logger,
		deliveries: make(chan crawler.JobMessage),
		stopped:    make(chan struct{}),
	}, nil
}

// Enqueue publishes msg and waits for the server to accept it.
func (q *Queue) Enqueue(ctx context.Context, msg crawler.JobMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal job message: %w", err)
	}
	attrs := map[string]string{"task_name": string(msg.TaskName)}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: attrs})

	result := q.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish job message: %w", err)
	}
	return nil
}

// Dequeue blocks until a message is handed over, ctx ends, or the queue stops.
func (q *Queue) Dequeue(ctx context.Context) (crawler.JobMessage, error) {
	q.startOnce.Do(q.startReceiving)
	select {
	case <-ctx.Done():
		return crawler.JobMessage{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg := <-q.deliveries:
		return msg, nil
	case <-q.stopped:
		if q.recvErr != nil {
			return crawler.JobMessage{}, fmt.Errorf("receive job messages: %w", q.recvErr)
		}
		return crawler.JobMessage{}, crawler.ErrQueueClosed
	}
}

// Close stops receiving and flushes pending publishes.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		q.startOnce.Do(func() { close(q.stopped) })
		if q.cancel != nil {
			q.cancel()
			<-q.stopped
		}
		q.topic.Stop()
	})
	return nil
}

func (q *Queue) startReceiving() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.stopped)
		q.recvErr = q.sub.Receive(ctx, q.handle)
	}()
}

func (q *Queue) handle(ctx context.Context, m *pubsub.Message) {
	var msg crawler.JobMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		q.logger.Error("dropping undecodable job message", zap.String("message_id", m.ID), zap.Error(err))
		m.Ack()
		return
	}
	if len(msg.Trace) == 0 {
		msg.Trace = traceFields(m.Attributes)
	}
	select {
	case q.deliveries <- msg:
		m.Ack()
	case <-ctx.Done():
		m.Nack()
	}
}

func traceFields(attrs map[string]string) map[string]string {
	var out map[string]string
	for _, field := range otel.GetTextMapPropagator().Fields() {
		if v, ok := attrs[field]; ok {
			if out == nil {
				out = make(map[string]string)
			}
			out[field] = v
		}
	}
	return out
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
