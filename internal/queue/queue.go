package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	TopicCampaignDispatch = "campaign_dispatch"
	TopicDeliveryReceipts = "delivery_receipts"

	defaultMaxRetries = 3
)

// Handler processes one message body.
type Handler func(ctx context.Context, body []byte) error

// Queue interface
type Queue interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Subscribe(topic string, handler Handler) error
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The message is dropped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// InMemoryQueue delivers each published message to every subscriber of
// the topic on its own goroutine, retrying failed handlers with a linear
// backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	wg         sync.WaitGroup
	logger     *zap.Logger
	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		logger:     logger,
		MaxRetries: defaultMaxRetries,
		Backoff:    500 * time.Millisecond,
	}
}

// jobPayload wraps a message body with retry info
type jobPayload struct {
	topic      string
	body       []byte
	retryCount int
	maxRetries int
}

// Publish sends a message to all subscribers. Handlers run detached from
// ctx cancellation so a finished HTTP request does not abort them.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, body []byte) error {
	q.mu.Lock()
	handlers := append([]Handler(nil), q.handlers[topic]...)
	q.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	detached := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		job := jobPayload{topic: topic, body: body, maxRetries: q.MaxRetries}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.processJob(detached, handler, job)
		}()
	}
	return nil
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(ctx context.Context, handler Handler, job jobPayload) {
	for {
		err := handler(ctx, job.body)
		if err == nil {
			return
		}
		if IsPermanent(err) {
			q.logger.Warn("job dropped", zap.String("topic", job.topic), zap.Error(err))
			return
		}

		job.retryCount++
		if job.retryCount > job.maxRetries {
			q.logger.Error("job permanently failed",
				zap.String("topic", job.topic), zap.Int("attempts", job.retryCount), zap.Error(err))
			return
		}
		q.logger.Warn("job failed, retrying",
			zap.String("topic", job.topic), zap.Int("attempt", job.retryCount), zap.Error(err))

		time.Sleep(time.Duration(job.retryCount) * q.Backoff)
	}
}

// Subscribe adds a handler for a topic
func (q *InMemoryQueue) Subscribe(topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Wait blocks until every published job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}
