package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"estimo/server/internal/models"

	"github.com/sirupsen/logrus"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler processes one batch of sales.
type Handler func([]*models.Sale) error

// SaleQueue is an in-memory queue of sale batches feeding the import
// pipeline. Handlers must be subscribed before Start.
type SaleQueue struct {
	items    chan []*models.Sale
	maxSize  int
	closed   bool
	started  bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *logrus.Logger
	handlers []Handler
	failures atomic.Int64
}

// NewSaleQueue creates a new sale queue with the specified buffer size
func NewSaleQueue(bufferSize int, logger *logrus.Logger) *SaleQueue {
	if logger == nil {
		logger = logrus.New()
	}
	return &SaleQueue{
		items:   make(chan []*models.Sale, bufferSize),
		maxSize: bufferSize,
		logger:  logger,
	}
}

// Push adds a batch without blocking.
func (q *SaleQueue) Push(sales []*models.Sale) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- sales:
		q.logger.WithField("batch_size", len(sales)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// PushWait adds a batch, blocking while the queue is full.
func (q *SaleQueue) PushWait(ctx context.Context, sales []*models.Sale) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- sales:
		q.logger.WithField("batch_size", len(sales)).Debug("Pushed batch to queue")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe adds a handler function that will be called for each batch
func (q *SaleQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start begins processing items in the queue. Batches are handled one at a
// time, in push order.
func (q *SaleQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true

	handlers := make([]Handler, len(q.handlers))
	copy(handlers, q.handlers)

	q.wg.Add(1)
	go q.process(handlers)
}

func (q *SaleQueue) process(handlers []Handler) {
	defer q.wg.Done()
	for batch := range q.items {
		for _, handler := range handlers {
			if err := handler(batch); err != nil {
				q.logger.WithError(err).Error("Handler failed to process batch")
				q.failures.Add(1)
			}
		}
	}
}

// Close stops accepting batches and waits until every queued batch has been
// handled. Closing a queue that was never started discards its batches.
func (q *SaleQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.items)
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}

// Len returns the current number of batches in the queue
func (q *SaleQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *SaleQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Failures returns how many handler calls returned an error.
func (q *SaleQueue) Failures() int {
	return int(q.failures.Load())
}
