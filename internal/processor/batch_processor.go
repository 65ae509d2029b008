package processor

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"estimo/server/config"
	"estimo/server/internal/database"
	"estimo/server/internal/models"
	"estimo/server/internal/queue"
)

// Transactor runs fc in a database transaction. *gorm.DB implements it.
type Transactor interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// BatchProcessor writes queued sale batches to the database, one transaction
// per batch, retrying failed batches.
type BatchProcessor struct {
	db     Transactor
	logger *logrus.Logger
	config *config.Config
	queue  *queue.SaleQueue
	ctx    context.Context
	cancel context.CancelFunc

	written   atomic.Int64
	failed    atomic.Int64
	onWritten func(n int)
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(db Transactor, queue *queue.SaleQueue, config *config.Config, logger *logrus.Logger) *BatchProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		db:     db,
		queue:  queue,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnWritten registers a callback run after each committed batch with its
// size. It must be set before Start.
func (p *BatchProcessor) OnWritten(fn func(n int)) {
	p.onWritten = fn
}

// Start subscribes the processor to the queue and starts consuming.
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(p.processBatch)
	p.queue.Start()
}

// Stop closes the queue and waits for queued batches to be written.
func (p *BatchProcessor) Stop() {
	p.queue.Close()
	p.cancel()
}

// Abort cancels pending retry delays. A batch waiting for a retry fails
// immediately.
func (p *BatchProcessor) Abort() {
	p.cancel()
}

// Written returns the number of sales in committed batches. Duplicates
// skipped by the upsert are counted too.
func (p *BatchProcessor) Written() int64 {
	return p.written.Load()
}

// Failed returns the number of sales in batches given up after all retries.
func (p *BatchProcessor) Failed() int64 {
	return p.failed.Load()
}

// processBatch handles a single batch of sales with transaction and retry logic
func (p *BatchProcessor) processBatch(batch []*models.Sale) error {
	var err error
	for attempt := 0; attempt <= p.config.BatchProcessing.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, p.config.BatchProcessing.MaxRetries)
			select {
			case <-p.ctx.Done():
				p.failed.Add(int64(len(batch)))
				return fmt.Errorf("batch processing aborted: %w", err)
			case <-time.After(p.config.BatchProcessing.RetryDelay):
			}
		}

		err = p.db.Transaction(func(tx *gorm.DB) error {
			if err := database.UpsertSales(tx, batch); err != nil {
				return fmt.Errorf("failed to upsert sales batch: %w", err)
			}
			return nil
		})

		if err == nil {
			p.logger.Infof("Successfully processed batch of %d sales", len(batch))
			p.written.Add(int64(len(batch)))
			if p.onWritten != nil {
				p.onWritten(len(batch))
			}
			return nil
		}

		p.logger.Errorf("Batch processing failed: %v", err)
	}

	p.failed.Add(int64(len(batch)))
	return fmt.Errorf("failed to process batch after %d attempts: %w", p.config.BatchProcessing.MaxRetries+1, err)
}
