package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fintrack/internal/amqp"
	applog "fintrack/internal/log"
	"fintrack/internal/storage"
)

// OutboxProcessorConfig holds configuration for the outbox relay
type OutboxProcessorConfig struct {
	// PollInterval is how often to check for pending events (default: 10s)
	PollInterval time.Duration

	// BatchSize is the max number of events to publish per poll cycle (default: 10)
	BatchSize int

	// MaxRetries is the number of publish attempts before an event is marked failed (default: 3)
	MaxRetries int

	// CleanupInterval is how often sent events are purged (default: 1h)
	CleanupInterval time.Duration

	// CleanupAge is how old sent events must be before purging (default: 24h)
	CleanupAge time.Duration
}

// DefaultOutboxProcessorConfig returns sensible defaults
func DefaultOutboxProcessorConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		PollInterval:    10 * time.Second,
		BatchSize:       10,
		MaxRetries:      3,
		CleanupInterval: 1 * time.Hour,
		CleanupAge:      24 * time.Hour,
	}
}

// EventStore is the part of storage the relay needs.
type EventStore interface {
	PendingEvents(ctx context.Context, limit int) ([]storage.LedgerEvent, error)
	MarkEventSent(ctx context.Context, id int64) error
	MarkEventAttemptFailed(ctx context.Context, id int64, cause string, maxAttempts int) error
	DeleteSentEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	RetryFailedEvents(ctx context.Context) (int64, error)
	EventStats(ctx context.Context) (storage.EventStats, error)
}

// Publisher delivers one event to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg *amqp.LedgerEventMessage) error
}

// OutboxProcessor relays committed ledger events from the outbox table to
// the message broker.
type OutboxProcessor struct {
	store     EventStore
	publisher Publisher
	config    OutboxProcessorConfig
	logger    *applog.Logger

	// Lifecycle management
	mu      sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce *sync.Once
}

// NewOutboxProcessor creates a new outbox relay
func NewOutboxProcessor(store EventStore, publisher Publisher, config OutboxProcessorConfig, logger *applog.Logger) *OutboxProcessor {
	if logger == nil {
		logger = applog.Discard()
	}
	return &OutboxProcessor{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger.WithComponent(applog.ComponentOutbox),
	}
}

// Start begins the processing loop. Returns an error if already running.
// The loop ends on Stop or when ctx is cancelled; either way the processor
// can be started again afterwards.
func (p *OutboxProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("outbox processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.stopOnce = &sync.Once{}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	p.logger.InfoContext(ctx, "Outbox processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop signals the loop and waits for the current batch to finish. It is
// safe to call concurrently and more than once.
func (p *OutboxProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, doneCh, once := p.stopCh, p.doneCh, p.stopOnce
	p.mu.Unlock()

	once.Do(func() { close(stopCh) })

	select {
	case <-doneCh:
		p.logger.InfoContext(ctx, "Outbox processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Outbox processor stop timed out")
		return ctx.Err()
	}
}

// IsRunning returns whether the processor is currently running
func (p *OutboxProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *OutboxProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(doneCh)
	}()

	pollTicker := time.NewTicker(p.config.PollInterval)
	defer pollTicker.Stop()

	cleanupTicker := time.NewTicker(p.config.CleanupInterval)
	defer cleanupTicker.Stop()

	p.processBatch(ctx, stopCh)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			p.processBatch(ctx, stopCh)
		case <-cleanupTicker.C:
			p.cleanupSent(ctx)
		}
	}
}

// ProcessBatch publishes one batch of pending events and returns how many
// were sent.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) int {
	return p.processBatch(ctx, nil)
}

func (p *OutboxProcessor) processBatch(ctx context.Context, stopCh <-chan struct{}) int {
	events, err := p.store.PendingEvents(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load pending events",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeDatabase)
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	p.logger.DebugContext(ctx, "Publishing outbox batch", applog.FieldCount, len(events))

	sent := 0
	for _, ev := range events {
		select {
		case <-stopCh:
			return sent
		case <-ctx.Done():
			return sent
		default:
		}

		msg := &amqp.LedgerEventMessage{
			ID:          ev.ID,
			Type:        ev.Type,
			AggregateID: ev.AggregateID,
			Timestamp:   ev.CreatedAt.UTC(),
			Payload:     ev.Payload,
		}
		if err := p.publisher.Publish(ctx, msg); err != nil {
			p.handleFailure(ctx, ev, err)
			continue
		}
		if err := p.store.MarkEventSent(ctx, ev.ID); err != nil {
			p.logger.ErrorContext(ctx, "Failed to mark event sent",
				applog.FieldEventID, ev.ID, applog.FieldError, err)
			continue
		}
		sent++
	}
	return sent
}

func (p *OutboxProcessor) handleFailure(ctx context.Context, ev storage.LedgerEvent, cause error) {
	attempt := ev.Attempts + 1
	p.logger.WarnContext(ctx, "Event publish failed",
		applog.FieldEventID, ev.ID,
		applog.FieldEventType, ev.Type,
		applog.FieldOperation, applog.OpPublish,
		"attempt", attempt,
		applog.FieldError, cause,
		applog.FieldErrorType, applog.ErrorTypeNetwork)

	if err := p.store.MarkEventAttemptFailed(ctx, ev.ID, cause.Error(), p.config.MaxRetries); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record publish attempt",
			applog.FieldEventID, ev.ID, applog.FieldError, err)
		return
	}
	if attempt >= p.config.MaxRetries {
		p.logger.ErrorContext(ctx, "Event failed permanently after max retries",
			applog.FieldEventID, ev.ID,
			applog.FieldEventType, ev.Type,
			"attempts", attempt)
	}
}

func (p *OutboxProcessor) cleanupSent(ctx context.Context) {
	cutoff := time.Now().Add(-p.config.CleanupAge)
	n, err := p.store.DeleteSentEventsBefore(ctx, cutoff)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to clean up sent events", applog.FieldError, err)
		return
	}
	if n > 0 {
		p.logger.InfoContext(ctx, "Cleaned up sent events", applog.FieldCount, n)
	}
}

// Stats returns outbox counts by status
func (p *OutboxProcessor) Stats(ctx context.Context) (storage.EventStats, error) {
	return p.store.EventStats(ctx)
}

// RetryFailed puts every failed event back in the queue
func (p *OutboxProcessor) RetryFailed(ctx context.Context) (int64, error) {
	return p.store.RetryFailedEvents(ctx)
}
