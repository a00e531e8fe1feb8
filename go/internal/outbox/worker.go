package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventPublisher delivers one outbox event to the message bus.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Worker relays unsent outbox rows to the publisher. It polls on an interval
// and additionally wakes on a Postgres NOTIFY from the inserting transaction,
// so delivery latency is normally bounded by commit time rather than the
// poll interval.
type Worker struct {
	repo      *Repository
	publisher EventPublisher
	listener  *pq.Listener
	config    WorkerConfig
	logger    *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a relay worker. listener may be nil, in which case the
// worker falls back to pure polling.
func NewWorker(repo *Repository, publisher EventPublisher, listener *pq.Listener, cfg WorkerConfig, logger *slog.Logger) *Worker {
	return &Worker{
		repo:      repo,
		publisher: publisher,
		listener:  listener,
		config:    cfg,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	if w.listener != nil {
		if err := w.listener.Listen("outbox_event"); err != nil {
			return fmt.Errorf("failed to listen on outbox channel: %w", err)
		}
	}

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info("outbox worker started",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize),
		slog.Bool("listen_notify", w.listener != nil))
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()
	if w.listener != nil {
		_ = w.listener.Close()
	}

	w.logger.Info("outbox worker stopped")
	return nil
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	var notify chan *pq.Notification
	if w.listener != nil {
		notify = w.listener.Notify
	}

	// Drain whatever accumulated while we were down.
	w.processOutbox(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processOutbox(ctx)
		case <-notify:
			w.processOutbox(ctx)
		}
	}
}

// processOutbox relays one batch. Fetch and mark-sent share a transaction so
// a crashed relay leaves its batch unlocked and unsent for the next pass.
func (w *Worker) processOutbox(ctx context.Context) {
	tx, err := w.repo.DB().BeginTx(ctx, nil)
	if err != nil {
		w.logger.Error("failed to begin outbox transaction", slog.String("error", err.Error()))
		return
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	events, err := w.repo.FetchUnsentTx(ctx, tx, w.config.BatchSize)
	if err != nil {
		w.logger.Error("failed to fetch unsent events", slog.String("error", err.Error()))
		return
	}
	if len(events) == 0 {
		return
	}

	var sentIDs []uuid.UUID
	for _, event := range events {
		if err := w.publishWithRetry(ctx, event); err != nil {
			w.logger.Error("failed to publish event",
				slog.String("event_id", event.ID.String()),
				slog.String("event_type", event.EventType),
				slog.String("error", err.Error()))
			continue
		}
		sentIDs = append(sentIDs, event.ID)
	}

	if err := w.repo.MarkSentTx(ctx, tx, sentIDs); err != nil {
		w.logger.Error("failed to mark events sent", slog.String("error", err.Error()))
		return
	}
	if err := tx.Commit(); err != nil {
		w.logger.Error("failed to commit outbox transaction", slog.String("error", err.Error()))
		return
	}
	committed = true

	w.logger.Info("relayed outbox events",
		slog.Int("total", len(events)),
		slog.Int("sent", len(sentIDs)))
}

func (w *Worker) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}
		if err := w.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			w.logger.Warn("failed to publish event, retrying",
				slog.String("event_id", event.ID.String()),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}
