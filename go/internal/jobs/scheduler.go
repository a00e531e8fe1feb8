package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/sketchparty/go/internal/models"
)

// Scheduler is a durable, at-least-once, cancelable timer service. Jobs are
// persisted through the Store and armed as in-memory one-shot timers; on
// restart LoadPersisted re-arms everything still SCHEDULED. Handlers are
// registered once per job type at startup and run on a small worker pool.
type Scheduler struct {
	store      Store
	clock      clockwork.Clock
	missed     MissedPolicy
	instanceID string

	handlersMu sync.RWMutex
	handlers   map[models.JobType]Handler

	// Active in-memory timers keyed by job ID.
	activeTimersMu sync.Mutex
	activeTimers   map[string]clockwork.Timer

	// Worker pool configuration
	numWorkers int
	workCh     chan string

	// Track in-flight work to prevent duplicate processing
	inFlight   map[string]bool
	inFlightMu sync.Mutex

	runCtx   context.Context
	runCtxMu sync.Mutex
}

// NewScheduler creates a scheduler over the given store. Pass
// clockwork.NewRealClock() in production and a FakeClock in tests.
func NewScheduler(store Store, clock clockwork.Clock, missed MissedPolicy) *Scheduler {
	numWorkers := 10
	return &Scheduler{
		store:        store,
		clock:        clock,
		missed:       missed,
		instanceID:   uuid.New().String()[:8],
		handlers:     make(map[models.JobType]Handler),
		activeTimers: make(map[string]clockwork.Timer),
		numWorkers:   numWorkers,
		workCh:       make(chan string, numWorkers*2),
		inFlight:     make(map[string]bool),
	}
}

// RegisterHandler binds a handler to a job type. Registering twice for the
// same type replaces the previous handler; registration happens once at
// startup before Run.
func (s *Scheduler) RegisterHandler(jobType models.JobType, h Handler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[jobType] = h
}

// Run starts the worker pool and blocks until ctx is cancelled. Timers armed
// before Run are serviced as soon as the workers start.
func (s *Scheduler) Run(ctx context.Context) error {
	s.runCtxMu.Lock()
	s.runCtx = ctx
	s.runCtxMu.Unlock()

	log.Info().Str("instance", s.instanceID).Int("workers", s.numWorkers).Msg("job scheduler started")

	var wg sync.WaitGroup
	for i := 0; i < s.numWorkers; i++ {
		wg.Add(1)
		go s.worker(ctx, &wg, i)
	}

	<-ctx.Done()
	log.Info().Str("instance", s.instanceID).Msg("shutting down job workers")
	wg.Wait()
	log.Info().Str("instance", s.instanceID).Msg("all job workers shut down")
	return nil
}

// Schedule persists and arms a one-shot job. It fails with ErrJobExists when
// the job ID is still armed or pending in the store, and with
// ErrFireAtNotFuture when fireAt is not strictly after now.
func (s *Scheduler) Schedule(ctx context.Context, jobID string, fireAt time.Time, jobType models.JobType, payload any) error {
	now := s.clock.Now()
	if !fireAt.After(now) {
		return fmt.Errorf("%w: fireAt=%s now=%s", ErrFireAtNotFuture, fireAt, now)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := models.ScheduledJob{
		JobID:   jobID,
		FireAt:  fireAt,
		JobType: jobType,
		Payload: raw,
		Status:  models.JobStatusScheduled,
	}
	if err := s.store.Insert(ctx, job); err != nil {
		return err
	}

	s.armTimer(jobID, fireAt.Sub(now))
	log.Debug().
		Str("job_id", jobID).
		Str("job_type", string(jobType)).
		Time("fire_at", fireAt).
		Str("instance", s.instanceID).
		Msg("scheduled job")
	return nil
}

// Cancel marks the job CANCELLED and disarms its timer. It is idempotent and
// returns false when no timer for the ID was armed.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) bool {
	cancelled, err := s.store.MarkCancelled(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job cancelled")
	}

	armed := s.disarmTimer(jobID)
	if cancelled || armed {
		log.Debug().Str("job_id", jobID).Msg("cancelled job")
	}
	return armed
}

// CancelJobsForGame cancels every SCHEDULED job whose payload references the
// game. Used when a game is terminated or deleted.
func (s *Scheduler) CancelJobsForGame(ctx context.Context, gameID uuid.UUID) error {
	jobs, err := s.store.ListScheduledForGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("failed to list jobs for game %s: %w", gameID, err)
	}
	for _, job := range jobs {
		s.Cancel(ctx, job.JobID)
	}
	return nil
}

// CancelTurnJobs cancels all four turn-scoped jobs for a turn by their
// deterministic IDs.
func (s *Scheduler) CancelTurnJobs(ctx context.Context, turnID uuid.UUID) {
	s.Cancel(ctx, TurnWarningJobID(turnID))
	s.Cancel(ctx, TurnClaimTimeoutJobID(turnID))
	s.Cancel(ctx, TurnSubmissionWarningJobID(turnID))
	s.Cancel(ctx, TurnTimeoutJobID(turnID))
}

// LoadPersisted reads all SCHEDULED jobs at startup. Overdue jobs are handled
// per the missed policy; the rest are re-armed.
func (s *Scheduler) LoadPersisted(ctx context.Context) error {
	jobs, err := s.store.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to load persisted jobs: %w", err)
	}

	now := s.clock.Now()
	var armed, missed int
	for _, job := range jobs {
		if !job.FireAt.After(now) {
			missed++
			switch s.missed {
			case MissedPolicyExecuteImmediately:
				s.enqueue(job.JobID)
			default:
				if _, err := s.store.MarkFailed(ctx, job.JobID, MissedReason); err != nil {
					log.Error().Err(err).Str("job_id", job.JobID).Msg("failed to mark missed job")
				}
			}
			continue
		}
		s.armTimer(job.JobID, job.FireAt.Sub(now))
		armed++
	}

	log.Info().
		Int("armed", armed).
		Int("missed", missed).
		Str("policy", string(s.missed)).
		Str("instance", s.instanceID).
		Msg("loaded persisted jobs")
	return nil
}

// armTimer atomically replaces any existing timer for the job ID, properly
// cancelling the old one so a stale timer cannot slip in between Stop() and
// delete().
func (s *Scheduler) armTimer(jobID string, d time.Duration) {
	timer := s.clock.NewTimer(d)

	s.activeTimersMu.Lock()
	if existing, ok := s.activeTimers[jobID]; ok {
		stopAndDrainTimer(existing)
		log.Debug().Str("job_id", jobID).Msg("replaced existing timer")
	}
	s.activeTimers[jobID] = timer
	s.activeTimersMu.Unlock()

	go func() {
		ctx := s.runContext()
		select {
		case <-timer.Chan():
			s.removeTimer(jobID, timer)
			s.enqueue(jobID)
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			s.removeTimer(jobID, timer)
		}
	}()
}

// disarmTimer stops and removes an armed timer. Returns whether one existed.
func (s *Scheduler) disarmTimer(jobID string) bool {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()

	timer, ok := s.activeTimers[jobID]
	if !ok {
		return false
	}
	stopAndDrainTimer(timer)
	delete(s.activeTimers, jobID)
	return true
}

// removeTimer removes the map entry if it still points at this timer; a
// replacement timer armed concurrently stays in place.
func (s *Scheduler) removeTimer(jobID string, timer clockwork.Timer) {
	s.activeTimersMu.Lock()
	defer s.activeTimersMu.Unlock()
	if current, ok := s.activeTimers[jobID]; ok && current == timer {
		delete(s.activeTimers, jobID)
	}
}

// stopAndDrainTimer safely stops a timer and drains its channel to prevent
// goroutine leaks, per the time.Timer.Stop() documentation.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func (s *Scheduler) enqueue(jobID string) {
	s.inFlightMu.Lock()
	if s.inFlight[jobID] {
		s.inFlightMu.Unlock()
		log.Debug().Str("job_id", jobID).Str("instance", s.instanceID).Msg("skipping job already in flight")
		return
	}
	s.inFlight[jobID] = true
	s.inFlightMu.Unlock()

	select {
	case s.workCh <- jobID:
	default:
		// Work channel full; run inline rather than dropping the job.
		log.Warn().Str("job_id", jobID).Str("instance", s.instanceID).Msg("work channel full, executing inline")
		go func() {
			s.execute(s.runContext(), jobID)
			s.clearInFlight(jobID)
		}()
	}
}

// worker processes due jobs from the work channel.
func (s *Scheduler) worker(ctx context.Context, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()

	log.Debug().Str("instance", s.instanceID).Int("worker_id", workerID).Msg("job worker started")
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("instance", s.instanceID).Int("worker_id", workerID).Msg("job worker shutting down")
			return
		case jobID := <-s.workCh:
			s.execute(ctx, jobID)
			s.clearInFlight(jobID)
		}
	}
}

func (s *Scheduler) clearInFlight(jobID string) {
	s.inFlightMu.Lock()
	delete(s.inFlight, jobID)
	s.inFlightMu.Unlock()
}

// execute runs one due job to a terminal state. The handler is invoked with
// the persisted payload; a handler error marks the job FAILED with the error
// message, success marks it EXECUTED. A job already out of SCHEDULED
// (cancelled under us) is left alone.
func (s *Scheduler) execute(ctx context.Context, jobID string) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to load due job")
		return
	}
	if job.Status != models.JobStatusScheduled {
		log.Debug().Str("job_id", jobID).Str("status", string(job.Status)).Msg("due job no longer scheduled, skipping")
		return
	}

	s.handlersMu.RLock()
	handler, ok := s.handlers[job.JobType]
	s.handlersMu.RUnlock()
	if !ok {
		reason := fmt.Sprintf("%s: %s", ErrNoHandler, job.JobType)
		if _, err := s.store.MarkFailed(ctx, jobID, reason); err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job failed")
		}
		log.Error().Str("job_id", jobID).Str("job_type", string(job.JobType)).Msg("no handler registered")
		return
	}

	log.Info().
		Str("job_id", jobID).
		Str("job_type", string(job.JobType)).
		Str("instance", s.instanceID).
		Msg("executing job")

	handlerErr := s.runHandler(ctx, handler, job.Payload)

	// A handler may legally re-arm the same job ID (a dismissed offer
	// reschedules the turn's claim timeout). The replacement owns the record;
	// leave it alone.
	if after, err := s.store.Get(ctx, jobID); err == nil && !after.FireAt.Equal(job.FireAt) {
		log.Debug().Str("job_id", jobID).Msg("job re-armed by its own handler, leaving scheduled")
		return
	}

	if handlerErr != nil {
		if _, markErr := s.store.MarkFailed(ctx, jobID, handlerErr.Error()); markErr != nil {
			log.Error().Err(markErr).Str("job_id", jobID).Msg("failed to mark job failed")
		}
		log.Error().Err(handlerErr).Str("job_id", jobID).Str("job_type", string(job.JobType)).Msg("job handler failed")
		return
	}

	if _, err := s.store.MarkExecuted(ctx, jobID, s.clock.Now()); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job executed")
	}
}

// runHandler invokes the handler, converting a panic into an error so one bad
// job cannot take down a worker.
func (s *Scheduler) runHandler(ctx context.Context, handler Handler, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}

func (s *Scheduler) runContext() context.Context {
	s.runCtxMu.Lock()
	defer s.runCtxMu.Unlock()
	if s.runCtx != nil {
		return s.runCtx
	}
	return context.Background()
}
