package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/events"
	"github.com/aristath/autopublish/internal/modules/runstate"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrShuttingDown rejects new work once Shutdown was called
var ErrShuttingDown = errors.New("controller is shutting down")

// Run is the handle of an accepted run request
type Run struct {
	done     chan struct{}
	statuses map[string]domain.RunStatus
	ID       string
	UserID   string
	Profiles []string
	mu       sync.Mutex
}

// Done is closed when every worker spawned for the request has stopped
func (r *Run) Done() <-chan struct{} { return r.done }

// Summary returns the status each profile's worker stopped with (final after Done)
func (r *Run) Summary() map[string]domain.RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.RunStatus, len(r.statuses))
	for k, v := range r.statuses {
		out[k] = v
	}
	return out
}

func (r *Run) record(profileID string, status domain.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[profileID] = status
}

// activeWorker is a worker goroutine that has not detached yet
type activeWorker struct {
	runID string
}

// Controller accepts run requests, spawns one worker per profile and
// serializes pause/resume/cancel against worker checkpoints
type Controller struct {
	deps   Deps
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	active map[string]*activeWorker
	now    func() time.Time
	log    zerolog.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewController creates a run controller. Workers stop when Shutdown is called.
func NewController(deps Deps, opts Options, log zerolog.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		deps:   deps,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]*activeWorker),
		now:    time.Now,
		log:    log.With().Str("component", "run_controller").Logger(),
	}
}

// Start validates a request and spawns its workers. The whole request is
// rejected, with nothing started, if any entry is invalid, not owned by the
// user, or targets a profile that already has an active run.
func (c *Controller) Start(req *domain.RunRequest) (*Run, error) {
	if err := domain.ValidateStruct(req); err != nil {
		return nil, err
	}

	problems := &domain.ValidationError{}
	seen := make(map[string]bool, len(req.Profiles))
	for i, entry := range req.Profiles {
		field := fmt.Sprintf("profiles[%d].profile_id", i)
		if seen[entry.ProfileID] {
			problems.Add(field, "profile appears more than once")
			continue
		}
		seen[entry.ProfileID] = true

		if _, err := c.deps.Profiles.GetOwned(entry.ProfileID, req.UserID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				problems.Add(field, "profile not found")
				continue
			}
			return nil, fmt.Errorf("failed to check profile %s: %w", entry.ProfileID, err)
		}
	}
	if problems.HasProblems() {
		return nil, problems
	}

	runID := uuid.NewString()
	states := make([]*domain.ProfileRunState, 0, len(req.Profiles))
	profileIDs := make([]string, 0, len(req.Profiles))
	for _, entry := range req.Profiles {
		states = append(states, &domain.ProfileRunState{
			ProfileID:          entry.ProfileID,
			RunID:              runID,
			UserID:             req.UserID,
			Tickers:            append([]string(nil), entry.Tickers...),
			RequestedPostCount: entry.RequestedPostCount,
		})
		profileIDs = append(profileIDs, entry.ProfileID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrShuttingDown
	}

	if err := c.deps.States.CreateQueued(states); err != nil {
		return nil, err
	}

	run := &Run{
		ID:       runID,
		UserID:   req.UserID,
		Profiles: profileIDs,
		done:     make(chan struct{}),
		statuses: make(map[string]domain.RunStatus, len(states)),
	}

	c.log.Info().
		Str("run_id", runID).
		Str("user_id", req.UserID).
		Int("profiles", len(states)).
		Msg("Run accepted")
	c.emit(req.UserID, events.ProgressEvent{
		RunID:   runID,
		Phase:   events.PhaseRunStarted,
		Stage:   events.StageRun,
		Message: fmt.Sprintf("Run started for %d profiles", len(states)),
	})

	var g errgroup.Group
	for _, st := range states {
		st := st
		c.active[st.ProfileID] = &activeWorker{runID: runID}
		c.wg.Add(1)
		g.Go(func() error {
			defer c.wg.Done()
			status := newWorker(c.deps, c.opts, c, st, c.now, c.log).Run(c.ctx)
			run.record(st.ProfileID, status)
			return nil
		})
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = g.Wait()
		c.finishRun(run)
		close(run.done)
	}()

	return run, nil
}

// finishRun emits the run-level summary
func (c *Controller) finishRun(run *Run) {
	counts := make(map[string]int)
	for _, status := range run.Summary() {
		counts[string(status)]++
	}

	c.log.Info().
		Str("run_id", run.ID).
		Interface("statuses", counts).
		Msg("Run finished")
	c.emit(run.UserID, events.ProgressEvent{
		RunID:   run.ID,
		Phase:   events.PhaseRunCompleted,
		Stage:   events.StageRun,
		Message: runSummaryMessage(counts, len(run.Profiles)),
		Counts:  counts,
	})
}

// Pause asks the profile's worker to stop before its next ticker
func (c *Controller) Pause(userID, profileID string) (*domain.ProfileRunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.ownedState(userID, profileID); err != nil {
		return nil, err
	}
	st, err := c.deps.States.Transition(profileID, "", runstate.FromLive, domain.RunStatusPaused, "paused by user")
	if err != nil {
		return st, err
	}

	if _, ok := c.active[profileID]; !ok {
		c.emitStatus(st, events.PhasePaused, "Run paused")
	}
	return st, nil
}

// Resume continues a paused run, or a run that failed with tickers left,
// from its persisted remaining queue
func (c *Controller) Resume(userID, profileID string) (*domain.ProfileRunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.ownedState(userID, profileID); err != nil {
		return nil, err
	}
	return c.resumeLocked(profileID, "resumed by user")
}

// resumeLocked requires c.mu
func (c *Controller) resumeLocked(profileID, message string) (*domain.ProfileRunState, error) {
	if c.closed {
		return nil, ErrShuttingDown
	}

	// A paused worker that has not reached its checkpoint yet simply carries on
	if aw, ok := c.active[profileID]; ok {
		st, err := c.deps.States.Transition(profileID, aw.runID, runstate.FromPaused, domain.RunStatusRunning, message)
		if err != nil {
			return st, err
		}
		return st, nil
	}

	current, err := c.deps.States.Get(profileID)
	if err != nil {
		return nil, err
	}
	if current.Status == domain.RunStatusFailed && len(current.RemainingTickers) == 0 {
		return current, fmt.Errorf("run of %s has no tickers left: %w", profileID, domain.ErrInvalidTransition)
	}

	st, err := c.deps.States.Transition(profileID, current.RunID, runstate.FromResumable, domain.RunStatusQueued, message)
	if err != nil {
		return st, err
	}

	c.spawnLocked(st)
	return st, nil
}

// spawnLocked starts a worker for a queued state; requires c.mu
func (c *Controller) spawnLocked(st *domain.ProfileRunState) {
	c.active[st.ProfileID] = &activeWorker{runID: st.RunID}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		newWorker(c.deps, c.opts, c, st, c.now, c.log).Run(c.ctx)
	}()
}

// Cancel ends a run; the unprocessed tickers stay in remaining_tickers
func (c *Controller) Cancel(userID, profileID string) (*domain.ProfileRunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.ownedState(userID, profileID); err != nil {
		return nil, err
	}
	st, err := c.deps.States.Transition(profileID, "", runstate.FromActive, domain.RunStatusCancelled, "cancelled by user")
	if err != nil {
		return st, err
	}

	if _, ok := c.active[profileID]; !ok {
		c.emitStatus(st, events.PhaseCancelled, "Run cancelled")
	}
	return st, nil
}

// RecoverInterrupted parks runs a previous process left queued or running as
// paused, or resumes them when autoResume is set. Returns how many were found.
func (c *Controller) RecoverInterrupted(autoResume bool) (int, error) {
	states, err := c.deps.States.ListInterrupted()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recovered := 0
	for _, st := range states {
		if _, ok := c.active[st.ProfileID]; ok {
			continue
		}
		if _, err := c.deps.States.Transition(st.ProfileID, st.RunID, runstate.FromLive, domain.RunStatusPaused, "interrupted"); err != nil {
			c.log.Warn().Err(err).Str("profile_id", st.ProfileID).Msg("Failed to park interrupted run")
			continue
		}
		recovered++

		if !autoResume {
			continue
		}
		if _, err := c.resumeLocked(st.ProfileID, "resumed after restart"); err != nil {
			c.log.Warn().Err(err).Str("profile_id", st.ProfileID).Msg("Failed to resume interrupted run")
		}
	}

	if recovered > 0 {
		c.log.Info().Int("runs", recovered).Bool("auto_resume", autoResume).Msg("Recovered interrupted runs")
	}
	return recovered, nil
}

// ActiveWorkers returns the number of workers currently attached
func (c *Controller) ActiveWorkers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// IsActive reports whether a worker is attached for the profile
func (c *Controller) IsActive(profileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[profileID]
	return ok
}

// Shutdown interrupts all workers and waits for them to park their runs
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.log.Info().Msg("All workers stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for workers: %w", ctx.Err())
	}
}

// Wait blocks until every spawned worker has stopped
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) checkpoint(ctx context.Context, profileID, runID string) (domain.RunStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.deps.States.Get(profileID)
	if err != nil {
		return "", err
	}
	if st.RunID != runID {
		// Superseded by a newer run
		c.detachLocked(profileID, runID)
		return domain.RunStatusCancelled, nil
	}

	switch st.Status {
	case domain.RunStatusRunning:
		return domain.RunStatusRunning, nil
	case domain.RunStatusQueued:
		if _, err := c.deps.States.Transition(profileID, runID, runstate.FromQueued, domain.RunStatusRunning, "running"); err != nil {
			return "", err
		}
		return domain.RunStatusRunning, nil
	}

	c.detachLocked(profileID, runID)
	return st.Status, nil
}

func (c *Controller) finish(profileID, runID string, from []domain.RunStatus, to domain.RunStatus, message string) (*domain.ProfileRunState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.detachLocked(profileID, runID)

	return c.deps.States.Transition(profileID, runID, from, to, message)
}

func (c *Controller) detachLocked(profileID, runID string) {
	if aw, ok := c.active[profileID]; ok && aw.runID == runID {
		delete(c.active, profileID)
	}
}

// ownedState returns the profile's run state if userID started it
func (c *Controller) ownedState(userID, profileID string) (*domain.ProfileRunState, error) {
	st, err := c.deps.States.Get(profileID)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, fmt.Errorf("run of %s: %w", profileID, domain.ErrNotFound)
	}
	return st, nil
}

func (c *Controller) emitStatus(st *domain.ProfileRunState, phase events.Phase, message string) {
	c.emit(st.UserID, events.ProgressEvent{
		RunID:     st.RunID,
		ProfileID: st.ProfileID,
		Phase:     phase,
		Stage:     events.StageProfile,
		Message:   message,
	})
}

func (c *Controller) emit(userID string, ev events.ProgressEvent) {
	if c.deps.Events != nil {
		c.deps.Events.Publish(userID, ev)
	}
}

func runSummaryMessage(counts map[string]int, total int) string {
	completed := counts[string(domain.RunStatusCompleted)]
	if completed == total {
		return fmt.Sprintf("All %d profiles completed", total)
	}
	return fmt.Sprintf("%d of %d profiles completed", completed, total)
}
