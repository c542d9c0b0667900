package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/events"
	"github.com/aristath/autopublish/internal/modules/authors"
	"github.com/aristath/autopublish/internal/modules/dedup"
	"github.com/aristath/autopublish/internal/modules/runstate"
	"github.com/rs/zerolog"
)

// errInterrupted means the worker's context ended before a ticker reached an outcome
var errInterrupted = errors.New("worker interrupted")

// settleError reports bookkeeping that failed after a post went live. The
// ticker still counts as published; the worker stops after recording it.
type settleError struct {
	err error
	// logged is set when the published result row was written
	logged bool
}

func (e *settleError) Error() string {
	return "post published but not fully recorded: " + e.err.Error()
}

func (e *settleError) Unwrap() error { return e.err }

// Options tunes worker behaviour
type Options struct {
	Backoff            Backoff
	TickerTimeout      time.Duration
	TickerDelay        time.Duration
	PauseCheckInterval time.Duration
	HeartbeatInterval  time.Duration
}

// Deps are the collaborators of a worker
type Deps struct {
	Profiles  ProfileSource
	Generator domain.ReportGenerator
	Publisher domain.Publisher
	Quota     QuotaGuard
	Authors   AuthorRotator
	Dedup     DuplicateDetector
	States    RunStateStore
	Results   ResultLog
	Events    events.Emitter
}

// gate serializes a worker's status checks against control operations
type gate interface {
	// checkpoint returns the status the worker must act on. It is running
	// when the worker may process the next ticker; any other status means stop.
	checkpoint(ctx context.Context, profileID, runID string) (domain.RunStatus, error)
	// finish transitions the run and detaches the worker from the gate
	finish(profileID, runID string, from []domain.RunStatus, to domain.RunStatus, message string) (*domain.ProfileRunState, error)
}

// Worker drives one profile's ticker queue
type Worker struct {
	deps  Deps
	opts  Options
	gate  gate
	state *domain.ProfileRunState
	now   func() time.Time
	log   zerolog.Logger
}

func newWorker(deps Deps, opts Options, g gate, state *domain.ProfileRunState, now func() time.Time, log zerolog.Logger) *Worker {
	return &Worker{
		deps:  deps,
		opts:  opts,
		gate:  g,
		state: state,
		now:   now,
		log: log.With().
			Str("run_id", state.RunID).
			Str("profile_id", state.ProfileID).
			Logger(),
	}
}

// Run processes the queue until it is exhausted, halted, paused, cancelled or
// interrupted by ctx. The returned status is the run's status when the worker stopped.
func (w *Worker) Run(ctx context.Context) domain.RunStatus {
	st := w.state

	profile, err := w.deps.Profiles.Get(st.ProfileID)
	if err == nil {
		err = profile.CheckPublishable()
	}
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			err = &domain.ConfigurationError{ProfileID: st.ProfileID, Reason: "profile no longer exists"}
		}
		return w.fail(err)
	}

	started := false
	for len(st.RemainingTickers) > 0 {
		if ctx.Err() != nil {
			return w.interrupt()
		}

		status, err := w.gate.checkpoint(ctx, st.ProfileID, st.RunID)
		if err != nil {
			return w.fail(err)
		}
		if status != domain.RunStatusRunning {
			w.stopped(status)
			return status
		}
		if !started {
			started = true
			w.emit(events.ProgressEvent{
				Phase:   events.PhaseProfileStarted,
				Stage:   events.StageProfile,
				Message: fmt.Sprintf("Processing %d tickers", len(st.RemainingTickers)),
			})
		}

		ticker := st.RemainingTickers[0]
		res, err := w.processTicker(ctx, profile, ticker)
		if errors.Is(err, errInterrupted) {
			return w.interrupt()
		}
		var settleErr *settleError
		halted := errors.Is(err, domain.ErrQuotaExhausted)
		if err != nil && !halted && !errors.As(err, &settleErr) {
			return w.fail(err)
		}

		// A live post is never left at the front of the queue
		st.RemainingTickers = st.RemainingTickers[1:]
		st.ProcessedCount++
		if res.Outcome == domain.OutcomePublished {
			st.PublishedCount++
		}
		st.Message = res.UserMessage()
		if err := w.deps.States.SaveProgress(st); err != nil {
			return w.fail(err)
		}

		if settleErr == nil || settleErr.logged {
			w.emit(events.ProgressEvent{
				Ticker:  res.Ticker,
				Phase:   events.Phase(res.Outcome),
				Stage:   events.StageTicker,
				Message: st.Message,
				Percent: events.Percent(st.ProcessedCount, len(st.Tickers)),
				Counts:  w.counts(),
			})
		}

		if settleErr != nil {
			return w.fail(settleErr)
		}
		if halted {
			w.log.Info().Err(err).Str("ticker", res.Ticker).Msg("Halting queue")
			return w.complete("Daily quota reached, remaining tickers were not processed")
		}
		if st.RequestedPostCount > 0 && st.PublishedCount >= st.RequestedPostCount {
			return w.complete(fmt.Sprintf("Requested %d posts published", st.RequestedPostCount))
		}

		if len(st.RemainingTickers) > 0 && w.opts.TickerDelay > 0 {
			w.waitBetweenTickers(ctx)
		}
	}

	return w.complete(fmt.Sprintf("Finished: %d of %d published", st.PublishedCount, st.ProcessedCount))
}

// processTicker runs the full sequence for one ticker. Per-ticker failures are
// reported as results. A returned error is fatal for the whole worker, except
// domain.ErrQuotaExhausted, which halts the queue, and *settleError, which
// comes with the published result.
func (w *Worker) processTicker(ctx context.Context, profile *domain.Profile, raw string) (*domain.TickerJobResult, error) {
	st := w.state
	ticker := domain.NormalizeTicker(raw)
	day := domain.DayOf(w.now())
	log := w.log.With().Str("ticker", ticker).Logger()

	res := &domain.TickerJobResult{
		RunID:     st.RunID,
		ProfileID: st.ProfileID,
		UserID:    st.UserID,
		Ticker:    ticker,
		Day:       day,
	}

	w.emitTicker(ticker, events.PhaseStart, "Starting")

	if !domain.ValidTicker(ticker) {
		res.Outcome = domain.OutcomeSkippedInvalid
		res.ErrorDetail = fmt.Sprintf("invalid ticker syntax %q", raw)
		return res, w.deps.Results.Append(res)
	}

	ok, err := w.deps.Quota.HasCapacity(st.ProfileID, day)
	if err != nil {
		return nil, err
	}
	if !ok {
		res.Outcome = domain.OutcomeSkippedQuota
		if err := w.deps.Results.Append(res); err != nil {
			return nil, err
		}
		return res, domain.ErrQuotaExhausted
	}

	tctx, cancel := context.WithTimeout(ctx, w.opts.TickerTimeout)
	defer cancel()
	stopHeartbeat := w.startHeartbeat(tctx, ticker)

	outcome, sel, err := w.generateAndPublish(ctx, tctx, profile, res, log)
	stopHeartbeat()
	if err != nil {
		return nil, err
	}
	res.Outcome = outcome

	if outcome == domain.OutcomePublished {
		return res, w.settle(res, sel, log)
	}
	if err := w.deps.Results.Append(res); err != nil {
		return nil, err
	}
	return res, nil
}

// generateAndPublish runs the steps bounded by the ticker timeout and fills res.
// ctx is the worker context, tctx the ticker's. A published outcome comes with
// the author selection still to be committed.
func (w *Worker) generateAndPublish(ctx, tctx context.Context, profile *domain.Profile, res *domain.TickerJobResult, log zerolog.Logger) (domain.Outcome, *authors.Selection, error) {
	st := w.state
	ticker := res.Ticker

	w.emitTicker(ticker, events.PhaseGenerating, "Generating report")
	report, err := w.deps.Generator.Generate(tctx, ticker)
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, errInterrupted
		}
		res.ErrorDetail = w.failureDetail(tctx, err)
		log.Warn().Err(err).Msg("Report generation failed")
		return domain.OutcomeFailed, nil, nil
	}

	res.ContentFingerprint = dedup.Fingerprint(report)
	dup, err := w.isDuplicate(res, log)
	if err != nil {
		return "", nil, err
	}
	if dup {
		return domain.OutcomeSkippedDuplicate, nil, nil
	}

	sel, err := w.deps.Authors.Select(st.ProfileID)
	if err != nil {
		return "", nil, err
	}
	res.AuthorID = sel.Author.ID
	res.AuthorName = sel.Author.Name

	w.emitTicker(ticker, events.PhasePublishing, "Publishing as "+sel.Author.Name)
	postID, attempts, err := w.publish(tctx, profile.Credentials(), sel.Author, report)
	res.Attempts = attempts
	if err != nil {
		if ctx.Err() != nil {
			return "", nil, errInterrupted
		}
		res.ErrorDetail = w.failureDetail(tctx, err)
		log.Warn().Err(err).Int("attempts", attempts).Msg("Publishing failed")
		return domain.OutcomeFailed, nil, nil
	}
	res.PostID = postID
	return domain.OutcomePublished, sel, nil
}

// isDuplicate checks the fingerprint table, then the result log, which holds
// posts whose fingerprint could not be recorded at the time
func (w *Worker) isDuplicate(res *domain.TickerJobResult, log zerolog.Logger) (bool, error) {
	dup, err := w.deps.Dedup.IsDuplicate(res.ProfileID, res.Ticker, res.ContentFingerprint, res.Day)
	if err != nil || dup {
		return dup, err
	}

	postID, found, err := w.deps.Results.PublishedPost(res.ProfileID, res.Ticker, res.ContentFingerprint, res.Day)
	if err != nil || !found {
		return false, err
	}
	if err := w.deps.Dedup.Record(res.ProfileID, res.Ticker, res.ContentFingerprint, res.Day, postID); err != nil {
		log.Warn().Err(err).Int64("post_id", postID).Msg("Failed to backfill fingerprint")
	}
	return true, nil
}

// settle records a live post. The result row and fingerprint are written
// first so a later run recognizes the post even if the remaining steps fail.
// Every step is attempted; failures come back as one *settleError.
func (w *Worker) settle(res *domain.TickerJobResult, sel *authors.Selection, log zerolog.Logger) error {
	st := w.state
	var errs []error

	logErr := w.deps.Results.Append(res)
	if logErr != nil {
		errs = append(errs, logErr)
	}
	if err := w.deps.Dedup.Record(st.ProfileID, res.Ticker, res.ContentFingerprint, res.Day, res.PostID); err != nil {
		errs = append(errs, err)
	}

	granted, err := w.deps.Quota.TryReserve(st.ProfileID, res.Day)
	switch {
	case err != nil:
		errs = append(errs, err)
	case !granted:
		// Another writer took the last slot after our pre-check; the post exists regardless.
		log.Warn().Int64("post_id", res.PostID).Msg("Quota reservation denied after publish")
	}

	if err := w.deps.Authors.Commit(st.ProfileID, sel); err != nil {
		if errors.Is(err, authors.ErrCursorMoved) {
			log.Warn().Msg("Author cursor moved concurrently, not advancing")
		} else {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		log.Error().Err(err).Int64("post_id", res.PostID).Msg("Post published but bookkeeping failed")
		return &settleError{err: err, logged: logErr == nil}
	}

	log.Info().
		Int64("post_id", res.PostID).
		Str("author", res.AuthorName).
		Int("attempts", res.Attempts).
		Msg("Ticker published")
	return nil
}

// publish calls the publisher, retrying retryable failures with exponential backoff
func (w *Worker) publish(ctx context.Context, creds domain.SiteCredentials, author domain.Author, report *domain.Report) (int64, int, error) {
	maxAttempts := w.opts.Backoff.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		postID, err := w.deps.Publisher.Publish(ctx, creds, author, report)
		if err == nil {
			return postID, attempt, nil
		}
		if domain.IsPermanent(err) || attempt >= maxAttempts || ctx.Err() != nil {
			return 0, attempt, err
		}

		delay := w.opts.Backoff.Delay(attempt)
		w.emitTicker(report.Ticker, events.PhaseRetrying,
			fmt.Sprintf("Publish attempt %d failed, retrying in %s", attempt, delay))
		if serr := sleepContext(ctx, delay); serr != nil {
			return 0, attempt, fmt.Errorf("%w (retry aborted: %v)", err, serr)
		}
	}
}

// failureDetail is the operator-facing error text of a failed ticker
func (w *Worker) failureDetail(tctx context.Context, err error) string {
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("timed out after %s: %v", w.opts.TickerTimeout, err)
	}
	return err.Error()
}

// waitBetweenTickers sleeps TickerDelay, returning early when the run is no longer running
func (w *Worker) waitBetweenTickers(ctx context.Context) {
	interval := w.opts.PauseCheckInterval
	if interval <= 0 || interval > w.opts.TickerDelay {
		interval = w.opts.TickerDelay
	}

	deadline := w.now().Add(w.opts.TickerDelay)
	for {
		left := deadline.Sub(w.now())
		if left <= 0 {
			return
		}
		if left > interval {
			left = interval
		}
		if err := sleepContext(ctx, left); err != nil {
			return
		}
		current, err := w.deps.States.Get(w.state.ProfileID)
		if err != nil || current.RunID != w.state.RunID || current.Status != domain.RunStatusRunning {
			return
		}
	}
}

// startHeartbeat emits liveness events for a ticker in flight. The returned
// func stops it and waits, so no heartbeat follows the ticker's outcome.
func (w *Worker) startHeartbeat(ctx context.Context, ticker string) func() {
	if w.opts.HeartbeatInterval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(w.opts.HeartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				w.emitTicker(ticker, events.PhaseHeartbeat, "Still working")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func (w *Worker) complete(message string) domain.RunStatus {
	current, err := w.gate.finish(w.state.ProfileID, w.state.RunID,
		runstate.FromActive, domain.RunStatusCompleted, message)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) && current != nil {
			// Cancelled while the last ticker was in flight
			w.stopped(current.Status)
			return current.Status
		}
		return w.fail(err)
	}

	w.log.Info().
		Int("processed", w.state.ProcessedCount).
		Int("published", w.state.PublishedCount).
		Msg("Profile run completed")
	w.emit(events.ProgressEvent{
		Phase:   events.PhaseCompleted,
		Stage:   events.StageProfile,
		Message: message,
		Percent: events.Percent(w.state.ProcessedCount, len(w.state.Tickers)),
		Counts:  w.counts(),
	})
	return domain.RunStatusCompleted
}

// fail marks the run failed. The remaining queue is left as last persisted.
func (w *Worker) fail(err error) domain.RunStatus {
	message := "Run stopped: state could not be saved"
	var (
		cfgErr    *domain.ConfigurationError
		settleErr *settleError
	)
	switch {
	case errors.As(err, &cfgErr):
		message = "Profile is not configured for publishing: " + cfgErr.Reason
	case errors.As(err, &settleErr):
		message = "Run stopped: a post went live but could not be fully recorded"
	}

	w.log.Error().Err(err).Msg("Profile run failed")
	if _, terr := w.gate.finish(w.state.ProfileID, w.state.RunID, runstate.FromActive, domain.RunStatusFailed, message); terr != nil {
		w.log.Error().Err(terr).Msg("Failed to mark run as failed")
	}

	w.emit(events.ProgressEvent{
		Phase:   events.PhaseProfileFailed,
		Stage:   events.StageProfile,
		Message: message,
		Counts:  w.counts(),
	})
	return domain.RunStatusFailed
}

// interrupt parks the run as paused when the process shuts down
func (w *Worker) interrupt() domain.RunStatus {
	const message = "interrupted"
	current, err := w.gate.finish(w.state.ProfileID, w.state.RunID,
		runstate.FromLive, domain.RunStatusPaused, message)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) && current != nil {
			w.stopped(current.Status)
			return current.Status
		}
		w.log.Error().Err(err).Msg("Failed to park interrupted run")
		return domain.RunStatusFailed
	}

	w.log.Info().Int("remaining", len(w.state.RemainingTickers)).Msg("Profile run interrupted")
	w.stopped(domain.RunStatusPaused)
	return domain.RunStatusPaused
}

// stopped reports a stop requested through the run state
func (w *Worker) stopped(status domain.RunStatus) {
	phase := events.PhaseCancelled
	message := "Run cancelled"
	switch status {
	case domain.RunStatusPaused:
		phase = events.PhasePaused
		message = fmt.Sprintf("Run paused with %d tickers remaining", len(w.state.RemainingTickers))
	case domain.RunStatusCompleted:
		phase = events.PhaseCompleted
		message = "Run completed"
	case domain.RunStatusFailed:
		phase = events.PhaseProfileFailed
		message = "Run failed"
	}

	w.log.Info().Str("status", string(status)).Msg("Profile worker stopped")
	w.emit(events.ProgressEvent{
		Phase:   phase,
		Stage:   events.StageProfile,
		Message: message,
		Counts:  w.counts(),
	})
}

func (w *Worker) counts() map[string]int {
	return map[string]int{
		"total":     len(w.state.Tickers),
		"processed": w.state.ProcessedCount,
		"published": w.state.PublishedCount,
		"remaining": len(w.state.RemainingTickers),
	}
}

func (w *Worker) emitTicker(ticker string, phase events.Phase, message string) {
	w.emit(events.ProgressEvent{
		Ticker:  ticker,
		Phase:   phase,
		Stage:   events.StageTicker,
		Message: message,
	})
}

func (w *Worker) emit(ev events.ProgressEvent) {
	if w.deps.Events == nil {
		return
	}
	ev.RunID = w.state.RunID
	ev.ProfileID = w.state.ProfileID
	w.deps.Events.Publish(w.state.UserID, ev)
}
