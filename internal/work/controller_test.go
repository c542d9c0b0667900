package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/autopublish/internal/database"
	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/events"
	"github.com/aristath/autopublish/internal/modules/authors"
	"github.com/aristath/autopublish/internal/modules/dedup"
	"github.com/aristath/autopublish/internal/modules/profiles"
	"github.com/aristath/autopublish/internal/modules/quota"
	"github.com/aristath/autopublish/internal/modules/results"
	"github.com/aristath/autopublish/internal/modules/runstate"
	testingpkg "github.com/aristath/autopublish/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	ctrl     *Controller
	gen      *testingpkg.MockReportGenerator
	pub      *testingpkg.MockPublisher
	rec      *testingpkg.EventRecorder
	states   *runstate.Store
	quota    *quota.Guard
	rotator  *authors.Rotator
	results  *results.Repository
	pubDB    *database.DB
	ledgerDB *database.DB
}

func testOptions() Options {
	return Options{
		Backoff:            Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, MaxAttempts: 3},
		TickerTimeout:      5 * time.Second,
		PauseCheckInterval: 10 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	pubDB, ledgerDB := testingpkg.NewTestDBs(t)
	log := zerolog.Nop()

	profileRepo := profiles.NewProfileRepository(pubDB.Conn(), log)
	h := &harness{
		gen:      testingpkg.NewMockReportGenerator(),
		pub:      testingpkg.NewMockPublisher(),
		rec:      testingpkg.NewEventRecorder(),
		states:   runstate.NewStore(pubDB.Conn(), log),
		quota:    quota.NewGuard(pubDB.Conn(), profileRepo, 0, log),
		rotator:  authors.NewRotator(pubDB.Conn(), profileRepo, log),
		results:  results.NewRepository(ledgerDB.Conn(), log),
		pubDB:    pubDB,
		ledgerDB: ledgerDB,
	}

	h.ctrl = NewController(Deps{
		Profiles:  profileRepo,
		Generator: h.gen,
		Publisher: h.pub,
		Quota:     h.quota,
		Authors:   h.rotator,
		Dedup:     dedup.NewDetector(pubDB.Conn(), log),
		States:    h.states,
		Results:   h.results,
		Events:    h.rec,
	}, opts, log)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.ctrl.Shutdown(ctx)
	})
	return h
}

func (h *harness) addProfile(t *testing.T, id, owner string, dailyCap int, authorNames ...string) {
	t.Helper()
	testingpkg.InsertProfile(t, h.pubDB, testingpkg.NewProfileFixture(id, owner, dailyCap, testingpkg.NewAuthorFixtures(authorNames...)...))
}

func (h *harness) start(t *testing.T, user string, entries ...domain.ProfileRunRequest) *Run {
	t.Helper()
	run, err := h.ctrl.Start(&domain.RunRequest{UserID: user, Profiles: entries})
	require.NoError(t, err)
	return run
}

func (h *harness) resultsOf(t *testing.T, profileID string) []*domain.TickerJobResult {
	t.Helper()
	res, err := h.results.List(results.Filter{ProfileID: profileID})
	require.NoError(t, err)
	return res
}

func waitRun(t *testing.T, run *Run) {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
}

func outcomes(res []*domain.TickerJobResult) []domain.Outcome {
	out := make([]domain.Outcome, 0, len(res))
	for _, r := range res {
		out = append(out, r.Outcome)
	}
	return out
}

// gatedGenerator blocks generation of one ticker until released
type gatedGenerator struct {
	*testingpkg.MockReportGenerator
	ticker  string
	reached chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedGenerator(inner *testingpkg.MockReportGenerator, ticker string) *gatedGenerator {
	return &gatedGenerator{
		MockReportGenerator: inner,
		ticker:              ticker,
		reached:             make(chan struct{}),
		release:             make(chan struct{}),
	}
}

func (g *gatedGenerator) Generate(ctx context.Context, ticker string) (*domain.Report, error) {
	if ticker == g.ticker {
		g.once.Do(func() { close(g.reached) })
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.MockReportGenerator.Generate(ctx, ticker)
}

func (g *gatedGenerator) waitReached(t *testing.T) {
	t.Helper()
	select {
	case <-g.reached:
	case <-time.After(5 * time.Second):
		t.Fatalf("generator never reached %s", g.ticker)
	}
}

func TestController_QuotaScenario(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 2, "X", "Y")

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC"}})
	waitRun(t, run)

	res := h.resultsOf(t, "p1")
	require.Len(t, res, 3)
	assert.Equal(t, []domain.Outcome{domain.OutcomePublished, domain.OutcomePublished, domain.OutcomeSkippedQuota}, outcomes(res))
	assert.Equal(t, "X", res[0].AuthorName)
	assert.Equal(t, "Y", res[1].AuthorName)
	assert.Empty(t, res[2].AuthorName)

	counter, err := h.quota.Get("p1", domain.DayOf(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 2, counter.PublishedCount)

	sel, err := h.rotator.Select("p1")
	require.NoError(t, err)
	assert.Equal(t, "X", sel.Author.Name, "cursor points at X for the next run")

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
	assert.Equal(t, 3, st.ProcessedCount)
	assert.Equal(t, 2, st.PublishedCount)
	assert.Equal(t, domain.RunStatusCompleted, run.Summary()["p1"])
	assert.Len(t, h.pub.Calls(), 2)
}

func TestController_QuotaHaltsRemainingQueue(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 1, "X")

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC", "DDD"}})
	waitRun(t, run)

	res := h.resultsOf(t, "p1")
	assert.Equal(t, []domain.Outcome{domain.OutcomePublished, domain.OutcomeSkippedQuota}, outcomes(res))

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
	assert.Equal(t, []string{"CCC", "DDD"}, st.RemainingTickers)
}

func TestController_DuplicateSecondRun(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X", "Y")

	waitRun(t, h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA"}}))
	waitRun(t, h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA"}}))

	res := h.resultsOf(t, "p1")
	assert.Equal(t, []domain.Outcome{domain.OutcomePublished, domain.OutcomeSkippedDuplicate}, outcomes(res))
	assert.Equal(t, res[0].ContentFingerprint, res[1].ContentFingerprint)

	counter, err := h.quota.Get("p1", domain.DayOf(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, counter.PublishedCount)
	assert.Equal(t, 1, h.pub.CallCount("AAA"))

	// changed content is new content
	h.gen.SetContent("AAA", "<p>Price moved</p>")
	waitRun(t, h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA"}}))
	res = h.resultsOf(t, "p1")
	assert.Equal(t, domain.OutcomePublished, res[2].Outcome)
}

func TestController_PartialFailureIsolation(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	h.gen.SetError("BBB", errors.New("model exploded"))

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC"}})
	waitRun(t, run)

	res := h.resultsOf(t, "p1")
	require.Len(t, res, 3)
	assert.Equal(t, []domain.Outcome{domain.OutcomePublished, domain.OutcomeFailed, domain.OutcomePublished}, outcomes(res))
	assert.Contains(t, res[1].ErrorDetail, "model exploded")

	// raw error text stays out of progress messages
	for _, ev := range h.rec.Events() {
		assert.NotContains(t, ev.Message, "model exploded")
	}

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
}

func TestController_PhaseOrdering(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 2, "X", "Y")
	h.gen.SetError("FAIL", errors.New("no data"))

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "FAIL", "bad ticker", "BBB", "CCC"}})
	waitRun(t, run)

	assert.Equal(t, []events.Phase{events.PhaseStart, events.PhaseGenerating, events.PhasePublishing, events.PhasePublished},
		h.rec.TickerPhases("p1", "AAA"))
	assert.Equal(t, []events.Phase{events.PhaseStart, events.PhaseGenerating, events.PhaseFailed},
		h.rec.TickerPhases("p1", "FAIL"))
	assert.Equal(t, []events.Phase{events.PhaseStart, events.PhaseSkippedInvalid},
		h.rec.TickerPhases("p1", "BAD TICKER"))
	assert.Equal(t, []events.Phase{events.PhaseStart, events.PhaseSkippedQuota},
		h.rec.TickerPhases("p1", "CCC"))

	all := h.rec.Events()
	require.NotEmpty(t, all)
	assert.Equal(t, events.PhaseRunStarted, all[0].Phase)
	assert.Equal(t, events.PhaseRunCompleted, all[len(all)-1].Phase)
	assert.Equal(t, events.PhaseCompleted, all[len(all)-2].Phase)
	for _, ev := range all {
		assert.Equal(t, "u1", ev.UserID)
		assert.Equal(t, run.ID, ev.RunID)
	}
}

func TestController_InvalidTickerSkipped(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{" aaa ", "bad ticker!", "WAYTOOLONGTICKERSYMBOL", "BRK.B"}})
	waitRun(t, run)

	res := h.resultsOf(t, "p1")
	require.Len(t, res, 4)
	assert.Equal(t, []domain.Outcome{
		domain.OutcomePublished, domain.OutcomeSkippedInvalid, domain.OutcomeSkippedInvalid, domain.OutcomePublished,
	}, outcomes(res))
	assert.Equal(t, "AAA", res[0].Ticker)
	assert.Equal(t, []string{"AAA", "BRK.B"}, h.gen.Calls())
}

func TestController_PublishRetries(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X", "Y")
	h.pub.FailNext("AAA", testingpkg.RetryableFailure(503), testingpkg.RetryableFailure(502))
	h.pub.FailNext("BBB", testingpkg.PermanentFailure(401))
	h.pub.FailNext("CCC", testingpkg.RetryableFailure(503), testingpkg.RetryableFailure(503), testingpkg.RetryableFailure(503))

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC"}})
	waitRun(t, run)

	res := h.resultsOf(t, "p1")
	require.Len(t, res, 3)
	assert.Equal(t, []domain.Outcome{domain.OutcomePublished, domain.OutcomeFailed, domain.OutcomeFailed}, outcomes(res))
	assert.Equal(t, 3, res[0].Attempts)
	assert.Equal(t, 1, res[1].Attempts)
	assert.Equal(t, 3, res[2].Attempts)

	assert.Equal(t, 3, h.pub.CallCount("AAA"))
	assert.Equal(t, 1, h.pub.CallCount("BBB"), "permanent failures are not retried")
	assert.Equal(t, 3, h.pub.CallCount("CCC"))
	assert.Contains(t, h.rec.TickerPhases("p1", "AAA"), events.PhaseRetrying)

	// only the successful publish consumed quota and advanced the cursor
	counter, err := h.quota.Get("p1", domain.DayOf(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, counter.PublishedCount)
	cursor, err := h.rotator.Cursor("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, cursor)
}

func TestController_TickerTimeout(t *testing.T) {
	opts := testOptions()
	opts.TickerTimeout = 50 * time.Millisecond
	h := newHarness(t, opts)
	h.addProfile(t, "p1", "u1", 10, "X")
	h.gen.SetDelay("SLOW", 2*time.Second)

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"SLOW", "FAST"}})
	waitRun(t, run)

	res := h.resultsOf(t, "p1")
	require.Len(t, res, 2)
	assert.Equal(t, domain.OutcomeFailed, res[0].Outcome)
	assert.Contains(t, res[0].ErrorDetail, "timed out")
	assert.Equal(t, domain.OutcomePublished, res[1].Outcome)
	assert.Equal(t, domain.RunStatusCompleted, run.Summary()["p1"])
}

func TestController_RequestedPostCount(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC"}, RequestedPostCount: 1})
	waitRun(t, run)

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
	assert.Equal(t, 1, st.PublishedCount)
	assert.Equal(t, []string{"BBB", "CCC"}, st.RemainingTickers)
	assert.Len(t, h.pub.Calls(), 1)
}

func TestController_ConfigurationErrorFailsOnlyThatProfile(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "good", "u1", 10, "X")
	h.addProfile(t, "noauthors", "u1", 10)

	run := h.start(t, "u1",
		domain.ProfileRunRequest{ProfileID: "good", Tickers: []string{"AAA"}},
		domain.ProfileRunRequest{ProfileID: "noauthors", Tickers: []string{"AAA"}},
	)
	waitRun(t, run)

	summary := run.Summary()
	assert.Equal(t, domain.RunStatusCompleted, summary["good"])
	assert.Equal(t, domain.RunStatusFailed, summary["noauthors"])

	st, err := h.states.Get("noauthors")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, st.Status)
	assert.Contains(t, st.Message, "not configured")
	assert.Equal(t, []string{"AAA"}, st.RemainingTickers)
	assert.True(t, h.rec.HasPhase("noauthors", events.PhaseProfileFailed))
	assert.Empty(t, h.resultsOf(t, "noauthors"))
}

func TestController_StoreUnavailableFailsWorker(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	require.NoError(t, h.ledgerDB.Close())

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB"}})
	waitRun(t, run)

	assert.Equal(t, domain.RunStatusFailed, run.Summary()["p1"])
	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, st.Status)
	assert.Equal(t, []string{"AAA", "BBB"}, st.RemainingTickers, "queue is left intact for a future resume")
	assert.True(t, h.rec.HasPhase("p1", events.PhaseProfileFailed))
}

// flakyDetector fails Record while failing is set
type flakyDetector struct {
	DuplicateDetector
	failing atomic.Bool
}

func (d *flakyDetector) Record(profileID, ticker, fingerprint, day string, postID int64) error {
	if d.failing.Load() {
		return domain.NewStoreError("record fingerprint", errors.New("disk I/O error"))
	}
	return d.DuplicateDetector.Record(profileID, ticker, fingerprint, day, postID)
}

// failingCommits never advances the cursor
type failingCommits struct {
	AuthorRotator
}

func (r *failingCommits) Commit(profileID string, sel *authors.Selection) error {
	return domain.NewStoreError("advance rotation cursor", errors.New("database is locked"))
}

func TestController_FailedRunResumesRemainingQueue(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X", "Y")
	detector := &flakyDetector{DuplicateDetector: h.ctrl.deps.Dedup}
	detector.failing.Store(true)
	h.ctrl.deps.Dedup = detector

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC"}})
	waitRun(t, run)
	assert.Equal(t, domain.RunStatusFailed, run.Summary()["p1"])

	// AAA went live: it is in the result log, charged to quota and off the queue
	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, st.Status)
	assert.Equal(t, []string{"BBB", "CCC"}, st.RemainingTickers)
	assert.Equal(t, 1, st.PublishedCount)
	assert.Equal(t, []domain.Outcome{domain.OutcomePublished}, outcomes(h.resultsOf(t, "p1")))
	assert.True(t, h.rec.HasPhase("p1", events.PhasePublished))

	detector.failing.Store(false)
	st, err = h.ctrl.Resume("u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusQueued, st.Status)
	h.ctrl.Wait()

	st, err = h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
	assert.Empty(t, st.RemainingTickers)
	assert.Equal(t, 3, st.ProcessedCount)
	assert.Equal(t, 3, st.PublishedCount)

	var published []string
	for _, c := range h.pub.Calls() {
		published = append(published, c.Ticker)
	}
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, published, "only the remaining tickers were processed")

	// The fingerprint of AAA was never stored, the result log still knows the post
	waitRun(t, h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA"}}))
	res := h.resultsOf(t, "p1")
	assert.Equal(t, domain.OutcomeSkippedDuplicate, res[len(res)-1].Outcome)
	assert.Equal(t, 1, h.pub.CallCount("AAA"))

	counter, err := h.quota.Get("p1", domain.DayOf(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 3, counter.PublishedCount)
}

func TestController_CursorFailureAfterPublish(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X", "Y")
	h.ctrl.deps.Authors = &failingCommits{AuthorRotator: h.rotator}

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA"}})
	waitRun(t, run)
	assert.Equal(t, domain.RunStatusFailed, run.Summary()["p1"])

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Empty(t, st.RemainingTickers)
	assert.Equal(t, 1, st.PublishedCount)

	// nothing left to resume
	_, err = h.ctrl.Resume("u1", "p1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	h.ctrl.deps.Authors = h.rotator
	waitRun(t, h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA"}}))

	assert.Equal(t,
		[]domain.Outcome{domain.OutcomePublished, domain.OutcomeSkippedDuplicate},
		outcomes(h.resultsOf(t, "p1")))
	assert.Equal(t, 1, h.pub.CallCount("AAA"))

	counter, err := h.quota.Get("p1", domain.DayOf(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 1, counter.PublishedCount)
}

func TestController_StartValidation(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "mine", "u1", 10, "X")
	h.addProfile(t, "theirs", "u2", 10, "X")

	tests := []struct {
		name    string
		entries []domain.ProfileRunRequest
		field   string
	}{
		{"unknown profile", []domain.ProfileRunRequest{{ProfileID: "mine", Tickers: []string{"A"}}, {ProfileID: "nope", Tickers: []string{"A"}}}, "profiles[1].profile_id"},
		{"not owned", []domain.ProfileRunRequest{{ProfileID: "theirs", Tickers: []string{"A"}}}, "profiles[0].profile_id"},
		{"duplicate entry", []domain.ProfileRunRequest{{ProfileID: "mine", Tickers: []string{"A"}}, {ProfileID: "mine", Tickers: []string{"B"}}}, "profiles[1].profile_id"},
		{"no tickers", []domain.ProfileRunRequest{{ProfileID: "mine"}}, "profiles[0].tickers"},
		{"negative post count", []domain.ProfileRunRequest{{ProfileID: "mine", Tickers: []string{"A"}, RequestedPostCount: -1}}, "profiles[0].requested_post_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ctrl.Start(&domain.RunRequest{UserID: "u1", Profiles: tt.entries})
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			require.NotEmpty(t, verr.Problems)
			assert.Equal(t, tt.field, verr.Problems[0].Field)
		})
	}

	// nothing was started
	_, err := h.states.Get("mine")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, h.rec.Events())
}

func TestController_RejectsSecondActiveRun(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	h.addProfile(t, "p2", "u1", 10, "X")
	gated := newGatedGenerator(h.gen, "AAA")
	h.ctrl.deps.Generator = gated

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA"}})
	gated.waitReached(t)

	_, err := h.ctrl.Start(&domain.RunRequest{UserID: "u1", Profiles: []domain.ProfileRunRequest{
		{ProfileID: "p2", Tickers: []string{"BBB"}},
		{ProfileID: "p1", Tickers: []string{"BBB"}},
	}})
	assert.ErrorIs(t, err, domain.ErrRunActive)

	_, err = h.states.Get("p2")
	assert.ErrorIs(t, err, domain.ErrNotFound, "the whole request is rejected")

	close(gated.release)
	waitRun(t, run)
}

func TestController_PauseAndResume(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X", "Y")
	gated := newGatedGenerator(h.gen, "BBB")
	h.ctrl.deps.Generator = gated

	tickers := []string{"AAA", "BBB", "CCC", "DDD"}
	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: tickers})
	gated.waitReached(t)

	st, err := h.ctrl.Pause("u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, st.Status)

	// the ticker in flight completes before the worker observes the pause
	close(gated.release)
	waitRun(t, run)
	assert.Equal(t, domain.RunStatusPaused, run.Summary()["p1"])
	assert.False(t, h.ctrl.IsActive("p1"))

	st, err = h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, st.Status)
	assert.Equal(t, []string{"CCC", "DDD"}, st.RemainingTickers)
	assert.True(t, h.rec.HasPhase("p1", events.PhasePaused))

	_, err = h.ctrl.Resume("u1", "p1")
	require.NoError(t, err)
	h.ctrl.Wait()

	st, err = h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
	assert.Empty(t, st.RemainingTickers)
	assert.Equal(t, 4, st.ProcessedCount)

	var published []string
	for _, c := range h.pub.Calls() {
		published = append(published, c.Ticker)
	}
	assert.Equal(t, tickers, published, "each ticker exactly once, in order")
}

func TestController_ResumeBeforeWorkerObservesPause(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	gated := newGatedGenerator(h.gen, "AAA")
	h.ctrl.deps.Generator = gated

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB"}})
	gated.waitReached(t)

	_, err := h.ctrl.Pause("u1", "p1")
	require.NoError(t, err)
	st, err := h.ctrl.Resume("u1", "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, st.Status)
	assert.Equal(t, 1, h.ctrl.ActiveWorkers(), "no second worker is spawned")

	close(gated.release)
	waitRun(t, run)

	assert.Equal(t, domain.RunStatusCompleted, run.Summary()["p1"])
	assert.Equal(t, 1, h.pub.CallCount("AAA"))
	assert.Equal(t, 1, h.pub.CallCount("BBB"))
}

func TestController_Cancel(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	gated := newGatedGenerator(h.gen, "AAA")
	h.ctrl.deps.Generator = gated

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC"}})
	gated.waitReached(t)

	_, err := h.ctrl.Cancel("u2", "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound, "only the run's user controls it")

	_, err = h.ctrl.Cancel("u1", "p1")
	require.NoError(t, err)
	close(gated.release)
	waitRun(t, run)

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, st.Status)
	assert.Equal(t, []string{"BBB", "CCC"}, st.RemainingTickers)
	assert.True(t, h.rec.HasPhase("p1", events.PhaseCancelled))

	_, err = h.ctrl.Resume("u1", "p1")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestController_ShutdownParksRuns(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	gated := newGatedGenerator(h.gen, "BBB")
	h.ctrl.deps.Generator = gated

	run := h.start(t, "u1", domain.ProfileRunRequest{ProfileID: "p1", Tickers: []string{"AAA", "BBB", "CCC"}})
	gated.waitReached(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.ctrl.Shutdown(ctx))
	waitRun(t, run)

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPaused, st.Status)
	assert.Equal(t, "interrupted", st.Message)
	assert.Equal(t, []string{"BBB", "CCC"}, st.RemainingTickers)
	assert.Len(t, h.resultsOf(t, "p1"), 1, "the interrupted ticker has no result")

	_, err = h.ctrl.Start(&domain.RunRequest{UserID: "u1", Profiles: []domain.ProfileRunRequest{{ProfileID: "p1", Tickers: []string{"A"}}}})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestController_RecoverInterrupted(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	h.addProfile(t, "p2", "u1", 10, "X")

	// rows a crashed process left behind
	require.NoError(t, h.states.CreateQueued([]*domain.ProfileRunState{
		{ProfileID: "p1", RunID: "r1", UserID: "u1", Tickers: []string{"AAA", "BBB"}},
		{ProfileID: "p2", RunID: "r1", UserID: "u1", Tickers: []string{"CCC"}},
	}))
	_, err := h.states.Transition("p2", "r1", runstate.FromQueued, domain.RunStatusRunning, "")
	require.NoError(t, err)

	n, err := h.ctrl.RecoverInterrupted(false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"p1", "p2"} {
		st, err := h.states.Get(id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusPaused, st.Status)
		assert.Equal(t, "interrupted", st.Message)
	}
	assert.Empty(t, h.pub.Calls())

	_, err = h.ctrl.Cancel("u1", "p2")
	require.NoError(t, err)
	assert.True(t, h.rec.HasPhase("p2", events.PhaseCancelled))

	_, err = h.ctrl.Resume("u1", "p1")
	require.NoError(t, err)
	h.ctrl.Wait()

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
	assert.Equal(t, 2, h.pub.CallCount("AAA")+h.pub.CallCount("BBB"))
}

func TestController_RecoverInterruptedAutoResume(t *testing.T) {
	h := newHarness(t, testOptions())
	h.addProfile(t, "p1", "u1", 10, "X")
	require.NoError(t, h.states.CreateQueued([]*domain.ProfileRunState{
		{ProfileID: "p1", RunID: "r1", UserID: "u1", Tickers: []string{"AAA"}},
	}))

	n, err := h.ctrl.RecoverInterrupted(true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h.ctrl.Wait()

	st, err := h.states.Get("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, st.Status)
	assert.Equal(t, 1, h.pub.CallCount("AAA"))
}

func TestController_ParallelProfilesShareNothing(t *testing.T) {
	h := newHarness(t, testOptions())
	entries := make([]domain.ProfileRunRequest, 0, 4)
	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		h.addProfile(t, id, "u1", 3, "X", "Y")
		entries = append(entries, domain.ProfileRunRequest{ProfileID: id, Tickers: []string{"AAA", "BBB", "CCC", "DDD", "EEE"}})
	}

	run := h.start(t, "u1", entries...)
	waitRun(t, run)

	for _, id := range []string{"p1", "p2", "p3", "p4"} {
		counter, err := h.quota.Get(id, domain.DayOf(time.Now()))
		require.NoError(t, err)
		assert.Equal(t, 3, counter.PublishedCount, id)
		assert.Equal(t, domain.RunStatusCompleted, run.Summary()[id], id)
	}
	assert.Len(t, h.pub.Calls(), 12)
}
