package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/modules/profiles"
	"github.com/aristath/autopublish/internal/modules/quota"
	"github.com/aristath/autopublish/internal/modules/results"
	"github.com/aristath/autopublish/internal/server/respond"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	defaultResultLimit = 500
	maxResultLimit     = 5000
)

// quotaResponse is a counter plus what is left of it
type quotaResponse struct {
	*domain.QuotaCounter
	Remaining int `json:"remaining"`
}

// resultView is a ticker result as the dashboard sees it. The raw error
// detail stays in the ledger and the logs; users get Message instead.
type resultView struct {
	CreatedAt          time.Time      `json:"created_at"`
	ID                 string         `json:"id"`
	RunID              string         `json:"run_id"`
	ProfileID          string         `json:"profile_id"`
	Ticker             string         `json:"ticker"`
	Outcome            domain.Outcome `json:"outcome"`
	Message            string         `json:"message"`
	AuthorName         string         `json:"author_name,omitempty"`
	ContentFingerprint string         `json:"content_fingerprint,omitempty"`
	Day                string         `json:"day"`
	AuthorID           int64          `json:"author_id,omitempty"`
	PostID             int64          `json:"post_id,omitempty"`
	Attempts           int            `json:"attempts"`
}

func newResultView(res *domain.TickerJobResult) resultView {
	return resultView{
		CreatedAt:          res.CreatedAt,
		ID:                 res.ID,
		RunID:              res.RunID,
		ProfileID:          res.ProfileID,
		Ticker:             res.Ticker,
		Outcome:            res.Outcome,
		Message:            res.UserMessage(),
		AuthorName:         res.AuthorName,
		ContentFingerprint: res.ContentFingerprint,
		Day:                res.Day,
		AuthorID:           res.AuthorID,
		PostID:             res.PostID,
		Attempts:           res.Attempts,
	}
}

// ResultHandlers exposes the result log and quota counters
type ResultHandlers struct {
	results  *results.Repository
	quota    *quota.Guard
	profiles *profiles.ProfileRepository
	now      func() time.Time
	log      zerolog.Logger
}

// NewResultHandlers creates result and quota handlers
func NewResultHandlers(resultRepo *results.Repository, guard *quota.Guard, profileRepo *profiles.ProfileRepository, log zerolog.Logger) *ResultHandlers {
	return &ResultHandlers{
		results:  resultRepo,
		quota:    guard,
		profiles: profileRepo,
		now:      time.Now,
		log:      log.With().Str("handler", "results").Logger(),
	}
}

// RegisterRoutes registers result and quota routes
func (h *ResultHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/results", h.HandleList)
	r.Get("/results/summary", h.HandleSummary)
	r.Get("/quota/{profileID}", h.HandleQuota)
}

// HandleList returns the caller's ticker results, filtered by profile_id, run_id and date
func (h *ResultHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	q := r.URL.Query()
	problems := &domain.ValidationError{}

	day, err := parseDay(q.Get("date"), "")
	if err != nil {
		problems.Add("date", "must be YYYY-MM-DD")
	}

	limit := defaultResultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxResultLimit {
			problems.Add("limit", "must be between 1 and "+strconv.Itoa(maxResultLimit))
		}
		limit = n
	}
	if problems.HasProblems() {
		respond.Error(w, h.log, problems)
		return
	}

	list, err := h.results.List(results.Filter{
		UserID:    userID,
		ProfileID: q.Get("profile_id"),
		RunID:     q.Get("run_id"),
		Day:       day,
		Limit:     limit,
	})
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	views := make([]resultView, 0, len(list))
	for _, res := range list {
		views = append(views, newResultView(res))
	}
	respond.JSON(w, h.log, http.StatusOK, views)
}

// HandleSummary counts the caller's outcomes per profile for a day (default today)
func (h *ResultHandlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	day, err := parseDay(r.URL.Query().Get("date"), domain.DayOf(h.now()))
	if err != nil {
		respond.Error(w, h.log, domain.NewValidationError("date", "must be YYYY-MM-DD"))
		return
	}

	summary, err := h.results.Summarize(userID, day)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if summary == nil {
		summary = []results.DaySummary{}
	}
	respond.JSON(w, h.log, http.StatusOK, summary)
}

// HandleQuota returns the counter of an owned profile for a day (default today)
func (h *ResultHandlers) HandleQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	day, err := parseDay(r.URL.Query().Get("date"), domain.DayOf(h.now()))
	if err != nil {
		respond.Error(w, h.log, domain.NewValidationError("date", "must be YYYY-MM-DD"))
		return
	}

	profileID := chi.URLParam(r, "profileID")
	if _, err := h.profiles.GetOwned(profileID, userID); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	counter, err := h.quota.Get(profileID, day)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, h.log, http.StatusOK, quotaResponse{QuotaCounter: counter, Remaining: counter.Remaining()})
}

// parseDay validates a YYYY-MM-DD value; empty input yields fallback
func parseDay(raw, fallback string) (string, error) {
	if raw == "" {
		return fallback, nil
	}
	if _, err := time.Parse(domain.DayLayout, raw); err != nil {
		return "", err
	}
	return raw, nil
}
