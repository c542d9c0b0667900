package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/modules/runstate"
	"github.com/aristath/autopublish/internal/server/middleware"
	"github.com/aristath/autopublish/internal/server/respond"
	"github.com/aristath/autopublish/internal/work"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// startResponse acknowledges an accepted run. Progress arrives on the event streams.
type startResponse struct {
	RunID    string   `json:"run_id"`
	Profiles []string `json:"profiles"`
}

// RunHandlers triggers and controls publishing runs
type RunHandlers struct {
	controller *work.Controller
	states     *runstate.Store
	log        zerolog.Logger
}

// NewRunHandlers creates run handlers
func NewRunHandlers(controller *work.Controller, states *runstate.Store, log zerolog.Logger) *RunHandlers {
	return &RunHandlers{
		controller: controller,
		states:     states,
		log:        log.With().Str("handler", "runs").Logger(),
	}
}

// RegisterRoutes registers all run routes
func (h *RunHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.HandleStart)
		r.Get("/", h.HandleList)
		r.Get("/{profileID}", h.HandleGet)
		r.Post("/{profileID}/pause", h.HandlePause)
		r.Post("/{profileID}/resume", h.HandleResume)
		r.Post("/{profileID}/cancel", h.HandleCancel)
	})
}

// HandleStart accepts a run request and returns as soon as the workers are spawned
func (h *RunHandlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	var req domain.RunRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	req.UserID = userID

	run, err := h.controller.Start(&req)
	if err != nil {
		h.writeControlError(w, err)
		return
	}

	respond.JSON(w, h.log, http.StatusAccepted, startResponse{RunID: run.ID, Profiles: run.Profiles})
}

// HandlePause asks a profile's worker to stop after its current ticker
func (h *RunHandlers) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.controller.Pause)
}

// HandleResume continues a paused run from its remaining tickers
func (h *RunHandlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.controller.Resume)
}

// HandleCancel ends a run; unprocessed tickers are never attempted
func (h *RunHandlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.control(w, r, h.controller.Cancel)
}

func (h *RunHandlers) control(w http.ResponseWriter, r *http.Request, op func(userID, profileID string) (*domain.ProfileRunState, error)) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	st, err := op(userID, chi.URLParam(r, "profileID"))
	if err != nil {
		h.writeControlError(w, err)
		return
	}
	respond.JSON(w, h.log, http.StatusAccepted, st)
}

// HandleList returns the caller's run states, most recent first
func (h *RunHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	states, err := h.states.ListByUser(userID)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	if states == nil {
		states = []*domain.ProfileRunState{}
	}
	respond.JSON(w, h.log, http.StatusOK, states)
}

// HandleGet returns the latest run state of one profile
func (h *RunHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	profileID := chi.URLParam(r, "profileID")
	st, err := h.states.Get(profileID)
	if err == nil && st.UserID != userID {
		err = fmt.Errorf("run state of %s: %w", profileID, domain.ErrNotFound)
	}
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, h.log, http.StatusOK, st)
}

func (h *RunHandlers) writeControlError(w http.ResponseWriter, err error) {
	if errors.Is(err, work.ErrShuttingDown) {
		respond.Message(w, h.log, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	respond.Error(w, h.log, err)
}

// requireUser reads the authenticated user or answers 401
func requireUser(w http.ResponseWriter, r *http.Request, log zerolog.Logger) (string, bool) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		respond.Message(w, log, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
