// Package handlers provides HTTP handlers for publishing profiles.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/modules/profiles"
	"github.com/aristath/autopublish/internal/server/middleware"
	"github.com/aristath/autopublish/internal/server/respond"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxImportBytes bounds TOML import bodies
const maxImportBytes = 1 << 20

// RunActivity reports whether a profile has a run in progress
type RunActivity interface {
	IsActive(profileID string) bool
}

// Handler handles profile HTTP requests. Every operation is scoped to the caller.
type Handler struct {
	service *profiles.Service
	runs    RunActivity
	log     zerolog.Logger
}

// NewHandler creates a new profile handler. runs may be nil.
func NewHandler(service *profiles.Service, runs RunActivity, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		runs:    runs,
		log:     log.With().Str("handler", "profiles").Logger(),
	}
}

// HandleList returns the caller's profiles
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	list, err := h.service.Repository().ListByOwner(userID)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}

	views := make([]profiles.ProfileView, 0, len(list))
	for _, p := range list {
		views = append(views, profiles.NewProfileView(p))
	}
	respond.JSON(w, h.log, http.StatusOK, views)
}

// HandleGet returns one owned profile
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	p, err := h.service.Repository().GetOwned(chi.URLParam(r, "id"), userID)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, h.log, http.StatusOK, profiles.NewProfileView(p))
}

// HandleCreate stores a new profile for the caller
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var in profiles.ProfileInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	if in.ID != "" {
		if _, err := h.service.Repository().Get(in.ID); err == nil {
			respond.Error(w, h.log, domain.NewValidationError("id", "already exists"))
			return
		}
	}

	p, err := h.service.Create(userID, &in)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, h.log, http.StatusCreated, profiles.NewProfileView(p))
}

// HandleUpdate overwrites an owned profile
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var in profiles.ProfileInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, h.log, err)
		return
	}

	p, err := h.service.Update(userID, chi.URLParam(r, "id"), &in)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, h.log, http.StatusOK, profiles.NewProfileView(p))
}

// HandleDelete removes an owned profile that has no run in progress
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if h.runs != nil && h.runs.IsActive(id) {
		respond.Error(w, h.log, fmt.Errorf("delete profile %s: %w", id, domain.ErrRunActive))
		return
	}

	if err := h.service.Repository().Delete(id, userID); err != nil {
		respond.Error(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleImport creates or updates profiles from a TOML document
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	file, err := profiles.ParseImport(http.MaxBytesReader(w, r.Body, maxImportBytes))
	if err != nil {
		respond.Error(w, h.log, domain.NewValidationError("body", err.Error()))
		return
	}

	result, err := h.service.Import(userID, file)
	if err != nil {
		respond.Error(w, h.log, err)
		return
	}
	respond.JSON(w, h.log, http.StatusOK, result)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.GetUserID(r)
	if err != nil {
		respond.Message(w, h.log, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}
