package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/autopublish/internal/events"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultStreamHeartbeat = 30 * time.Second

// Frame types sent on both event streams
const (
	frameConnected = "connected"
	frameProgress  = "progress"
	frameHeartbeat = "heartbeat"
	frameReplaced  = "replaced"
)

// streamFrame is one message on an event stream
type streamFrame struct {
	Timestamp time.Time             `json:"timestamp" msgpack:"timestamp"`
	Event     *events.ProgressEvent `json:"event,omitempty" msgpack:"event,omitempty"`
	Type      string                `json:"type" msgpack:"type"`
	Session   string                `json:"session,omitempty" msgpack:"session,omitempty"`
}

// sessionID returns the session query parameter, or a fresh one
func sessionID(r *http.Request) string {
	if s := r.URL.Query().Get("session"); s != "" {
		return s
	}
	return uuid.NewString()
}

// EventsStreamHandler streams the caller's progress events as Server-Sent Events
type EventsStreamHandler struct {
	broadcaster *events.Broadcaster
	now         func() time.Time
	log         zerolog.Logger
	heartbeat   time.Duration
}

// NewEventsStreamHandler creates the SSE handler
func NewEventsStreamHandler(broadcaster *events.Broadcaster, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		broadcaster: broadcaster,
		now:         time.Now,
		log:         log.With().Str("component", "events_stream").Logger(),
		heartbeat:   defaultStreamHeartbeat,
	}
}

// ServeHTTP handles GET /api/events/stream
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	session := sessionID(r)
	sub := h.broadcaster.Subscribe(userID, session)
	defer h.broadcaster.Unsubscribe(sub)

	log := h.log.With().Str("user_id", userID).Str("session", session).Logger()
	log.Info().Msg("Client connected to event stream")

	if err := h.write(w, flusher, streamFrame{Type: frameConnected, Session: session}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info().Uint64("dropped", sub.Dropped()).Msg("Client disconnected from event stream")
			return

		case <-sub.Done():
			_ = h.write(w, flusher, streamFrame{Type: frameReplaced, Session: session})
			log.Info().Msg("Event stream replaced by a newer subscriber")
			return

		case ev := <-sub.Events():
			if err := h.write(w, flusher, streamFrame{Type: frameProgress, Event: &ev}); err != nil {
				log.Debug().Err(err).Msg("Failed to write event")
				return
			}

		case <-heartbeat.C:
			if err := h.write(w, flusher, streamFrame{Type: frameHeartbeat}); err != nil {
				return
			}
		}
	}
}

// write sends one SSE message whose event name is the frame type
func (h *EventsStreamHandler) write(w http.ResponseWriter, flusher http.Flusher, frame streamFrame) error {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = h.now().UTC()
	}

	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal stream frame")
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", frame.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
