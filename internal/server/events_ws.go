package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/aristath/autopublish/internal/events"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
)

const socketWriteTimeout = 5 * time.Second

// EventsSocketHandler streams the caller's progress events over a websocket.
// ?codec=msgpack switches from JSON text frames to msgpack binary frames.
type EventsSocketHandler struct {
	broadcaster    *events.Broadcaster
	now            func() time.Time
	log            zerolog.Logger
	originPatterns []string
	heartbeat      time.Duration
}

// NewEventsSocketHandler creates the websocket handler. allowedOrigins are
// the cross-origin dashboards allowed to connect (same-origin is always allowed).
func NewEventsSocketHandler(broadcaster *events.Broadcaster, allowedOrigins []string, log zerolog.Logger) *EventsSocketHandler {
	return &EventsSocketHandler{
		broadcaster:    broadcaster,
		now:            time.Now,
		log:            log.With().Str("component", "events_socket").Logger(),
		originPatterns: originHosts(allowedOrigins),
		heartbeat:      defaultStreamHeartbeat,
	}
}

// originHosts turns CORS origins ("https://dash.example.com") into the host
// patterns the websocket handshake matches against
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
			continue
		}
		out = append(out, o)
	}
	return out
}

// ServeHTTP handles GET /api/events/ws
func (h *EventsSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r, h.log)
	if !ok {
		return
	}

	binary := r.URL.Query().Get("codec") == "msgpack"

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected close")

	// Client frames are ignored; CloseRead cancels ctx when the peer goes away
	ctx := conn.CloseRead(r.Context())

	session := sessionID(r)
	sub := h.broadcaster.Subscribe(userID, session)
	defer h.broadcaster.Unsubscribe(sub)

	log := h.log.With().Str("user_id", userID).Str("session", session).Bool("msgpack", binary).Logger()
	log.Info().Msg("Client connected to event socket")

	if err := h.write(ctx, conn, binary, streamFrame{Type: frameConnected, Session: session}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("dropped", sub.Dropped()).Msg("Client disconnected from event socket")
			return

		case <-sub.Done():
			_ = h.write(ctx, conn, binary, streamFrame{Type: frameReplaced, Session: session})
			conn.Close(websocket.StatusPolicyViolation, "replaced by a newer session")
			return

		case ev := <-sub.Events():
			if err := h.write(ctx, conn, binary, streamFrame{Type: frameProgress, Event: &ev}); err != nil {
				log.Debug().Err(err).Msg("Failed to write event")
				return
			}

		case <-heartbeat.C:
			if err := h.write(ctx, conn, binary, streamFrame{Type: frameHeartbeat}); err != nil {
				return
			}
		}
	}
}

func (h *EventsSocketHandler) write(ctx context.Context, conn *websocket.Conn, binary bool, frame streamFrame) error {
	if frame.Timestamp.IsZero() {
		frame.Timestamp = h.now().UTC()
	}

	var (
		data    []byte
		err     error
		msgType = websocket.MessageText
	)
	if binary {
		data, err = msgpack.Marshal(frame)
		msgType = websocket.MessageBinary
	} else {
		data, err = json.Marshal(frame)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode stream frame")
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, msgType, data)
}
