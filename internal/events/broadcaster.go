package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	subscriberBuffer    = 256
	criticalSendTimeout = 250 * time.Millisecond
)

// Subscription is one live stream of a user's events
type Subscription struct {
	ch        chan ProgressEvent
	done      chan struct{}
	userID    string
	sessionID string
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Events returns the event channel. It is never closed; select on Done as well.
func (s *Subscription) Events() <-chan ProgressEvent { return s.ch }

// Done is closed when the subscription is replaced or removed
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns how many events were dropped because the client was slow
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// UserID returns the subscribing user
func (s *Subscription) UserID() string { return s.userID }

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Broadcaster delivers progress events to the sessions of one user only.
// Each (user, session) has at most one active subscriber.
type Broadcaster struct {
	subs     map[string]map[string]*Subscription
	lastSent map[string]time.Time
	now      func() time.Time
	log      zerolog.Logger
	throttle time.Duration
	mu       sync.RWMutex
	throttMu sync.Mutex
}

// NewBroadcaster creates a broadcaster that lets at most one non-critical
// event per throttle interval through for each profile
func NewBroadcaster(throttle time.Duration, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:     make(map[string]map[string]*Subscription),
		lastSent: make(map[string]time.Time),
		now:      time.Now,
		throttle: throttle,
		log:      log.With().Str("component", "broadcaster").Logger(),
	}
}

// Subscribe registers a subscriber for (userID, sessionID), replacing any previous one
func (b *Broadcaster) Subscribe(userID, sessionID string) *Subscription {
	sub := &Subscription{
		ch:        make(chan ProgressEvent, subscriberBuffer),
		done:      make(chan struct{}),
		userID:    userID,
		sessionID: sessionID,
	}

	b.mu.Lock()
	sessions, ok := b.subs[userID]
	if !ok {
		sessions = make(map[string]*Subscription)
		b.subs[userID] = sessions
	}
	old := sessions[sessionID]
	sessions[sessionID] = sub
	b.mu.Unlock()

	if old != nil {
		old.close()
		b.log.Debug().Str("user_id", userID).Str("session", sessionID).Msg("Replaced existing subscriber")
	}

	return sub
}

// Unsubscribe removes sub if it is still the active subscriber of its session
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	if sessions, ok := b.subs[sub.userID]; ok && sessions[sub.sessionID] == sub {
		delete(sessions, sub.sessionID)
		if len(sessions) == 0 {
			delete(b.subs, sub.userID)
		}
	}
	b.mu.Unlock()
	sub.close()
}

// SubscriberCount returns the number of live sessions of a user
func (b *Broadcaster) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

// Publish delivers event to every session of userID. Best effort: no replay.
func (b *Broadcaster) Publish(userID string, event ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = b.now()
	}
	event.UserID = userID

	if !b.admit(userID, event) {
		return
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[userID]))
	for _, sub := range b.subs[userID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	critical := event.Phase.IsCritical()
	for _, sub := range targets {
		b.deliver(sub, event, critical)
	}
}

func (b *Broadcaster) deliver(sub *Subscription, event ProgressEvent, critical bool) {
	select {
	case sub.ch <- event:
		return
	case <-sub.done:
		return
	default:
	}

	if critical {
		timer := time.NewTimer(criticalSendTimeout)
		defer timer.Stop()
		select {
		case sub.ch <- event:
			return
		case <-sub.done:
			return
		case <-timer.C:
		}
	}

	sub.dropped.Add(1)
	b.log.Warn().
		Str("user_id", sub.userID).
		Str("session", sub.sessionID).
		Str("phase", string(event.Phase)).
		Msg("Subscriber buffer full, event dropped")
}

// admit applies the per-profile throttle. Critical events always pass.
func (b *Broadcaster) admit(userID string, event ProgressEvent) bool {
	key := userID + "|" + event.RunID + "|" + event.ProfileID
	now := b.now()

	b.throttMu.Lock()
	defer b.throttMu.Unlock()

	if event.Stage != StageTicker && event.Phase.IsTerminal() {
		delete(b.lastSent, key)
		return true
	}

	if event.Phase.IsCritical() || b.throttle <= 0 {
		return true
	}

	if last, ok := b.lastSent[key]; ok && now.Sub(last) < b.throttle {
		return false
	}
	b.lastSent[key] = now
	return true
}
