package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/aristath/autopublish/internal/events"
)

// MockReportGenerator is a scriptable ReportGenerator for testing
type MockReportGenerator struct {
	mu       sync.Mutex
	contents map[string]string
	errs     map[string]error
	delays   map[string]time.Duration
	calls    []string
}

// NewMockReportGenerator creates a generator that returns fixed content per ticker
func NewMockReportGenerator() *MockReportGenerator {
	return &MockReportGenerator{
		contents: make(map[string]string),
		errs:     make(map[string]error),
		delays:   make(map[string]time.Duration),
	}
}

// SetContent sets the content returned for a ticker
func (m *MockReportGenerator) SetContent(ticker, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contents[ticker] = content
}

// SetError makes generation fail for a ticker
func (m *MockReportGenerator) SetError(ticker string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[ticker] = err
}

// SetDelay makes generation for a ticker block until the delay passes or ctx ends
func (m *MockReportGenerator) SetDelay(ticker string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays[ticker] = d
}

// Calls returns the tickers generated so far, in call order
func (m *MockReportGenerator) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Generate implements domain.ReportGenerator
func (m *MockReportGenerator) Generate(ctx context.Context, ticker string) (*domain.Report, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ticker)
	content, ok := m.contents[ticker]
	err := m.errs[ticker]
	delay := m.delays[ticker]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		content = "<p>Analysis of " + ticker + "</p>"
	}

	return &domain.Report{
		Ticker:  ticker,
		Title:   ticker + " outlook",
		Content: content,
	}, nil
}

// PublishCall records one call to MockPublisher
type PublishCall struct {
	Creds  domain.SiteCredentials
	Author domain.Author
	Ticker string
}

// MockPublisher is a scriptable Publisher for testing
type MockPublisher struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    []PublishCall
	nextID   int64
}

// NewMockPublisher creates a publisher that succeeds unless scripted otherwise
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		failures: make(map[string][]error),
		nextID:   100,
	}
}

// FailNext queues errors returned by the next publish attempts for a ticker
func (m *MockPublisher) FailNext(ticker string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[ticker] = append(m.failures[ticker], errs...)
}

// Calls returns all publish attempts
func (m *MockPublisher) Calls() []PublishCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PublishCall(nil), m.calls...)
}

// CallCount returns how many publish attempts were made for a ticker
func (m *MockPublisher) CallCount(ticker string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Ticker == ticker {
			n++
		}
	}
	return n
}

// Publish implements domain.Publisher
func (m *MockPublisher) Publish(ctx context.Context, creds domain.SiteCredentials, author domain.Author, report *domain.Report) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, PublishCall{Creds: creds, Author: author, Ticker: report.Ticker})

	if queue := m.failures[report.Ticker]; len(queue) > 0 {
		m.failures[report.Ticker] = queue[1:]
		return 0, queue[0]
	}

	m.nextID++
	return m.nextID, nil
}

// RetryableFailure is a transient publisher error
func RetryableFailure(status int) error {
	return &domain.PublisherFailure{StatusCode: status, Err: fmt.Errorf("status %d", status)}
}

// PermanentFailure is a publisher error that must not be retried
func PermanentFailure(status int) error {
	return &domain.PublisherFailure{StatusCode: status, Permanent: true, Err: errors.New("rejected")}
}

// EventRecorder is an events.Emitter that keeps every event
type EventRecorder struct {
	mu     sync.Mutex
	events []events.ProgressEvent
}

// NewEventRecorder creates an empty recorder
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Publish implements events.Emitter
func (r *EventRecorder) Publish(userID string, event events.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event.UserID = userID
	r.events = append(r.events, event)
}

// Events returns a copy of the recorded events
func (r *EventRecorder) Events() []events.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.ProgressEvent(nil), r.events...)
}

// TickerPhases returns the ticker-stage phases recorded for one ticker of a profile
func (r *EventRecorder) TickerPhases(profileID, ticker string) []events.Phase {
	var out []events.Phase
	for _, e := range r.Events() {
		if e.Stage == events.StageTicker && e.ProfileID == profileID && e.Ticker == ticker && e.Phase != events.PhaseHeartbeat {
			out = append(out, e.Phase)
		}
	}
	return out
}

// HasPhase reports whether any event with the phase was recorded for the profile
func (r *EventRecorder) HasPhase(profileID string, phase events.Phase) bool {
	for _, e := range r.Events() {
		if e.ProfileID == profileID && e.Phase == phase {
			return true
		}
	}
	return false
}
