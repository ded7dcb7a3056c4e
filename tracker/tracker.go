// Package tracker is the embeddable client SDK that buffers interaction
// events and ships them to the ingestion API in batches. A Tracker is safe
// for concurrent use; all buffer access is serialized.
package tracker

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"log/slog"
)

// Consent is the visitor's tracking consent level. Anything below ConsentAll
// keeps the tracker inert: events are discarded, nothing is sent.
type Consent string

const (
	ConsentUnset     Consent = ""
	ConsentNecessary Consent = "necessary"
	ConsentAll       Consent = "all"
)

const (
	sessionIDKey = "pulsekit_session_id"
	consentKey   = "pulsekit_consent"

	defaultFlushThreshold = 20
	defaultFlushInterval  = 10 * time.Second

	eventsPath   = "/x/api/v1/events"
	sessionsPath = "/x/api/v1/sessions"
)

// Event is one interaction as sent over the wire. Only PageURL is required;
// a zero Timestamp is filled in at track time.
type Event struct {
	EventType       string         `json:"eventType"`
	EventCategory   string         `json:"eventCategory,omitempty"`
	ElementID       string         `json:"elementId,omitempty"`
	ElementText     string         `json:"elementText,omitempty"`
	ElementX        int            `json:"elementX,omitempty"`
	ElementY        int            `json:"elementY,omitempty"`
	ElementSelector string         `json:"elementSelector,omitempty"`
	PageURL         string         `json:"pageUrl"`
	ReferrerURL     string         `json:"referrerUrl,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	DecisionTimeMs  int64          `json:"decisionTime,omitempty"`
	HoverDurationMs int64          `json:"hoverDuration,omitempty"`
	ScrollDepth     int            `json:"scrollDepth,omitempty"`
	ViewportWidth   int            `json:"viewportWidth,omitempty"`
	ViewportHeight  int            `json:"viewportHeight,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Config tunes a Tracker. Zero values fall back to defaults.
type Config struct {
	// Endpoint is the base URL of the ingestion API, e.g. "https://stats.example.com".
	Endpoint string
	// FlushThreshold is the buffered event count that triggers a flush.
	FlushThreshold int
	// FlushInterval is the time-based flush period.
	FlushInterval time.Duration
	Logger        *slog.Logger
}

// Tracker buffers events and flushes them as batches, whichever of the size
// threshold or the interval ticker fires first. Delivery is at-most-once: a
// failed batch is dropped, never re-queued.
type Tracker struct {
	runtime   Runtime
	endpoint  string
	threshold int
	interval  time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	buffer    []Event
	consent   Consent
	sessionID string
	closed    bool

	sends  sync.WaitGroup
	ticker *time.Ticker
	done   chan struct{}
}

// New creates a started Tracker. The session identifier is restored from the
// runtime's store or generated on first use; consent is restored the same way.
func New(runtime Runtime, cfg Config) (*Tracker, error) {
	if runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}

	threshold := cfg.FlushThreshold
	if threshold <= 0 {
		threshold = defaultFlushThreshold
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tracker{
		runtime:   runtime,
		endpoint:  strings.TrimRight(cfg.Endpoint, "/"),
		threshold: threshold,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}

	t.sessionID = t.getOrCreateSessionID()
	if stored, ok := runtime.GetItem(consentKey); ok {
		t.consent = Consent(stored)
	}

	t.ticker = time.NewTicker(interval)
	go t.flushLoop()

	return t, nil
}

func (t *Tracker) flushLoop() {
	for {
		select {
		case <-t.ticker.C:
			t.Flush()
		case <-t.done:
			return
		}
	}
}

// getOrCreateSessionID restores the persisted session identifier, generating
// and persisting an opaque token on first use. No network call.
func (t *Tracker) getOrCreateSessionID() string {
	if existing, ok := t.runtime.GetItem(sessionIDKey); ok && existing != "" {
		return existing
	}

	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		// Clock-derived fallback keeps the tracker functional.
		return fmt.Sprintf("s-%d", t.runtime.Now().UnixNano())
	}
	id := base64.RawURLEncoding.EncodeToString(buf)

	if err := t.runtime.SetItem(sessionIDKey, id); err != nil {
		t.logger.Warn("Failed to persist session id", slog.Any("error", err))
	}
	return id
}

// SessionID returns the tracker's session identifier.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Consent returns the current consent level.
func (t *Tracker) Consent() Consent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consent
}

// SetConsent updates the consent level and persists it. Lowering consent
// below ConsentAll discards anything buffered; an in-flight flush completes.
func (t *Tracker) SetConsent(consent Consent) {
	t.mu.Lock()
	t.consent = consent
	if consent != ConsentAll {
		t.buffer = nil
	}
	t.mu.Unlock()

	if err := t.runtime.SetItem(consentKey, string(consent)); err != nil {
		t.logger.Warn("Failed to persist consent", slog.Any("error", err))
	}
}

// TrackEvent buffers one event. It never returns an error: malformed events
// are dropped and logged, and calls without full consent or after Close are
// silent no-ops.
func (t *Tracker) TrackEvent(event Event) {
	t.mu.Lock()

	if t.closed || t.consent != ConsentAll {
		t.mu.Unlock()
		return
	}

	if event.PageURL == "" || event.EventType == "" {
		t.mu.Unlock()
		t.logger.Debug("Dropping malformed event",
			slog.String("event_type", event.EventType),
			slog.String("page_url", event.PageURL))
		return
	}

	if event.Timestamp.IsZero() {
		// Assigned under the lock so buffered timestamps stay monotonic.
		event.Timestamp = t.runtime.Now()
	}
	t.buffer = append(t.buffer, event)
	shouldFlush := len(t.buffer) >= t.threshold
	if shouldFlush {
		t.sends.Add(1)
	}
	t.mu.Unlock()

	// The network round-trip runs off the calling goroutine; tracking calls
	// return as soon as the event is buffered.
	if shouldFlush {
		go func() {
			defer t.sends.Done()
			t.Flush()
		}()
	}
}

// TrackPageView records a page_load event and upserts the server-side
// session for this visitor.
func (t *Tracker) TrackPageView(pageURL, referrerURL string) {
	t.TrackEvent(Event{
		EventType:   "page_load",
		PageURL:     pageURL,
		ReferrerURL: referrerURL,
	})

	t.mu.Lock()
	if t.closed || t.consent != ConsentAll {
		t.mu.Unlock()
		return
	}
	sessionID := t.sessionID
	now := t.runtime.Now()
	t.sends.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.sends.Done()
		body := map[string]any{
			"sessionId": sessionID,
			"entryPage": pageURL,
			"exitPage":  pageURL,
			"startedAt": now,
		}
		if err := t.runtime.PostJSON(t.endpoint+sessionsPath, body); err != nil {
			t.logger.Warn("Failed to upsert session", slog.Any("error", err))
		}
	}()
}

// Flush sends everything buffered as one batch. The buffer is swapped out
// under the lock first, so a failed send drops exactly that batch.
func (t *Tracker) Flush() {
	t.mu.Lock()
	if len(t.buffer) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.buffer
	t.buffer = nil
	sessionID := t.sessionID
	t.mu.Unlock()

	body := map[string]any{
		"sessionId": sessionID,
		"events":    batch,
	}
	if err := t.runtime.PostJSON(t.endpoint+eventsPath, body); err != nil {
		t.logger.Warn("Failed to flush events",
			slog.Int("count", len(batch)),
			slog.Any("error", err))
	}
}

// Close stops the flush goroutine, waits for in-flight sends and drains the
// remaining buffer synchronously. Safe to call more than once; tracking calls
// after Close are no-ops.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	t.ticker.Stop()
	close(t.done)
	t.sends.Wait()
	t.Flush()
}
