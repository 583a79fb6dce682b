// Package coordinator owns per-pull-request processing state and drives the
// webhook-to-analysis pipeline: deduplication of concurrent triggers, a
// global concurrency ceiling, debounced re-analysis, and staleness reaping.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/internal/llm"
	"github.com/reviewpilot/internal/scm"
	"github.com/reviewpilot/pkg/models"
)

// Options tunes coordinator behavior. Zero fields fall back to defaults.
type Options struct {
	// MonitoredBranches restricts which base branches trigger analysis.
	// Empty means every branch qualifies.
	MonitoredBranches []string

	// MaxConcurrent caps simultaneous analysis attempts across all PRs.
	MaxConcurrent int

	// DebounceDelay is how long a re-analysis trigger waits for further
	// activity before firing.
	DebounceDelay time.Duration

	// CeilingWait bounds how long an attempt waits for a concurrency slot
	// before proceeding anyway.
	CeilingWait time.Duration

	// StaleEntryAge is the age past which a processing entry is presumed
	// leaked by a crashed attempt and reaped.
	StaleEntryAge time.Duration

	// ReapInterval is how often the reaper scans for stale entries.
	ReapInterval time.Duration

	// ResolveWindow is passed through to diff line resolution.
	ResolveWindow int
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 4
	}
	if o.DebounceDelay <= 0 {
		o.DebounceDelay = 90 * time.Second
	}
	if o.CeilingWait <= 0 {
		o.CeilingWait = 30 * time.Second
	}
	if o.StaleEntryAge <= 0 {
		o.StaleEntryAge = 30 * time.Minute
	}
	if o.ReapInterval <= 0 {
		o.ReapInterval = 5 * time.Minute
	}
}

// processingEntry is the bookkeeping record for one in-flight attempt,
// owned exclusively by the coordinator.
type processingEntry struct {
	key           string
	owner         string
	repo          string
	number        int
	trackingID    string
	startTime     time.Time
	triggerAction string
}

// Coordinator sequences analysis attempts for pull requests.
type Coordinator struct {
	scm  scm.Client
	ai   *llm.ResilientClient
	opts Options

	mu       sync.Mutex
	inFlight map[string]*processingEntry
	pending  map[string]*time.Timer // debounce timers per fingerprint
	closed   bool

	slots chan struct{} // concurrency ceiling

	wg       sync.WaitGroup
	stopReap chan struct{}
}

// New creates a coordinator bound to its two collaborators. The caller must
// Close it to stop the reaper and drain in-flight attempts.
func New(scmClient scm.Client, ai *llm.ResilientClient, opts Options) *Coordinator {
	opts.applyDefaults()

	c := &Coordinator{
		scm:      scmClient,
		ai:       ai,
		opts:     opts,
		inFlight: make(map[string]*processingEntry),
		pending:  make(map[string]*time.Timer),
		slots:    make(chan struct{}, opts.MaxConcurrent),
		stopReap: make(chan struct{}),
	}

	c.wg.Add(1)
	go c.reapLoop()
	return c
}

// HandleEvent classifies an inbound trigger and either starts an attempt,
// schedules a debounced re-analysis, or ignores the event. The returned
// string describes the decision for transport-level responses. Processing is
// asynchronous and detached from the caller's context.
func (c *Coordinator) HandleEvent(event models.TriggerEvent) string {
	if event.IsBot {
		// The bot's own activity must never re-trigger analysis.
		return "ignored_bot_event"
	}

	switch event.Kind {
	case models.TriggerPR:
		if !c.prEventQualifies(event) {
			return "ignored_unqualified"
		}
		if started := c.startAttempt(event, event.Action); !started {
			return "ignored_duplicate"
		}
		return "accepted"

	case models.TriggerReview, models.TriggerReviewComment:
		if c.scheduleReanalysis(event) {
			return "debounced"
		}
		return "ignored_shutdown"

	default:
		return "ignored_unknown"
	}
}

func (c *Coordinator) prEventQualifies(event models.TriggerEvent) bool {
	switch event.Action {
	case "opened", "reopened", "synchronize":
	default:
		return false
	}
	if event.Draft {
		return false
	}
	if len(c.opts.MonitoredBranches) == 0 {
		return true
	}
	for _, branch := range c.opts.MonitoredBranches {
		if branch == event.BaseBranch {
			return true
		}
	}
	return false
}

// scheduleReanalysis arms (or re-arms) the debounce timer for the event's
// fingerprint. Further qualifying events within the delay replace the timer,
// so a burst of human comments produces exactly one re-analysis.
func (c *Coordinator) scheduleReanalysis(event models.TriggerEvent) bool {
	key := event.Fingerprint()
	action := string(event.Kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	if old, ok := c.pending[key]; ok {
		old.Stop()
	}
	c.pending[key] = time.AfterFunc(c.opts.DebounceDelay, func() {
		c.mu.Lock()
		delete(c.pending, key)
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if !c.startAttempt(event, action) {
			log.Debug().Str("fingerprint", key).Msg("debounced re-analysis superseded by running attempt")
		}
	})

	log.Debug().Str("fingerprint", key).Dur("delay", c.opts.DebounceDelay).
		Msg("re-analysis scheduled")
	return true
}

// startAttempt registers a processing entry for the event's fingerprint and
// launches the pipeline. Returns false when an attempt is already in flight.
func (c *Coordinator) startAttempt(event models.TriggerEvent, action string) bool {
	key := event.Fingerprint()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if existing, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		log.Info().Str("fingerprint", key).Str("active_tracking_id", existing.trackingID).
			Msg("analysis already in flight, skipping duplicate trigger")
		return false
	}

	entry := &processingEntry{
		key:           key,
		owner:         event.Owner,
		repo:          event.Repo,
		number:        event.Number,
		trackingID:    uuid.NewString(),
		startTime:     time.Now(),
		triggerAction: action,
	}
	c.inFlight[key] = entry
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.release(key)

		acquired := c.acquireSlot()
		defer c.releaseSlot(acquired)

		// The webhook request context is canceled as soon as the HTTP
		// response goes out; the attempt must outlive it.
		c.runPipeline(context.Background(), entry)
	}()
	return true
}

// ReviewNow runs a single analysis attempt synchronously, bypassing event
// classification and debounce. It still participates in deduplication and
// the concurrency ceiling. Used for manually requested reviews.
func (c *Coordinator) ReviewNow(ctx context.Context, owner, repo string, number int) error {
	key := models.Fingerprint(owner, repo, number)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("coordinator is shut down")
	}
	if _, ok := c.inFlight[key]; ok {
		c.mu.Unlock()
		return fmt.Errorf("analysis already in flight for %s", key)
	}
	entry := &processingEntry{
		key:           key,
		owner:         owner,
		repo:          repo,
		number:        number,
		trackingID:    uuid.NewString(),
		startTime:     time.Now(),
		triggerAction: "manual",
	}
	c.inFlight[key] = entry
	c.mu.Unlock()

	defer c.release(key)

	acquired := c.acquireSlot()
	defer c.releaseSlot(acquired)

	return c.runPipeline(ctx, entry)
}

// release removes the fingerprint's entry so a later trigger can proceed.
// It runs on every pipeline exit path, including panics.
func (c *Coordinator) release(key string) {
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
}

// acquireSlot takes a concurrency slot, waiting a bounded time when the
// ceiling is reached. On timeout the attempt proceeds anyway and false is
// returned: smoothing bursts matters more than strictly honoring the
// ceiling, and dropping the attempt would silently leave a PR unreviewed.
func (c *Coordinator) acquireSlot() bool {
	select {
	case c.slots <- struct{}{}:
		return true
	case <-time.After(c.opts.CeilingWait):
		log.Warn().Dur("waited", c.opts.CeilingWait).
			Msg("concurrency ceiling wait elapsed, proceeding anyway")
		return false
	}
}

// releaseSlot returns a slot to the pool. An attempt that timed out at the
// ceiling holds no slot; releasing one anyway would drain a token belonging
// to a live holder.
func (c *Coordinator) releaseSlot(acquired bool) {
	if acquired {
		<-c.slots
	}
}

// Status reports the in-flight attempts for observability endpoints.
func (c *Coordinator) Status() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.inFlight))
	for key, entry := range c.inFlight {
		out[key] = entry.trackingID
	}
	return out
}

// reapLoop periodically purges entries older than the staleness ceiling,
// guarding against a crashed attempt that never released its entry.
func (c *Coordinator) reapLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopReap:
			return
		case <-ticker.C:
			c.reapStale()
		}
	}
}

func (c *Coordinator) reapStale() {
	cutoff := time.Now().Add(-c.opts.StaleEntryAge)

	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.inFlight {
		if entry.startTime.Before(cutoff) {
			delete(c.inFlight, key)
			log.Warn().Str("fingerprint", key).Str("tracking_id", entry.trackingID).
				Time("started", entry.startTime).Msg("reaped stale processing entry")
		}
	}
}

// Close stops accepting triggers, cancels pending debounce timers, and waits
// up to timeout for in-flight attempts to finish.
func (c *Coordinator) Close(timeout time.Duration) {
	c.mu.Lock()
	c.closed = true
	for key, timer := range c.pending {
		timer.Stop()
		delete(c.pending, key)
	}
	c.mu.Unlock()

	close(c.stopReap)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Dur("timeout", timeout).Msg("shutdown timeout elapsed with attempts still running")
	}
}
