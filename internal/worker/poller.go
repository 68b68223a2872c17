// Package worker drives the polling cycle: fetch a snapshot, detect the
// meeting phase, diff items against known state, compose and publish
// announcements, persist progress, and decide when the meeting is over.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/a2council/a2councilbot/internal/compose"
	"github.com/a2council/a2councilbot/internal/logging"
	"github.com/a2council/a2councilbot/internal/minutes"
	"github.com/a2council/a2councilbot/internal/monitoring"
	"github.com/a2council/a2councilbot/internal/publish"
	"github.com/a2council/a2councilbot/internal/state"
)

// Phase is the meeting lifecycle as observed by the poller.
type Phase int32

const (
	PhaseAwaitingStart Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingStart:
		return "awaiting_start"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// meetingFailsafe ends the meeting unconditionally this long after its
// scheduled start, in case the clerk never records an adjournment.
const meetingFailsafe = 12 * time.Hour

const defaultInterval = 60 * time.Second

// cycleOutcome tells the run loop what one cycle decided, replacing broad
// catch-and-continue with an explicit per-step result.
type cycleOutcome int

const (
	// cycleRetry: fetch failed, nothing mutated, try again after the interval.
	cycleRetry cycleOutcome = iota
	// cycleWaiting: meeting has not started, try again after the interval.
	cycleWaiting
	// cycleAdvanced: snapshot processed and state persisted.
	cycleAdvanced
	// cycleEnded: meeting over, stop polling.
	cycleEnded
)

// Config wires a Poller.
type Config struct {
	Source      minutes.Source
	Publishers  []publish.Publisher // publish order is this order
	Store       state.Store
	Logger      logging.Logger
	Metrics     *monitoring.Metrics // optional
	Interval    time.Duration       // poll and retry interval, default 60s
	Location    *time.Location      // meeting's civic time zone
	SnapshotDir string              // optional write-only snapshot archive
}

// Poller owns the polling state machine. It is single-threaded: destinations
// are published to one at a time in configured order, and waiting is a
// blocking suspension (or a simulated-clock advance during replay).
type Poller struct {
	source      minutes.Source
	publishers  []publish.Publisher
	store       state.Store
	logger      logging.Logger
	metrics     *monitoring.Metrics
	interval    time.Duration
	location    *time.Location
	snapshotDir string

	st    *state.State
	phase atomic.Int32
}

// New creates a Poller from cfg.
func New(cfg Config) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	return &Poller{
		source:      cfg.Source,
		publishers:  cfg.Publishers,
		store:       cfg.Store,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		interval:    interval,
		location:    location,
		snapshotDir: cfg.SnapshotDir,
	}
}

// Phase returns the currently observed meeting phase. Safe to call from the
// health endpoint while Run is looping.
func (p *Poller) Phase() Phase {
	return Phase(p.phase.Load())
}

// Run polls until the meeting ends, the source is exhausted, or ctx is
// cancelled. Processing failures never terminate the loop; liveness wins
// over strict correctness.
func (p *Poller) Run(ctx context.Context) error {
	st, err := p.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	p.st = st

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch p.runCycle(ctx) {
		case cycleEnded:
			return nil
		case cycleRetry, cycleWaiting, cycleAdvanced:
			p.source.Wait(p.interval)
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) cycleOutcome {
	event, err := p.source.GetMinutes(ctx)
	if errors.Is(err, minutes.ErrMeetingOver) {
		p.logger.Info("Replay source exhausted, meeting over")
		p.phase.Store(int32(PhaseEnded))
		return cycleEnded
	}
	if err != nil {
		// No state was mutated; retrying after the interval is safe.
		p.logger.WithError(err).Error("Polling run failed")
		p.metrics.IncFetchFailure()
		return cycleRetry
	}

	now := p.source.Now()
	p.archiveSnapshot(event, now)

	start, err := event.StartTime(p.location)
	if err != nil {
		// Without a parseable start time, assume the meeting is underway
		// rather than never processing it.
		p.logger.WithError(err).Warn("Could not resolve meeting start time")
		start = now
	}
	if now.Before(start) {
		p.phase.Store(int32(PhaseAwaitingStart))
		p.logger.WithFields(logging.Fields{
			"now":   now.Format(time.RFC3339),
			"start": start.Format(time.RFC3339),
		}).Info("Meeting hasn't started yet")
		return cycleWaiting
	}
	p.phase.Store(int32(PhaseActive))

	if p.st.EventID != nil && *p.st.EventID != event.ID {
		p.logger.WithFields(logging.Fields{
			"state_event_id":   *p.st.EventID,
			"current_event_id": event.ID,
		}).Warn("Event ID mismatches saved state, clearing saved state")
		p.st.Reset()
	}
	if p.st.EventID == nil {
		id := event.ID
		p.st.EventID = &id
	}

	// A failure partway through item handling still persists whatever was
	// mutated before it: reply tokens already advanced by successful
	// publishes in this cycle must survive.
	procErr := p.processSnapshot(ctx, event)
	p.metrics.IncPollCycle()

	if err := p.store.Save(p.st); err != nil {
		p.logger.WithError(err).Error("Failed to persist state")
	}
	if procErr != nil {
		p.logger.WithError(procErr).Error("Processing minutes failed")
	}

	if p.meetingEnded(event.EventItems, start, now) {
		p.logger.Info("Meeting adjourned or timed out")
		p.phase.Store(int32(PhaseEnded))
		return cycleEnded
	}
	return cycleAdvanced
}

func (p *Poller) processSnapshot(ctx context.Context, event *minutes.Event) error {
	if len(p.st.PreviousPosts) == 0 {
		if _, err := p.publishToAll(ctx, seedPost(event), ""); err != nil {
			return err
		}
	}

	items := event.EventItems
	compose.FixupMinutes(items)

	for i := range items {
		item := &items[i]

		var previous *minutes.EventItem
		if known, ok := p.st.KnownItems[item.GUID]; ok {
			previous = &known
		}

		if post := compose.ProcessEventItem(item, previous); post != nil {
			complete, err := p.publishToAll(ctx, post, item.GUID)
			if err != nil {
				return err
			}
			if !complete {
				// Some destination is still owed this post. Leave the item
				// un-known so it is retried next cycle; destinations that
				// already have it are recorded and will be skipped.
				continue
			}
			p.st.ClearDelivered(item.GUID)
		}
		p.st.KnownItems[item.GUID] = *item
	}
	return nil
}

// publishToAll sends the post to every configured destination in order,
// advancing each destination's reply token independently as its publish
// completes. A credential failure skips that destination; a publish failure
// aborts the remainder of the cycle's processing.
func (p *Poller) publishToAll(ctx context.Context, post *compose.Post, guid string) (bool, error) {
	complete := true
	for _, pub := range p.publishers {
		name := pub.Name()
		if guid != "" && p.st.Delivered(guid, name) {
			continue
		}

		token, err := pub.Publish(ctx, post, p.st.PreviousPosts[name])
		if err != nil {
			p.metrics.IncPublishFailure(name)
			var authErr *publish.AuthError
			if errors.As(err, &authErr) {
				p.logger.WithError(err).WithField("platform", name).Error("Credential refresh failed, skipping destination")
				complete = false
				continue
			}
			return false, err
		}

		p.st.PreviousPosts[name] = token
		if guid != "" {
			p.st.MarkDelivered(guid, name)
		}
		p.metrics.IncPostPublished(name)
	}
	return complete, nil
}

// seedPost opens the announcement thread with a date-stamped header.
func seedPost(event *minutes.Event) *compose.Post {
	datePart, _, _ := strings.Cut(event.Date, "T")
	post := &compose.Post{}
	post.AddHashtag(compose.Hashtag)
	post.AddText(fmt.Sprintf(" voting results thread for %s...\n\n\U0001F9F5", datePart), false)
	return post
}

func (p *Poller) meetingEnded(items []minutes.EventItem, start, now time.Time) bool {
	for i := range items {
		item := &items[i]
		if item.ActionName != nil && *item.ActionName == "Adjourn" && item.Passed() {
			return true
		}
	}
	return now.After(start.Add(meetingFailsafe))
}

// archiveSnapshot writes the raw snapshot as an audit artifact. The archive
// is write-only; failures are logged and never affect the cycle.
func (p *Poller) archiveSnapshot(event *minutes.Event, now time.Time) {
	if p.snapshotDir == "" {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.WithError(err).Error("Failed to encode snapshot for archive")
		return
	}
	name := fmt.Sprintf("meeting-%d-%s.json", event.ID, now.Format("20060102T150405"))
	if err := os.WriteFile(filepath.Join(p.snapshotDir, name), data, 0o644); err != nil {
		p.logger.WithError(err).Error("Failed to archive snapshot")
	}
}
