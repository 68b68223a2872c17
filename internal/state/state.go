// Package state holds the bot's durable record of a meeting in progress:
// which items it has already seen decided and where each destination's reply
// chain currently ends. It is the only long-lived mutable entity in the
// system.
package state

import (
	"encoding/json"

	"github.com/a2council/a2councilbot/internal/minutes"
)

// State is the persisted meeting state. Once an item's GUID is recorded here
// with a decision, it must never trigger another announcement unless the
// state is reset by a meeting-identifier mismatch.
type State struct {
	EventID *int `json:"event_id"`

	// KnownItems maps item GUID to the item as last seen.
	KnownItems map[string]minutes.EventItem `json:"known_event_items"`

	// PreviousPosts maps destination name to its opaque reply-chain token.
	PreviousPosts map[string]json.RawMessage `json:"previous_post_ids"`

	// DeliveredPosts maps item GUID to the destinations that already
	// received its announcement. It closes the duplicate-post window when a
	// publish fails partway through the destination list: the item stays
	// un-known and is retried, but destinations listed here are skipped.
	DeliveredPosts map[string][]string `json:"delivered_posts,omitempty"`
}

// New returns an empty state with all maps initialized.
func New() *State {
	return &State{
		KnownItems:     map[string]minutes.EventItem{},
		PreviousPosts:  map[string]json.RawMessage{},
		DeliveredPosts: map[string][]string{},
	}
}

// Reset clears everything, guarding against stale state pointed at a new
// meeting.
func (s *State) Reset() {
	s.EventID = nil
	s.KnownItems = map[string]minutes.EventItem{}
	s.PreviousPosts = map[string]json.RawMessage{}
	s.DeliveredPosts = map[string][]string{}
}

// normalize repairs nil maps after decoding older state files.
func (s *State) normalize() {
	if s.KnownItems == nil {
		s.KnownItems = map[string]minutes.EventItem{}
	}
	if s.PreviousPosts == nil {
		s.PreviousPosts = map[string]json.RawMessage{}
	}
	if s.DeliveredPosts == nil {
		s.DeliveredPosts = map[string][]string{}
	}
}

// Delivered reports whether the item's announcement already reached the
// destination.
func (s *State) Delivered(guid, destination string) bool {
	for _, name := range s.DeliveredPosts[guid] {
		if name == destination {
			return true
		}
	}
	return false
}

// MarkDelivered records that the item's announcement reached the
// destination.
func (s *State) MarkDelivered(guid, destination string) {
	if s.Delivered(guid, destination) {
		return
	}
	s.DeliveredPosts[guid] = append(s.DeliveredPosts[guid], destination)
}

// ClearDelivered drops per-destination tracking for an item, once the item
// itself is recorded as known.
func (s *State) ClearDelivered(guid string) {
	delete(s.DeliveredPosts, guid)
}

// Store is the load/save port for persisted state, keeping the diff and
// compose logic independent of I/O.
type Store interface {
	// Load reads the persisted state. A missing or unreadable record yields
	// a fresh empty state, not an error; resuming conservatively is always
	// safe because known items only suppress announcements.
	Load() (*State, error)

	// Save durably replaces the persisted state.
	Save(*State) error
}
