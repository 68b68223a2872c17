package minutes

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Event is one meeting as served by the Legistar web API. Field names on the
// wire are preserved so live responses, archived snapshots, and persisted
// known-item records all share a single encoding.
type Event struct {
	ID         int         `json:"EventId"`
	GUID       string      `json:"EventGuid"`
	Date       string      `json:"EventDate"` // "2024-01-16T00:00:00"
	Time       string      `json:"EventTime"` // "7:00 PM"
	SiteURL    string      `json:"EventInSiteURL"`
	EventItems []EventItem `json:"EventItems"`
}

// EventItem is one line item on the meeting agenda. Identity is the GUID,
// which is stable across polls; everything else may change as the clerk
// updates the minutes.
type EventItem struct {
	ID              int        `json:"EventItemId"`
	GUID            string     `json:"EventItemGuid"`
	AgendaNumber    *string    `json:"EventItemAgendaNumber"`
	Title           string     `json:"EventItemTitle"`
	ActionName      *string    `json:"EventItemActionName"`
	PassedFlag      *int       `json:"EventItemPassedFlag"`
	PassedFlagName  *string    `json:"EventItemPassedFlagName"`
	MatterID        *int       `json:"EventItemMatterId"`
	MatterFile      *string    `json:"EventItemMatterFile"`
	Mover           *string    `json:"EventItemMover"`
	RollCallFlag    *int       `json:"EventItemRollCallFlag"`
	MinutesSequence *int       `json:"EventItemMinutesSequence"`
	SiteURL         *string    `json:"EventItemInSiteURL"`
	Votes           []Vote     `json:"EventItemVoteInfo"`
	RollCalls       []RollCall `json:"EventItemRollCallInfo"`
}

// Vote is one member's recorded vote on an item.
type Vote struct {
	PersonName string  `json:"VotePersonName"`
	ValueName  *string `json:"VoteValueName"`
}

// RollCall is one member's recorded presence on a roll call.
type RollCall struct {
	PersonName string  `json:"RollCallPersonName"`
	ValueName  *string `json:"RollCallValueName"`
}

// Decided reports whether the item has received a final vote. Legistar serves
// the passed flag as 0/1/null; null means no decision yet.
func (ei EventItem) Decided() bool {
	return ei.PassedFlag != nil
}

// Passed reports whether the item passed. Only meaningful when Decided.
func (ei *EventItem) Passed() bool {
	return ei.PassedFlag != nil && *ei.PassedFlag != 0
}

// HasRollCall reports whether an explicit roll call was taken.
func (ei *EventItem) HasRollCall() bool {
	return ei.RollCallFlag != nil && *ei.RollCallFlag != 0
}

// SortByMinutesSequence orders items the way they appear in the minutes.
// A null sequence sorts as zero; ties keep their incoming order.
func SortByMinutesSequence(items []EventItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return minutesSequence(&items[i]) < minutesSequence(&items[j])
	})
}

func minutesSequence(ei *EventItem) int {
	if ei.MinutesSequence == nil {
		return 0
	}
	return *ei.MinutesSequence
}

// StartTime resolves the meeting's scheduled start from the event's date and
// local clock time in the given civic time zone.
func (e *Event) StartTime(loc *time.Location) (time.Time, error) {
	datePart, _, _ := strings.Cut(e.Date, "T")
	if datePart == "" || e.Time == "" {
		return time.Time{}, fmt.Errorf("event %d has no scheduled start (date=%q time=%q)", e.ID, e.Date, e.Time)
	}
	start, err := time.ParseInLocation("2006-01-02 3:04 PM", datePart+" "+e.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse meeting start: %w", err)
	}
	return start, nil
}
