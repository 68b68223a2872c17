package compose

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/a2council/a2councilbot/internal/minutes"
)

// Hashtag appended to every announcement and used to seed the thread.
const Hashtag = "#a2council"

// Agenda-number classes that get individual announcements. Everything else
// (public hearings, communications, closed-session items) is skipped.
var announceableAgendaRe = regexp.MustCompile(`^(MC|CC|B|C|D)`)

// consentPlaceholder marks the batch line item the clerk enters for the
// consent agenda as a whole; it never gets its own announcement.
const consentPlaceholder = "passed on consent agenda"

// actionTenses maps the past-tense verbs Legistar records to the imperative
// forms used in announcements.
var actionTenses = map[string]string{
	"Accepted":     "Accept",
	"Adjourn":      "Adjourn",
	"Adopted":      "Adopt",
	"Amended":      "Amend",
	"Approved":     "Approve",
	"Deleted":      "Delete",
	"Postponed":    "Postpone",
	"Presented":    "Present",
	"Reconsidered": "Reconsider",
	"Referred":     "Refer",
	"Withdrawn":    "Withdraw",
}

// NormalizeActionTense rewrites the first word of an action name into the
// imperative. Unmapped words and the rest of the string pass through
// unchanged, as does an empty action name.
func NormalizeActionTense(actionName string) string {
	parts := strings.Fields(actionName)
	if len(parts) == 0 {
		return actionName
	}
	if imperative, ok := actionTenses[parts[0]]; ok {
		parts[0] = imperative
	}
	return strings.Join(parts, " ")
}

// FixupMinutes backfills missing agenda numbers across a snapshot's items.
// Items sharing a matter ID must share an agenda number: the first pass maps
// matter ID to any agenda number carried by one of its items, the second
// assigns that number to items of the same matter that lack one.
func FixupMinutes(items []minutes.EventItem) {
	matterToAgendaNumber := map[int]string{}

	for i := range items {
		item := &items[i]
		if item.MatterID != nil && item.AgendaNumber != nil {
			matterToAgendaNumber[*item.MatterID] = *item.AgendaNumber
		}
	}

	for i := range items {
		item := &items[i]
		if item.MatterID != nil && item.AgendaNumber == nil {
			if number, ok := matterToAgendaNumber[*item.MatterID]; ok {
				n := number
				item.AgendaNumber = &n
			}
		}
	}
}

// ProcessEventItem decides whether an item just became announcement-worthy
// and, if so, composes its post. It fires exactly once per item, at the
// transition from undecided to decided, and only for items in the
// announceable agenda classes.
func ProcessEventItem(current, previous *minutes.EventItem) *Post {
	if !current.Decided() {
		return nil
	}
	if previous != nil && previous.Decided() {
		return nil
	}
	if current.AgendaNumber != nil && *current.AgendaNumber != "" && !announceableAgendaRe.MatchString(*current.AgendaNumber) {
		return nil
	}
	if strings.ToLower(current.Title) == consentPlaceholder {
		return nil
	}

	post := &Post{}

	if current.AgendaNumber != nil {
		post.AddText(fmt.Sprintf("%s: ", *current.AgendaNumber), false)
	}

	// The title can be arbitrarily long; it is the one component allowed to
	// shrink to fit the destination's budget.
	post.AddText(current.Title, true)

	if current.SiteURL != nil && *current.SiteURL != "" {
		post.AddText("\n", false)
		post.AddURL(*current.SiteURL)
	}

	var suffix strings.Builder
	fmt.Fprintf(&suffix, "\nAction: %s (%s)\n", NormalizeActionTense(strValue(current.ActionName)), moverLastName(current.Mover))
	fmt.Fprintf(&suffix, "Result: %s\n\n", strValue(current.PassedFlagName))
	suffix.WriteString(formatVotes(current.Votes))

	post.AddText(suffix.String(), false)
	post.AddHashtag(Hashtag)

	return post
}

// formatVotes groups recorded votes by vote value, one line per value with
// last names sorted alphabetically. Unrecorded (voice) votes have no Yea or
// Nay entries and collapse to a single line.
func formatVotes(votes []minutes.Vote) string {
	grouped := map[string]map[string]struct{}{}
	for _, v := range votes {
		if v.ValueName == nil {
			continue
		}
		lastName := lastField(v.PersonName)
		if lastName == "" {
			continue
		}
		if grouped[*v.ValueName] == nil {
			grouped[*v.ValueName] = map[string]struct{}{}
		}
		grouped[*v.ValueName][lastName] = struct{}{}
	}

	_, yea := grouped["Yea"]
	_, nay := grouped["Nay"]
	if !yea && !nay {
		return "Voice vote\n"
	}

	values := make([]string, 0, len(grouped))
	for value := range grouped {
		values = append(values, value)
	}
	sort.Strings(values)

	var b strings.Builder
	for _, value := range values {
		names := make([]string, 0, len(grouped[value]))
		for name := range grouped[value] {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "%s: %s\n", value, strings.Join(names, ", "))
	}
	return b.String()
}

func moverLastName(mover *string) string {
	if mover == nil {
		return "None"
	}
	if name := lastField(*mover); name != "" {
		return name
	}
	return "None"
}

func lastField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
