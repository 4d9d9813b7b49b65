package intelligence

import (
	"sort"
	"strconv"
	"strings"

	"github.com/saorsa-labs/fae/internal/memory"
)

// Priority ranks how urgently a briefing item deserves the user's attention.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

// Category groups briefing items for prompt formatting.
type Category string

const (
	CategoryEvent        Category = "event"
	CategoryReminder     Category = "reminder"
	CategoryRelationship Category = "relationship"
	CategoryResearch     Category = "research"
	CategoryCustom       Category = "custom"
)

// MaxBriefingItems caps how many items a single briefing carries.
const MaxBriefingItems = 10

// BriefingItem is one line of a proactive briefing.
type BriefingItem struct {
	Priority Priority
	Category Category
	Summary  string
	Detail   string
	SourceID string
}

// NewBriefingItem creates a BriefingItem with no detail or source.
func NewBriefingItem(priority Priority, category Category, summary string) BriefingItem {
	return BriefingItem{Priority: priority, Category: category, Summary: summary}
}

// WithDetail attaches a detail string.
func (i BriefingItem) WithDetail(detail string) BriefingItem {
	i.Detail = detail
	return i
}

// WithSource attaches a source record id.
func (i BriefingItem) WithSource(sourceID string) BriefingItem {
	i.SourceID = sourceID
	return i
}

// Briefing is an ordered set of items ready to present to the user.
type Briefing struct {
	Items []BriefingItem
}

// IsEmpty reports whether the briefing has no items.
func (b Briefing) IsEmpty() bool { return len(b.Items) == 0 }

// Len returns the number of items.
func (b Briefing) Len() int { return len(b.Items) }

// BuildBriefing gathers upcoming events, stale relationships, open
// commitments, and research results from the last DefaultFreshnessDays
// days into a priority-sorted, length-capped briefing.
func (s *Store) BuildBriefing() (Briefing, error) {
	var items []BriefingItem

	events, err := s.QueryEvents(7)
	if err != nil {
		return Briefing{}, err
	}
	for _, r := range events {
		item := NewBriefingItem(eventPriority(r, s.clock()), CategoryEvent, r.Text).WithSource(r.ID)
		if date, ok := extractDateTag(r.Tags); ok {
			item = item.WithDetail("Date: " + date)
		}
		items = append(items, item)
	}

	stale, err := s.QueryStaleRelationships(30)
	if err != nil {
		return Briefing{}, err
	}
	for _, sr := range stale {
		summary := "Haven't mentioned " + sr.Record.Text + " in " + strconv.FormatInt(sr.Days, 10) + " days"
		items = append(items, NewBriefingItem(PriorityNormal, CategoryRelationship, summary).WithSource(sr.Record.ID))
	}

	commitments, err := s.QueryCommitments()
	if err != nil {
		return Briefing{}, err
	}
	for _, r := range commitments {
		items = append(items, NewBriefingItem(PriorityNormal, CategoryReminder, r.Text).WithSource(r.ID))
	}

	research, err := s.GatherRecentResearch(DefaultFreshnessDays)
	if err != nil {
		return Briefing{}, err
	}
	for _, r := range research {
		items = append(items, NewBriefingItem(PriorityLow, CategoryResearch, r.Text).WithSource(r.ID))
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Priority > items[j].Priority })
	if len(items) > MaxBriefingItems {
		items = items[:MaxBriefingItems]
	}
	return Briefing{Items: items}, nil
}

// FormatBriefingForPrompt renders a briefing as a markdown prompt fragment
// grouped by category, or ("", false) if the briefing is empty.
func FormatBriefingForPrompt(b Briefing) (string, bool) {
	if b.IsEmpty() {
		return "", false
	}

	sections := []struct {
		category Category
		heading  string
	}{
		{CategoryEvent, "## Upcoming Events\n"},
		{CategoryReminder, "## Reminders\n"},
		{CategoryRelationship, "## People to Check In With\n"},
		{CategoryResearch, "## Research Findings\n"},
	}

	var rendered []string
	for _, sec := range sections {
		var lines []string
		for _, item := range b.Items {
			if item.Category != sec.category {
				continue
			}
			line := "- " + item.Summary
			if item.Detail != "" {
				line += " (" + item.Detail + ")"
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		rendered = append(rendered, sec.heading+strings.Join(lines, "\n"))
	}
	if len(rendered) == 0 {
		return "", false
	}
	return strings.Join(rendered, "\n\n"), true
}

var briefingTriggerPhrases = []string{
	"good morning", "morning fae", "morning, fae", "what's new", "whats new",
	"any updates", "briefing", "brief me", "what did i miss", "catch me up",
	"what's happening", "whats happening",
}

// IsBriefingTrigger reports whether text matches a known briefing-request
// phrase.
func IsBriefingTrigger(text string) bool {
	lowered := strings.ToLower(strings.TrimSpace(text))
	for _, phrase := range briefingTriggerPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}

// eventPriority assigns urgency by days until the event's date, defaulting
// to Normal if the record has no parseable date.
func eventPriority(record memory.Record, now int64) Priority {
	dateStr, ok := extractDateTag(record.Tags)
	if !ok {
		return PriorityNormal
	}
	eventEpoch, ok := parseDateToEpoch(dateStr)
	if !ok {
		return PriorityNormal
	}
	diffDays := (eventEpoch - now) / 86400
	switch {
	case diffDays <= 0:
		return PriorityUrgent
	case diffDays == 1:
		return PriorityHigh
	case diffDays >= 2 && diffDays <= 3:
		return PriorityNormal
	default:
		return PriorityLow
	}
}
