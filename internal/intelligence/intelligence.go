// Package intelligence layers event/person/interest/commitment queries,
// duplicate detection, and relationship tracking on top of the memory
// repository, plus a proactive briefing composer.
package intelligence

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/saorsa-labs/fae/internal/memory"
)

// Kind enumerates the categories of intelligence item the assistant can
// extract from conversation.
type Kind string

const (
	KindDateEvent          Kind = "date_event"
	KindPersonMention      Kind = "person_mention"
	KindRelationshipSignal Kind = "relationship_signal"
	KindInterest           Kind = "interest"
	KindCommitment         Kind = "commitment"
)

// Item is a candidate fact extracted from conversation, not yet persisted.
type Item struct {
	Kind       Kind
	Text       string
	Confidence float64
	Metadata   map[string]any
}

// NewItem creates an Item with no metadata.
func NewItem(kind Kind, text string, confidence float64) Item {
	return Item{Kind: kind, Text: text, Confidence: confidence}
}

// WithMetadata attaches metadata and returns the item.
func (i Item) WithMetadata(meta map[string]any) Item {
	i.Metadata = meta
	return i
}

func (i Item) metaString(key string) (string, bool) {
	v, ok := i.Metadata[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// RelationshipMeta is relationship metadata parsed back out of a person
// record's tags.
type RelationshipMeta struct {
	Name            string
	Relationship    string
	LastMentionedAt int64
	ContextNotes    []string
}

// Store is the intelligence-specific query and storage layer over a
// memory.Repository.
type Store struct {
	repo  *memory.Repository
	clock func() int64
}

// New wraps repo for intelligence-specific storage and queries.
func New(repo *memory.Repository) *Store {
	return &Store{repo: repo, clock: func() int64 { return time.Now().Unix() }}
}

// Repo returns the underlying memory repository.
func (s *Store) Repo() *memory.Repository { return s.repo }

func intelligenceKindToMemoryKind(k Kind) memory.Kind {
	switch k {
	case KindDateEvent:
		return memory.KindEvent
	case KindPersonMention, KindRelationshipSignal:
		return memory.KindPerson
	case KindInterest:
		return memory.KindInterest
	case KindCommitment:
		return memory.KindCommitment
	default:
		return memory.KindFact
	}
}

// StoreItem persists item as a memory record, deriving tags from its kind
// and metadata (date, person name, topic, and a serialized metadata blob).
func (s *Store) StoreItem(item Item, sourceTurnID string) (*memory.Record, error) {
	kind := intelligenceKindToMemoryKind(item.Kind)
	tags := []string{"intelligence:" + string(item.Kind)}

	if date, ok := item.metaString("date_iso"); ok {
		tags = append(tags, "date:"+date)
	}
	if name, ok := item.metaString("name"); ok {
		tags = append(tags, "person:"+name)
	}
	if topic, ok := item.metaString("topic"); ok {
		tags = append(tags, "topic:"+topic)
	}
	if item.Metadata != nil {
		if raw, err := json.Marshal(item.Metadata); err == nil {
			tags = append(tags, "meta:"+string(raw))
		}
	}

	return s.repo.InsertRecord(kind, item.Text, item.Confidence, sourceTurnID, tags)
}

// QueryEvents returns active Event records tagged with a parseable
// "intelligence:date_event" whose date falls within withinDays, sorted by
// creation time. Events with no parseable date are always included.
func (s *Store) QueryEvents(withinDays int) ([]memory.Record, error) {
	records, err := s.repo.ListRecords()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	horizon := now + int64(withinDays)*86400

	var events []memory.Record
	for _, r := range records {
		if r.Kind != memory.KindEvent || r.Status != memory.StatusActive {
			continue
		}
		if !hasTagPrefix(r.Tags, "intelligence:date_event") {
			continue
		}
		if dateStr, ok := extractDateTag(r.Tags); ok {
			eventEpoch, ok := parseDateToEpoch(dateStr)
			if ok && (eventEpoch > horizon || eventEpoch < now-86400) {
				continue
			}
		}
		events = append(events, r)
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt < events[j].CreatedAt })
	return events, nil
}

// QueryPeople returns active Person records.
func (s *Store) QueryPeople() ([]memory.Record, error) {
	return s.filterActive(memory.KindPerson)
}

// QueryInterests returns active Interest records.
func (s *Store) QueryInterests() ([]memory.Record, error) {
	return s.filterActive(memory.KindInterest)
}

// QueryCommitments returns active Commitment records.
func (s *Store) QueryCommitments() ([]memory.Record, error) {
	return s.filterActive(memory.KindCommitment)
}

func (s *Store) filterActive(kind memory.Kind) ([]memory.Record, error) {
	records, err := s.repo.ListRecords()
	if err != nil {
		return nil, err
	}
	var out []memory.Record
	for _, r := range records {
		if r.Kind == kind && r.Status == memory.StatusActive {
			out = append(out, r)
		}
	}
	return out, nil
}

// StaleRelationship pairs a person record with its days-since-last-mention.
type StaleRelationship struct {
	Record memory.Record
	Days   int64
}

// QueryStaleRelationships returns active Person records not updated within
// thresholdDays.
func (s *Store) QueryStaleRelationships(thresholdDays int) ([]StaleRelationship, error) {
	records, err := s.repo.ListRecords()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	thresholdSecs := int64(thresholdDays) * 86400

	var stale []StaleRelationship
	for _, r := range records {
		if r.Kind != memory.KindPerson || r.Status != memory.StatusActive {
			continue
		}
		age := now - r.UpdatedAt
		if age < 0 {
			age = 0
		}
		if age >= thresholdSecs {
			stale = append(stale, StaleRelationship{Record: r, Days: age / 86400})
		}
	}
	return stale, nil
}

// IsDuplicateIntelligence reports whether item matches an existing active
// record of the same kind: an exact normalized-text match, or (for
// DateEvent/PersonMention) a matching date/name in tags.
func (s *Store) IsDuplicateIntelligence(item Item) (bool, error) {
	records, err := s.repo.ListRecords()
	if err != nil {
		return false, err
	}
	targetKind := intelligenceKindToMemoryKind(item.Kind)
	normalizedText := strings.ToLower(strings.TrimSpace(item.Text))

	for _, r := range records {
		if r.Kind != targetKind || r.Status != memory.StatusActive {
			continue
		}
		if strings.ToLower(strings.TrimSpace(r.Text)) == normalizedText {
			return true, nil
		}
		switch item.Kind {
		case KindDateEvent:
			if itemDate, ok := item.metaString("date_iso"); ok {
				if recordDate, ok := extractDateTag(r.Tags); ok && itemDate == recordDate {
					return true, nil
				}
			}
		case KindPersonMention:
			if itemName, ok := item.metaString("name"); ok {
				if recordName, ok := extractPersonTag(r.Tags); ok &&
					strings.EqualFold(itemName, recordName) {
					return true, nil
				}
			}
		}
	}
	return false, nil
}

// UpsertRelationship updates an existing Person record matching name (by
// appending context and bumping its timestamp via supersede-by-copy), or
// creates a new one.
func (s *Store) UpsertRelationship(name, relationship, context string) (*memory.Record, error) {
	records, err := s.repo.ListRecords()
	if err != nil {
		return nil, err
	}
	normalizedName := strings.ToLower(strings.TrimSpace(name))

	for _, r := range records {
		if r.Kind != memory.KindPerson || r.Status != memory.StatusActive {
			continue
		}
		existingName, ok := extractPersonTag(r.Tags)
		if !ok || strings.ToLower(existingName) != normalizedName {
			continue
		}
		newText := r.Text
		if strings.TrimSpace(context) != "" {
			newText = newText + "; " + context
		}
		updated, err := s.repo.PatchRecord(r.ID, newText, "relationship update for "+name)
		if err != nil {
			return nil, err
		}
		return updated, nil
	}

	var text string
	switch {
	case relationship != "" && context != "":
		text = name + " (" + relationship + "): " + context
	case relationship != "":
		text = name + " (" + relationship + ")"
	case context != "":
		text = name + ": " + context
	default:
		text = name
	}
	tags := []string{"intelligence:person_mention", "person:" + name}
	if relationship != "" {
		tags = append(tags, "relationship:"+relationship)
	}
	return s.repo.InsertRecord(memory.KindPerson, text, 0.80, "", tags)
}

// ParseRelationshipMeta extracts relationship metadata from a Person
// record's tags, or returns (zero, false) if record isn't a Person or
// lacks a person tag.
func ParseRelationshipMeta(record memory.Record) (RelationshipMeta, bool) {
	if record.Kind != memory.KindPerson {
		return RelationshipMeta{}, false
	}
	name, ok := extractPersonTag(record.Tags)
	if !ok {
		return RelationshipMeta{}, false
	}
	var relationship string
	for _, t := range record.Tags {
		if strings.HasPrefix(t, "relationship:") {
			relationship = strings.TrimPrefix(t, "relationship:")
			break
		}
	}
	return RelationshipMeta{
		Name:            name,
		Relationship:    relationship,
		LastMentionedAt: record.UpdatedAt,
		ContextNotes:    []string{record.Text},
	}, true
}

func extractDateTag(tags []string) (string, bool) {
	for _, t := range tags {
		if strings.HasPrefix(t, "date:") {
			return strings.TrimPrefix(t, "date:"), true
		}
	}
	return "", false
}

func extractPersonTag(tags []string) (string, bool) {
	for _, t := range tags {
		if strings.HasPrefix(t, "person:") {
			return strings.TrimPrefix(t, "person:"), true
		}
	}
	return "", false
}

func hasTagPrefix(tags []string, prefix string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			return true
		}
	}
	return false
}

// parseDateToEpoch parses an ISO "YYYY-MM-DD" date to epoch seconds at
// start of day UTC, or (0, false) if malformed.
func parseDateToEpoch(dateStr string) (int64, bool) {
	parts := strings.Split(dateStr, "-")
	if len(parts) != 3 {
		return 0, false
	}
	year, month, day, ok := parseYMD(parts)
	if !ok {
		return 0, false
	}
	days, ok := daysFromEpoch(year, month, day)
	if !ok {
		return 0, false
	}
	return days * 86400, true
}

func parseYMD(parts []string) (year int64, month, day int, ok bool) {
	y, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	m, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	d, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, 0, 0, false
	}
	if m < 1 || m > 12 || d < 1 || d > 31 || y < 1970 {
		return 0, 0, 0, false
	}
	return y, int(m), int(d), true
}

// daysFromEpoch implements Howard Hinnant's days-from-civil algorithm:
// days since 1970-01-01 for a given proleptic Gregorian (year, month, day).
func daysFromEpoch(year int64, month, day int) (int64, bool) {
	y := year
	if month <= 2 {
		y--
	}
	m := int64(month)
	if month <= 2 {
		m += 12
	}
	era := y / 400
	if y < 0 && y%400 != 0 {
		era--
	}
	yoe := y - era*400
	doy := (153*(m-3)+2)/5 + int64(day) - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	days := era*146097 + doe - 719468
	return days, true
}
