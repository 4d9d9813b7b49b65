package intelligence

import (
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/saorsa-labs/fae/internal/memory"
)

// DefaultFreshnessDays is how long a research result stays fresh before a
// topic is eligible for re-research.
const DefaultFreshnessDays = 7

// MaxDailyResearch bounds how many research tasks run per day.
const MaxDailyResearch = 3

// ResearchPolicyRelativePath is where a ResearchPolicy override lives
// relative to the skills root.
const ResearchPolicyRelativePath = "skills/intelligence/research-policy.toml"

// ResearchTask is a single topic queued for background research.
type ResearchTask struct {
	Topic         string
	SourceID      string
	FreshnessDays int
}

// NewResearchTask creates a task with the default freshness window.
func NewResearchTask(topic string) ResearchTask {
	return ResearchTask{Topic: topic, FreshnessDays: DefaultFreshnessDays}
}

// WithSource attaches a source record id.
func (t ResearchTask) WithSource(sourceID string) ResearchTask {
	t.SourceID = sourceID
	return t
}

// WithFreshnessDays overrides the freshness window.
func (t ResearchTask) WithFreshnessDays(days int) ResearchTask {
	t.FreshnessDays = days
	return t
}

// ResearchPolicy configures the background research scheduler.
type ResearchPolicy struct {
	FreshnessDays int `toml:"freshness_days"`
	MaxDailyTasks int `toml:"max_daily_tasks"`
}

// DefaultResearchPolicy matches the built-in defaults.
func DefaultResearchPolicy() ResearchPolicy {
	return ResearchPolicy{FreshnessDays: DefaultFreshnessDays, MaxDailyTasks: MaxDailyResearch}
}

// LoadResearchPolicy reads a ResearchPolicy from a TOML file at path,
// falling back to defaults for any field the file omits. A missing file
// yields the default policy.
func LoadResearchPolicy(path string) (ResearchPolicy, error) {
	policy := DefaultResearchPolicy()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return policy, nil
	}
	if err != nil {
		return ResearchPolicy{}, err
	}
	if _, err := toml.Decode(string(data), &policy); err != nil {
		return ResearchPolicy{}, err
	}
	return policy, nil
}

// HasRecentResearch reports whether an active Fact record tagged "research"
// and "topic:<topic>" was updated within maxAgeDays.
func (s *Store) HasRecentResearch(topic string, maxAgeDays int) (bool, error) {
	records, err := s.repo.ListRecords()
	if err != nil {
		return false, err
	}
	now := s.clock()
	maxAgeSecs := int64(maxAgeDays) * 86400
	normalizedTopic := strings.ToLower(topic)

	for _, r := range records {
		if r.Kind != memory.KindFact || r.Status != memory.StatusActive {
			continue
		}
		if !hasTagPrefix(r.Tags, "research") {
			continue
		}
		recordTopic, ok := extractTopicTag(r.Tags)
		if !ok || strings.ToLower(recordTopic) != normalizedTopic {
			continue
		}
		if now-r.UpdatedAt <= maxAgeSecs {
			return true, nil
		}
	}
	return false, nil
}

// CreateResearchTasksWithPolicy filters topics down to ones without recent
// research (per policy.FreshnessDays) and caps the result at
// policy.MaxDailyTasks, composing HasRecentResearch with the daily-task
// ceiling into the single batch-creation operation the scheduler calls.
func (s *Store) CreateResearchTasksWithPolicy(topics []string, policy ResearchPolicy) ([]ResearchTask, error) {
	var tasks []ResearchTask
	for _, topic := range topics {
		if policy.MaxDailyTasks > 0 && len(tasks) >= policy.MaxDailyTasks {
			break
		}
		recent, err := s.HasRecentResearch(topic, policy.FreshnessDays)
		if err != nil {
			return nil, err
		}
		if recent {
			continue
		}
		tasks = append(tasks, NewResearchTask(topic).WithFreshnessDays(policy.FreshnessDays))
	}
	return tasks, nil
}

// StoreResearchResult persists a research finding as a Fact record tagged
// with its topic and any source URLs.
func (s *Store) StoreResearchResult(topic, summary string, sourceURLs []string) (*memory.Record, error) {
	tags := []string{"research", "topic:" + topic, "intelligence:research"}
	for _, url := range sourceURLs {
		tags = append(tags, "source_url:"+url)
	}
	return s.repo.InsertRecord(memory.KindFact, summary, 0.70, "", tags)
}

// GatherRecentResearch returns Fact records tagged "research" updated
// within withinDays, most-recent first.
func (s *Store) GatherRecentResearch(withinDays int) ([]memory.Record, error) {
	records, err := s.repo.ListRecords()
	if err != nil {
		return nil, err
	}
	now := s.clock()
	withinSecs := int64(withinDays) * 86400

	var results []memory.Record
	for _, r := range records {
		if r.Kind != memory.KindFact || r.Status != memory.StatusActive {
			continue
		}
		if !hasTagPrefix(r.Tags, "research") {
			continue
		}
		if now-r.UpdatedAt <= withinSecs {
			results = append(results, r)
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].UpdatedAt > results[j].UpdatedAt })
	return results, nil
}

func extractTopicTag(tags []string) (string, bool) {
	for _, t := range tags {
		if strings.HasPrefix(t, "topic:") {
			return strings.TrimPrefix(t, "topic:"), true
		}
	}
	return "", false
}
