package intelligence

import "testing"

func TestCreateResearchTasksWithPolicyFiltersRecent(t *testing.T) {
	s := openTestStore(t)
	policy := ResearchPolicy{FreshnessDays: 7, MaxDailyTasks: 10}

	if _, err := s.StoreResearchResult("rust async runtimes", "summary", nil); err != nil {
		t.Fatalf("store research result: %v", err)
	}

	tasks, err := s.CreateResearchTasksWithPolicy([]string{"rust async runtimes", "go generics"}, policy)
	if err != nil {
		t.Fatalf("create tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Topic != "go generics" {
		t.Fatalf("got %+v, want only the un-researched topic", tasks)
	}
}

func TestCreateResearchTasksWithPolicyCapsDailyTasks(t *testing.T) {
	s := openTestStore(t)
	policy := ResearchPolicy{FreshnessDays: 7, MaxDailyTasks: 2}

	topics := []string{"a", "b", "c", "d"}
	tasks, err := s.CreateResearchTasksWithPolicy(topics, policy)
	if err != nil {
		t.Fatalf("create tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want 2 (capped at max_daily_tasks)", len(tasks))
	}
	if tasks[0].Topic != "a" || tasks[1].Topic != "b" {
		t.Fatalf("got %+v, want first two topics in order", tasks)
	}
}

func TestCreateResearchTasksWithPolicyEmptyTopics(t *testing.T) {
	s := openTestStore(t)
	tasks, err := s.CreateResearchTasksWithPolicy(nil, DefaultResearchPolicy())
	if err != nil {
		t.Fatalf("create tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("got %d tasks, want 0", len(tasks))
	}
}
