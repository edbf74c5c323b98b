package classify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mailflow/internal/gmail"
	"mailflow/internal/pipeline"
	"mailflow/internal/store"
)

type memRuleStore struct {
	mu    sync.Mutex
	rules map[string]store.Rule
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{rules: map[string]store.Rule{}}
}

func (m *memRuleStore) UpsertRule(_ context.Context, r store.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rules[r.Name]; ok {
		existing.Query = r.Query
		m.rules[r.Name] = existing
		return nil
	}
	m.rules[r.Name] = r
	return nil
}

func (m *memRuleStore) GetRule(_ context.Context, name string) (store.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[name]
	if !ok {
		return store.Rule{}, fmt.Errorf("rule %s: %w", name, store.ErrNotFound)
	}
	return r, nil
}

func (m *memRuleStore) SetLastRun(_ context.Context, name string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[name]
	if !ok {
		return fmt.Errorf("rule %s: %w", name, store.ErrNotFound)
	}
	r.LastRun = &at
	m.rules[name] = r
	return nil
}

func (m *memRuleStore) lastRun(name string) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rules[name].LastRun
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testScheduler(st RuleStore, client gmail.Client) *Scheduler {
	s := NewScheduler(st, client, slogDiscard())
	s.Clock = func() time.Time { return time.Unix(1700000000, 0) }
	s.Lookback = 24 * time.Hour
	return s
}

func labelRule(name string) *Classifier {
	return NewClassifier(name, "from:"+name, pipeline.MustPlan(pipeline.ManageLabels([]string{"L1"}, nil)))
}

func TestPassRegistersAndRecordsLastRun(t *testing.T) {
	st := newMemRuleStore()
	fake := newFakeClient("m1")
	s := testScheduler(st, fake)

	s.Pass(context.Background(), "me", []*Classifier{labelRule("Billing")})

	got := st.lastRun("Billing")
	if got == nil {
		t.Fatalf("last run not recorded")
	}
	if !got.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("last run %v, want pass start", got)
	}
}

func TestPassSkipsDeprecatedRules(t *testing.T) {
	st := newMemRuleStore()
	at := time.Unix(1600000000, 0)
	st.rules["Old"] = store.Rule{Name: "Old", Query: "from:Old", Deprecated: true, DeprecatedAt: &at}
	fake := newFakeClient("m1")
	s := testScheduler(st, fake)

	s.Pass(context.Background(), "me", []*Classifier{labelRule("Old")})

	if len(fake.queries) != 0 {
		t.Fatalf("deprecated rule still searched: %v", fake.queries)
	}
	if st.lastRun("Old") != nil {
		t.Fatalf("deprecated rule recorded a run")
	}
}

func TestPassUsesLookbackOnFirstRun(t *testing.T) {
	st := newMemRuleStore()
	fake := newFakeClient()
	s := testScheduler(st, fake)

	s.Pass(context.Background(), "me", []*Classifier{labelRule("Fresh")})

	want := fmt.Sprintf("after:%d", time.Unix(1700000000, 0).Add(-24*time.Hour).Unix())
	if len(fake.queries) != 1 || !strings.Contains(fake.queries[0], want) {
		t.Fatalf("query %v missing lookback bound %s", fake.queries, want)
	}
}

func TestPassResumesFromLastRun(t *testing.T) {
	st := newMemRuleStore()
	last := time.Unix(1699990000, 0)
	st.rules["Billing"] = store.Rule{Name: "Billing", Query: "from:Billing", LastRun: &last}
	fake := newFakeClient()
	s := testScheduler(st, fake)

	s.Pass(context.Background(), "me", []*Classifier{labelRule("Billing")})

	if len(fake.queries) != 1 || !strings.Contains(fake.queries[0], "after:1699990000") {
		t.Fatalf("query %v not bounded by last run", fake.queries)
	}
}

func TestPassFailureKeepsLastRunAndSiblingsRun(t *testing.T) {
	st := newMemRuleStore()
	fake := newFakeClient("m1")
	s := testScheduler(st, fake)

	// L404 does not exist remotely, so this rule's pipeline fails.
	failing := NewClassifier("Broken", "from:broken",
		pipeline.MustPlan(pipeline.ManageLabels([]string{"L404"}, nil)))

	s.Pass(context.Background(), "me", []*Classifier{failing, labelRule("Billing")})

	if st.lastRun("Broken") != nil {
		t.Fatalf("failed rule must not be marked up to date")
	}
	if st.lastRun("Billing") == nil {
		t.Fatalf("sibling rule did not complete")
	}
}

func TestPassBoundsConcurrency(t *testing.T) {
	st := newMemRuleStore()
	fake := newFakeClient()
	s := testScheduler(st, fake)
	s.Workers = 1

	var rules []*Classifier
	for i := 0; i < 5; i++ {
		rules = append(rules, labelRule(fmt.Sprintf("Rule%d", i)))
	}
	s.Pass(context.Background(), "me", rules)

	if len(fake.queries) != 5 {
		t.Fatalf("expected all 5 rules to run, got %d", len(fake.queries))
	}
}
