package classify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mailflow/internal/gmail"
	"mailflow/internal/store"
)

// RuleStore is the slice of persistence the scheduler needs.
type RuleStore interface {
	UpsertRule(ctx context.Context, r store.Rule) error
	GetRule(ctx context.Context, name string) (store.Rule, error)
	SetLastRun(ctx context.Context, name string, at time.Time) error
}

const (
	defaultLookback = 30 * 24 * time.Hour
	defaultWorkers  = 4
)

// Scheduler runs registered rules with per-rule lookback windows derived
// from their last successful run. Rules within one pass run concurrently
// under a bounded worker cap; one rule's failure never aborts its
// siblings or the pass.
type Scheduler struct {
	Store  RuleStore
	Client gmail.Client
	Log    *slog.Logger
	Clock  func() time.Time

	// Lookback bounds the first run of a rule that has never completed.
	Lookback time.Duration
	// Workers caps concurrent rule executions within one pass.
	Workers int
}

// NewScheduler constructs a Scheduler with sane defaults.
func NewScheduler(st RuleStore, client gmail.Client, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		Store:    st,
		Client:   client,
		Log:      logger,
		Clock:    time.Now,
		Lookback: defaultLookback,
		Workers:  defaultWorkers,
	}
}

// Pass runs every eligible rule once. Each rule's registration is looked
// up or created first; deprecated rules are skipped. The last-run
// timestamp is recorded only after the rule's pipeline completed without
// error, so a failed run is retried over the same window next pass.
func (s *Scheduler) Pass(ctx context.Context, userID string, rules []*Classifier) {
	workers := s.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for _, cl := range rules {
		reg, err := s.register(ctx, cl)
		if err != nil {
			s.Log.ErrorContext(ctx, "rule registration failed", "rule", cl.Name, "error", err)
			continue
		}
		if reg.Deprecated {
			s.Log.DebugContext(ctx, "skipping deprecated rule", "rule", cl.Name)
			continue
		}

		after := s.Clock().Add(-s.Lookback)
		if reg.LastRun != nil {
			after = *reg.LastRun
		}

		wg.Add(1)
		go func(cl *Classifier, after time.Time) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			s.runRule(ctx, userID, cl, after)
		}(cl, after)
	}
	wg.Wait()
}

func (s *Scheduler) runRule(ctx context.Context, userID string, cl *Classifier, after time.Time) {
	started := s.Clock()
	batch, err := cl.Classify(ctx, s.Client, userID, after)
	if err != nil {
		s.Log.ErrorContext(ctx, "rule failed",
			"rule", cl.Name, "batch_size", len(batch), "error", err)
		return
	}
	if err := s.Store.SetLastRun(ctx, cl.Name, started); err != nil {
		s.Log.ErrorContext(ctx, "recording last run failed", "rule", cl.Name, "error", err)
		return
	}
	s.Log.InfoContext(ctx, "rule completed", "rule", cl.Name, "matched", len(batch))
}

// register returns the persisted registration for the rule, creating or
// re-keying it on first sight. Classifiers never write their own
// registration.
func (s *Scheduler) register(ctx context.Context, cl *Classifier) (store.Rule, error) {
	reg, err := s.Store.GetRule(ctx, cl.Name)
	if errors.Is(err, store.ErrNotFound) {
		reg = store.Rule{Name: cl.Name, Query: cl.Query}
		if err := s.Store.UpsertRule(ctx, reg); err != nil {
			return store.Rule{}, err
		}
		return reg, nil
	}
	if err != nil {
		return store.Rule{}, err
	}
	if reg.Query != cl.Query {
		reg.Query = cl.Query
		if err := s.Store.UpsertRule(ctx, reg); err != nil {
			return store.Rule{}, err
		}
	}
	return reg, nil
}
