// Package classify binds rule queries to execution plans and schedules
// their runs.
package classify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"mailflow/internal/gmail"
	"mailflow/internal/pipeline"
)

// Classifier binds one rule's query to its execution plan. It holds no
// run state; registrations live in the scheduler's store.
type Classifier struct {
	Name  string
	Query string
	Plan  *pipeline.Plan
}

// NewClassifier trims the name and query the way registrations are keyed.
func NewClassifier(name, query string, plan *pipeline.Plan) *Classifier {
	return &Classifier{
		Name:  strings.TrimSpace(name),
		Query: strings.TrimSpace(query),
		Plan:  plan,
	}
}

// Classify searches for all messages matching the rule's query (bounded
// below by after when set), builds one in-memory record per match and
// runs the plan once against the whole batch. The returned batch carries
// whatever enrichment the stages applied.
func (cl *Classifier) Classify(ctx context.Context, c gmail.Client, userID string, after time.Time) ([]*gmail.Message, error) {
	query := cl.Query
	if !after.IsZero() {
		query = strings.TrimSpace(query + " after:" + strconv.FormatInt(after.Unix(), 10))
	}
	refs, err := gmail.SearchIDs(ctx, c, userID, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	batch := make([]*gmail.Message, len(refs))
	for i, ref := range refs {
		batch[i] = gmail.NewMessage(ref)
	}
	if err := cl.Plan.Run(ctx, c, userID, batch); err != nil {
		return batch, err
	}
	return batch, nil
}
