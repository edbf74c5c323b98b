// Package pipeline turns a rule's declarative action list into a fixed
// sequence of coalesced remote batch calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"mailflow/internal/gmail"
)

var (
	// ErrStageOrder is returned by NewPlan when a stage is listed before
	// one of its required predecessors.
	ErrStageOrder = errors.New("stage ordering violation")

	// ErrLabelNotFound is returned when a label id to be added does not
	// exist on the remote account.
	ErrLabelNotFound = errors.New("label not found")

	// ErrContentNotFetched is returned when a stage needs message content
	// that no prior stage has fetched.
	ErrContentNotFetched = errors.New("message content not fetched")

	// ErrObjectExists is returned by sinks instead of overwriting.
	ErrObjectExists = errors.New("object already exists")
)

// Capability tags used to validate stage ordering at build time.
const capContent = "content"

// StageFunc performs one coalesced remote batch call for the whole
// message batch and merges the result back onto the in-memory records.
type StageFunc func(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error

// Stage is one descriptor in an execution plan.
type Stage struct {
	Name     string
	provides []string
	requires []string
	refresh  bool // stage invalidates in-memory label state; re-fetch after it
	run      StageFunc
}

// Plan is an immutable ordered list of stages. Stages run strictly
// sequentially; the first failure aborts the remainder. Mutations already
// applied by earlier stages are not rolled back.
type Plan struct {
	stages []Stage
}

// NewPlan validates the stage list and freezes it. Required predecessor
// stages (for example a content fetch before an attachment download) are
// checked here rather than at run time, so a misordered rule fails on
// startup instead of mid-batch. Stages that mutate remote label state get
// a minimal refresh appended so in-memory label sets stay accurate.
func NewPlan(stages ...Stage) (*Plan, error) {
	provided := make(map[string]bool)
	expanded := make([]Stage, 0, len(stages))
	for _, st := range stages {
		for _, req := range st.requires {
			if !provided[req] {
				return nil, fmt.Errorf("stage %s requires a prior stage providing %s: %w", st.Name, req, ErrStageOrder)
			}
		}
		for _, cap := range st.provides {
			provided[cap] = true
		}
		expanded = append(expanded, st)
		if st.refresh {
			expanded = append(expanded, refreshStage())
		}
	}
	return &Plan{stages: expanded}, nil
}

// MustPlan is NewPlan for statically declared rule lists.
func MustPlan(stages ...Stage) *Plan {
	p, err := NewPlan(stages...)
	if err != nil {
		panic(err)
	}
	return p
}

// Run executes every stage in order against the batch.
func (p *Plan) Run(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error {
	for _, st := range p.stages {
		if err := st.run(ctx, c, userID, batch); err != nil {
			return fmt.Errorf("stage %s: %w", st.Name, err)
		}
	}
	return nil
}

// StageNames lists the effective stage order, including appended
// refresh stages.
func (p *Plan) StageNames() []string {
	names := make([]string, len(p.stages))
	for i, st := range p.stages {
		names[i] = st.Name
	}
	return names
}
