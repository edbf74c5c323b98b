// Package labels reconciles the locally declared label list into the
// remote account.
package labels

import (
	"context"
	"fmt"
	"log/slog"

	"mailflow/internal/gmail"
	"mailflow/internal/store"
)

// SpecStore lists the declarative labels to reconcile.
type SpecStore interface {
	ListLabelSpecs(ctx context.Context) ([]store.LabelSpec, error)
}

// Reconcile creates every declared label whose name is missing remotely.
// Remote labels absent from the local list are never deleted. The
// returned map carries every remote label name to its canonical id, which
// is what rules must reference.
func Reconcile(ctx context.Context, c gmail.Client, specs SpecStore, userID string, logger *slog.Logger) (map[string]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	remote, err := c.ListLabels(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list remote labels: %w", err)
	}
	byName := make(map[string]string, len(remote))
	for _, l := range remote {
		byName[l.Name] = l.ID
	}

	declared, err := specs.ListLabelSpecs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list declared labels: %w", err)
	}
	for _, spec := range declared {
		if _, ok := byName[spec.Name]; ok {
			continue
		}
		logger.InfoContext(ctx, "creating label", "name", spec.Name)
		created, err := c.CreateLabel(ctx, userID, gmail.Label{
			Name:                  spec.Name,
			TextColor:             spec.TextColor,
			BackgroundColor:       spec.BackgroundColor,
			LabelListVisibility:   spec.LabelListVisibility,
			MessageListVisibility: spec.MessageListVisibility,
		})
		if err != nil {
			return nil, err
		}
		byName[created.Name] = created.ID
	}
	return byName, nil
}
