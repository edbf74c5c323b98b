package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mailflow/internal/gmail"
)

// batchModify accepts at most 1000 ids per call.
const maxModifyChunk = 1000

// FetchContent enriches every message in the batch at the given detail
// level through one coalesced batch get. A failure for any single message
// fails the stage: downstream stages assume a fully enriched batch.
func FetchContent(format gmail.Format) Stage {
	var provides []string
	if format == gmail.FormatFull {
		provides = []string{capContent}
	}
	return Stage{
		Name:     "fetch-content-" + string(format),
		provides: provides,
		run:      fetchInto(format),
	}
}

func fetchInto(format gmail.Format) StageFunc {
	return func(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error {
		if len(batch) == 0 {
			return nil
		}
		ids := messageIDs(batch)
		fetched, err := c.GetMessages(ctx, userID, ids, format)
		if err != nil {
			return err
		}
		byID := make(map[string]gmail.Message, len(fetched))
		for _, m := range fetched {
			byID[m.ID] = m
		}
		for _, msg := range batch {
			patch, ok := byID[msg.ID]
			if !ok {
				return fmt.Errorf("message %s missing from batch response", msg.ID)
			}
			msg.Merge(patch)
		}
		return nil
	}
}

// ManageLabels adds and removes label ids across the whole batch in one
// coalesced modify call (chunked at the provider's id limit). Every id to
// be added must already exist remotely; removals are not validated since
// removing an absent label is a provider-side no-op. The plan appends a
// minimal refresh after this stage because a modify response does not
// include the resulting label sets.
func ManageLabels(addLabelIDs, removeLabelIDs []string) Stage {
	run := func(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error {
		if len(batch) == 0 {
			return nil
		}
		if len(addLabelIDs) > 0 {
			labels, err := c.ListLabels(ctx, userID)
			if err != nil {
				return fmt.Errorf("list labels: %w", err)
			}
			known := make(map[string]bool, len(labels))
			for _, l := range labels {
				known[l.ID] = true
			}
			for _, id := range addLabelIDs {
				if !known[id] {
					return fmt.Errorf("label %s: %w", id, ErrLabelNotFound)
				}
			}
		}
		ids := messageIDs(batch)
		for start := 0; start < len(ids); start += maxModifyChunk {
			end := min(start+maxModifyChunk, len(ids))
			if err := c.BatchModify(ctx, userID, ids[start:end], addLabelIDs, removeLabelIDs); err != nil {
				return err
			}
		}
		return nil
	}
	return Stage{Name: "manage-labels", refresh: true, run: run}
}

// refreshStage re-fetches minimal state so in-memory label sets reflect
// a preceding mutation.
func refreshStage() Stage {
	return Stage{Name: "refresh-minimal", run: fetchInto(gmail.FormatMinimal)}
}

// Trash moves the whole batch to the trash. Trashed messages only match
// later queries that include "in:trash".
func Trash() Stage {
	return Stage{
		Name:    "trash",
		refresh: true,
		run: func(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error {
			if len(batch) == 0 {
				return nil
			}
			return c.BatchTrash(ctx, userID, messageIDs(batch))
		},
	}
}

// Untrash restores the whole batch from the trash.
func Untrash() Stage {
	return Stage{
		Name:    "untrash",
		refresh: true,
		run: func(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error {
			if len(batch) == 0 {
				return nil
			}
			return c.BatchUntrash(ctx, userID, messageIDs(batch))
		},
	}
}

// SaveJSON writes every enriched message as an indented JSON document
// under dir, one file per message id. Requires a prior full content fetch.
func SaveJSON(dir string) Stage {
	return Stage{
		Name:     "save-json",
		requires: []string{capContent},
		run: func(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
			for _, msg := range batch {
				if msg.Payload == nil {
					return fmt.Errorf("message %s: %w", msg.ID, ErrContentNotFetched)
				}
				data, err := json.MarshalIndent(msg, "", "  ")
				if err != nil {
					return fmt.Errorf("encode message %s: %w", msg.ID, err)
				}
				path := filepath.Join(dir, msg.ID+".json")
				if err := os.WriteFile(path, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
			}
			return nil
		},
	}
}

func messageIDs(batch []*gmail.Message) []string {
	ids := make([]string, len(batch))
	for i, msg := range batch {
		ids[i] = msg.ID
	}
	return ids
}
