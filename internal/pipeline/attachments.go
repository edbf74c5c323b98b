package pipeline

import (
	"context"
	"fmt"
	"time"

	"mailflow/internal/gmail"
)

// Attachment is the decoded artifact handed to a sink. It is derived from
// a message part and never persisted by this package itself.
type Attachment struct {
	Filename  string
	MessageID string
	SentAt    time.Time
	Data      []byte
}

// Filter decides whether a message part's attachment should be fetched.
type Filter func(*gmail.Part) bool

// Sink receives each decoded attachment, e.g. a local directory or an
// object-storage bucket.
type Sink interface {
	Save(ctx context.Context, att Attachment) error
}

// DownloadAttachments walks every fetched message's part tree, fetches
// the attachment bytes for each part that carries an attachment id and
// passes the filter, and forwards the decoded attachment to the sink.
// The plan rejects this stage at build time unless a full content fetch
// precedes it; the payload is re-checked here against misuse through a
// hand-built stage list.
func DownloadAttachments(filter Filter, sink Sink) Stage {
	if filter == nil {
		filter = func(*gmail.Part) bool { return true }
	}
	run := func(ctx context.Context, c gmail.Client, userID string, batch []*gmail.Message) error {
		for _, msg := range batch {
			if msg.Payload == nil {
				return fmt.Errorf("message %s: %w", msg.ID, ErrContentNotFetched)
			}
			var stageErr error
			msg.Payload.Walk(func(p *gmail.Part) {
				if stageErr != nil || p.Body.AttachmentID == "" || !filter(p) {
					return
				}
				data, err := c.GetAttachment(ctx, userID, msg.ID, p.Body.AttachmentID)
				if err != nil {
					stageErr = fmt.Errorf("attachment %s of message %s: %w", p.Filename, msg.ID, err)
					return
				}
				att := Attachment{
					Filename:  p.Filename,
					MessageID: msg.ID,
					SentAt:    msg.SentAt(),
					Data:      data,
				}
				if err := sink.Save(ctx, att); err != nil {
					stageErr = fmt.Errorf("save %s: %w", p.Filename, err)
				}
			})
			if stageErr != nil {
				return stageErr
			}
		}
		return nil
	}
	return Stage{Name: "download-attachments", requires: []string{capContent}, run: run}
}
