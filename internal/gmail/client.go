package gmail

import "context"

// Client is the narrow Gmail surface required by mailflow.
//
// GetMessages is a coalesced batch call: a failure for any requested id
// fails the whole call, so callers never observe a partially enriched
// batch. GetAttachment returns the attachment bytes already decoded from
// the provider's transport encoding.
type Client interface {
	ListMessages(ctx context.Context, userID, query, pageToken string, pageSize int64) (ListPage, error)
	GetMessages(ctx context.Context, userID string, ids []string, format Format) ([]Message, error)
	BatchModify(ctx context.Context, userID string, ids, addLabelIDs, removeLabelIDs []string) error
	BatchTrash(ctx context.Context, userID string, ids []string) error
	BatchUntrash(ctx context.Context, userID string, ids []string) error
	ListLabels(ctx context.Context, userID string) ([]Label, error)
	CreateLabel(ctx context.Context, userID string, label Label) (Label, error)
	GetAttachment(ctx context.Context, userID, messageID, attachmentID string) ([]byte, error)
	HistorySince(ctx context.Context, userID, startHistoryID, pageToken string) (HistoryPage, error)
	Watch(ctx context.Context, userID, topicName string) (WatchInfo, error)
	StopWatch(ctx context.Context, userID string) error
}
