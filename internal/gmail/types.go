package gmail

import (
	"strconv"
	"time"
)

// Format selects the detail level for a message fetch.
type Format string

const (
	FormatMinimal  Format = "minimal"
	FormatFull     Format = "full"
	FormatRaw      Format = "raw"
	FormatMetadata Format = "metadata"
)

// MessageRef is the minimal record returned by a list call.
type MessageRef struct {
	ID       string
	ThreadID string
}

// ListPage is one page of a paginated list call.
type ListPage struct {
	Refs          []MessageRef
	NextPageToken string
}

// Header is a single RFC 822 header on a message part.
type Header struct {
	Name  string
	Value string
}

// Body carries the payload of a message part. Data is empty for parts
// whose content lives behind an attachment id.
type Body struct {
	AttachmentID string
	Size         int64
	Data         []byte
}

// Part is one node of a message's MIME tree.
type Part struct {
	PartID   string
	MimeType string
	Filename string
	Headers  []Header
	Body     Body
	Parts    []*Part
}

// Walk visits p and every nested part, depth first.
func (p *Part) Walk(visit func(*Part)) {
	if p == nil {
		return
	}
	visit(p)
	for _, child := range p.Parts {
		child.Walk(visit)
	}
}

// Message is an in-memory Gmail message record. It starts as the
// {id, threadId} pair returned by search and is enriched in place by
// pipeline stages via Merge. LabelIDs always hold canonical label ids,
// never display names.
type Message struct {
	ID           string
	ThreadID     string
	HistoryID    string
	InternalDate string // epoch millis, provider-assigned, as returned on the wire
	LabelIDs     []string
	SizeEstimate int64
	Snippet      string
	Payload      *Part
	Raw          []byte
}

// NewMessage constructs a minimal message record from a search result.
func NewMessage(ref MessageRef) *Message {
	return &Message{ID: ref.ID, ThreadID: ref.ThreadID}
}

// Merge copies the known fields of patch onto m. Only non-zero fields are
// taken, so a minimal refresh does not clear content fetched earlier.
// Unknown provider response fields never reach the record.
func (m *Message) Merge(patch Message) {
	if patch.ThreadID != "" {
		m.ThreadID = patch.ThreadID
	}
	if patch.HistoryID != "" {
		m.HistoryID = patch.HistoryID
	}
	if patch.InternalDate != "" {
		m.InternalDate = patch.InternalDate
	}
	if patch.LabelIDs != nil {
		m.LabelIDs = append([]string(nil), patch.LabelIDs...)
	}
	if patch.SizeEstimate != 0 {
		m.SizeEstimate = patch.SizeEstimate
	}
	if patch.Snippet != "" {
		m.Snippet = patch.Snippet
	}
	if patch.Payload != nil {
		m.Payload = patch.Payload
	}
	if patch.Raw != nil {
		m.Raw = patch.Raw
	}
}

// HasLabel reports whether the canonical label id is present on the record.
func (m *Message) HasLabel(labelID string) bool {
	for _, id := range m.LabelIDs {
		if id == labelID {
			return true
		}
	}
	return false
}

// SentAt converts the provider-assigned internal date to a time.Time.
// Returns the zero time when no internal date has been fetched yet.
func (m *Message) SentAt() time.Time {
	if m.InternalDate == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(m.InternalDate, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// HeaderValue returns the first value of the named header on the top-level
// payload, or "" when the header or the payload is absent.
func (m *Message) HeaderValue(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, h := range m.Payload.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

// Label is a Gmail label with its color and visibility metadata.
type Label struct {
	ID                    string
	Name                  string
	TextColor             string
	BackgroundColor       string
	LabelListVisibility   string
	MessageListVisibility string
}

// HistoryEntry is one change-history record. ID is the entry's
// change-sequence-number; AddedIDs are the message ids added at that point.
type HistoryEntry struct {
	ID       string
	AddedIDs []string
}

// HistoryPage is one page of a history-since-cursor call.
type HistoryPage struct {
	Entries       []HistoryEntry
	NextPageToken string
}

// WatchInfo is the provider's response to a push-notification registration.
type WatchInfo struct {
	HistoryID  string
	Expiration time.Time
}
