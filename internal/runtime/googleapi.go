// Package runtime adapts the generated Gmail API client to the narrow
// interface the rest of mailflow depends on.
package runtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	gmailv1 "google.golang.org/api/gmail/v1"

	gc "mailflow/internal/gmail"
	"mailflow/internal/rate"
)

// Concurrent in-flight gets inside one coalesced batch fetch.
const batchGetWorkers = 8

type googleClient struct {
	svc     *gmailv1.Service
	limiter rate.Limiter
}

// NewGoogleAPIClient wraps svc. Every outbound call waits on limiter first.
func NewGoogleAPIClient(svc *gmailv1.Service, limiter rate.Limiter) gc.Client {
	if limiter == nil {
		limiter = rate.None{}
	}
	return &googleClient{svc: svc, limiter: limiter}
}

func (g *googleClient) ListMessages(ctx context.Context, userID, query, pageToken string, pageSize int64) (gc.ListPage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return gc.ListPage{}, err
	}
	call := g.svc.Users.Messages.List(userID).Q(query).MaxResults(pageSize)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, err
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.Refs = append(page.Refs, gc.MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	return page, nil
}

// GetMessages coalesces one fetch for the whole id set. The generated
// client has no batch HTTP endpoint, so the calls fan out over a bounded
// worker set; the first failure cancels the rest and fails the batch.
func (g *googleClient) GetMessages(ctx context.Context, userID string, ids []string, format gc.Format) ([]gc.Message, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make([]gc.Message, len(ids))
	sem := make(chan struct{}, batchGetWorkers)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			if err := g.limiter.Wait(ctx); err != nil {
				fail(err)
				return
			}
			res, err := g.svc.Users.Messages.Get(userID, id).Format(string(format)).Context(ctx).Do()
			if err != nil {
				fail(fmt.Errorf("get message %s: %w", id, err))
				return
			}
			msg, err := fromAPIMessage(res)
			if err != nil {
				fail(fmt.Errorf("decode message %s: %w", id, err))
				return
			}
			out[i] = msg
		}(i, id)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (g *googleClient) BatchModify(ctx context.Context, userID string, ids, addLabelIDs, removeLabelIDs []string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	req := &gmailv1.BatchModifyMessagesRequest{
		Ids:            ids,
		AddLabelIds:    addLabelIDs,
		RemoveLabelIds: removeLabelIDs,
	}
	return g.svc.Users.Messages.BatchModify(userID, req).Context(ctx).Do()
}

func (g *googleClient) BatchTrash(ctx context.Context, userID string, ids []string) error {
	for _, id := range ids {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := g.svc.Users.Messages.Trash(userID, id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("trash message %s: %w", id, err)
		}
	}
	return nil
}

func (g *googleClient) BatchUntrash(ctx context.Context, userID string, ids []string) error {
	for _, id := range ids {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := g.svc.Users.Messages.Untrash(userID, id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("untrash message %s: %w", id, err)
		}
	}
	return nil
}

func (g *googleClient) ListLabels(ctx context.Context, userID string) ([]gc.Label, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := g.svc.Users.Labels.List(userID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	labels := make([]gc.Label, 0, len(res.Labels))
	for _, l := range res.Labels {
		label := gc.Label{
			ID:                    l.Id,
			Name:                  l.Name,
			LabelListVisibility:   l.LabelListVisibility,
			MessageListVisibility: l.MessageListVisibility,
		}
		if l.Color != nil {
			label.TextColor = l.Color.TextColor
			label.BackgroundColor = l.Color.BackgroundColor
		}
		labels = append(labels, label)
	}
	return labels, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, userID string, label gc.Label) (gc.Label, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return gc.Label{}, err
	}
	req := &gmailv1.Label{
		Name:                  label.Name,
		LabelListVisibility:   label.LabelListVisibility,
		MessageListVisibility: label.MessageListVisibility,
	}
	if label.TextColor != "" || label.BackgroundColor != "" {
		req.Color = &gmailv1.LabelColor{
			TextColor:       label.TextColor,
			BackgroundColor: label.BackgroundColor,
		}
	}
	created, err := g.svc.Users.Labels.Create(userID, req).Context(ctx).Do()
	if err != nil {
		return gc.Label{}, fmt.Errorf("create label %q: %w", label.Name, err)
	}
	label.ID = created.Id
	return label, nil
}

func (g *googleClient) GetAttachment(ctx context.Context, userID, messageID, attachmentID string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := g.svc.Users.Messages.Attachments.Get(userID, messageID, attachmentID).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	data, err := decodeBase64URL(res.Data)
	if err != nil {
		return nil, fmt.Errorf("decode attachment %s of message %s: %w", attachmentID, messageID, err)
	}
	return data, nil
}

func (g *googleClient) HistorySince(ctx context.Context, userID, startHistoryID, pageToken string) (gc.HistoryPage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return gc.HistoryPage{}, err
	}
	start, err := strconv.ParseUint(startHistoryID, 10, 64)
	if err != nil {
		return gc.HistoryPage{}, fmt.Errorf("parse history id %q: %w", startHistoryID, err)
	}
	call := g.svc.Users.History.List(userID).StartHistoryId(start).HistoryTypes("messageAdded")
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.HistoryPage{}, err
	}
	page := gc.HistoryPage{NextPageToken: res.NextPageToken}
	for _, h := range res.History {
		entry := gc.HistoryEntry{ID: strconv.FormatUint(h.Id, 10)}
		for _, added := range h.MessagesAdded {
			if added.Message != nil {
				entry.AddedIDs = append(entry.AddedIDs, added.Message.Id)
			}
		}
		page.Entries = append(page.Entries, entry)
	}
	return page, nil
}

func (g *googleClient) Watch(ctx context.Context, userID, topicName string) (gc.WatchInfo, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return gc.WatchInfo{}, err
	}
	req := &gmailv1.WatchRequest{TopicName: topicName, LabelFilterAction: "include"}
	res, err := g.svc.Users.Watch(userID, req).Context(ctx).Do()
	if err != nil {
		return gc.WatchInfo{}, err
	}
	return gc.WatchInfo{
		HistoryID:  strconv.FormatUint(res.HistoryId, 10),
		Expiration: time.UnixMilli(res.Expiration).UTC(),
	}, nil
}

func (g *googleClient) StopWatch(ctx context.Context, userID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	return g.svc.Users.Stop(userID).Context(ctx).Do()
}

func fromAPIMessage(m *gmailv1.Message) (gc.Message, error) {
	payload, err := fromAPIPart(m.Payload)
	if err != nil {
		return gc.Message{}, err
	}
	msg := gc.Message{
		ID:           m.Id,
		ThreadID:     m.ThreadId,
		HistoryID:    strconv.FormatUint(m.HistoryId, 10),
		InternalDate: strconv.FormatInt(m.InternalDate, 10),
		LabelIDs:     m.LabelIds,
		SizeEstimate: m.SizeEstimate,
		Snippet:      m.Snippet,
		Payload:      payload,
	}
	if m.Raw != "" {
		raw, err := decodeBase64URL(m.Raw)
		if err != nil {
			return gc.Message{}, err
		}
		msg.Raw = raw
	}
	return msg, nil
}

func fromAPIPart(p *gmailv1.MessagePart) (*gc.Part, error) {
	if p == nil {
		return nil, nil
	}
	part := &gc.Part{
		PartID:   p.PartId,
		MimeType: p.MimeType,
		Filename: p.Filename,
	}
	for _, h := range p.Headers {
		part.Headers = append(part.Headers, gc.Header{Name: h.Name, Value: h.Value})
	}
	if p.Body != nil {
		part.Body = gc.Body{AttachmentID: p.Body.AttachmentId, Size: p.Body.Size}
		if p.Body.Data != "" {
			data, err := decodeBase64URL(p.Body.Data)
			if err != nil {
				return nil, fmt.Errorf("decode body of part %s: %w", p.PartId, err)
			}
			part.Body.Data = data
		}
	}
	for _, child := range p.Parts {
		sub, err := fromAPIPart(child)
		if err != nil {
			return nil, err
		}
		part.Parts = append(part.Parts, sub)
	}
	return part, nil
}

// decodeBase64URL handles the web-safe base64 Gmail uses on the wire,
// with or without padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
