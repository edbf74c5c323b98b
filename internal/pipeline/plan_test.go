package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mailflow/internal/gmail"
)

type getCall struct {
	ids    []string
	format gmail.Format
}

type modifyCall struct {
	ids    []string
	add    []string
	remove []string
}

// fakeClient implements the slice of gmail.Client the pipeline touches
// and tracks remote label state so mutations are observable.
type fakeClient struct {
	gmail.Client

	labels    []gmail.Label
	msgLabels map[string][]string
	payloads  map[string]*gmail.Part
	dates     map[string]string
	attData   map[string][]byte

	getCalls        []getCall
	modifyCalls     []modifyCall
	listLabelCalls  int
	attachmentCalls []string
	trashCalls      [][]string
	untrashCalls    [][]string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		labels:    []gmail.Label{{ID: "L1", Name: "Billing"}, {ID: "L2", Name: "Archive"}},
		msgLabels: map[string][]string{},
		payloads:  map[string]*gmail.Part{},
		dates:     map[string]string{},
		attData:   map[string][]byte{},
	}
}

func (f *fakeClient) GetMessages(_ context.Context, _ string, ids []string, format gmail.Format) ([]gmail.Message, error) {
	f.getCalls = append(f.getCalls, getCall{ids: append([]string(nil), ids...), format: format})
	out := make([]gmail.Message, len(ids))
	for i, id := range ids {
		msg := gmail.Message{
			ID:           id,
			LabelIDs:     append([]string(nil), f.msgLabels[id]...),
			InternalDate: f.dates[id],
		}
		if format == gmail.FormatFull {
			msg.Payload = f.payloads[id]
		}
		out[i] = msg
	}
	return out, nil
}

func (f *fakeClient) BatchModify(_ context.Context, _ string, ids, add, remove []string) error {
	f.modifyCalls = append(f.modifyCalls, modifyCall{
		ids:    append([]string(nil), ids...),
		add:    append([]string(nil), add...),
		remove: append([]string(nil), remove...),
	})
	for _, id := range ids {
		current := f.msgLabels[id]
		next := current[:0:0]
	keep:
		for _, l := range current {
			for _, r := range remove {
				if l == r {
					continue keep
				}
			}
			next = append(next, l)
		}
		for _, a := range add {
			present := false
			for _, l := range next {
				if l == a {
					present = true
					break
				}
			}
			if !present {
				next = append(next, a)
			}
		}
		f.msgLabels[id] = next
	}
	return nil
}

func (f *fakeClient) ListLabels(context.Context, string) ([]gmail.Label, error) {
	f.listLabelCalls++
	return f.labels, nil
}

func (f *fakeClient) GetAttachment(_ context.Context, _, _, attachmentID string) ([]byte, error) {
	f.attachmentCalls = append(f.attachmentCalls, attachmentID)
	data, ok := f.attData[attachmentID]
	if !ok {
		return nil, fmt.Errorf("no attachment %s", attachmentID)
	}
	return data, nil
}

func (f *fakeClient) BatchTrash(_ context.Context, _ string, ids []string) error {
	f.trashCalls = append(f.trashCalls, append([]string(nil), ids...))
	return nil
}

func (f *fakeClient) BatchUntrash(_ context.Context, _ string, ids []string) error {
	f.untrashCalls = append(f.untrashCalls, append([]string(nil), ids...))
	return nil
}

func makeBatch(ids ...string) []*gmail.Message {
	batch := make([]*gmail.Message, len(ids))
	for i, id := range ids {
		batch[i] = gmail.NewMessage(gmail.MessageRef{ID: id, ThreadID: "t-" + id})
	}
	return batch
}

func TestNewPlanRejectsAttachmentsBeforeFetch(t *testing.T) {
	fake := newFakeClient()
	_, err := NewPlan(DownloadAttachments(nil, &recordingSink{}))
	if !errors.Is(err, ErrStageOrder) {
		t.Fatalf("expected ErrStageOrder, got %v", err)
	}
	if len(fake.attachmentCalls) != 0 {
		t.Fatalf("remote attachment call attempted before validation failed")
	}
}

func TestNewPlanRejectsMinimalFetchBeforeAttachments(t *testing.T) {
	// Only a full fetch populates the part tree.
	_, err := NewPlan(
		FetchContent(gmail.FormatMinimal),
		DownloadAttachments(nil, &recordingSink{}),
	)
	if !errors.Is(err, ErrStageOrder) {
		t.Fatalf("expected ErrStageOrder, got %v", err)
	}
}

func TestPlanAppendsRefreshAfterLabelStage(t *testing.T) {
	plan := MustPlan(ManageLabels([]string{"L1"}, nil))
	names := plan.StageNames()
	want := []string{"manage-labels", "refresh-minimal"}
	if len(names) != len(want) {
		t.Fatalf("stage names %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("stage names %v, want %v", names, want)
		}
	}
}

func TestManageLabelsCoalescesOneCall(t *testing.T) {
	fake := newFakeClient()
	batch := makeBatch("m1", "m2", "m3")
	plan := MustPlan(ManageLabels([]string{"L1"}, nil))

	if err := plan.Run(context.Background(), fake, "me", batch); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.modifyCalls) != 1 {
		t.Fatalf("expected 1 batch modify call, got %d", len(fake.modifyCalls))
	}
	if len(fake.modifyCalls[0].ids) != 3 {
		t.Fatalf("expected 3 ids in batch, got %v", fake.modifyCalls[0].ids)
	}
	// The appended refresh keeps the in-memory label sets accurate.
	for _, msg := range batch {
		if !msg.HasLabel("L1") {
			t.Fatalf("message %s missing L1 after refresh: %v", msg.ID, msg.LabelIDs)
		}
	}
}

func TestManageLabelsChunksLargeBatches(t *testing.T) {
	fake := newFakeClient()
	ids := make([]string, 1200)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%04d", i)
	}
	batch := makeBatch(ids...)
	plan := MustPlan(ManageLabels([]string{"L1"}, nil))

	if err := plan.Run(context.Background(), fake, "me", batch); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.modifyCalls) != 2 {
		t.Fatalf("expected 2 modify calls, got %d", len(fake.modifyCalls))
	}
	if len(fake.modifyCalls[0].ids) != 1000 || len(fake.modifyCalls[1].ids) != 200 {
		t.Fatalf("chunk sizes %d/%d, want 1000/200",
			len(fake.modifyCalls[0].ids), len(fake.modifyCalls[1].ids))
	}
}

func TestManageLabelsUnknownLabelFailsFast(t *testing.T) {
	fake := newFakeClient()
	batch := makeBatch("m1")
	plan := MustPlan(ManageLabels([]string{"L404"}, nil))

	err := plan.Run(context.Background(), fake, "me", batch)
	if !errors.Is(err, ErrLabelNotFound) {
		t.Fatalf("expected ErrLabelNotFound, got %v", err)
	}
	if len(fake.modifyCalls) != 0 {
		t.Fatalf("modify issued despite validation failure")
	}
}

func TestManageLabelsRemovalsNotValidated(t *testing.T) {
	fake := newFakeClient()
	batch := makeBatch("m1")
	plan := MustPlan(ManageLabels(nil, []string{"L404"}))

	if err := plan.Run(context.Background(), fake, "me", batch); err != nil {
		t.Fatalf("removing an unknown label must be a no-op, got %v", err)
	}
	if fake.listLabelCalls != 0 {
		t.Fatalf("no validation lookup expected for removals")
	}
}

func TestManageLabelsIdempotent(t *testing.T) {
	fake := newFakeClient()
	fake.msgLabels["m1"] = []string{"INBOX", "L2"}
	plan := MustPlan(ManageLabels([]string{"L1"}, []string{"L2"}))

	batch := makeBatch("m1")
	if err := plan.Run(context.Background(), fake, "me", batch); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := append([]string(nil), batch[0].LabelIDs...)

	if err := plan.Run(context.Background(), fake, "me", batch); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second := batch[0].LabelIDs

	if len(first) != len(second) {
		t.Fatalf("label set changed on re-apply: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("label set changed on re-apply: %v vs %v", first, second)
		}
	}
}

func TestFetchContentMergesWholeBatch(t *testing.T) {
	fake := newFakeClient()
	fake.payloads["m1"] = &gmail.Part{MimeType: "multipart/mixed"}
	fake.payloads["m2"] = &gmail.Part{MimeType: "text/plain"}
	batch := makeBatch("m1", "m2")
	plan := MustPlan(FetchContent(gmail.FormatFull))

	if err := plan.Run(context.Background(), fake, "me", batch); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.getCalls) != 1 {
		t.Fatalf("expected 1 coalesced get, got %d", len(fake.getCalls))
	}
	if fake.getCalls[0].format != gmail.FormatFull {
		t.Fatalf("fetched with format %s", fake.getCalls[0].format)
	}
	for _, msg := range batch {
		if msg.Payload == nil {
			t.Fatalf("message %s not enriched", msg.ID)
		}
	}
}

func TestTrashCoalescesOneCall(t *testing.T) {
	fake := newFakeClient()
	batch := makeBatch("m1", "m2")
	plan := MustPlan(Trash())

	if err := plan.Run(context.Background(), fake, "me", batch); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(fake.trashCalls) != 1 || len(fake.trashCalls[0]) != 2 {
		t.Fatalf("trash calls %v", fake.trashCalls)
	}
}

func TestStageFailureAbortsRemainder(t *testing.T) {
	fake := newFakeClient()
	batch := makeBatch("m1")
	// Unknown add-label fails the label stage; trash must never run.
	plan := MustPlan(ManageLabels([]string{"L404"}, nil), Trash())

	err := plan.Run(context.Background(), fake, "me", batch)
	if !errors.Is(err, ErrLabelNotFound) {
		t.Fatalf("expected ErrLabelNotFound, got %v", err)
	}
	if len(fake.trashCalls) != 0 {
		t.Fatalf("trash ran after an aborted stage")
	}
}
