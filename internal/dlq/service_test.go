package dlq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ally/internal/logger"
	"ally/internal/stream"
)

type fakeDeadLetter struct {
	entries []stream.DeadLetterEntry
	deleted []string
}

func (f *fakeDeadLetter) Write(ctx context.Context, projectID string, entry stream.DeadLetterEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeDeadLetter) List(ctx context.Context, projectID string, limit int64) ([]stream.DeadLetterEntry, error) {
	if limit > 0 && int64(len(f.entries)) > limit {
		return append([]stream.DeadLetterEntry(nil), f.entries[:limit]...), nil
	}
	return append([]stream.DeadLetterEntry(nil), f.entries...), nil
}

func (f *fakeDeadLetter) Get(ctx context.Context, projectID, entryID string) (*stream.DeadLetterEntry, error) {
	for _, e := range f.entries {
		if e.ID == entryID {
			entry := e
			return &entry, nil
		}
	}
	return nil, nil
}

func (f *fakeDeadLetter) Delete(ctx context.Context, projectID, entryID string) error {
	f.deleted = append(f.deleted, entryID)
	for i, e := range f.entries {
		if e.ID == entryID {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			break
		}
	}
	return nil
}

type fakePublisher struct {
	appends map[string][]map[string]interface{}
	failOn  string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{appends: map[string][]map[string]interface{}{}}
}

func (f *fakePublisher) Append(ctx context.Context, streamKey string, fields map[string]interface{}) (string, error) {
	for _, v := range fields {
		if v == f.failOn && f.failOn != "" {
			return "", fmt.Errorf("append refused")
		}
	}
	f.appends[streamKey] = append(f.appends[streamKey], fields)
	return "1-0", nil
}

func dlEntry(id, errText string) stream.DeadLetterEntry {
	return stream.DeadLetterEntry{
		ID:             id,
		OriginalStream: "ingest:p1:discord",
		OriginalID:     "orig-" + id,
		RawFields: map[string]interface{}{
			"idempotency_key": "key-" + id,
			"payload":         `{"messageId":"m1"}`,
		},
		Error:    errText,
		FailedAt: time.Now(),
		Group:    "scoring-workers",
		Consumer: "worker-1",
	}
}

func TestSelectorValidate(t *testing.T) {
	assert.Error(t, Selector{}.Validate())
	assert.Error(t, Selector{EntryID: "1-0", All: true}.Validate())
	assert.Error(t, Selector{EntryID: "1-0", ErrorPattern: "x"}.Validate())
	assert.NoError(t, Selector{EntryID: "1-0"}.Validate())
	assert.NoError(t, Selector{ErrorPattern: "timeout"}.Validate())
	assert.NoError(t, Selector{All: true}.Validate())
}

func TestListByErrorPattern(t *testing.T) {
	dl := &fakeDeadLetter{entries: []stream.DeadLetterEntry{
		dlEntry("1-0", "scorer timeout"),
		dlEntry("2-0", "malformed payload"),
		dlEntry("3-0", "sentiment timeout"),
	}}
	svc := NewService(dl, newFakePublisher(), logger.NopLogger())

	entries, err := svc.List(context.Background(), "p1", Selector{ErrorPattern: "timeout"})
	require.NoError(t, err)

	require.Len(t, entries, 2)
	assert.Equal(t, "1-0", entries[0].ID)
	assert.Equal(t, "3-0", entries[1].ID)
}

func TestListByEntryID(t *testing.T) {
	dl := &fakeDeadLetter{entries: []stream.DeadLetterEntry{dlEntry("1-0", "boom")}}
	svc := NewService(dl, newFakePublisher(), logger.NopLogger())

	entries, err := svc.List(context.Background(), "p1", Selector{EntryID: "1-0"})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = svc.List(context.Background(), "p1", Selector{EntryID: "9-9"})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRequeueReplaysRawFieldsVerbatim(t *testing.T) {
	original := dlEntry("1-0", "boom")
	dl := &fakeDeadLetter{entries: []stream.DeadLetterEntry{original}}
	pub := newFakePublisher()
	svc := NewService(dl, pub, logger.NopLogger())

	summary, err := svc.Requeue(context.Background(), "p1", Selector{EntryID: "1-0"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Requeued)
	assert.Equal(t, 0, summary.Failed)
	appended := pub.appends["ingest:p1:discord"]
	require.Len(t, appended, 1)
	assert.Equal(t, original.RawFields, appended[0], "replay must be field-identical")
	assert.Equal(t, []string{"1-0"}, dl.deleted)
}

func TestRequeueDryRunMutatesNothing(t *testing.T) {
	dl := &fakeDeadLetter{entries: []stream.DeadLetterEntry{
		dlEntry("1-0", "boom"),
		dlEntry("2-0", "boom"),
	}}
	pub := newFakePublisher()
	svc := NewService(dl, pub, logger.NopLogger())

	summary, err := svc.Requeue(context.Background(), "p1", Selector{All: true}, true)
	require.NoError(t, err)

	assert.True(t, summary.DryRun)
	assert.Equal(t, 2, summary.Selected)
	assert.Equal(t, 0, summary.Requeued)
	assert.Empty(t, pub.appends)
	assert.Empty(t, dl.deleted)
	assert.Len(t, dl.entries, 2)
}

func TestRequeueFailedAppendKeepsEntry(t *testing.T) {
	dl := &fakeDeadLetter{entries: []stream.DeadLetterEntry{dlEntry("1-0", "boom")}}
	pub := newFakePublisher()
	pub.failOn = "key-1-0"
	svc := NewService(dl, pub, logger.NopLogger())

	summary, err := svc.Requeue(context.Background(), "p1", Selector{EntryID: "1-0"}, false)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Requeued)
	require.Len(t, summary.Results, 1)
	assert.Error(t, summary.Results[0].Err)
	assert.Empty(t, dl.deleted, "a failed re-append leaves the entry for a later attempt")
	assert.Len(t, dl.entries, 1)
}

func TestRequeueLimitAppliesUnlessAll(t *testing.T) {
	dl := &fakeDeadLetter{}
	for i := 0; i < 15; i++ {
		dl.entries = append(dl.entries, dlEntry(fmt.Sprintf("%d-0", i), "boom"))
	}
	svc := NewService(dl, newFakePublisher(), logger.NopLogger())

	limited, err := svc.List(context.Background(), "p1", Selector{ErrorPattern: "boom", Limit: 0})
	require.NoError(t, err)
	assert.Len(t, limited, 10, "default limit")

	all, err := svc.List(context.Background(), "p1", Selector{All: true})
	require.NoError(t, err)
	assert.Len(t, all, 15)
}
