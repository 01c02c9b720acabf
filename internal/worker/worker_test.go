package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ally/internal/config"
	"ally/internal/constants"
	"ally/internal/event"
	"ally/internal/filter"
	"ally/internal/logger"
	"ally/internal/processor"
	"ally/internal/store"
	"ally/internal/stream"
)

type fakeConsumer struct {
	batches [][]stream.Entry
	acks    []string
	cancel  context.CancelFunc
}

func (f *fakeConsumer) EnsureGroup(ctx context.Context, streamKey, group string) error {
	return nil
}

func (f *fakeConsumer) ReadBatch(ctx context.Context, streamKey, group, consumer string, count int64, block time.Duration) ([]stream.Entry, error) {
	if len(f.batches) == 0 {
		f.cancel()
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeConsumer) Ack(ctx context.Context, streamKey, group, id string) error {
	f.acks = append(f.acks, id)
	return nil
}

type fakeDeadLetter struct {
	entries []stream.DeadLetterEntry
}

func (f *fakeDeadLetter) Write(ctx context.Context, projectID string, entry stream.DeadLetterEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeDeadLetter) List(ctx context.Context, projectID string, limit int64) ([]stream.DeadLetterEntry, error) {
	return f.entries, nil
}

func (f *fakeDeadLetter) Get(ctx context.Context, projectID, entryID string) (*stream.DeadLetterEntry, error) {
	return nil, nil
}

func (f *fakeDeadLetter) Delete(ctx context.Context, projectID, entryID string) error {
	return nil
}

// fakeAudit dedupes on the idempotency key like the Mongo trail does.
type fakeAudit struct {
	saved map[string]int
	err   error
}

func newFakeAudit() *fakeAudit {
	return &fakeAudit{saved: map[string]int{}}
}

func (f *fakeAudit) SaveEventRaw(ctx context.Context, env *event.Envelope) error {
	if f.err != nil {
		return f.err
	}
	f.saved[env.IdempotencyKey]++
	return nil
}

type fakeProcessor struct {
	platform string
	err      error
	panics   bool
	handled  []string
}

func (f *fakeProcessor) CanHandle(platform, eventType string) bool {
	return platform == f.platform
}

func (f *fakeProcessor) ProcessEvent(ctx context.Context, env *event.Envelope, st store.Store, orch processor.Orchestrator) error {
	if f.panics {
		panic("processor exploded")
	}
	f.handled = append(f.handled, env.IdempotencyKey)
	return f.err
}

func testEntry(t *testing.T, id, key string) stream.Entry {
	t.Helper()

	payload, err := json.Marshal(map[string]string{"messageId": "m1", "authorId": "u1", "content": "hello"})
	require.NoError(t, err)
	source, err := json.Marshal(event.Source{ChannelID: "c1", GuildID: "g1"})
	require.NoError(t, err)

	return stream.Entry{
		ID: id,
		Fields: map[string]interface{}{
			constants.FieldVersion:        event.SchemaVersion,
			constants.FieldIdempotencyKey: key,
			constants.FieldProjectID:      "p1",
			constants.FieldPlatform:       constants.PlatformDiscord,
			constants.FieldType:           constants.EventMessageCreated,
			constants.FieldTS:             time.Now().Format(time.RFC3339Nano),
			constants.FieldSource:         string(source),
			constants.FieldPayload:        string(payload),
		},
	}
}

func workerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		ProjectID:    "p1",
		Platform:     constants.PlatformDiscord,
		Group:        "test-group",
		ConsumerName: "test-consumer",
		BatchSize:    10,
		BlockTimeout: time.Millisecond,
	}
}

func runWorker(t *testing.T, consumer *fakeConsumer, dlq *fakeDeadLetter, audit *fakeAudit, proc processor.Processor, ignore *filter.IgnoreFilter) *Worker {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	consumer.cancel = cancel

	w := New(consumer, dlq, audit, nil, processor.NewRegistry(proc), nil, ignore, workerConfig(), logger.NopLogger())
	require.NoError(t, w.Run(ctx))
	return w
}

func TestWorkerProcessesAndAcks(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]stream.Entry{
		{testEntry(t, "1-0", "k1"), testEntry(t, "2-0", "k2")},
	}}
	dlq := &fakeDeadLetter{}
	audit := newFakeAudit()
	proc := &fakeProcessor{platform: constants.PlatformDiscord}

	w := runWorker(t, consumer, dlq, audit, proc, nil)

	assert.Equal(t, []string{"1-0", "2-0"}, consumer.acks)
	assert.Equal(t, []string{"k1", "k2"}, proc.handled)
	assert.Empty(t, dlq.entries)
	assert.Equal(t, uint64(2), w.Stats().Received())
	assert.Equal(t, uint64(2), w.Stats().Processed())
	assert.False(t, w.Stats().LastProcessedAt().IsZero())
}

func TestWorkerPoisonMessageIsIsolated(t *testing.T) {
	// First entry fails, second must still process; both get acked.
	consumer := &fakeConsumer{batches: [][]stream.Entry{
		{testEntry(t, "1-0", "poison"), testEntry(t, "2-0", "good")},
	}}
	dlq := &fakeDeadLetter{}
	audit := newFakeAudit()

	calls := 0
	proc := &conditionalProcessor{fn: func(env *event.Envelope) error {
		calls++
		if env.IdempotencyKey == "poison" {
			return fmt.Errorf("boom")
		}
		return nil
	}}

	w := runWorker(t, consumer, dlq, audit, proc, nil)

	assert.Equal(t, []string{"1-0", "2-0"}, consumer.acks, "poison entry is acked too")
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, "1-0", dlq.entries[0].OriginalID)
	assert.Equal(t, "boom", dlq.entries[0].Error)
	assert.Equal(t, constants.IngestStream("p1", constants.PlatformDiscord), dlq.entries[0].OriginalStream)
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(1), w.Stats().Failed())
	assert.Equal(t, uint64(1), w.Stats().Processed())
}

type conditionalProcessor struct {
	fn func(env *event.Envelope) error
}

func (c *conditionalProcessor) CanHandle(platform, eventType string) bool { return true }

func (c *conditionalProcessor) ProcessEvent(ctx context.Context, env *event.Envelope, st store.Store, orch processor.Orchestrator) error {
	return c.fn(env)
}

func TestWorkerDeadLetterPreservesRawFields(t *testing.T) {
	entry := testEntry(t, "1-0", "poison")
	consumer := &fakeConsumer{batches: [][]stream.Entry{{entry}}}
	dlq := &fakeDeadLetter{}
	proc := &fakeProcessor{platform: constants.PlatformDiscord, err: fmt.Errorf("boom")}

	runWorker(t, consumer, dlq, newFakeAudit(), proc, nil)

	require.Len(t, dlq.entries, 1)
	assert.Equal(t, entry.Fields, dlq.entries[0].RawFields, "raw fields must survive verbatim for replay")
	assert.Equal(t, "test-group", dlq.entries[0].Group)
	assert.Equal(t, "test-consumer", dlq.entries[0].Consumer)
}

func TestWorkerMalformedFieldsAreDeadLettered(t *testing.T) {
	bad := stream.Entry{ID: "1-0", Fields: map[string]interface{}{
		constants.FieldVersion: event.SchemaVersion,
		// no idempotency key, no payload
	}}
	consumer := &fakeConsumer{batches: [][]stream.Entry{{bad}}}
	dlq := &fakeDeadLetter{}
	audit := newFakeAudit()
	proc := &fakeProcessor{platform: constants.PlatformDiscord}

	w := runWorker(t, consumer, dlq, audit, proc, nil)

	assert.Equal(t, []string{"1-0"}, consumer.acks)
	require.Len(t, dlq.entries, 1)
	assert.Empty(t, audit.saved, "undecodable entries never reach the audit trail")
	assert.Empty(t, proc.handled)
	assert.Equal(t, uint64(0), w.Stats().Processed())
}

func TestWorkerUnsupportedEventIsIgnored(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]stream.Entry{{testEntry(t, "1-0", "k1")}}}
	dlq := &fakeDeadLetter{}
	audit := newFakeAudit()
	proc := &fakeProcessor{platform: constants.PlatformTelegram} // claims nothing here

	w := runWorker(t, consumer, dlq, audit, proc, nil)

	assert.Equal(t, []string{"1-0"}, consumer.acks, "ignored entries are acknowledged without error")
	assert.Empty(t, dlq.entries)
	assert.Equal(t, 1, audit.saved["k1"], "audit record written before dispatch")
	assert.Equal(t, uint64(1), w.Stats().Ignored())
}

func TestWorkerAuditRunsBeforeProcessing(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]stream.Entry{{testEntry(t, "1-0", "k1")}}}
	dlq := &fakeDeadLetter{}
	audit := newFakeAudit()
	audit.err = fmt.Errorf("mongo down")
	proc := &fakeProcessor{platform: constants.PlatformDiscord}

	runWorker(t, consumer, dlq, audit, proc, nil)

	assert.Empty(t, proc.handled, "no business logic until the raw envelope is durable")
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, []string{"1-0"}, consumer.acks)
}

func TestWorkerRedeliveryHitsAuditOnce(t *testing.T) {
	// The same entry delivered twice: the audit trail dedupes on the
	// idempotency key, processing happens both times (store writes are
	// idempotent downstream).
	consumer := &fakeConsumer{batches: [][]stream.Entry{
		{testEntry(t, "1-0", "k1")},
		{testEntry(t, "1-0", "k1")},
	}}
	dlq := &fakeDeadLetter{}
	audit := newFakeAudit()
	proc := &fakeProcessor{platform: constants.PlatformDiscord}

	w := runWorker(t, consumer, dlq, audit, proc, nil)

	assert.Equal(t, 2, audit.saved["k1"])
	assert.Equal(t, uint64(2), w.Stats().Processed())
}

func TestWorkerRecoversProcessorPanic(t *testing.T) {
	consumer := &fakeConsumer{batches: [][]stream.Entry{
		{testEntry(t, "1-0", "k1"), testEntry(t, "2-0", "k2")},
	}}
	dlq := &fakeDeadLetter{}
	proc := &fakeProcessor{platform: constants.PlatformDiscord, panics: true}

	w := runWorker(t, consumer, dlq, newFakeAudit(), proc, nil)

	assert.Equal(t, []string{"1-0", "2-0"}, consumer.acks, "panics never kill the loop")
	assert.Len(t, dlq.entries, 2)
	assert.Contains(t, dlq.entries[0].Error, "processor exploded")
	assert.Equal(t, uint64(2), w.Stats().Failed())
}

func TestWorkerIgnoreRuleShortCircuitsDispatch(t *testing.T) {
	ignore, err := filter.New([]string{`payload.content == "hello"`}, logger.NopLogger())
	require.NoError(t, err)

	consumer := &fakeConsumer{batches: [][]stream.Entry{{testEntry(t, "1-0", "k1")}}}
	dlq := &fakeDeadLetter{}
	audit := newFakeAudit()
	proc := &fakeProcessor{platform: constants.PlatformDiscord}

	w := runWorker(t, consumer, dlq, audit, proc, ignore)

	assert.Empty(t, proc.handled)
	assert.Equal(t, []string{"1-0"}, consumer.acks)
	assert.Equal(t, 1, audit.saved["k1"], "ignored envelopes still reach the audit trail")
	assert.Equal(t, uint64(1), w.Stats().Ignored())
}
