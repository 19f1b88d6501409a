package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ortelius/patchgraph/config"
	"github.com/ortelius/patchgraph/database"
	"github.com/ortelius/patchgraph/model"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader serves queued fetch errors, then queued messages, and cancels
// the consumer once drained.
type fakeReader struct {
	mu        sync.Mutex
	fetchErrs []error
	msgs      []kafka.Message
	committed []int64
	fetches   int
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func (r *fakeReader) Close() error { return nil }

type fakeService struct {
	products []string
}

func (s *fakeService) IngestPatch(_ context.Context, rec model.EnrichedRecord) (*model.PatchInsertResult, error) {
	if rec.Vendor == "" {
		return nil, database.WrapError(database.ErrCodeInvalidRecord, "invalid record", errors.New("vendor is required"))
	}
	s.products = append(s.products, rec.Product)
	return &model.PatchInsertResult{}, nil
}

// flakyService fails with a retryable store error a fixed number of times and
// notes how many offsets were committed at each attempt.
type flakyService struct {
	reader         *fakeReader
	failures       int
	attempts       int
	commitsAtCall  []int
	onEveryAttempt func(attempt int)
}

func (s *flakyService) IngestPatch(_ context.Context, _ model.EnrichedRecord) (*model.PatchInsertResult, error) {
	s.attempts++
	s.commitsAtCall = append(s.commitsAtCall, len(s.reader.Committed()))
	if s.onEveryAttempt != nil {
		s.onEveryAttempt(s.attempts)
	}
	if s.attempts <= s.failures {
		return nil, database.StepError("insert_patch", errors.New("connection reset"))
	}
	return &model.PatchInsertResult{PatchID: "patches/rec-7"}, nil
}

func testKafkaConfig() config.KafkaConfig {
	cfg := config.Default().Kafka
	cfg.RetryInitialInterval = time.Millisecond
	cfg.RetryMaxInterval = 5 * time.Millisecond
	return cfg
}

const idempotentEvent = `{"event_type":"patch.enriched","record":{"vendor":"npm","product":"express","idempotency_key":"rec-7"}}`

func TestConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 1, Value: []byte(`{"event_type":"patch.enriched","record":{"vendor":"npm","product":"express"}}`)},
		{Offset: 2, Value: []byte(`garbage`)},
		{Offset: 3, Value: []byte(`{"event_type":"patch.enriched","record":{"product":"orphan"}}`)},
		{Offset: 4, Value: []byte(`{"event_type":"release.created","record":{"vendor":"npm","product":"express"}}`)},
		{Offset: 5, Value: []byte(`{"event_type":"patch.enriched","record":{"vendor":"pypi","product":"django"}}`)},
	}}
	service := &fakeService{}

	Consume(ctx, reader, service, testKafkaConfig(), zap.NewNop())

	assert.Equal(t, []string{"express", "django"}, service.products)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, reader.Committed(), "rejected events are committed too")
}

func TestConsume_RetriesStoreFailureBeforeCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 7, Value: []byte(idempotentEvent)},
	}}
	service := &flakyService{reader: reader, failures: 2}

	Consume(ctx, reader, service, testKafkaConfig(), zap.NewNop())

	assert.Equal(t, 3, service.attempts)
	assert.Equal(t, []int{0, 0, 0}, service.commitsAtCall, "offset must stay uncommitted while the insert is failing")
	assert.Equal(t, []int64{7}, reader.Committed())
}

func TestConsume_ShutdownDuringRetryLeavesOffsetUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{
		{Offset: 7, Value: []byte(idempotentEvent)},
		{Offset: 8, Value: []byte(idempotentEvent)},
	}}
	service := &flakyService{reader: reader, failures: 1000}
	service.onEveryAttempt = func(attempt int) {
		if attempt == 3 {
			cancel()
		}
	}

	Consume(ctx, reader, service, testKafkaConfig(), zap.NewNop())

	assert.Empty(t, reader.Committed(), "a record that never landed must be redelivered")
	assert.Equal(t, 3, service.attempts, "the next message is not fetched after shutdown")
}

func TestConsume_BacksOffOnFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerDown := errors.New("broker not available")
	reader := &fakeReader{
		cancel:    cancel,
		fetchErrs: []error{brokerDown, brokerDown, brokerDown},
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"event_type":"patch.enriched","record":{"vendor":"npm","product":"express"}}`)},
		},
	}
	service := &fakeService{}

	cfg := testKafkaConfig()
	cfg.RetryInitialInterval = 10 * time.Millisecond
	cfg.RetryMaxInterval = 10 * time.Millisecond

	start := time.Now()
	Consume(ctx, reader, service, cfg, zap.NewNop())

	// three waits of at least half the interval after randomization
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, 5, reader.fetches)
	assert.Equal(t, []string{"express"}, service.products)
	assert.Equal(t, []int64{1}, reader.Committed())
}

func TestNewDialer(t *testing.T) {
	plain := NewDialer(config.KafkaConfig{})
	assert.Nil(t, plain.SASLMechanism)
	assert.Nil(t, plain.TLS)

	secure := NewDialer(config.KafkaConfig{APIKey: "key", APISecret: "secret"})
	require.NotNil(t, secure.SASLMechanism)
	assert.Equal(t, "PLAIN", secure.SASLMechanism.Name())
	assert.NotNil(t, secure.TLS)
}
