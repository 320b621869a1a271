package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/NordCoder/sessiongate/internal/domain/outbox"
	"github.com/NordCoder/sessiongate/internal/obs/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRepo struct {
	mu       sync.Mutex
	enqueued []outbox.Message
	pending  []outbox.Message
	done     []string
}

func (f *fakeRepo) Enqueue(_ context.Context, m outbox.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, m)
	return nil
}

func (f *fakeRepo) PickBatch(_ context.Context, batch int, _ time.Duration) ([]outbox.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if batch > len(f.pending) {
		batch = len(f.pending)
	}
	out := f.pending[:batch]
	f.pending = f.pending[batch:]
	return out, nil
}

func (f *fakeRepo) MarkSuccess(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = append(f.done, keys...)
	return nil
}

func (f *fakeRepo) doneKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.done...)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []auth.Event
	fail   map[int64]bool
}

func (p *fakePublisher) PublishEvent(_ context.Context, e auth.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[e.UserID] {
		return errors.New("publish failed")
	}
	p.events = append(p.events, e)
	return nil
}

var noRetry = retry.Policy{Name: "test", Attempts: 1}

func TestRecorder_EnqueuesEvent(t *testing.T) {
	repo := &fakeRepo{}
	rec := NewRecorder(repo)

	ev := auth.Event{Kind: auth.EventUserRevoked, UserID: 3, Revoked: 4, At: time.Now().UTC()}
	require.NoError(t, rec.Record(context.Background(), ev))

	require.Len(t, repo.enqueued, 1)
	m := repo.enqueued[0]
	assert.Equal(t, outbox.KindUserRevoked, m.Kind)
	assert.Equal(t, outbox.StatusCreated, m.Status)
	assert.NotEmpty(t, m.IdempotencyKey)

	var got auth.Event
	require.NoError(t, json.Unmarshal(m.Data, &got))
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, ev.Revoked, got.Revoked)
}

func TestRecorder_UnknownKind(t *testing.T) {
	repo := &fakeRepo{}
	err := NewRecorder(repo).Record(context.Background(), auth.Event{Kind: "nope"})
	require.Error(t, err)
	assert.Empty(t, repo.enqueued)
}

func TestGlobalHandler_Dispatch(t *testing.T) {
	pub := &fakePublisher{}
	dispatch := MakeGlobalOutboxHandler(pub, noRetry)

	data, err := json.Marshal(auth.Event{Kind: auth.EventTokenReuse, UserID: 9})
	require.NoError(t, err)

	h, err := dispatch(outbox.KindTokenReuse)
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), data))
	require.Len(t, pub.events, 1)
	assert.Equal(t, int64(9), pub.events[0].UserID)

	_, err = dispatch(outbox.Kind(99))
	require.Error(t, err)

	h, err = dispatch(outbox.KindSessionRevoked)
	require.NoError(t, err)
	require.Error(t, h(context.Background(), []byte("{broken")))
}

func TestGlobalHandler_BrokenPayloadNotRetried(t *testing.T) {
	attempts := 0
	pol := retry.Policy{
		Name:      "test_broken",
		Attempts:  5,
		Backoff:   retry.ExpoJitter{},
		OnAttempt: func(int, error) { attempts++ },
	}
	h, err := MakeGlobalOutboxHandler(&fakePublisher{}, pol)(outbox.KindUserRevoked)
	require.NoError(t, err)

	require.Error(t, h(context.Background(), []byte("not json")))
	assert.Equal(t, 0, attempts)
}

func TestRunner_MarksOnlyPublished(t *testing.T) {
	payload := func(userID int64) []byte {
		b, _ := json.Marshal(auth.Event{Kind: auth.EventSessionRevoked, UserID: userID})
		return b
	}
	repo := &fakeRepo{pending: []outbox.Message{
		{IdempotencyKey: "a", Kind: outbox.KindSessionRevoked, Data: payload(1)},
		{IdempotencyKey: "b", Kind: outbox.KindSessionRevoked, Data: payload(2)},
		{IdempotencyKey: "c", Kind: outbox.Kind(42), Data: payload(3)},
	}}
	pub := &fakePublisher{fail: map[int64]bool{2: true}}

	r := NewOutboxRunner(zap.NewNop(), repo, MakeGlobalOutboxHandler(pub, noRetry), RunnerConfig{
		Workers: 1, BatchSize: 10, WaitTime: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	require.Eventually(t, func() bool { return len(repo.doneKeys()) > 0 }, time.Second, 5*time.Millisecond)
	cancel()
	r.Wait()

	assert.Equal(t, []string{"a"}, repo.doneKeys())
}
