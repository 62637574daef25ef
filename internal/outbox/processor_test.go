package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type passThroughTx struct{}

func (passThroughTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeStore struct {
	mu        sync.Mutex
	events    []*Event
	published map[int64]bool
	failures  map[int64]string
}

func newFakeStore(events ...*Event) *fakeStore {
	return &fakeStore{
		events:    events,
		published: make(map[int64]bool),
		failures:  make(map[int64]string),
	}
}

func (s *fakeStore) GetUnpublishedEvents(_ context.Context, batchSize int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res []*Event
	for _, e := range s.events {
		if len(res) == batchSize {
			break
		}
		if !s.published[e.ID] && e.Attempts < MaxAttempts {
			res = append(res, e)
		}
	}

	return res, nil
}

func (s *fakeStore) MarkEventPublished(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.published[eventID] = true
	return nil
}

func (s *fakeStore) MarkEventFailed(_ context.Context, eventID int64, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.events {
		if e.ID == eventID {
			e.Attempts++
		}
	}
	s.failures[eventID] = errMsg

	return nil
}

type fakePublisher struct {
	failTopic string
	sent      []Message
}

func (p *fakePublisher) Publish(_ context.Context, msg Message) error {
	if msg.Topic == p.failTopic {
		return errors.New("broker down")
	}

	p.sent = append(p.sent, msg)
	return nil
}

func mustEvent(t *testing.T, id int64, topic string) *Event {
	t.Helper()

	e, err := NewEvent(topic, "Order", "order-1", "OrderPlaced", map[string]string{"order_id": "order-1"})
	require.NoError(t, err)
	e.ID = id

	return e
}

func TestProcessor_PublishesAndMarks(t *testing.T) {
	store := newFakeStore(mustEvent(t, 1, "order_events"), mustEvent(t, 2, "broken"))
	publisher := &fakePublisher{failTopic: "broken"}

	p := NewProcessor(passThroughTx{}, store, publisher, 50, 0, zap.NewNop())

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.True(t, store.published[1])
	require.False(t, store.published[2])
	require.Equal(t, "broker down", store.failures[2])
	require.Equal(t, int64(1), store.events[1].Attempts)

	require.Len(t, publisher.sent, 1)
	msg := publisher.sent[0]
	require.Equal(t, "order_events", msg.Topic)
	require.Equal(t, "order-1", msg.Key)

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	require.Equal(t, "OrderPlaced", body["event"])
	require.Equal(t, "Order-1", body["event_id"])
}

func TestProcessor_ParksEventAfterMaxAttempts(t *testing.T) {
	store := newFakeStore(mustEvent(t, 7, "broken"))
	p := NewProcessor(passThroughTx{}, store, &fakePublisher{failTopic: "broken"}, 50, 0, zap.NewNop())

	for i := 0; i < MaxAttempts+3; i++ {
		_, err := p.ProcessBatch(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, int64(MaxAttempts), store.events[0].Attempts)
}

func TestBreakerPublisher_OpensAfterRepeatedFailures(t *testing.T) {
	inner := &fakePublisher{failTopic: "broken"}
	publisher := NewBreakerPublisher("test", inner, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.Error(t, publisher.Publish(context.Background(), Message{Topic: "broken"}))
	}

	require.Equal(t, gobreaker.StateOpen, publisher.State())

	err := publisher.Publish(context.Background(), Message{Topic: "order_events"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.Empty(t, inner.sent)
}
