package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/navio-ai/navio/pkg/log"
	"github.com/navio-ai/navio/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []stream.Message
}

func (r *eventRecorder) handle(message stream.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, message)
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

func (r *eventRecorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]string, 0, len(r.events))
	for _, event := range r.events {
		topics = append(topics, event.Topic)
	}

	return topics
}

func newTestServer(t *testing.T) (*stream.Broker, string) {
	t.Helper()

	broker := stream.NewBroker(log.WithModule("test"))
	server := httptest.NewServer(NewServer(broker, log.WithModule("test")))
	t.Cleanup(server.Close)

	return broker, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestSubscribeConfirmAndDeliverOverWebsocket(t *testing.T) {
	broker, url := newTestServer(t)

	recorder := &eventRecorder{}
	client := NewClient(url+"?connection_id=c1", recorder.handle, log.WithModule("test"))

	require.NoError(t, client.Connect(context.Background()))

	defer client.Close()

	client.Subscriber().SetDesired([]string{"execution:42"})

	require.Eventually(t, func() bool {
		confirmed := client.Subscriber().Confirmed()

		return len(confirmed) == 1 && confirmed[0] == "execution:42"
	}, 5*time.Second, 10*time.Millisecond)

	broker.Publish("execution:42", map[string]any{"status": "running"})

	require.Eventually(t, func() bool {
		return recorder.count() == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"execution:42"}, recorder.topics())
}

func TestReconnectFlushesBufferedEvents(t *testing.T) {
	broker, url := newTestServer(t)

	recorder := &eventRecorder{}
	client := NewClient(url+"?connection_id=c1", recorder.handle, log.WithModule("test"))

	require.NoError(t, client.Connect(context.Background()))
	client.Subscriber().SetDesired([]string{"execution:7"})

	require.Eventually(t, func() bool {
		return len(client.Subscriber().Confirmed()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Close())

	// Wait until the server notices the transport is gone, then publish
	// into the buffer.
	session := broker.Connection("c1")

	require.Eventually(t, func() bool {
		broker.Publish("execution:7", map[string]any{"n": 1})

		return session.QueueDepth() > 0
	}, 5*time.Second, 20*time.Millisecond)

	broker.Publish("execution:7", map[string]any{"n": 2})
	buffered := session.QueueDepth()
	require.GreaterOrEqual(t, buffered, 2)

	require.NoError(t, client.Connect(context.Background()))

	defer client.Close()

	require.Eventually(t, func() bool {
		return recorder.count() >= buffered
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, session.QueueDepth())
}

func TestServerRejectsUnknownTopics(t *testing.T) {
	broker, url := newTestServer(t)
	broker.WithValidator(func(_ context.Context, topic string) error {
		if topic != "execution:known" {
			return stream.ErrUnknownTopic
		}

		return nil
	})

	client := NewClient(url, nil, log.WithModule("test"))
	require.NoError(t, client.Connect(context.Background()))

	defer client.Close()

	client.Subscriber().SetDesired([]string{"execution:bogus"})

	// The error resolves the pending request and leaves nothing confirmed.
	require.Eventually(t, func() bool {
		return client.Subscriber().PendingCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Empty(t, client.Subscriber().Confirmed())
}
