package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/navio-ai/navio/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachedConnection(t *testing.T, broker *Broker, id string) (*Connection, *captureSender) {
	t.Helper()

	conn := broker.Connection(id)
	sender := &captureSender{}
	conn.Attach(sender)

	return conn, sender
}

func lastMessage(t *testing.T, sender *captureSender) Message {
	t.Helper()

	messages := sender.messages()
	require.NotEmpty(t, messages)

	return messages[len(messages)-1]
}

func TestBrokerSubscribeAcksAndRoutes(t *testing.T) {
	broker := NewBroker(log.WithModule("test"))
	conn, sender := attachedConnection(t, broker, "c1")

	broker.HandleSubscribe(context.Background(), conn, NewSubscribeMessage("m1", []string{"execution:42"}))

	ack := lastMessage(t, sender)
	assert.Equal(t, MessageTypeSubscribeAck, ack.Type)
	assert.Equal(t, "m1", ack.MessageID)
	assert.Equal(t, []string{"execution:42"}, ack.Topics)

	broker.Publish("execution:42", map[string]any{"status": "running"})

	event := lastMessage(t, sender)
	assert.Equal(t, MessageTypeEvent, event.Type)
	assert.Equal(t, "execution:42", event.Topic)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "running", payload["status"])
}

func TestBrokerPublishOnlyReachesSubscribers(t *testing.T) {
	broker := NewBroker(log.WithModule("test"))
	subscribed, subscribedSender := attachedConnection(t, broker, "c1")
	_, bystanderSender := attachedConnection(t, broker, "c2")

	broker.HandleSubscribe(context.Background(), subscribed, NewSubscribeMessage("m1", []string{"execution:1"}))

	broker.Publish("execution:1", map[string]any{"n": 1})
	broker.Publish("execution:other", map[string]any{"n": 2})

	assert.Len(t, subscribedSender.messages(), 2) // ack + one event
	assert.Empty(t, bystanderSender.messages())
}

func TestBrokerValidatorRejectsSubscribe(t *testing.T) {
	broker := NewBroker(log.WithModule("test")).WithValidator(
		func(_ context.Context, topic string) error {
			if topic == "execution:missing" {
				return errors.New("execution not found")
			}

			return nil
		},
	)

	conn, sender := attachedConnection(t, broker, "c1")
	broker.HandleSubscribe(context.Background(), conn, NewSubscribeMessage("m1", []string{"execution:missing"}))

	reply := lastMessage(t, sender)
	assert.Equal(t, MessageTypeSubscribeError, reply.Type)
	assert.Equal(t, "m1", reply.MessageID)
	assert.Contains(t, reply.Error, "not found")
	assert.False(t, conn.Subscribed("execution:missing"))
	assert.Equal(t, 0, broker.TopicCount())
}

func TestBrokerRejectsMalformedSubscribe(t *testing.T) {
	broker := NewBroker(log.WithModule("test"))
	conn, sender := attachedConnection(t, broker, "c1")

	broker.HandleSubscribe(context.Background(), conn, Message{Type: MessageTypeSubscribe})

	reply := lastMessage(t, sender)
	assert.Equal(t, MessageTypeSubscribeError, reply.Type)
}

func TestBrokerDuplicateSubscribeIsIdempotent(t *testing.T) {
	broker := NewBroker(log.WithModule("test"))
	conn, sender := attachedConnection(t, broker, "c1")

	ctx := context.Background()
	broker.HandleSubscribe(ctx, conn, NewSubscribeMessage("m1", []string{"execution:1"}))
	broker.HandleSubscribe(ctx, conn, NewSubscribeMessage("m2", []string{"execution:1"}))

	// Both requests are acked, the routing table holds one entry.
	messages := sender.messages()
	require.Len(t, messages, 2)
	assert.Equal(t, MessageTypeSubscribeAck, messages[0].Type)
	assert.Equal(t, MessageTypeSubscribeAck, messages[1].Type)
	assert.Equal(t, 1, broker.TopicCount())

	// One publish, one delivery.
	broker.Publish("execution:1", map[string]any{"n": 1})
	assert.Len(t, sender.messages(), 3)
}

func TestBrokerSnapshotPushedAfterAck(t *testing.T) {
	broker := NewBroker(log.WithModule("test")).WithSnapshotProvider(
		func(_ context.Context, topic string) ([]any, error) {
			return []any{map[string]any{"snapshot": topic}}, nil
		},
	)

	conn, sender := attachedConnection(t, broker, "c1")
	broker.HandleSubscribe(context.Background(), conn, NewSubscribeMessage("m1", []string{"execution:9"}))

	messages := sender.messages()
	require.Len(t, messages, 2)
	assert.Equal(t, MessageTypeSubscribeAck, messages[0].Type)
	assert.Equal(t, MessageTypeEvent, messages[1].Type)
	assert.Equal(t, "execution:9", messages[1].Topic)
}

func TestBrokerUnsubscribeGarbageCollectsTopics(t *testing.T) {
	broker := NewBroker(log.WithModule("test"))
	conn, _ := attachedConnection(t, broker, "c1")

	ctx := context.Background()
	broker.HandleSubscribe(ctx, conn, NewSubscribeMessage("m1", []string{"a", "b"}))
	require.Equal(t, 2, broker.TopicCount())

	broker.HandleUnsubscribe(conn, NewUnsubscribeMessage([]string{"a"}))
	assert.Equal(t, 1, broker.TopicCount())
	assert.False(t, conn.Subscribed("a"))
	assert.True(t, conn.Subscribed("b"))

	broker.RemoveConnection(conn)
	assert.Equal(t, 0, broker.TopicCount())
}

func TestBrokerDisconnectedSubscriberBuffersEvents(t *testing.T) {
	broker := NewBroker(log.WithModule("test"))
	conn, _ := attachedConnection(t, broker, "c1")

	ctx := context.Background()
	broker.HandleSubscribe(ctx, conn, NewSubscribeMessage("m1", []string{"execution:7"}))

	conn.Detach(conn.Epoch())

	broker.Publish("execution:7", map[string]any{"n": 1})
	broker.Publish("execution:7", map[string]any{"n": 2})

	assert.Equal(t, 2, conn.QueueDepth())

	reconnected := &captureSender{}
	conn.Attach(reconnected)

	messages := reconnected.messages()
	require.Len(t, messages, 2)
	assert.Equal(t, "execution:7", messages[0].Topic)
}

func TestBrokerConnectionIdentityIsStable(t *testing.T) {
	broker := NewBroker(log.WithModule("test"))

	first := broker.Connection("c1")
	second := broker.Connection("c1")
	assert.Same(t, first, second)

	broker.RemoveConnection(first)
	third := broker.Connection("c1")
	assert.NotSame(t, first, third)
}
