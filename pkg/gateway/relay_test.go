package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/navio-ai/navio/pkg/channels/gochannel"
	"github.com/navio-ai/navio/pkg/eventbus"
	"github.com/navio-ai/navio/pkg/events"
	"github.com/navio-ai/navio/pkg/log"
	"github.com/navio-ai/navio/pkg/models"
	"github.com/navio-ai/navio/pkg/persistence/file"
	"github.com/navio-ai/navio/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelayFixture(t *testing.T) (*stream.Broker, *eventbus.WatermillEventBus) {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	broker := stream.NewBroker(log.WithModule("test"))
	relay := NewRelay(broker, bus, log.WithModule("test"))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, relay.Start(ctx))

	return broker, bus
}

func TestRelayFansOutToExecutionAndWorkflowTopics(t *testing.T) {
	broker, bus := newRelayFixture(t)

	ctx := context.Background()

	executionConn := broker.Connection("by-execution")
	executionSender := &captureSender{}
	executionConn.Attach(executionSender)
	broker.HandleSubscribe(ctx, executionConn, stream.NewSubscribeMessage("m1", []string{"execution:e1"}))

	workflowConn := broker.Connection("by-workflow")
	workflowSender := &captureSender{}
	workflowConn.Attach(workflowSender)
	broker.HandleSubscribe(ctx, workflowConn, stream.NewSubscribeMessage("m2", []string{"workflow:w1"}))

	err := bus.Publish(ctx, events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, "w1", "e1"),
		NodeID:    "node-a",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return countEvents(executionSender) == 1 && countEvents(workflowSender) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, "execution:e1", lastEvent(t, executionSender).Topic)
	assert.Equal(t, "workflow:w1", lastEvent(t, workflowSender).Topic)
}

func TestRelayIgnoresUnrelatedExecutions(t *testing.T) {
	broker, bus := newRelayFixture(t)

	ctx := context.Background()

	conn := broker.Connection("c1")
	sender := &captureSender{}
	conn.Attach(sender)
	broker.HandleSubscribe(ctx, conn, stream.NewSubscribeMessage("m1", []string{"execution:mine"}))

	err := bus.Publish(ctx, events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent, "w1", "other"),
		NodeID:    "node-a",
	})
	require.NoError(t, err)

	// Give the relay a moment; nothing should arrive.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, countEvents(sender))
}

func TestTopicValidator(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	ctx := context.Background()

	require.NoError(t, store.WorkflowRepository().Save(ctx, &models.Workflow{
		ID:     "w1",
		Name:   "validator workflow",
		Status: models.WorkflowStatusPublished,
	}))
	require.NoError(t, store.ExecutionRepository().Create(ctx, &models.Execution{
		ID:         "e1",
		WorkflowID: "w1",
		Status:     models.ExecutionStatusReserved,
		CreatedAt:  time.Now().UTC(),
	}))

	validator := NewTopicValidator(store)

	assert.NoError(t, validator(ctx, "execution:e1"))
	assert.NoError(t, validator(ctx, "workflow:w1"))
	assert.ErrorIs(t, validator(ctx, "execution:ghost"), stream.ErrUnknownTopic)
	assert.ErrorIs(t, validator(ctx, "workflow:ghost"), stream.ErrUnknownTopic)
	assert.ErrorIs(t, validator(ctx, "agent:whatever"), stream.ErrUnknownTopic)
}

func TestSnapshotProviderReturnsExecutionState(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	ctx := context.Background()

	execution := &models.Execution{
		ID:         "e1",
		WorkflowID: "w1",
		Status:     models.ExecutionStatusReserved,
		NodeStates: map[string]*models.NodeState{
			"a": {NodeID: "a", Status: models.NodeStatusPending},
		},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.ExecutionRepository().Create(ctx, execution))

	provider := NewSnapshotProvider(store)

	payloads, err := provider(ctx, "execution:e1")
	require.NoError(t, err)
	require.Len(t, payloads, 1)

	state, ok := payloads[0].(events.ExecutionState)
	require.True(t, ok)
	assert.Equal(t, models.ExecutionStatusReserved, state.Status)
	assert.Equal(t, "e1", state.ExecutionID)
	assert.Contains(t, state.NodeStates, "a")

	// Unknown executions and non-execution topics yield no snapshot.
	payloads, err = provider(ctx, "execution:ghost")
	require.NoError(t, err)
	assert.Empty(t, payloads)

	payloads, err = provider(ctx, "workflow:w1")
	require.NoError(t, err)
	assert.Empty(t, payloads)
}

// captureSender records frames delivered to a test connection.
type captureSender struct {
	mu       sync.Mutex
	messages []stream.Message
}

func (s *captureSender) Send(message stream.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, message)

	return nil
}

func countEvents(sender *captureSender) int {
	sender.mu.Lock()
	defer sender.mu.Unlock()

	count := 0

	for _, message := range sender.messages {
		if message.Type == stream.MessageTypeEvent {
			count++
		}
	}

	return count
}

func lastEvent(t *testing.T, sender *captureSender) stream.Message {
	t.Helper()

	sender.mu.Lock()
	defer sender.mu.Unlock()

	for i := len(sender.messages) - 1; i >= 0; i-- {
		if sender.messages[i].Type == stream.MessageTypeEvent {
			return sender.messages[i]
		}
	}

	t.Fatal("no event frames captured")

	return stream.Message{}
}
