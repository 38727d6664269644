package stream

import (
	"testing"
	"time"

	"github.com/navio-ai/navio/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subscribeFrames(sender *captureSender) []Message {
	var frames []Message

	for _, message := range sender.messages() {
		if message.Type == MessageTypeSubscribe {
			frames = append(frames, message)
		}
	}

	return frames
}

func TestSubscriberSendsDeltaOnly(t *testing.T) {
	sender := &captureSender{}
	subscriber := NewSubscriber(sender, log.WithModule("test"))

	subscriber.SetDesired([]string{"a", "b"})

	frames := subscribeFrames(sender)
	require.Len(t, frames, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, frames[0].Topics)
	assert.NotEmpty(t, frames[0].MessageID)

	subscriber.HandleAck(NewAckMessage(frames[0].MessageID, frames[0].Topics))
	assert.Equal(t, []string{"a", "b"}, subscriber.Confirmed())

	// Growing the desired set only requests the new topic.
	subscriber.SetDesired([]string{"a", "b", "c"})

	frames = subscribeFrames(sender)
	require.Len(t, frames, 2)
	assert.Equal(t, []string{"c"}, frames[1].Topics)
}

func TestSubscriberDuplicateRequestSuppressedWhilePending(t *testing.T) {
	sender := &captureSender{}
	subscriber := NewSubscriber(sender, log.WithModule("test"))

	subscriber.SetDesired([]string{"a"})
	require.Equal(t, 1, subscriber.PendingCount())

	// Reconciling again before the ack must not produce a second request.
	subscriber.Reconcile()
	subscriber.SetDesired([]string{"a"})

	assert.Len(t, subscribeFrames(sender), 1)
	assert.Equal(t, 1, subscriber.PendingCount())
}

func TestSubscriberTimeoutRetriesWithNewMessageID(t *testing.T) {
	sender := &captureSender{}
	subscriber := NewSubscriber(sender, log.WithModule("test")).WithTimeout(20 * time.Millisecond)

	subscriber.SetDesired([]string{"a"})

	first := subscribeFrames(sender)[0]

	require.Eventually(t, func() bool {
		return subscriber.PendingCount() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, subscriber.Confirmed())

	// The next reconciliation pass retries with a fresh message id.
	subscriber.Reconcile()

	frames := subscribeFrames(sender)
	require.Len(t, frames, 2)
	retry := frames[1]
	assert.Equal(t, first.Topics, retry.Topics)
	assert.NotEqual(t, first.MessageID, retry.MessageID)

	subscriber.HandleAck(NewAckMessage(retry.MessageID, retry.Topics))
	assert.Equal(t, []string{"a"}, subscriber.Confirmed())
}

func TestSubscriberLateAckAfterTimeoutIsNoOp(t *testing.T) {
	sender := &captureSender{}
	subscriber := NewSubscriber(sender, log.WithModule("test")).WithTimeout(10 * time.Millisecond)

	subscriber.SetDesired([]string{"a"})
	first := subscribeFrames(sender)[0]

	require.Eventually(t, func() bool {
		return subscriber.PendingCount() == 0
	}, time.Second, 5*time.Millisecond)

	subscriber.HandleAck(NewAckMessage(first.MessageID, first.Topics))
	assert.Empty(t, subscriber.Confirmed())
}

func TestSubscriberErrorLeavesTopicsForRetry(t *testing.T) {
	sender := &captureSender{}
	subscriber := NewSubscriber(sender, log.WithModule("test"))

	subscriber.SetDesired([]string{"a"})
	first := subscribeFrames(sender)[0]

	subscriber.HandleError(NewErrorMessage(first.MessageID, first.Topics, "not authorized"))
	assert.Empty(t, subscriber.Confirmed())
	assert.Equal(t, 0, subscriber.PendingCount())

	subscriber.Reconcile()
	assert.Len(t, subscribeFrames(sender), 2)
}

func TestSubscriberResetInvalidatesPreviousEpoch(t *testing.T) {
	sender := &captureSender{}
	subscriber := NewSubscriber(sender, log.WithModule("test")).WithTimeout(50 * time.Millisecond)

	subscriber.SetDesired([]string{"a"})
	first := subscribeFrames(sender)[0]
	subscriber.HandleAck(NewAckMessage(first.MessageID, first.Topics))
	require.Equal(t, []string{"a"}, subscriber.Confirmed())

	// Open a second request, then reconnect before it resolves.
	subscriber.SetDesired([]string{"a", "b"})
	require.Equal(t, 1, subscriber.PendingCount())

	reconnected := &captureSender{}
	subscriber.Reset(reconnected)

	assert.Empty(t, subscriber.Confirmed())
	assert.Equal(t, 0, subscriber.PendingCount())

	// Resubscription covers the full desired set on the new transport.
	subscriber.Reconcile()

	frames := subscribeFrames(reconnected)
	require.Len(t, frames, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, frames[0].Topics)

	// An ack addressed to the pre-reset request changes nothing.
	stale := subscribeFrames(sender)
	subscriber.HandleAck(NewAckMessage(stale[len(stale)-1].MessageID, []string{"b"}))
	assert.Empty(t, subscriber.Confirmed())
}

func TestSubscriberUnsubscribesSurplusTopics(t *testing.T) {
	sender := &captureSender{}
	subscriber := NewSubscriber(sender, log.WithModule("test"))

	subscriber.SetDesired([]string{"a", "b"})
	first := subscribeFrames(sender)[0]
	subscriber.HandleAck(NewAckMessage(first.MessageID, first.Topics))

	subscriber.SetDesired([]string{"a"})

	var unsubscribes []Message

	for _, message := range sender.messages() {
		if message.Type == MessageTypeUnsubscribe {
			unsubscribes = append(unsubscribes, message)
		}
	}

	require.Len(t, unsubscribes, 1)
	assert.Equal(t, []string{"b"}, unsubscribes[0].Topics)
	assert.Equal(t, []string{"a"}, subscriber.Confirmed())
}
