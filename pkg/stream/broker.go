package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrUnknownTopic is the canonical rejection for a subscribe to a topic
// whose target resource does not exist.
var ErrUnknownTopic = errors.New("unknown topic")

// TopicValidator checks that a topic may be subscribed to (it exists and
// the session is allowed to see it). A nil validator admits every topic.
type TopicValidator func(ctx context.Context, topic string) error

// SnapshotProvider returns the initial-state payloads to push to a
// subscriber right after its subscription to the topic is confirmed.
type SnapshotProvider func(ctx context.Context, topic string) ([]any, error)

// Broker owns the topic routing table: topic name to the set of
// connections subscribed to it. All table mutation happens under one
// mutex; publish never blocks on delivery.
type Broker struct {
	logger    *slog.Logger
	validator TopicValidator
	snapshot  SnapshotProvider

	mu          sync.Mutex
	topics      map[string]map[string]*Connection
	connections map[string]*Connection
}

func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger.With("module", "stream_broker"),
		topics:      make(map[string]map[string]*Connection),
		connections: make(map[string]*Connection),
	}
}

// WithValidator installs the subscribe-time topic check.
func (b *Broker) WithValidator(validator TopicValidator) *Broker {
	b.validator = validator

	return b
}

// WithSnapshotProvider installs the initial-state push for new
// subscriptions.
func (b *Broker) WithSnapshotProvider(provider SnapshotProvider) *Broker {
	b.snapshot = provider

	return b
}

// Connection returns the logical session with the given id, creating it
// if needed. Reconnects land on the same session and inherit its queue
// and subscriptions.
func (b *Broker) Connection(id string) *Connection {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, ok := b.connections[id]
	if !ok {
		conn = NewConnection(id, b.logger)
		b.connections[id] = conn
	}

	return conn
}

// HandleSubscribe processes one subscribe request: validate every topic,
// register the connection in the routing table, reply with an ack or an
// error, then push an initial-state snapshot per topic. Subscribing to an
// already-confirmed topic is acked again without side effects.
func (b *Broker) HandleSubscribe(ctx context.Context, conn *Connection, request Message) {
	if len(request.Topics) == 0 || request.MessageID == "" {
		conn.Deliver(NewErrorMessage(request.MessageID, request.Topics, "subscribe requires topics and a message_id"))

		return
	}

	if b.validator != nil {
		for _, topic := range request.Topics {
			if err := b.validator(ctx, topic); err != nil {
				b.logger.Warn("Subscribe rejected",
					"connection_id", conn.ID(),
					"topic", topic,
					"error", err,
				)
				conn.Deliver(NewErrorMessage(request.MessageID, request.Topics, err.Error()))

				return
			}
		}
	}

	newTopics := make([]string, 0, len(request.Topics))

	b.mu.Lock()
	for _, topic := range request.Topics {
		subscribers, ok := b.topics[topic]
		if !ok {
			subscribers = make(map[string]*Connection)
			b.topics[topic] = subscribers
		}

		if _, already := subscribers[conn.ID()]; !already {
			subscribers[conn.ID()] = conn
			newTopics = append(newTopics, topic)
		}
	}
	b.mu.Unlock()

	conn.Confirm(request.Topics)
	conn.Deliver(NewAckMessage(request.MessageID, request.Topics))

	b.logger.Info("Subscription confirmed",
		"connection_id", conn.ID(),
		"topics", request.Topics,
		"new", len(newTopics),
	)

	b.pushSnapshots(ctx, conn, newTopics)
}

// HandleUnsubscribe removes the connection from the given topics and
// garbage-collects topics left without subscribers.
func (b *Broker) HandleUnsubscribe(conn *Connection, request Message) {
	conn.Unconfirm(request.Topics)

	b.mu.Lock()
	for _, topic := range request.Topics {
		b.removeSubscriberLocked(topic, conn.ID())
	}
	b.mu.Unlock()

	b.logger.Info("Unsubscribed", "connection_id", conn.ID(), "topics", request.Topics)
}

// RemoveConnection drops a logical session entirely: every topic it
// subscribed to forgets it, and empty topics are garbage-collected.
func (b *Broker) RemoveConnection(conn *Connection) {
	b.mu.Lock()
	delete(b.connections, conn.ID())

	for _, topic := range conn.Topics() {
		b.removeSubscriberLocked(topic, conn.ID())
	}
	b.mu.Unlock()

	conn.Unconfirm(conn.Topics())

	b.logger.Info("Connection removed", "connection_id", conn.ID())
}

// Publish fans the event out to every connection subscribed to the topic
// by enqueuing on each connection's outbound path. It never blocks on
// slow or disconnected subscribers.
func (b *Broker) Publish(topic string, payload any) {
	message, err := NewEventMessage(topic, payload)
	if err != nil {
		b.logger.Error("Failed to encode event for topic", "topic", topic, "error", err)

		return
	}

	b.mu.Lock()
	subscribers := make([]*Connection, 0, len(b.topics[topic]))
	for _, conn := range b.topics[topic] {
		subscribers = append(subscribers, conn)
	}
	b.mu.Unlock()

	for _, conn := range subscribers {
		conn.Deliver(message)
	}
}

// TopicCount returns the number of live topics in the routing table.
func (b *Broker) TopicCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.topics)
}

// removeSubscriberLocked must be called with b.mu held.
func (b *Broker) removeSubscriberLocked(topic, connectionID string) {
	subscribers, ok := b.topics[topic]
	if !ok {
		return
	}

	delete(subscribers, connectionID)

	if len(subscribers) == 0 {
		delete(b.topics, topic)
	}
}

func (b *Broker) pushSnapshots(ctx context.Context, conn *Connection, topics []string) {
	if b.snapshot == nil {
		return
	}

	for _, topic := range topics {
		payloads, err := b.snapshot(ctx, topic)
		if err != nil {
			b.logger.Warn("Failed to build snapshot for topic", "topic", topic, "error", err)

			continue
		}

		for _, payload := range payloads {
			message, err := NewEventMessage(topic, payload)
			if err != nil {
				b.logger.Error("Failed to encode snapshot", "topic", topic, "error", err)

				continue
			}

			conn.Deliver(message)
		}
	}
}
