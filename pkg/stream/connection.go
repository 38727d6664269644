package stream

import (
	"log/slog"
	"sync"
)

// Sender pushes one frame to the remote peer. Implementations belong to
// the transport (a websocket write loop in production, a capture buffer
// in tests).
type Sender interface {
	Send(message Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(message Message) error

func (f SenderFunc) Send(message Message) error {
	return f(message)
}

// Connection is a logical client session on the server side. It outlives
// individual transports: when the transport drops, messages buffer in the
// bounded queue; when a new transport attaches, the buffer flushes in
// order. The epoch counts transport generations.
//
// Delivery and flush are serialized under one mutex so a connection's
// frames keep FIFO order across reconnects.
type Connection struct {
	id     string
	logger *slog.Logger

	mu        sync.Mutex
	sender    Sender
	epoch     uint64
	confirmed map[string]bool
	queue     *Queue
}

func NewConnection(id string, logger *slog.Logger) *Connection {
	return &Connection{
		id:        id,
		logger:    logger.With("module", "stream_connection", "connection_id", id),
		confirmed: make(map[string]bool),
		queue:     NewQueue(DefaultQueueCapacity),
	}
}

// ID returns the stable identity of the logical session.
func (c *Connection) ID() string {
	return c.id
}

// Epoch returns the current transport generation.
func (c *Connection) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.epoch
}

// Attach binds a live transport, bumps the epoch and flushes everything
// buffered while the connection was down, in insertion order. The first
// flush failure detaches the transport and re-buffers the remainder so
// order is preserved. The returned epoch identifies this transport
// generation; hand it back to Detach.
func (c *Connection) Attach(sender Sender) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sender = sender
	c.epoch++

	c.logger.Info("Transport attached", "epoch", c.epoch, "buffered", c.queue.Len())

	for _, message := range c.queue.Drain() {
		if c.sender == nil {
			c.bufferLocked(message)

			continue
		}

		if err := sender.Send(message); err != nil {
			c.logger.Warn("Flush send failed, re-buffering message", "error", err)
			c.sender = nil
			c.bufferLocked(message)
		}
	}

	return c.epoch
}

// Detach drops the transport of the given generation. Subsequent
// deliveries buffer. A detach for a superseded epoch is a no-op: a
// handler draining a half-open socket must not drop the transport a
// reconnect already attached.
func (c *Connection) Detach(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if epoch != c.epoch {
		c.logger.Debug("Ignoring detach from superseded transport",
			"epoch", epoch, "current", c.epoch)

		return
	}

	c.sender = nil

	c.logger.Info("Transport detached", "epoch", epoch)
}

// Deliver sends the message on the live transport, or buffers it when
// the connection is down. A send failure detaches the transport and
// buffers the message instead of losing it.
func (c *Connection) Deliver(message Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sender == nil {
		c.bufferLocked(message)

		return
	}

	if err := c.sender.Send(message); err != nil {
		c.logger.Warn("Send failed, buffering message", "error", err)
		c.sender = nil
		c.bufferLocked(message)
	}
}

// Confirm records topics as subscribed for this session.
func (c *Connection) Confirm(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range topics {
		c.confirmed[topic] = true
	}
}

// Unconfirm removes topics from the session's subscription set.
func (c *Connection) Unconfirm(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range topics {
		delete(c.confirmed, topic)
	}
}

// Subscribed reports whether the topic is in the confirmed set.
func (c *Connection) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.confirmed[topic]
}

// Topics returns a copy of the confirmed topic set.
func (c *Connection) Topics() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	topics := make([]string, 0, len(c.confirmed))
	for topic := range c.confirmed {
		topics = append(topics, topic)
	}

	return topics
}

// QueueDepth returns the number of buffered messages.
func (c *Connection) QueueDepth() int {
	return c.queue.Len()
}

// DroppedMessages returns the count of buffer evictions for this session.
func (c *Connection) DroppedMessages() uint64 {
	return c.queue.Dropped()
}

func (c *Connection) bufferLocked(message Message) {
	if c.queue.Push(message) {
		c.logger.Warn("Outbound queue full, dropped oldest message",
			"dropped_total", c.queue.Dropped(),
		)
	}
}
