package ws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/navio-ai/navio/pkg/stream"
)

// EventHandler receives topic-scoped event frames delivered to the
// client.
type EventHandler func(message stream.Message)

// Client is the dialing side of the event channel. It owns a
// stream.Subscriber for the confirmation protocol and routes incoming
// frames to it; event frames go to the registered handler.
type Client struct {
	url     string
	logger  *slog.Logger
	onEvent EventHandler

	subscriber *stream.Subscriber

	mu     sync.Mutex
	socket *websocket.Conn
	closed bool
}

func NewClient(url string, onEvent EventHandler, logger *slog.Logger) *Client {
	client := &Client{
		url:     url,
		logger:  logger.With("module", "stream_ws_client"),
		onEvent: onEvent,
	}
	client.subscriber = stream.NewSubscriber(stream.SenderFunc(client.send), logger)

	return client
}

// Subscriber exposes the confirmation protocol state machine, used to
// set the desired topic set and run reconciliation passes.
func (c *Client) Subscriber() *stream.Subscriber {
	return c.subscriber
}

// Connect dials the server, resets the subscriber into a new epoch and
// starts the read pump. Call it again after a disconnect to resume:
// desired topics are resubscribed from scratch.
func (c *Client) Connect(ctx context.Context) error {
	socket, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.socket != nil {
		c.socket.Close()
	}
	c.socket = socket
	c.closed = false
	c.mu.Unlock()

	c.subscriber.Reset(stream.SenderFunc(c.send))

	go c.readPump(socket)

	c.subscriber.Reconcile()

	c.logger.Info("Connected", "url", c.url)

	return nil
}

// Close tears the connection down without reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.socket == nil {
		return nil
	}

	err := c.socket.Close()
	c.socket = nil

	return err
}

func (c *Client) send(message stream.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket == nil {
		return websocket.ErrCloseSent
	}

	return c.socket.WriteJSON(message)
}

func (c *Client) readPump(socket *websocket.Conn) {
	for {
		var message stream.Message
		if err := socket.ReadJSON(&message); err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()

			if !closed {
				c.logger.Warn("Connection lost", "error", err)
			}

			return
		}

		switch message.Type {
		case stream.MessageTypeSubscribeAck:
			c.subscriber.HandleAck(message)
		case stream.MessageTypeSubscribeError:
			c.subscriber.HandleError(message)
		case stream.MessageTypeEvent:
			if c.onEvent != nil {
				c.onEvent(message)
			}
		default:
			c.logger.Warn("Ignoring unexpected frame", "type", message.Type)
		}
	}
}
