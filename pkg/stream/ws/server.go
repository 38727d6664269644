// Package ws carries the event channel over websocket using
// gorilla/websocket. The server side upgrades HTTP requests and feeds
// frames into the broker; the client side dials and pumps frames into a
// stream.Subscriber.
package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/navio-ai/navio/pkg/stream"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Server upgrades incoming HTTP requests to websocket transports and
// couples each one to a logical broker connection. Reconnects that
// present the same connection_id resume the same session: buffered
// events flush and confirmed subscriptions survive.
type Server struct {
	broker   *stream.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewServer(broker *stream.Broker, logger *slog.Logger) *Server {
	return &Server{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger: logger.With("module", "stream_ws_server"),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connectionID := r.URL.Query().Get("connection_id")
	if connectionID == "" {
		connectionID = uuid.New().String()
	}

	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)

		return
	}

	logger := s.logger.With("connection_id", connectionID)
	logger.Info("Websocket connected")

	sender := newSocketSender(socket)
	conn := s.broker.Connection(connectionID)
	epoch := conn.Attach(sender)

	stopPing := sender.startPing()

	defer func() {
		stopPing()
		conn.Detach(epoch)
		socket.Close()
		logger.Info("Websocket disconnected", "buffered", conn.QueueDepth())
	}()

	socket.SetReadDeadline(time.Now().Add(pongTimeout))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		var message stream.Message
		if err := socket.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Websocket read failed", "error", err)
			}

			return
		}

		switch message.Type {
		case stream.MessageTypeSubscribe:
			s.broker.HandleSubscribe(r.Context(), conn, message)
		case stream.MessageTypeUnsubscribe:
			s.broker.HandleUnsubscribe(conn, message)
		default:
			logger.Warn("Ignoring unexpected frame", "type", message.Type)
		}
	}
}

// socketSender serializes writes to one websocket. gorilla permits a
// single concurrent writer, so every write goes through the mutex.
type socketSender struct {
	mu     sync.Mutex
	socket *websocket.Conn
}

func newSocketSender(socket *websocket.Conn) *socketSender {
	return &socketSender{socket: socket}
}

func (s *socketSender) Send(message stream.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.socket.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return s.socket.WriteJSON(message)
}

func (s *socketSender) startPing() func() {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				s.mu.Lock()
				s.socket.SetWriteDeadline(time.Now().Add(writeTimeout))
				err := s.socket.WriteMessage(websocket.PingMessage, nil)
				s.mu.Unlock()

				if err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() { close(done) })
	}
}
