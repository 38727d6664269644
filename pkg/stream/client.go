package stream

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSubscribeTimeout is how long the client waits for an ack or
// error before a subscribe request is considered lost.
const DefaultSubscribeTimeout = 5 * time.Second

// pendingRequest tracks one in-flight subscribe request. The epoch pins
// it to the transport generation that sent it.
type pendingRequest struct {
	topics []string
	epoch  uint64
	timer  *time.Timer
}

// Subscriber is the client half of the subscription confirmation
// protocol. It keeps the desired topic set, the confirmed set and the
// in-flight requests, and converges confirmed toward desired through
// idempotent reconciliation passes.
//
// All state is keyed to an epoch that increments on every reconnect, so
// a timer armed on a previous transport generation can never mutate
// current state.
type Subscriber struct {
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	sender    Sender
	epoch     uint64
	desired   map[string]bool
	confirmed map[string]bool
	pending   map[string]*pendingRequest
}

func NewSubscriber(sender Sender, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		logger:    logger.With("module", "stream_subscriber"),
		timeout:   DefaultSubscribeTimeout,
		sender:    sender,
		desired:   make(map[string]bool),
		confirmed: make(map[string]bool),
		pending:   make(map[string]*pendingRequest),
	}
}

// WithTimeout overrides the subscribe confirmation timeout.
func (s *Subscriber) WithTimeout(timeout time.Duration) *Subscriber {
	s.timeout = timeout

	return s
}

// SetDesired replaces the set of topics the client wants to be
// subscribed to and runs a reconciliation pass.
func (s *Subscriber) SetDesired(topics []string) {
	s.mu.Lock()

	s.desired = make(map[string]bool, len(topics))
	for _, topic := range topics {
		s.desired[topic] = true
	}

	s.mu.Unlock()

	s.Reconcile()
}

// Reconcile computes the delta between desired and confirmed-or-pending
// and sends at most one subscribe for the missing topics and one
// unsubscribe for the surplus ones. Topics already covered by an
// in-flight request are never re-sent.
func (s *Subscriber) Reconcile() {
	s.mu.Lock()

	inFlight := make(map[string]bool)
	for _, request := range s.pending {
		for _, topic := range request.topics {
			inFlight[topic] = true
		}
	}

	var missing []string

	for topic := range s.desired {
		if !s.confirmed[topic] && !inFlight[topic] {
			missing = append(missing, topic)
		}
	}

	var surplus []string

	for topic := range s.confirmed {
		if !s.desired[topic] {
			surplus = append(surplus, topic)
			delete(s.confirmed, topic)
		}
	}

	sort.Strings(missing)
	sort.Strings(surplus)

	var subscribe, unsubscribe Message

	if len(missing) > 0 {
		messageID := uuid.New().String()
		subscribe = NewSubscribeMessage(messageID, missing)

		epoch := s.epoch
		s.pending[messageID] = &pendingRequest{
			topics: missing,
			epoch:  epoch,
			timer: time.AfterFunc(s.timeout, func() {
				s.expire(epoch, messageID)
			}),
		}
	}

	if len(surplus) > 0 {
		unsubscribe = NewUnsubscribeMessage(surplus)
	}

	sender := s.sender
	s.mu.Unlock()

	if len(missing) > 0 {
		s.logger.Info("Requesting subscription", "topics", missing, "message_id", subscribe.MessageID)

		if err := sender.Send(subscribe); err != nil {
			s.logger.Warn("Failed to send subscribe request", "error", err)
		}
	}

	if len(surplus) > 0 {
		s.logger.Info("Dropping subscription", "topics", surplus)

		if err := sender.Send(unsubscribe); err != nil {
			s.logger.Warn("Failed to send unsubscribe request", "error", err)
		}
	}
}

// HandleAck resolves the pending request for message_id and moves its
// topics into the confirmed set. Unknown message ids (already resolved,
// timed out, or from a previous epoch) are ignored.
func (s *Subscriber) HandleAck(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.pending[message.MessageID]
	if !ok {
		s.logger.Debug("Ignoring ack for unknown message id", "message_id", message.MessageID)

		return
	}

	request.timer.Stop()
	delete(s.pending, message.MessageID)

	for _, topic := range request.topics {
		s.confirmed[topic] = true
	}

	s.logger.Info("Subscription confirmed", "topics", request.topics)
}

// HandleError resolves the pending request and leaves its topics
// unconfirmed so the next reconciliation pass retries them.
func (s *Subscriber) HandleError(message Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.pending[message.MessageID]
	if !ok {
		s.logger.Debug("Ignoring error for unknown message id", "message_id", message.MessageID)

		return
	}

	request.timer.Stop()
	delete(s.pending, message.MessageID)

	for _, topic := range request.topics {
		delete(s.confirmed, topic)
	}

	s.logger.Warn("Subscription rejected", "topics", request.topics, "reason", message.Error)
}

// Reset begins a new epoch: all pending requests and timers from the
// previous transport generation are invalidated and the confirmed set is
// cleared. The caller re-runs Reconcile after the new transport is up,
// typically with the sender for the new connection.
func (s *Subscriber) Reset(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++

	for messageID, request := range s.pending {
		request.timer.Stop()
		delete(s.pending, messageID)
	}

	s.confirmed = make(map[string]bool)

	if sender != nil {
		s.sender = sender
	}

	s.logger.Info("Subscriber reset", "epoch", s.epoch)
}

// Confirmed returns a sorted copy of the confirmed topic set.
func (s *Subscriber) Confirmed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]string, 0, len(s.confirmed))
	for topic := range s.confirmed {
		topics = append(topics, topic)
	}

	sort.Strings(topics)

	return topics
}

// PendingCount returns the number of in-flight subscribe requests.
func (s *Subscriber) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// expire fires when a subscribe request saw no ack or error within the
// timeout. A stale epoch or an already-resolved request makes it a no-op.
func (s *Subscriber) expire(epoch uint64, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if epoch != s.epoch {
		return
	}

	request, ok := s.pending[messageID]
	if !ok {
		return
	}

	delete(s.pending, messageID)

	for _, topic := range request.topics {
		delete(s.confirmed, topic)
	}

	s.logger.Warn("Subscribe request timed out", "topics", request.topics, "message_id", messageID)
}
