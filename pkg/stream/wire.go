// Package stream implements the topic-addressed event delivery channel:
// a broker fanning out published events to subscriber connections, an
// explicit subscribe confirmation protocol, and a bounded per-connection
// outbound queue that survives disconnects.
package stream

import "encoding/json"

// MessageType discriminates the wire messages exchanged on the event
// channel.
type MessageType string

const (
	MessageTypeSubscribe      MessageType = "subscribe"
	MessageTypeUnsubscribe    MessageType = "unsubscribe"
	MessageTypeSubscribeAck   MessageType = "subscribe_ack"
	MessageTypeSubscribeError MessageType = "subscribe_error"
	MessageTypeEvent          MessageType = "event"
)

// Message is the envelope for every frame on the event channel. Fields
// are populated per type: subscribe carries MessageID and Topics,
// subscribe_ack echoes them back, subscribe_error adds Error, event
// carries Topic and Payload.
type Message struct {
	Type      MessageType     `json:"type"`
	MessageID string          `json:"message_id,omitempty"`
	Topics    []string        `json:"topics,omitempty"`
	Error     string          `json:"error,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewSubscribeMessage builds a subscribe request frame.
func NewSubscribeMessage(messageID string, topics []string) Message {
	return Message{
		Type:      MessageTypeSubscribe,
		MessageID: messageID,
		Topics:    topics,
	}
}

// NewUnsubscribeMessage builds an unsubscribe frame.
func NewUnsubscribeMessage(topics []string) Message {
	return Message{
		Type:   MessageTypeUnsubscribe,
		Topics: topics,
	}
}

// NewAckMessage builds the confirmation for a subscribe request.
func NewAckMessage(messageID string, topics []string) Message {
	return Message{
		Type:      MessageTypeSubscribeAck,
		MessageID: messageID,
		Topics:    topics,
	}
}

// NewErrorMessage builds the rejection for a subscribe request.
func NewErrorMessage(messageID string, topics []string, reason string) Message {
	return Message{
		Type:      MessageTypeSubscribeError,
		MessageID: messageID,
		Topics:    topics,
		Error:     reason,
	}
}

// NewEventMessage wraps an event payload for delivery on a topic.
func NewEventMessage(topic string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    MessageTypeEvent,
		Topic:   topic,
		Payload: data,
	}, nil
}
