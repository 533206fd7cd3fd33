package model

import "time"

type EventType string

const (
	EventChatCreated     EventType = "chat.created"
	EventMessageCreated  EventType = "message.created"
	EventMessageEdited   EventType = "message.edited"
	EventMessageDeleted  EventType = "message.deleted"
	EventReactionToggled EventType = "reaction.toggled"
)

// ChatEvent is published to the event feed after a committed write.
// Consumers key by ChatID to keep per-chat ordering.
type ChatEvent struct {
	Type       EventType `json:"type"`
	ChatID     int64     `json:"chat_id,string"`
	MessageID  int64     `json:"message_id,string,omitempty"`
	ActorID    int64     `json:"actor_id,string"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload,omitempty"`
}
