package playlist

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action is a client-issued mutation request.
type Action string

const (
	ActionEnqueue Action = "enqueue"
	ActionRemove  Action = "remove"
	ActionMove    Action = "move"
	ActionChat    Action = "chat"
)

// Command is the client-to-server half of the socket protocol. Ref carries
// the raw reference (URL or video ID) for enqueue; SourceID identifies the
// target entry for remove and move; Text carries the chat line for chat.
type Command struct {
	ID            string `json:"id"`
	Action        Action `json:"action"`
	Ref           string `json:"ref,omitempty"`
	SourceID      string `json:"source_id,omitempty"`
	InsertAfterID string `json:"insert_after_id,omitempty"`
	Text          string `json:"text,omitempty"`
}

// Ack is the per-command acknowledgment returned to the issuing client only.
type Ack struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	OK        bool   `json:"ok"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
}

// AckType distinguishes ack frames from event frames on the wire.
const AckType = "ack"

// ChatType tags broadcast chat frames.
const ChatType = "chat"

// ChatMessage is relayed to every session when a client speaks. Chat is
// ephemeral: it is never persisted and carries no playlist state.
type ChatMessage struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	DisplayName string    `json:"display_name"`
	Text        string    `json:"text"`
	SentAt      time.Time `json:"sent_at"`
}

// NewChatMessage stamps a chat line with an ID and the server's send time.
func NewChatMessage(displayName, text string, at time.Time) ChatMessage {
	return ChatMessage{
		ID:          uuid.New().String(),
		Type:        ChatType,
		DisplayName: displayName,
		Text:        text,
		SentAt:      at,
	}
}

const (
	ErrorCodeProvider  = "provider_error"
	ErrorCodeDuplicate = "duplicate_source"
	ErrorCodeNotFound  = "not_found"
)

// AckFor builds the acknowledgment for a completed command.
func AckFor(commandID string, err error) Ack {
	ack := Ack{ID: commandID, Type: AckType, OK: err == nil}
	if err == nil {
		return ack
	}
	ack.Error = err.Error()
	switch {
	case errors.Is(err, ErrDuplicateSource):
		ack.ErrorCode = ErrorCodeDuplicate
	case errors.Is(err, ErrNotFound):
		ack.ErrorCode = ErrorCodeNotFound
	default:
		ack.ErrorCode = ErrorCodeProvider
	}
	return ack
}
