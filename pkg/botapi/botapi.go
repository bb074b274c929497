// Package botapi defines the capability the core consumes to talk to the
// remote chat API (spec §6). The transport itself — HTTP client, multipart
// upload, long-poll wire format — is out of scope for this core; only the
// interface is specified here, following the teacher's own pattern of
// small, narrow capability interfaces (pkg/agent.LLMClient,
// pkg/forge.Forge) that concrete adapters satisfy.
package botapi

import (
	"context"
	"time"
)

// ChatID identifies a chat or user addressed by the bot.
type ChatID string

// EventID is a monotonic event sequence number.
type EventID uint64

// Action is a chat-action hint (e.g. "typing...") sent to a chat.
type Action string

const (
	ActionTyping  Action = "typing"
	ActionLooking Action = "looking"
)

// EventKind discriminates the payload carried by an Event.
type EventKind string

const (
	EventNewMessage   EventKind = "new_message"
	EventEdited       EventKind = "edited"
	EventDeleted      EventKind = "deleted"
	EventMemberJoined EventKind = "member_joined"
	EventMemberLeft   EventKind = "member_left"
	EventCallback     EventKind = "callback"
	EventPinned       EventKind = "pinned"
	EventUnpinned     EventKind = "unpinned"
)

// Event is an opaque payload tagged with a monotonic id and a kind.
type Event struct {
	EventID EventID   `json:"eventId"`
	Kind    EventKind `json:"type"`
	ChatID  ChatID    `json:"chatId,omitempty"`

	// NewMessage fields (populated when Kind == EventNewMessage or EventEdited).
	MessageID        string   `json:"msgId,omitempty"`
	UserID           string   `json:"userId,omitempty"`
	Text             string   `json:"text,omitempty"`
	ReplyTo          string   `json:"replyMsgId,omitempty"`
	ForwardedFrom    string   `json:"forwardFromChatId,omitempty"`
	FileAttachments  []string `json:"fileAttachments,omitempty"`
	Timestamp        time.Time `json:"timestamp,omitempty"`

	// Membership fields.
	MemberIDs []string `json:"memberIds,omitempty"`

	// Callback fields.
	CallbackData string `json:"callbackData,omitempty"`
}

// GetEventsResult is the response of a long-poll request.
type GetEventsResult struct {
	Events      []Event
	MaxEventID  EventID
}

// API is the capability the scheduler executors and the event dispatcher
// consume. Each call may fail with a network error, an API error, or a
// timeout; the core treats all three uniformly as "execution failed"
// without retrying within a tick (spec §6).
type API interface {
	SendText(ctx context.Context, chatID ChatID, text string) error
	SendFile(ctx context.Context, chatID ChatID, filePath string) error
	SendVoice(ctx context.Context, chatID ChatID, filePath string) error
	SendAction(ctx context.Context, chatID ChatID, action Action) error

	// GetEvents long-polls for events newer than lastEventID, blocking up to
	// pollTimeout (bounded by the server's own poll timeout).
	GetEvents(ctx context.Context, lastEventID EventID, pollTimeout time.Duration) (GetEventsResult, error)

	// GetLastEventID/SetLastEventID are cursor accessors some transports
	// keep server-side; the dispatcher is the sole writer of SetLastEventID.
	GetLastEventID(ctx context.Context) (EventID, error)
	SetLastEventID(ctx context.Context, id EventID) error
}
