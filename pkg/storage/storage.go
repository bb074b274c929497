// Package storage defines the durable-record capability the core runtime
// consumes for events and messages (spec §6). sqlstore provides the
// concrete SQLite-backed implementation; other backends can satisfy the
// same interface for testing or alternate deployments.
package storage

import (
	"context"
	"time"

	"vkteamsbot/pkg/botapi"
)

// MessageDirection discriminates an inbound chat message from an
// outbound one the bot sent, for SearchMessages results.
type MessageDirection string

const (
	DirectionInbound  MessageDirection = "inbound"
	DirectionOutbound MessageDirection = "outbound"
)

// Message is a durable record of one chat message, inbound or outbound.
type Message struct {
	ChatID    botapi.ChatID
	Direction MessageDirection
	Text      string
	Timestamp time.Time
}

// Stats summarizes the durable record for operational visibility.
type Stats struct {
	EventCount   int64
	MessageCount int64
	OldestEvent  time.Time
	NewestEvent  time.Time
}

// Storage is the narrow capability the core runtime needs from a durable
// record: append events and messages, read them back, search, and
// age them out (spec §6).
type Storage interface {
	// StoreEvent records one inbound bot-api event.
	StoreEvent(ctx context.Context, event botapi.Event) error

	// StoreMessage records one chat message, inbound or outbound.
	StoreMessage(ctx context.Context, msg Message) error

	// GetRecentEvents returns up to limit of the most recent events for a
	// chat, newest first.
	GetRecentEvents(ctx context.Context, chatID botapi.ChatID, limit int) ([]botapi.Event, error)

	// SearchMessages returns up to limit messages whose text matches query,
	// newest first.
	SearchMessages(ctx context.Context, query string, limit int) ([]Message, error)

	// GetStats reports aggregate counts for operational visibility.
	GetStats(ctx context.Context) (Stats, error)

	// CleanupOldData deletes events and messages older than before and
	// reports how many rows were removed.
	CleanupOldData(ctx context.Context, before time.Time) (int64, error)

	// HealthCheck reports whether the store can currently serve requests.
	HealthCheck(ctx context.Context) error
}
