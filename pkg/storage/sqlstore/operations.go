package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vkteamsbot/pkg/botapi"
	"vkteamsbot/pkg/storage"
)

// StoreEvent records one inbound bot-api event.
func (s *Store) StoreEvent(ctx context.Context, event botapi.Event) error {
	attachments, err := json.Marshal(event.FileAttachments)
	if err != nil {
		return fmt.Errorf("marshal file attachments: %w", err)
	}
	members, err := json.Marshal(event.MemberIDs)
	if err != nil {
		return fmt.Errorf("marshal member ids: %w", err)
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (
			event_id, kind, chat_id, message_id, user_id, text,
			reply_to, forwarded_from, file_attachments, member_ids, callback_data, ts
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, string(event.Kind), string(event.ChatID), event.MessageID, event.UserID, event.Text,
		event.ReplyTo, event.ForwardedFrom, string(attachments), string(members), event.CallbackData, ts,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// StoreMessage records one chat message, inbound or outbound.
func (s *Store) StoreMessage(ctx context.Context, msg storage.Message) error {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, direction, text, ts) VALUES (?, ?, ?, ?)`,
		string(msg.ChatID), string(msg.Direction), msg.Text, ts,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetRecentEvents returns up to limit of the most recent events for a
// chat, newest first.
func (s *Store) GetRecentEvents(ctx context.Context, chatID botapi.ChatID, limit int) ([]botapi.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, kind, chat_id, message_id, user_id, text,
		       reply_to, forwarded_from, file_attachments, member_ids, callback_data, ts
		FROM events
		WHERE chat_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?`, string(chatID), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []botapi.Event
	for rows.Next() {
		var (
			e                        botapi.Event
			kind, chat               string
			attachmentsJSON, members string
		)
		if err := rows.Scan(&e.EventID, &kind, &chat, &e.MessageID, &e.UserID, &e.Text,
			&e.ReplyTo, &e.ForwardedFrom, &attachmentsJSON, &members, &e.CallbackData, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = botapi.EventKind(kind)
		e.ChatID = botapi.ChatID(chat)
		if attachmentsJSON != "" {
			if err := json.Unmarshal([]byte(attachmentsJSON), &e.FileAttachments); err != nil {
				return nil, fmt.Errorf("unmarshal file attachments: %w", err)
			}
		}
		if members != "" {
			if err := json.Unmarshal([]byte(members), &e.MemberIDs); err != nil {
				return nil, fmt.Errorf("unmarshal member ids: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// SearchMessages returns up to limit messages whose text matches query via
// the messages_fts virtual table, newest first.
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]storage.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.chat_id, m.direction, m.text, m.ts
		FROM messages_fts
		JOIN messages m ON m.id = messages_fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY m.ts DESC
		LIMIT ?`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Message
	for rows.Next() {
		var m storage.Message
		var chatID, direction string
		if err := rows.Scan(&chatID, &direction, &m.Text, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ChatID = botapi.ChatID(chatID)
		m.Direction = storage.MessageDirection(direction)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

// ftsQuery quotes each term so punctuation in user-supplied search text
// (SQLite FTS5 query syntax reserves characters like '-', '"', '*') is
// treated as literal content rather than query operators.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, len(fields))
	for i, f := range fields {
		quoted[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// GetStats reports aggregate counts for operational visibility.
func (s *Store) GetStats(ctx context.Context) (storage.Stats, error) {
	var stats storage.Stats

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&stats.EventCount)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("count events: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&stats.MessageCount)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("count messages: %w", err)
	}

	var oldest, newest sql.NullTime
	err = s.db.QueryRowContext(ctx, `SELECT MIN(ts), MAX(ts) FROM events`).Scan(&oldest, &newest)
	if err != nil {
		return storage.Stats{}, fmt.Errorf("event time range: %w", err)
	}
	if oldest.Valid {
		stats.OldestEvent = oldest.Time
	}
	if newest.Valid {
		stats.NewestEvent = newest.Time
	}

	return stats, nil
}

// CleanupOldData deletes events and messages older than before and
// reports how many rows were removed.
func (s *Store) CleanupOldData(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE ts < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected (events): %w", err)
	}
	total += n

	res, err = s.db.ExecContext(ctx, `DELETE FROM messages WHERE ts < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old messages: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected (messages): %w", err)
	}
	total += n

	return total, nil
}

// HealthCheck reports whether the store can currently serve requests.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

var _ storage.Storage = (*Store)(nil)
