package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"vkteamsbot/pkg/botapi"
	"vkteamsbot/pkg/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreEventAndGetRecentEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ev := botapi.Event{
			EventID:   botapi.EventID(i + 1),
			Kind:      botapi.EventNewMessage,
			ChatID:    "chat-1",
			Text:      "message",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.StoreEvent(ctx, ev); err != nil {
			t.Fatalf("StoreEvent: %v", err)
		}
	}

	events, err := s.GetRecentEvents(ctx, "chat-1", 2)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].EventID != 3 {
		t.Errorf("newest event id = %d, want 3", events[0].EventID)
	}
}

func TestStoreEventRoundTripsAttachmentsAndMembers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := botapi.Event{
		EventID:         1,
		Kind:            botapi.EventMemberJoined,
		ChatID:          "chat-1",
		FileAttachments: []string{"a.png", "b.png"},
		MemberIDs:       []string{"user-1", "user-2"},
		Timestamp:       time.Now().UTC(),
	}
	if err := s.StoreEvent(ctx, ev); err != nil {
		t.Fatalf("StoreEvent: %v", err)
	}

	events, err := s.GetRecentEvents(ctx, "chat-1", 10)
	if err != nil {
		t.Fatalf("GetRecentEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if len(got.FileAttachments) != 2 || got.FileAttachments[0] != "a.png" {
		t.Errorf("file attachments = %v, want [a.png b.png]", got.FileAttachments)
	}
	if len(got.MemberIDs) != 2 || got.MemberIDs[1] != "user-2" {
		t.Errorf("member ids = %v, want [user-1 user-2]", got.MemberIDs)
	}
}

func TestStoreMessageAndSearchMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	messages := []storage.Message{
		{ChatID: "chat-1", Direction: storage.DirectionInbound, Text: "please deploy the release", Timestamp: time.Now().Add(-2 * time.Minute)},
		{ChatID: "chat-1", Direction: storage.DirectionOutbound, Text: "deployment started", Timestamp: time.Now().Add(-time.Minute)},
		{ChatID: "chat-1", Direction: storage.DirectionInbound, Text: "unrelated weather chat", Timestamp: time.Now()},
	}
	for _, m := range messages {
		if err := s.StoreMessage(ctx, m); err != nil {
			t.Fatalf("StoreMessage: %v", err)
		}
	}

	results, err := s.SearchMessages(ctx, "deploy", 10)
	if err != nil {
		t.Fatalf("SearchMessages: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one match for 'deploy'")
	}
	for _, r := range results {
		if r.Text == "unrelated weather chat" {
			t.Errorf("unexpected unrelated message in results: %+v", r)
		}
	}
}

func TestSearchMessagesHandlesPunctuationSafely(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.StoreMessage(ctx, storage.Message{ChatID: "chat-1", Direction: storage.DirectionInbound, Text: "status: OK!"}); err != nil {
		t.Fatalf("StoreMessage: %v", err)
	}

	if _, err := s.SearchMessages(ctx, `weird "quote -dash* query`, 10); err != nil {
		t.Fatalf("SearchMessages should not error on punctuation-heavy query: %v", err)
	}
}

func TestGetStatsReportsCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.StoreEvent(ctx, botapi.Event{EventID: 1, Kind: botapi.EventNewMessage, ChatID: "chat-1", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreMessage(ctx, storage.Message{ChatID: "chat-1", Direction: storage.DirectionInbound, Text: "hi"}); err != nil {
		t.Fatal(err)
	}

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.EventCount != 1 {
		t.Errorf("event count = %d, want 1", stats.EventCount)
	}
	if stats.MessageCount != 1 {
		t.Errorf("message count = %d, want 1", stats.MessageCount)
	}
}

func TestCleanupOldDataRemovesOnlyOlderRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cutoff := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	old := botapi.Event{EventID: 1, Kind: botapi.EventNewMessage, ChatID: "chat-1", Timestamp: cutoff.Add(-time.Hour)}
	fresh := botapi.Event{EventID: 2, Kind: botapi.EventNewMessage, ChatID: "chat-1", Timestamp: cutoff.Add(time.Hour)}
	if err := s.StoreEvent(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.StoreEvent(ctx, fresh); err != nil {
		t.Fatal(err)
	}

	n, err := s.CleanupOldData(ctx, cutoff)
	if err != nil {
		t.Fatalf("CleanupOldData: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleaned up %d rows, want 1", n)
	}

	events, err := s.GetRecentEvents(ctx, "chat-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventID != 2 {
		t.Errorf("remaining events = %+v, want only event 2", events)
	}
}

func TestHealthCheck(t *testing.T) {
	s := openTestStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestSchemaIsIdempotentAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reopen.db")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.StoreMessage(context.Background(), storage.Message{ChatID: "chat-1", Direction: storage.DirectionInbound, Text: "persisted"}); err != nil {
		t.Fatal(err)
	}
	if err := s1.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	stats, err := s2.GetStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.MessageCount != 1 {
		t.Errorf("message count after reopen = %d, want 1", stats.MessageCount)
	}
}
