package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/onnwee/chat-relay/chat"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func testChannel(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

func TestMigrateIdempotent(t *testing.T) {
	database := openTestDB(t)
	// Running twice must not fail.
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestInsertAndQueryAfter(t *testing.T) {
	database := openTestDB(t)
	store := NewStore(database)
	ctx := context.Background()
	channel := testChannel(t)

	base := time.Now().UnixMilli()
	for i, text := range []string{"first", "second", "third"} {
		msg := chat.Message{
			MessageID: fmt.Sprintf("%s-m%d", channel, i),
			ChannelID: channel,
			UserID:    "u1",
			Text:      text,
			Timestamp: base + int64(i*1000),
		}
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	got, err := store.MessagesAfter(ctx, channel, base)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("MessagesAfter(base) returned %d, want 2 (exclusive lower bound)", len(got))
	}
	if got[0].Text != "second" || got[1].Text != "third" {
		t.Errorf("unexpected order: %q then %q", got[0].Text, got[1].Text)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Errorf("timestamps not ascending: %d before %d", got[i-1].Timestamp, got[i].Timestamp)
		}
	}

	empty, err := store.MessagesAfter(ctx, channel, base+5000)
	if err != nil {
		t.Fatalf("query future: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("MessagesAfter(future) returned %d, want 0", len(empty))
	}
}

func TestInsertDuplicateMessageIDFails(t *testing.T) {
	database := openTestDB(t)
	store := NewStore(database)
	ctx := context.Background()
	channel := testChannel(t)

	msg := chat.Message{MessageID: channel + "-dup", ChannelID: channel, UserID: "u1", Text: "x", Timestamp: 1}
	if err := store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := store.InsertMessage(ctx, msg); err == nil {
		t.Fatal("second insert of same message_id succeeded, want unique violation")
	}
}

func TestBulkInsertAndCounts(t *testing.T) {
	database := openTestDB(t)
	store := NewStore(database)
	ctx := context.Background()
	channel := testChannel(t)

	msgs := make([]chat.Message, 5)
	for i := range msgs {
		msgs[i] = chat.Message{
			MessageID: fmt.Sprintf("%s-b%d", channel, i),
			ChannelID: channel,
			UserID:    fmt.Sprintf("u%d", i%2),
			Text:      "bulk",
			Timestamp: int64(i + 1),
		}
	}
	if err := store.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("bulk insert: %v", err)
	}

	counts, err := store.CountByChannel(ctx)
	if err != nil {
		t.Fatalf("count by channel: %v", err)
	}
	var found bool
	for _, c := range counts {
		if c.ChannelID == channel {
			found = true
			if c.Count != 5 {
				t.Errorf("channel count = %d, want 5", c.Count)
			}
		}
	}
	if !found {
		t.Errorf("channel %s missing from CountByChannel", channel)
	}

	total, err := store.CountMessages(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total < 5 {
		t.Errorf("total count = %d, want >= 5", total)
	}
}
