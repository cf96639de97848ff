package services_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/charaverse/chara-web-ui/internal/models"
	"github.com/charaverse/chara-web-ui/internal/services"
)

func TestBoltDBMessages(t *testing.T) {
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}

	ctx := context.Background()

	convID, err := db.AddConversation(ctx, models.Conversation{ID: "abc", CharacterID: "c1", Title: "Mira"})
	if err != nil {
		t.Fatalf("AddConversation() error = %v", err)
	}

	for _, content := range []string{"one", "two", "three"} {
		_, err := db.AddMessage(ctx, convID, models.Message{
			ID:        models.LocalMessageID(time.Now()),
			Role:      models.RoleHuman,
			Content:   content,
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}

	messages, err := db.Messages(ctx, convID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	// Sequence-prefixed keys preserve append order.
	for i, want := range []string{"one", "two", "three"} {
		if messages[i].Content != want {
			t.Errorf("messages[%d].Content = %q, want %q", i, messages[i].Content, want)
		}
	}

	if err := db.ClearMessages(ctx, convID); err != nil {
		t.Fatalf("ClearMessages() error = %v", err)
	}
	messages, err = db.Messages(ctx, convID)
	if err != nil {
		t.Fatalf("Messages() after clear error = %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("got %d messages after clear, want 0", len(messages))
	}

	conversations, err := db.Conversations(ctx)
	if err != nil {
		t.Fatalf("Conversations() error = %v", err)
	}
	if len(conversations) != 1 || conversations[0].Title != "Mira" {
		t.Errorf("conversations = %+v", conversations)
	}
}

// Key order must stay chronological once the sequence counter passes ten.
func TestBoltDBMessageOrderLongConversation(t *testing.T) {
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}

	ctx := context.Background()

	convID, err := db.AddConversation(ctx, models.Conversation{ID: "abc", CharacterID: "c1", Title: "Mira"})
	if err != nil {
		t.Fatalf("AddConversation() error = %v", err)
	}

	const total = 12
	for i := 0; i < total; i++ {
		_, err := db.AddMessage(ctx, convID, models.Message{
			ID:        models.LocalMessageID(time.Now()),
			Role:      models.RoleHuman,
			Content:   fmt.Sprintf("message %d", i),
			CreatedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}

	messages, err := db.Messages(ctx, convID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != total {
		t.Fatalf("got %d messages, want %d", len(messages), total)
	}
	for i := range messages {
		if want := fmt.Sprintf("message %d", i); messages[i].Content != want {
			t.Errorf("messages[%d].Content = %q, want %q", i, messages[i].Content, want)
		}
	}
}
