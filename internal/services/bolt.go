package services

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/charaverse/chara-web-ui/internal/models"
	bolt "go.etcd.io/bbolt"
)

// BoltDB holds the view's local copy of conversations and their message
// lists, including optimistic entries that the backend has not acknowledged
// yet. It provides atomic operations through a key-value storage model.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB creates a new BoltDB instance with the specified file path. It
// initializes the database with required buckets and returns an error if the
// database cannot be opened or initialized. The database file is created with
// 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte("conversations"))
		return err
	})

	return BoltDB{db: db}, err
}

func messageBucketName(conversationID string) []byte {
	return []byte(fmt.Sprintf("conversation-%s", conversationID))
}

// Conversations retrieves all stored conversation records in reverse
// chronological order. It returns a slice of Conversation models or an error
// if the database operation fails.
func (b BoltDB) Conversations(context.Context) ([]models.Conversation, error) {
	var conversations []models.Conversation
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("conversations"))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var conversation models.Conversation
			if err := json.Unmarshal(v, &conversation); err != nil {
				return fmt.Errorf("failed to unmarshal conversation: %w", err)
			}
			conversations = append(conversations, conversation)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(conversations)
	return conversations, nil
}

// AddConversation stores a new conversation record and creates its associated
// message bucket. It generates a unique ID by combining a sequence number with
// the conversation's original ID, and returns the new ID or an error if the
// operation fails.
func (b BoltDB) AddConversation(_ context.Context, conversation models.Conversation) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte("conversations"))
		if b == nil {
			return nil
		}

		idPrefix, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		// Zero-padded so key order stays chronological past ten entries.
		newID = fmt.Sprintf("%020d-%s", idPrefix, conversation.ID)
		conversation.ID = newID

		_, err = tx.CreateBucketIfNotExists(messageBucketName(conversation.ID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(conversation)
		if err != nil {
			return fmt.Errorf("failed to marshal conversation: %w", err)
		}

		return b.Put([]byte(newID), v)
	})

	return newID, err
}

// Messages retrieves all messages associated with the specified conversation
// ID. It returns the messages in their stored order or an error if the
// database operation fails.
func (b BoltDB) Messages(_ context.Context, conversationID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(conversationID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage stores a new message in the specified conversation's message
// bucket. It generates a unique ID for the message by combining a sequence
// number with the message's original ID, and returns the new ID or an error
// if the operation fails. The sequence prefix preserves append order.
func (b BoltDB) AddMessage(_ context.Context, conversationID string, message models.Message) (string, error) {
	var newID string
	err := b.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(conversationID))
		if b == nil {
			return nil
		}

		idPrefix, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}
		newID = fmt.Sprintf("%020d-%s", idPrefix, message.ID)
		message.ID = newID

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return b.Put([]byte(newID), v)
	})

	return newID, err
}

// ClearMessages removes every message in the specified conversation's bucket,
// keeping the conversation record itself. Used when a reset succeeds
// server-side and when the authoritative list replaces the local one after a
// failed turn.
func (b BoltDB) ClearMessages(_ context.Context, conversationID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		name := messageBucketName(conversationID)
		if tx.Bucket(name) == nil {
			return nil
		}

		if err := tx.DeleteBucket(name); err != nil {
			return fmt.Errorf("failed to delete message bucket: %w", err)
		}

		_, err := tx.CreateBucket(name)
		if err != nil {
			return fmt.Errorf("failed to recreate message bucket: %w", err)
		}
		return nil
	})
}
