package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/charaverse/chara-web-ui/internal/models"
	"github.com/charaverse/chara-web-ui/internal/stream"
)

// ChatHub is the client for the authenticated character-chat deployment. The
// backend persists conversation state keyed by session, so only the new
// outbound message travels with each turn.
type ChatHub struct {
	baseURL  string
	apiToken string
	vocab    models.Vocabulary

	client *http.Client

	logger *slog.Logger
}

type chatHubSendRequest struct {
	Message string `json:"message"`
	Role    string `json:"role"`
}

type chatHubMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt"`
}

// NewChatHub creates a new ChatHub client for the given base URL and API token.
func NewChatHub(baseURL, apiToken string, logger *slog.Logger) ChatHub {
	return ChatHub{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: apiToken,
		vocab:    models.AuthenticatedVocabulary,
		client:   &http.Client{},
		logger:   logger.With(slog.String("module", "chathub")),
	}
}

// StreamReply sends one outbound message for the given conversation and
// streams the reply back as progress updates. The prior history argument is
// ignored: this deployment replays context server-side. The returned iterator
// yields the current best-known partial text per tick, then exactly one update
// carrying the terminal payload. Failures are reported through the same
// iterator, never panicked.
func (c ChatHub) StreamReply(
	ctx context.Context,
	conversation models.Conversation,
	message string,
	_ []models.Message,
) iter.Seq2[stream.Update, error] {
	return func(yield func(stream.Update, error) bool) {
		reqBody := chatHubSendRequest{
			Message: message,
			Role:    c.vocab.Wire(models.RoleHuman),
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield(stream.Update{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/conversations/"+conversation.ID+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(stream.Update{}, fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiToken)

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(stream.Update{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(stream.Update{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		c.logger.Debug("Streaming reply", slog.String("conversationID", conversation.ID))

		relayReply(resp.Body, yield)
	}
}

// Conversation fetches the authoritative ordered message list for a
// conversation. Used on page load and as a recovery read after a failed turn.
// Messages whose role literal falls outside the deployment vocabulary are
// dropped.
func (c ChatHub) Conversation(ctx context.Context, conversationID string) ([]models.Message, error) {
	var wire []chatHubMessage
	if err := c.getJSON(ctx, "/api/conversations/"+conversationID+"/messages", &wire); err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(wire))
	for _, wm := range wire {
		role, ok := c.vocab.Internal(wm.Role)
		if !ok {
			c.logger.Warn("Dropping message with unknown role", slog.String("role", wm.Role))
			continue
		}
		createdAt, err := time.Parse(time.RFC3339, wm.CreatedAt)
		if err != nil {
			createdAt = time.Time{}
		}
		messages = append(messages, models.Message{
			ID:        wm.ID,
			Role:      role,
			Content:   wm.Content,
			CreatedAt: createdAt,
		})
	}
	return messages, nil
}

// Reset clears all messages for a conversation server-side.
func (c ChatHub) Reset(ctx context.Context, conversationID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/conversations/"+conversationID+"/reset", nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Characters lists the personas available to chat with.
func (c ChatHub) Characters(ctx context.Context) ([]models.Character, error) {
	var characters []models.Character
	if err := c.getJSON(ctx, "/api/characters", &characters); err != nil {
		return nil, err
	}
	return characters, nil
}

// Character fetches one persona by ID.
func (c ChatHub) Character(ctx context.Context, id string) (models.Character, error) {
	var character models.Character
	if err := c.getJSON(ctx, "/api/characters/"+id, &character); err != nil {
		return models.Character{}, err
	}
	return character, nil
}

func (c ChatHub) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
