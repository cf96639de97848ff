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

	"github.com/charaverse/chara-web-ui/internal/models"
	"github.com/charaverse/chara-web-ui/internal/stream"
)

// Guest is the client for the stateless guest deployment. The server keeps no
// conversation state, so every turn carries the full prior history inline.
type Guest struct {
	baseURL string
	vocab   models.Vocabulary

	client *http.Client

	logger *slog.Logger
}

type guestSendRequest struct {
	Message string              `json:"message"`
	Role    string              `json:"role"`
	History []guestHistoryEntry `json:"history"`
}

type guestHistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewGuest creates a new Guest client for the given base URL.
func NewGuest(baseURL string, logger *slog.Logger) Guest {
	return Guest{
		baseURL: strings.TrimRight(baseURL, "/"),
		vocab:   models.GuestVocabulary,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "guest")),
	}
}

// StreamReply sends one outbound message together with the full prior history
// and streams the reply back as progress updates. This deployment has no
// server-side sessions: the send is keyed on the conversation's character, a
// failed turn has nothing to refetch, and the user must resend. A quota
// rejection is reported as ErrGuestQuotaExceeded through the iterator.
func (g Guest) StreamReply(
	ctx context.Context,
	conversation models.Conversation,
	message string,
	history []models.Message,
) iter.Seq2[stream.Update, error] {
	return func(yield func(stream.Update, error) bool) {
		entries := make([]guestHistoryEntry, len(history))
		for i, msg := range history {
			entries[i] = guestHistoryEntry{
				Role:    g.vocab.Wire(msg.Role),
				Content: msg.Content,
			}
		}

		reqBody := guestSendRequest{
			Message: message,
			Role:    g.vocab.Wire(models.RoleHuman),
			History: entries,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield(stream.Update{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			g.baseURL+"/api/guest/characters/"+conversation.CharacterID+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(stream.Update{}, fmt.Errorf("error creating request: %w", err))
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(stream.Update{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusForbidden {
			yield(stream.Update{}, models.ErrGuestQuotaExceeded)
			return
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(stream.Update{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		g.logger.Debug("Streaming guest reply", slog.String("characterID", conversation.CharacterID))

		relayReply(resp.Body, yield)
	}
}

// Characters lists the personas available on the public guest surface.
func (g Guest) Characters(ctx context.Context) ([]models.Character, error) {
	var characters []models.Character
	if err := g.getJSON(ctx, "/api/characters", &characters); err != nil {
		return nil, err
	}
	return characters, nil
}

// Character fetches one persona by ID.
func (g Guest) Character(ctx context.Context, id string) (models.Character, error) {
	var character models.Character
	if err := g.getJSON(ctx, "/api/characters/"+id, &character); err != nil {
		return models.Character{}, err
	}
	return character, nil
}

func (g Guest) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	resp, err := g.client.Do(req)
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
