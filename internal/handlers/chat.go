package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charaverse/chara-web-ui/internal/models"
	"github.com/charaverse/chara-web-ui/internal/stream"
	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSE event types for real-time updates.
var (
	conversationsSSEType = sse.Type("conversations")
	messagesSSEType      = sse.Type("messages")
	typingSSEType        = sse.Type("typing")
	typingEndedSSEType   = sse.Type("typingEnded")
	historySSEType       = sse.Type("history")
	errorSSEType         = sse.Type("error")
	quotaSSEType         = sse.Type("quota")
)

type chatboxData struct {
	ConversationID string
	Title          string
	Messages       []message
}

// HandleChats processes one outbound chat turn through HTTP POST requests. It
// accepts the user's message through form data, appends the optimistic local
// echo before any network I/O starts, and launches the reply stream in the
// background. Partial reply text and the finalized message reach the view
// through Server-Sent Events on the conversation's topic.
//
// The handler expects a "message" form field plus either a "conversation_id"
// field for an existing thread or a "character_id" field to start a new one.
// A blank or whitespace-only message is a boundary no-op: no network call is
// made and no state changes.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := r.FormValue("message")
	if strings.TrimSpace(msg) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var err error

	conversationID := r.FormValue("conversation_id")
	// We track if this is a new conversation to determine the appropriate template rendering strategy
	isNewConversation := false
	var conversation models.Conversation
	if conversationID == "" {
		characterID := r.FormValue("character_id")
		if characterID == "" {
			m.logger.Error("Character is required for a new conversation")
			http.Error(w, "Character is required", http.StatusBadRequest)
			return
		}
		conversation, err = m.newConversation(r.Context(), characterID)
		if err != nil {
			m.logger.Error("Failed to create new conversation", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		isNewConversation = true
	} else {
		conversation, err = m.findConversation(r.Context(), conversationID)
		if err != nil {
			m.logger.Error("Failed to find conversation",
				slog.String("conversationID", conversationID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
	}

	if !m.turns.begin(conversation.ID) {
		http.Error(w, "A reply is already streaming for this conversation", http.StatusConflict)
		return
	}

	// Snapshot the prior history before the echo so stateless deployments
	// resend exactly the context that existed when this turn began.
	history, err := m.store.Messages(r.Context(), conversation.ID)
	if err != nil {
		m.turns.end(conversation.ID)
		m.logger.Error("Failed to get messages",
			slog.String("conversationID", conversation.ID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Optimistic local echo: the human message lands in the list before any
	// network I/O begins, and stays there even if the turn fails.
	now := time.Now()
	hm := models.Message{
		ID:        models.LocalMessageID(now),
		Role:      models.RoleHuman,
		Content:   msg,
		CreatedAt: now,
	}
	humanMsgID, err := m.store.AddMessage(r.Context(), conversation.ID, hm)
	if err != nil {
		m.turns.end(conversation.ID)
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", hm)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hm.ID = humanMsgID

	// Start async reply streaming for this turn
	go m.streamTurn(conversation, msg, history)

	if isNewConversation {
		messages, err := m.store.Messages(r.Context(), conversation.ID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("conversationID", conversation.ID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		msgs := make([]message, len(messages))
		for i := range messages {
			msgs[i], err = m.messageView(messages[i], models.StreamingStateEnded)
			if err != nil {
				m.logger.Error("Failed to render message",
					slog.String("message", fmt.Sprintf("%+v", messages[i])),
					slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}

		data := chatboxData{
			ConversationID: conversation.ID,
			Title:          conversation.Title,
			Messages:       msgs,
		}
		if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	humanView, err := m.messageView(hm, models.StreamingStateEnded)
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("message", fmt.Sprintf("%+v", hm)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "human_message", humanView); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "typing_bubble", chatboxData{
		ConversationID: conversation.ID,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleReset clears all messages of a conversation. Deployments with
// server-side sessions are cleared first; the local list follows in lockstep
// only on success.
func (m Main) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.FormValue("conversation_id")
	if conversationID == "" {
		http.Error(w, "Conversation is required", http.StatusBadRequest)
		return
	}

	if resetter, ok := m.backend.(Resetter); ok {
		if err := resetter.Reset(r.Context(), conversationID); err != nil {
			m.logger.Error("Failed to reset conversation",
				slog.String("conversationID", conversationID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if err := m.store.ClearMessages(r.Context(), conversationID); err != nil {
		m.logger.Error("Failed to clear messages",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.publish(historySSEType, conversationTopic(conversationID), `<div class="empty-conversation">Conversation cleared.</div>`)
	w.WriteHeader(http.StatusNoContent)
}

func (m Main) newConversation(ctx context.Context, characterID string) (models.Conversation, error) {
	character, err := m.backend.Character(ctx, characterID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to get character: %w", err)
	}

	conversation := models.Conversation{
		ID:          uuid.New().String(),
		CharacterID: character.ID,
		Title:       character.Name,
	}
	newID, err := m.store.AddConversation(ctx, conversation)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to add conversation: %w", err)
	}
	conversation.ID = newID

	if character.Greeting != "" {
		now := time.Now()
		greeting := models.Message{
			ID:        models.LocalMessageID(now),
			Role:      models.RoleAgent,
			Content:   character.Greeting,
			CreatedAt: now,
		}
		if _, err := m.store.AddMessage(ctx, conversation.ID, greeting); err != nil {
			return models.Conversation{}, fmt.Errorf("failed to add greeting: %w", err)
		}
	}

	divs, err := m.conversationDivs(conversation.ID)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to create conversation divs: %w", err)
	}
	m.publish(conversationsSSEType, conversationsSSETopic, divs)

	return conversation, nil
}

func (m Main) findConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	conversations, err := m.store.Conversations(ctx)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to get conversations: %w", err)
	}

	idx := slices.IndexFunc(conversations, func(c models.Conversation) bool {
		return c.ID == conversationID
	})
	if idx == -1 {
		return models.Conversation{}, fmt.Errorf("conversation %s is not found", conversationID)
	}
	return conversations[idx], nil
}

// streamTurn drives one turn's reply stream to completion in the background.
// Once the terminal update has been committed the turn is over; the transport
// may still flush trailing bytes, but the assembler session inside the backend
// client goes silent after the terminal record, so nothing can resurrect the
// typing bubble here.
func (m Main) streamTurn(conversation models.Conversation, outbound string, history []models.Message) {
	defer m.turns.end(conversation.ID)

	ctx := context.Background()
	topic := conversationTopic(conversation.ID)

	for upd, err := range m.backend.StreamReply(ctx, conversation, outbound, history) {
		if err != nil {
			// The ephemeral bubble goes away; the optimistic echo stays.
			m.publish(typingEndedSSEType, topic, "done")

			if errors.Is(err, models.ErrGuestQuotaExceeded) {
				m.publish(quotaSSEType, topic, "Guest message limit reached. Sign in to keep chatting.")
				return
			}

			m.logger.Error("Reply stream failed",
				slog.String("conversationID", conversation.ID),
				slog.String(errLoggerKey, err.Error()))
			m.publish(errorSSEType, topic, "The reply could not be completed. Your message was kept; please try again.")
			m.recoverConversation(ctx, conversation.ID, topic)
			return
		}

		if upd.Terminal != nil {
			m.commitReply(ctx, conversation.ID, topic, upd.Terminal)
			return
		}

		if upd.Partial == "" {
			// The view shows a generic typing indicator until the first chunk.
			continue
		}
		html, err := models.RenderMarkdown(upd.Partial)
		if err != nil {
			m.logger.Error("Failed to render partial text", slog.String(errLoggerKey, err.Error()))
			continue
		}
		m.publish(typingSSEType, topic, html)
	}
}

// commitReply appends the finalized agent message. The terminal payload's full
// text is authoritative over any chunk concatenation, and its timestamp is the
// server's word on when the reply finished.
func (m Main) commitReply(ctx context.Context, conversationID, topic string, terminal *stream.Completion) {
	createdAt, err := time.Parse(time.RFC3339, terminal.Timestamp)
	if err != nil {
		createdAt = time.Now()
	}

	am := models.Message{
		ID:        models.LocalMessageID(time.Now()),
		Role:      models.RoleAgent,
		Content:   terminal.FullText,
		CreatedAt: createdAt,
	}
	newID, err := m.store.AddMessage(ctx, conversationID, am)
	if err != nil {
		m.logger.Error("Failed to add agent message",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		m.publish(typingEndedSSEType, topic, "done")
		m.publish(errorSSEType, topic, "The reply could not be saved.")
		return
	}
	am.ID = newID

	rendered, err := m.renderMessage(am, models.StreamingStateEnded)
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("message", fmt.Sprintf("%+v", am)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	// The finalized message and the bubble teardown go out back to back so the
	// view never shows the same content twice.
	m.publish(messagesSSEType, topic, rendered)
	m.publish(typingEndedSSEType, topic, "done")
}

// recoverConversation replaces the local message list with the authoritative
// one after a failed turn, when the deployment supports refetching. Stateless
// deployments have nothing to refetch; the turn is simply over.
func (m Main) recoverConversation(ctx context.Context, conversationID, topic string) {
	fetcher, ok := m.backend.(ConversationFetcher)
	if !ok {
		return
	}

	messages, err := fetcher.Conversation(ctx, conversationID)
	if err != nil {
		m.logger.Error("Failed to refetch conversation",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if err := m.store.ClearMessages(ctx, conversationID); err != nil {
		m.logger.Error("Failed to clear messages",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	for _, msg := range messages {
		if _, err := m.store.AddMessage(ctx, conversationID, msg); err != nil {
			m.logger.Error("Failed to add refetched message",
				slog.String("message", fmt.Sprintf("%+v", msg)),
				slog.String(errLoggerKey, err.Error()))
			return
		}
	}

	divs, err := m.messageListDivs(ctx, conversationID)
	if err != nil {
		m.logger.Error("Failed to render refetched messages",
			slog.String("conversationID", conversationID),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publish(historySSEType, topic, divs)
}

func (m Main) messageListDivs(ctx context.Context, conversationID string) (string, error) {
	messages, err := m.store.Messages(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("failed to get messages: %w", err)
	}

	var sb strings.Builder
	for _, msg := range messages {
		rendered, err := m.renderMessage(msg, models.StreamingStateEnded)
		if err != nil {
			return "", err
		}
		sb.WriteString(rendered)
	}
	return sb.String(), nil
}

func (m Main) conversationDivs(activeID string) (string, error) {
	conversations, err := m.store.Conversations(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get conversations: %w", err)
	}

	var sb strings.Builder
	for _, c := range conversations {
		err := m.templates.ExecuteTemplate(&sb, "conversation_title", conversationView{
			ID:     c.ID,
			Title:  c.Title,
			Active: c.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute conversation_title template: %w", err)
		}
	}
	return sb.String(), nil
}

func (m Main) publish(eventType sse.EventType, topic, data string) {
	msg := sse.Message{Type: eventType}
	msg.AppendData(data)
	if err := m.sseSrv.Publish(&msg, topic); err != nil {
		m.logger.Error("Failed to publish event",
			slog.String("topic", topic),
			slog.String(errLoggerKey, err.Error()))
	}
}
