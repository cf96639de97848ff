package handlers

import (
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/charaverse/chara-web-ui/internal/models"
)

type conversationView struct {
	ID    string
	Title string

	Active bool
}

type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState string
}

type homePageData struct {
	Characters     []models.Character
	Conversations  []conversationView
	ConversationID string
	Title          string
	Messages       []message
}

// HandleHome renders the main page: the character rail, the conversation
// sidebar, and — when a conversation is selected — its message list followed
// by the typing bubble slot.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	characters, err := m.backend.Characters(ctx)
	if err != nil {
		m.logger.Error("Failed to get characters", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conversations, err := m.store.Conversations(ctx)
	if err != nil {
		m.logger.Error("Failed to get conversations", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	currentID := r.URL.Query().Get("conversation_id")

	views := make([]conversationView, len(conversations))
	currentTitle := ""
	for i, c := range conversations {
		views[i] = conversationView{
			ID:     c.ID,
			Title:  c.Title,
			Active: c.ID == currentID,
		}
		if c.ID == currentID {
			currentTitle = c.Title
		}
	}

	var msgs []message
	if currentID != "" {
		messages, err := m.store.Messages(ctx, currentID)
		if err != nil {
			m.logger.Error("Failed to get messages", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs = make([]message, len(messages))
		for i := range messages {
			msgs[i], err = m.messageView(messages[i], models.StreamingStateEnded)
			if err != nil {
				m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
	}

	data := homePageData{
		Characters:     characters,
		Conversations:  views,
		ConversationID: currentID,
		Title:          currentTitle,
		Messages:       msgs,
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) messageView(msg models.Message, state string) (message, error) {
	html, err := models.RenderMarkdown(msg.Content)
	if err != nil {
		return message{}, err
	}
	return message{
		ID:             msg.ID,
		Role:           string(msg.Role),
		Content:        template.HTML(html), //nolint:gosec // goldmark output from our own store
		Timestamp:      msg.CreatedAt,
		StreamingState: state,
	}, nil
}

func (m Main) renderMessage(msg models.Message, state string) (string, error) {
	view, err := m.messageView(msg, state)
	if err != nil {
		return "", err
	}

	tmplName := "agent_message"
	if msg.Role == models.RoleHuman {
		tmplName = "human_message"
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, tmplName, view); err != nil {
		return "", err
	}
	return sb.String(), nil
}
