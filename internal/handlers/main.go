package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	charawebui "github.com/charaverse/chara-web-ui"
	"github.com/charaverse/chara-web-ui/internal/models"
	"github.com/charaverse/chara-web-ui/internal/stream"
	"github.com/tmaxmax/go-sse"
)

// Backend is the remote character-chat deployment this UI talks to. StreamReply
// yields the reply's partial text per progress tick and exactly one terminal
// update; failures travel through the iterator, never as panics. The history
// argument carries the prior local message list for deployments that replay
// context client-side; session-backed deployments ignore it.
type Backend interface {
	Characters(ctx context.Context) ([]models.Character, error)
	Character(ctx context.Context, id string) (models.Character, error)
	StreamReply(
		ctx context.Context,
		conversation models.Conversation,
		message string,
		history []models.Message,
	) iter.Seq2[stream.Update, error]
}

// ConversationFetcher is implemented by deployments that persist conversation
// state server-side. The authoritative message list is used as a recovery
// read after a failed turn; stateless deployments simply don't implement it.
type ConversationFetcher interface {
	Conversation(ctx context.Context, conversationID string) ([]models.Message, error)
}

// Resetter is implemented by deployments that can clear a conversation
// server-side. The local list is cleared in lockstep on success.
type Resetter interface {
	Reset(ctx context.Context, conversationID string) error
}

// Store defines the interface for the view's local copy of conversations and
// messages, including optimistic entries not yet acknowledged by the backend.
type Store interface {
	Conversations(ctx context.Context) ([]models.Conversation, error)
	AddConversation(ctx context.Context, conversation models.Conversation) (string, error)

	Messages(ctx context.Context, conversationID string) ([]models.Message, error)
	AddMessage(ctx context.Context, conversationID string, message models.Message) (string, error)
	ClearMessages(ctx context.Context, conversationID string) error
}

// Main handles the core functionality of the chat frontend, managing
// server-sent events, HTML templates, and interactions between the remote
// Backend and the local Store.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	backend Backend
	store   Store

	turns *inFlightTurns

	logger *slog.Logger
}

const errLoggerKey = "err"

const conversationsSSETopic = "conversations"

// NewMain creates a new Main instance with the provided Backend and Store
// implementations. It initializes the SSE server with default configurations
// and parses the required HTML templates from the embedded filesystem. The SSE
// server is configured to handle both default events and per-conversation
// topics.
func NewMain(backend Backend, store Store, logger *slog.Logger) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		charawebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	return Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				// We start with default topics that all clients should subscribe to
				topics := []string{sse.DefaultTopic, conversationsSSETopic}

				// We add a conversation-specific topic if the client requests updates for a particular conversation
				conversationID := s.Req.URL.Query().Get("conversation_id")
				if conversationID != "" {
					topics = append(topics, conversationTopic(conversationID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		backend:   backend,
		store:     store,
		turns:     newInFlightTurns(),
		logger:    logger.With(slog.String("module", "handlers")),
	}, nil
}

func conversationTopic(conversationID string) string {
	return fmt.Sprintf("conversation-%s", conversationID)
}

// HandleSSE serves the event stream the browser subscribes to for live
// updates: sidebar changes, message appends, partial-text ticks, error toasts,
// and the guest quota modal.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts
// a close message to all connected clients and waits up to 5 seconds for
// connections to terminate. After the timeout, any remaining connections are
// forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// inFlightTurns tracks which conversations have a reply streaming right now.
// At most one turn may be in flight per conversation; the send affordance is
// disabled in the view, and this is the server-side backstop.
type inFlightTurns struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInFlightTurns() *inFlightTurns {
	return &inFlightTurns{ids: make(map[string]struct{})}
}

func (t *inFlightTurns) begin(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.ids[conversationID]; ok {
		return false
	}
	t.ids[conversationID] = struct{}{}
	return true
}

func (t *inFlightTurns) end(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ids, conversationID)
}
