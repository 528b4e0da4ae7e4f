package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meetscribe/pkg/ai"
	"meetscribe/pkg/domain"
	"meetscribe/pkg/store"
)

const (
	defaultContextLimit = 1000
	defaultHistoryLimit = 20
)

// Grounding used when no session is selected.
const (
	defaultMeetingTitle   = "General"
	defaultMeetingContext = "No specific meeting context."
)

const answerPromptFormat = `You are an assistant answering questions about a recorded meeting.
Ground every answer in the meeting context below. If the context does not
contain the answer, say so instead of guessing.

Meeting: %s
Context:
%s
%s
User: %s
Assistant:`

// Engine answers questions about one session, grounded on a prefix of its
// transcript and the recent conversation turns.
type Engine struct {
	gen          ai.TextGenerator
	store        store.Store
	contextLimit int
	historyLimit int
}

// Option adjusts engine limits.
type Option func(*Engine)

// WithContextLimit caps the transcript prefix, in runes, included in each
// prompt.
func WithContextLimit(n int) Option {
	return func(e *Engine) { e.contextLimit = n }
}

// WithHistoryLimit caps how many prior turns are replayed into the prompt.
func WithHistoryLimit(n int) Option {
	return func(e *Engine) { e.historyLimit = n }
}

// NewEngine builds a chat engine over the generator and history store.
func NewEngine(gen ai.TextGenerator, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		gen:          gen,
		store:        st,
		contextLimit: defaultContextLimit,
		historyLimit: defaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request is one chat turn. A nil Session grounds the turn on an ephemeral
// default context instead of a transcript; an empty OwnerID marks the turn
// anonymous. Either condition skips history persistence.
type Request struct {
	Query   string
	Session *domain.Session
	OwnerID string
}

// Respond generates a grounded answer for one turn and returns it as the
// assistant's ChatMessage.
//
// History writes are best effort: a failed insert is logged and the turn
// proceeds, so a flaky history table can never block an answer. The reply
// content is identical whether or not the writes land.
func (e *Engine) Respond(ctx context.Context, req Request) (domain.ChatMessage, error) {
	if strings.TrimSpace(req.Query) == "" {
		return domain.ChatMessage{}, fmt.Errorf("empty query")
	}
	session := req.Session
	if session == nil {
		session = &domain.Session{
			Title:      defaultMeetingTitle,
			Transcript: defaultMeetingContext,
		}
	}

	history := e.loadHistory(session, req.OwnerID)
	e.record(session, req.OwnerID, domain.RoleUser, req.Query)

	prompt := e.buildPrompt(session, history, req.Query)
	answer, err := e.gen.GenerateText(ctx, prompt)
	if err != nil {
		return domain.ChatMessage{}, fmt.Errorf("generate answer: %w", err)
	}

	reply := domain.ChatMessage{
		OwnerID:   req.OwnerID,
		SessionID: session.ID,
		Role:      domain.RoleAssistant,
		Content:   answer,
		CreatedAt: time.Now().UTC(),
	}
	e.record(session, req.OwnerID, domain.RoleAssistant, answer)
	return reply, nil
}

func (e *Engine) loadHistory(session *domain.Session, ownerID string) []domain.ChatMessage {
	if ownerID == "" || session.ID == "" {
		return nil
	}
	history, err := e.store.ListChatMessages(session.ID, e.historyLimit)
	if err != nil {
		slog.Warn("chat history load failed", "session_id", session.ID, "err", err)
		return nil
	}
	return history
}

func (e *Engine) record(session *domain.Session, ownerID string, role domain.ChatRole, content string) {
	if ownerID == "" || session.ID == "" {
		return
	}
	err := e.store.AppendChatMessage(domain.ChatMessage{
		OwnerID:   ownerID,
		SessionID: session.ID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		slog.Warn("chat history write failed", "session_id", session.ID, "role", string(role), "err", err)
	}
}

func (e *Engine) buildPrompt(session *domain.Session, history []domain.ChatMessage, query string) string {
	var turns strings.Builder
	for _, m := range history {
		label := "User"
		if m.Role == domain.RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&turns, "%s: %s\n", label, m.Content)
	}
	return fmt.Sprintf(answerPromptFormat,
		session.Title,
		truncateRunes(session.Transcript, e.contextLimit),
		turns.String(),
		query,
	)
}

// truncateRunes cuts on rune boundaries so a multibyte transcript never
// yields a broken trailing character.
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
