// Package contextmgr maintains per-session conversation windows under a
// token budget. When a window outgrows the budget the oldest turns are
// folded into a rolling summary by the completion provider; the durable
// store is written through on every mutation and cold sessions rehydrate
// from it lazily.
package contextmgr

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/halcyonbot/halcyon/internal/memory"
	"github.com/halcyonbot/halcyon/internal/scheduler"
	"github.com/halcyonbot/halcyon/internal/schema"
	"github.com/halcyonbot/halcyon/internal/shared/stringutils"
	"github.com/halcyonbot/halcyon/internal/store"
)

const summarySystemPrompt = "You compress conversation history. Reply with 2-3 sentences that preserve key facts, names, decisions and user preferences. No preamble."

// Config tunes the manager. Zero values are filled by Normalize.
type Config struct {
	MaxContextTokens  int
	SummarizeFraction float64
	MaxWindowTurns    int
	LockTimeout       time.Duration
	SummaryModel      string
	SummaryMaxTokens  int
	Estimator         Estimator
}

// Normalize fills unset fields with the standard defaults.
func (c *Config) Normalize() {
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 12000
	}
	if c.SummarizeFraction <= 0 || c.SummarizeFraction >= 1 {
		c.SummarizeFraction = 0.6
	}
	if c.MaxWindowTurns <= 0 {
		c.MaxWindowTurns = 50
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 90 * time.Second
	}
	if c.SummaryMaxTokens <= 0 {
		c.SummaryMaxTokens = 256
	}
	if c.Estimator == nil {
		c.Estimator = DefaultEstimator
	}
}

// Manager owns every session window. All mutating entry points serialize
// per session key through a keyed mutex with a bounded wait.
type Manager struct {
	store    *store.Store
	provider schema.CompletionProvider
	sched    *scheduler.Scheduler
	memories *memory.SemanticStore // optional, used by BuildPrompt
	cache    *SessionCache
	locks    *KeyedMutex
	cfg      Config
}

// NewManager wires the manager. memories may be nil; BuildPrompt then
// degrades to context-only prompts.
func NewManager(st *store.Store, provider schema.CompletionProvider, sched *scheduler.Scheduler, memories *memory.SemanticStore, cache *SessionCache, cfg Config) *Manager {
	cfg.Normalize()
	return &Manager{
		store:    st,
		provider: provider,
		sched:    sched,
		memories: memories,
		cache:    cache,
		locks:    NewKeyedMutex(),
		cfg:      cfg,
	}
}

// AddTurn appends a turn to the session window, persists it and enforces
// the token budget. Persistence and summarization failures are logged,
// never fatal: the in-memory window is authoritative for the live
// conversation.
func (m *Manager) AddTurn(ctx context.Context, sessionKey, role, content, authorName, externalID string, images []string) {
	release := m.lock(sessionKey)
	defer release()

	sess := m.session(ctx, sessionKey)

	turn := schema.Turn{
		ID:         store.NewID(),
		SessionKey: sessionKey,
		Seq:        sess.TurnCount,
		Role:       role,
		Content:    content,
		AuthorName: stringutils.SanitizeName(authorName),
		ExternalID: externalID,
		Images:     images,
		CreatedAt:  time.Now().UTC(),
	}
	sess.Turns = append(sess.Turns, turn)
	sess.TurnCount++

	if err := m.store.AppendTurn(ctx, turn); err != nil {
		slog.Warn("context: turn persist failed", "session", sessionKey, "error", err)
	}

	m.enforceBudget(ctx, sess)
	m.saveState(ctx, sess)
	m.touch(sess)
}

// EditTurn rewrites a turn's content by its external id. Turns that have
// already been summarized out of the window are left alone.
func (m *Manager) EditTurn(ctx context.Context, sessionKey, externalID, content string) {
	release := m.lock(sessionKey)
	defer release()

	sess := m.session(ctx, sessionKey)
	found := false
	for i := range sess.Turns {
		if sess.Turns[i].ExternalID == externalID {
			sess.Turns[i].Content = content
			found = true
			break
		}
	}
	if !found {
		slog.Info("context: edit target not in window", "session", sessionKey, "externalId", externalID)
	}

	if _, err := m.store.UpdateTurnContent(ctx, sessionKey, externalID, content); err != nil {
		slog.Warn("context: turn update failed", "session", sessionKey, "error", err)
	}
	m.touch(sess)
}

// DeleteTurn removes a turn by its external id from the window and the
// durable store.
func (m *Manager) DeleteTurn(ctx context.Context, sessionKey, externalID string) {
	release := m.lock(sessionKey)
	defer release()

	sess := m.session(ctx, sessionKey)
	for i := range sess.Turns {
		if sess.Turns[i].ExternalID == externalID {
			sess.Turns = append(sess.Turns[:i], sess.Turns[i+1:]...)
			break
		}
	}

	if _, err := m.store.DeleteTurn(ctx, sessionKey, externalID); err != nil {
		slog.Warn("context: turn delete failed", "session", sessionKey, "error", err)
	}
	m.touch(sess)
}

// GetContext returns the prompt-ready view of a session: the rolling
// summary as a leading system message, then the live window with
// bookkeeping fields stripped.
func (m *Manager) GetContext(ctx context.Context, sessionKey string) schema.Messages {
	release := m.lock(sessionKey)
	defer release()

	sess := m.session(ctx, sessionKey)
	m.touch(sess)
	return renderWindow(sess)
}

// BuildPrompt is GetContext plus relevant memories retrieved for query,
// injected as a system message between the summary and the window.
func (m *Manager) BuildPrompt(ctx context.Context, sessionKey, query string, scope schema.Scope) schema.Messages {
	release := m.lock(sessionKey)
	defer release()

	sess := m.session(ctx, sessionKey)
	m.touch(sess)

	msgs := schema.NewMessages()
	if sess.Summary != "" {
		msgs.AddSystem("Conversation so far: " + sess.Summary)
	}

	if m.memories != nil && query != "" {
		results := m.memories.Search(ctx, query, 5, 0, scope)
		if len(results) > 0 {
			var sb strings.Builder
			sb.WriteString("Relevant memories:\n")
			for i, r := range results {
				fmt.Fprintf(&sb, "%d. %s\n", i+1, r.Record.Content)
				m.memories.Touch(ctx, r.Record.ID)
			}
			msgs.AddSystem(sb.String())
		}
	}

	window := renderWindow(sess)
	for _, msg := range window.Messages {
		if msg.Role == "system" {
			continue // summary already added above
		}
		msgs.Messages = append(msgs.Messages, msg)
	}
	return msgs
}

// ClearSession drops the window and all persisted turns for a session.
func (m *Manager) ClearSession(ctx context.Context, sessionKey string) {
	release := m.lock(sessionKey)
	defer release()

	m.cache.Remove(sessionKey)
	if err := m.store.ClearSession(ctx, sessionKey); err != nil {
		slog.Warn("context: clear failed", "session", sessionKey, "error", err)
	}
}

// --- internals ---

func (m *Manager) lock(sessionKey string) func() {
	release, ok := m.locks.Acquire(sessionKey, m.cfg.LockTimeout)
	if !ok {
		slog.Warn("context: lock wait timed out, proceeding without exclusion", "session", sessionKey)
	}
	return release
}

// session returns the cached window or rehydrates it from the durable
// store. Hydration failures log and start an empty session.
func (m *Manager) session(ctx context.Context, sessionKey string) *Session {
	if sess, ok := m.cache.Get(sessionKey); ok {
		return sess
	}

	sess := &Session{Key: sessionKey}
	turns, err := m.store.RecentTurns(ctx, sessionKey, m.cfg.MaxWindowTurns)
	if err != nil {
		slog.Warn("context: hydration failed, starting empty", "session", sessionKey, "error", err)
	} else {
		sess.Turns = turns
	}
	summary, turnCount, ok, err := m.store.SessionState(ctx, sessionKey)
	if err != nil {
		slog.Warn("context: session state load failed", "session", sessionKey, "error", err)
	} else if ok {
		sess.Summary = summary
		sess.TurnCount = turnCount
	} else if len(sess.Turns) > 0 {
		sess.TurnCount = sess.Turns[len(sess.Turns)-1].Seq + 1
	}
	return sess
}

func (m *Manager) touch(sess *Session) {
	for _, old := range m.cache.Put(sess) {
		slog.Debug("context: evicted cold session", "session", old.Key)
	}
}

func (m *Manager) saveState(ctx context.Context, sess *Session) {
	if err := m.store.SaveSessionState(ctx, sess.Key, sess.Summary, sess.TurnCount); err != nil {
		slog.Warn("context: state persist failed", "session", sess.Key, "error", err)
	}
}

// enforceBudget folds the oldest turns into the rolling summary when the
// estimated window cost exceeds the budget, or the window exceeds its
// turn cap. On summarization failure the window is left untouched and
// the next append retries.
func (m *Manager) enforceBudget(ctx context.Context, sess *Session) {
	est := m.cfg.Estimator(sess.Summary, sess.Turns)
	if est <= m.cfg.MaxContextTokens && len(sess.Turns) <= m.cfg.MaxWindowTurns {
		return
	}

	cut := int(float64(len(sess.Turns)) * m.cfg.SummarizeFraction)
	if cut < 1 {
		cut = 1
	}
	if cut >= len(sess.Turns) {
		cut = len(sess.Turns) - 1
	}
	if cut < 1 {
		return
	}

	summary, err := m.summarize(ctx, sess.Summary, sess.Turns[:cut])
	if err != nil {
		slog.Warn("context: summarization failed, window unchanged", "session", sess.Key, "error", err)
		return
	}

	kept := make([]schema.Turn, len(sess.Turns)-cut)
	copy(kept, sess.Turns[cut:])
	sess.Summary = summary
	sess.Turns = kept
	slog.Info("context: window summarized", "session", sess.Key, "folded", cut, "kept", len(kept), "estimatedTokens", est)
}

func (m *Manager) summarize(ctx context.Context, prevSummary string, turns []schema.Turn) (string, error) {
	var sb strings.Builder
	if prevSummary != "" {
		sb.WriteString("Earlier summary: ")
		sb.WriteString(prevSummary)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Conversation to fold in:\n")
	for _, t := range turns {
		name := t.AuthorName
		if name == "" {
			name = t.Role
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", t.Role, name, stringutils.Truncate(t.Content, 500))
	}

	msgs := schema.NewMessages()
	msgs.AddSystem(summarySystemPrompt)
	msgs.AddUser(sb.String())

	var out string
	err := m.sched.Do(ctx, scheduler.ClassLight, 0, func(ctx context.Context) error {
		reply, err := m.provider.Chat(ctx, msgs, schema.ChatOptions{
			Model:       m.cfg.SummaryModel,
			MaxTokens:   m.cfg.SummaryMaxTokens,
			Temperature: 0.3,
		})
		if err != nil {
			return err
		}
		out = strings.TrimSpace(stringutils.StripThink(reply))
		return nil
	})
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("empty summary")
	}
	return out, nil
}

func renderWindow(sess *Session) schema.Messages {
	msgs := schema.NewMessages()
	if sess.Summary != "" {
		msgs.AddSystem("Conversation so far: " + sess.Summary)
	}
	for _, t := range sess.Turns {
		content := t.Content
		if t.AuthorName != "" && t.Role == "user" {
			content = t.AuthorName + ": " + content
		}
		msgs.Messages = append(msgs.Messages, schema.Message{Role: t.Role, Content: content})
	}
	return msgs
}
