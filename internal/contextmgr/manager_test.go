package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/halcyonbot/halcyon/internal/scheduler"
	"github.com/halcyonbot/halcyon/internal/schema"
	"github.com/halcyonbot/halcyon/internal/store"
)

// mockProvider returns a canned summary and counts calls.
type mockProvider struct {
	calls atomic.Int64
	reply string
	fail  bool
}

func (p *mockProvider) Chat(context.Context, schema.Messages, schema.ChatOptions) (string, error) {
	p.calls.Add(1)
	if p.fail {
		return "", errors.New("provider down")
	}
	return p.reply, nil
}

func (p *mockProvider) DefaultModel() string { return "mock-model" }

func newTestManager(t *testing.T, provider schema.CompletionProvider, cfg Config) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "context.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sched := scheduler.New(map[string]scheduler.ClassConfig{
		scheduler.ClassLight: {Concurrency: 2, MaxDepth: 8},
	})
	mgr := NewManager(st, provider, sched, nil, NewSessionCache(100), cfg)
	return mgr, st
}

func TestAddTurnOrderingUnderConcurrency(t *testing.T) {
	provider := &mockProvider{reply: "summary"}
	mgr, _ := newTestManager(t, provider, Config{})
	ctx := context.Background()

	const writers = 4
	const perWriter = 5
	var g errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				mgr.AddTurn(ctx, "s", "user", fmt.Sprintf("w%d-%d", w, i), "", "", nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	msgs := mgr.GetContext(ctx, "s")
	if len(msgs.Messages) != writers*perWriter {
		t.Fatalf("window has %d messages, want %d", len(msgs.Messages), writers*perWriter)
	}

	// Each writer's turns must appear in its own submission order.
	positions := make(map[string]int)
	for i, msg := range msgs.Messages {
		positions[msg.Content] = i
	}
	for w := 0; w < writers; w++ {
		for i := 1; i < perWriter; i++ {
			prev := positions[fmt.Sprintf("w%d-%d", w, i-1)]
			cur := positions[fmt.Sprintf("w%d-%d", w, i)]
			if prev >= cur {
				t.Fatalf("writer %d turn %d appears before turn %d", w, i, i-1)
			}
		}
	}
}

func TestBudgetTriggersSummarization(t *testing.T) {
	// Each "hello there!" turn costs 12/4+4 = 7 tokens; the 8th append
	// crosses 50 and folds 60% (4 turns) into the summary.
	provider := &mockProvider{reply: "They greeted."}
	mgr, _ := newTestManager(t, provider, Config{MaxContextTokens: 50})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mgr.AddTurn(ctx, "s", "user", "hello there!", "", "", nil)
	}

	if got := provider.calls.Load(); got != 1 {
		t.Fatalf("provider called %d times, want exactly 1", got)
	}

	msgs := mgr.GetContext(ctx, "s")
	if msgs.Messages[0].Role != "system" || msgs.Messages[0].Content != "Conversation so far: They greeted." {
		t.Fatalf("summary message missing, got %+v", msgs.Messages[0])
	}
	// 4 folded at the trigger, 2 appended after: 6 live turns.
	if live := len(msgs.Messages) - 1; live != 6 {
		t.Errorf("live window = %d turns, want 6", live)
	}
}

func TestSummarizationFailureLeavesWindowUnchanged(t *testing.T) {
	provider := &mockProvider{fail: true}
	mgr, _ := newTestManager(t, provider, Config{MaxContextTokens: 50})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		mgr.AddTurn(ctx, "s", "user", "hello there!", "", "", nil)
	}

	if provider.calls.Load() == 0 {
		t.Fatal("summarization never attempted")
	}
	msgs := mgr.GetContext(ctx, "s")
	if len(msgs.Messages) != 10 {
		t.Errorf("window = %d messages, want all 10 intact", len(msgs.Messages))
	}
	for _, msg := range msgs.Messages {
		if msg.Role == "system" {
			t.Error("summary appeared despite provider failure")
		}
	}
}

func TestWindowTurnCapForcesSummarization(t *testing.T) {
	provider := &mockProvider{reply: "Short chat."}
	mgr, _ := newTestManager(t, provider, Config{MaxWindowTurns: 5})
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		mgr.AddTurn(ctx, "s", "user", "hi", "", "", nil)
	}

	if provider.calls.Load() == 0 {
		t.Fatal("turn cap did not trigger summarization")
	}
	msgs := mgr.GetContext(ctx, "s")
	live := 0
	for _, msg := range msgs.Messages {
		if msg.Role != "system" {
			live++
		}
	}
	if live > 5 {
		t.Errorf("live window = %d turns, cap is 5", live)
	}
}

func TestEditAndDeleteTurn(t *testing.T) {
	provider := &mockProvider{reply: "summary"}
	mgr, st := newTestManager(t, provider, Config{})
	ctx := context.Background()

	mgr.AddTurn(ctx, "s", "user", "original", "", "msg-1", nil)
	mgr.AddTurn(ctx, "s", "user", "keep me", "", "msg-2", nil)

	mgr.EditTurn(ctx, "s", "msg-1", "edited")
	msgs := mgr.GetContext(ctx, "s")
	if msgs.Messages[0].Content != "edited" {
		t.Errorf("edit not applied: %q", msgs.Messages[0].Content)
	}
	turns, _ := st.RecentTurns(ctx, "s", 10)
	if turns[0].Content != "edited" {
		t.Errorf("edit not persisted: %q", turns[0].Content)
	}

	// Editing an unknown id is a logged no-op.
	mgr.EditTurn(ctx, "s", "missing", "x")

	mgr.DeleteTurn(ctx, "s", "msg-1")
	msgs = mgr.GetContext(ctx, "s")
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "keep me" {
		t.Errorf("delete not applied: %+v", msgs.Messages)
	}
	turns, _ = st.RecentTurns(ctx, "s", 10)
	if len(turns) != 1 {
		t.Errorf("delete not persisted: %d rows", len(turns))
	}
}

func TestHydrationAfterEviction(t *testing.T) {
	provider := &mockProvider{reply: "summary"}
	st, err := store.Open(filepath.Join(t.TempDir(), "context.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	sched := scheduler.New(map[string]scheduler.ClassConfig{
		scheduler.ClassLight: {Concurrency: 2, MaxDepth: 8},
	})
	mgr := NewManager(st, provider, sched, nil, NewSessionCache(1), Config{})
	ctx := context.Background()

	mgr.AddTurn(ctx, "a", "user", "first in a", "", "", nil)
	// Touching session b evicts a from the single-slot cache.
	mgr.AddTurn(ctx, "b", "user", "first in b", "", "", nil)

	msgs := mgr.GetContext(ctx, "a")
	if len(msgs.Messages) != 1 || msgs.Messages[0].Content != "first in a" {
		t.Fatalf("session a did not rehydrate: %+v", msgs.Messages)
	}

	// Appends keep counting after rehydration.
	mgr.AddTurn(ctx, "a", "user", "second in a", "", "", nil)
	turns, _ := st.RecentTurns(ctx, "a", 10)
	if len(turns) != 2 || turns[1].Seq != 1 {
		t.Errorf("seq not continued after rehydration: %+v", turns)
	}
}

func TestClearSession(t *testing.T) {
	provider := &mockProvider{reply: "summary"}
	mgr, st := newTestManager(t, provider, Config{})
	ctx := context.Background()

	mgr.AddTurn(ctx, "s", "user", "hello", "", "", nil)
	mgr.ClearSession(ctx, "s")

	if msgs := mgr.GetContext(ctx, "s"); len(msgs.Messages) != 0 {
		t.Errorf("window survived clear: %+v", msgs.Messages)
	}
	turns, _ := st.RecentTurns(ctx, "s", 10)
	if len(turns) != 0 {
		t.Errorf("rows survived clear: %d", len(turns))
	}
}

func TestAuthorNameSanitized(t *testing.T) {
	provider := &mockProvider{reply: "summary"}
	mgr, st := newTestManager(t, provider, Config{})
	ctx := context.Background()

	mgr.AddTurn(ctx, "s", "user", "hi", "Ada <script>", "", nil)
	turns, _ := st.RecentTurns(ctx, "s", 10)
	if turns[0].AuthorName != "Ada__script_" {
		t.Errorf("author = %q", turns[0].AuthorName)
	}
}

func TestDefaultEstimator(t *testing.T) {
	turns := []schema.Turn{
		{Content: "12345678"},                          // 8/4 + 4 = 6
		{Content: "1234", Images: []string{"a.png"}},   // 4/4 + 4 + 512 = 517
	}
	if got := DefaultEstimator("abcd", turns); got != 1+6+517 {
		t.Errorf("DefaultEstimator = %d, want 524", got)
	}
}

func TestKeyedMutexTimeoutFailsOpen(t *testing.T) {
	km := NewKeyedMutex()

	release, ok := km.Acquire("k", time.Second)
	if !ok {
		t.Fatal("first acquire failed")
	}

	start := time.Now()
	noop, ok := km.Acquire("k", 20*time.Millisecond)
	if ok {
		t.Fatal("second acquire succeeded while held")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("timed-out acquire blocked for %v", elapsed)
	}
	noop() // must be safe to call

	release()
	release2, ok := km.Acquire("k", time.Second)
	if !ok {
		t.Fatal("acquire after release failed")
	}
	release2()
}
