package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/halcyonbot/halcyon/internal/schema"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "halcyon.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTurnRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		turn := schema.Turn{
			ID:         NewID(),
			SessionKey: "discord:42",
			Seq:        i,
			Role:       "user",
			Content:    "message",
			AuthorName: "ada",
			ExternalID: "ext-" + NewID(),
			Images:     []string{"a.png"},
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.AppendTurn(ctx, turn); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	turns, err := s.RecentTurns(ctx, "discord:42", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	// Newest 3 in chronological order.
	if turns[0].Seq != 2 || turns[2].Seq != 4 {
		t.Errorf("wrong window: seqs %d..%d", turns[0].Seq, turns[2].Seq)
	}
	if len(turns[0].Images) != 1 || turns[0].Images[0] != "a.png" {
		t.Errorf("images not preserved: %v", turns[0].Images)
	}
}

func TestUpdateAndDeleteTurn(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	turn := schema.Turn{ID: NewID(), SessionKey: "s", Seq: 0, Role: "user", Content: "before", ExternalID: "msg-1", CreatedAt: time.Now().UTC()}
	if err := s.AppendTurn(ctx, turn); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	ok, err := s.UpdateTurnContent(ctx, "s", "msg-1", "after")
	if err != nil || !ok {
		t.Fatalf("UpdateTurnContent: ok=%v err=%v", ok, err)
	}
	turns, _ := s.RecentTurns(ctx, "s", 10)
	if turns[0].Content != "after" {
		t.Errorf("content = %q, want %q", turns[0].Content, "after")
	}

	ok, err = s.UpdateTurnContent(ctx, "s", "missing", "x")
	if err != nil || ok {
		t.Fatalf("update of missing turn: ok=%v err=%v", ok, err)
	}

	ok, err = s.DeleteTurn(ctx, "s", "msg-1")
	if err != nil || !ok {
		t.Fatalf("DeleteTurn: ok=%v err=%v", ok, err)
	}
	turns, _ = s.RecentTurns(ctx, "s", 10)
	if len(turns) != 0 {
		t.Errorf("turn not deleted")
	}
}

func TestSessionState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, _, ok, err := s.SessionState(ctx, "s")
	if err != nil || ok {
		t.Fatalf("state of fresh session: ok=%v err=%v", ok, err)
	}

	if err := s.SaveSessionState(ctx, "s", "they talked about go", 7); err != nil {
		t.Fatalf("SaveSessionState: %v", err)
	}
	summary, count, ok, err := s.SessionState(ctx, "s")
	if err != nil || !ok {
		t.Fatalf("SessionState: ok=%v err=%v", ok, err)
	}
	if summary != "they talked about go" || count != 7 {
		t.Errorf("state = %q/%d", summary, count)
	}

	if err := s.ClearSession(ctx, "s"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	_, _, ok, _ = s.SessionState(ctx, "s")
	if ok {
		t.Errorf("state survived ClearSession")
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := schema.MemoryRecord{
		ID:           NewID(),
		Content:      "prefers tea over coffee",
		Embedding:    []float32{0.1, -0.5, 0.25},
		Scope:        schema.Scope{UserID: "u1", GuildID: "g1"},
		Category:     "preference",
		Tier:         schema.TierObservation,
		Significance: 0.5,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.InsertMemory(ctx, rec); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	got, err := s.RecentMemories(ctx, time.Now().Add(-time.Hour), schema.Scope{}, 10)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	m := got[0]
	if m.Content != rec.Content || m.Scope.UserID != "u1" || m.Scope.GuildID != "g1" {
		t.Errorf("record fields lost: %+v", m)
	}
	if len(m.Embedding) != 3 || m.Embedding[1] != -0.5 {
		t.Errorf("embedding not preserved: %v", m.Embedding)
	}
}

func TestMemoryScopeFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	insert := func(id string, scope schema.Scope) {
		t.Helper()
		rec := schema.MemoryRecord{ID: id, Content: id, Embedding: []float32{1}, Scope: scope, Tier: schema.TierObservation, CreatedAt: now}
		if err := s.InsertMemory(ctx, rec); err != nil {
			t.Fatalf("InsertMemory: %v", err)
		}
	}
	insert("global", schema.Scope{})
	insert("guild-a", schema.Scope{GuildID: "a"})
	insert("guild-b", schema.Scope{GuildID: "b"})

	got, err := s.RecentMemories(ctx, now.Add(-time.Minute), schema.Scope{GuildID: "b"}, 10)
	if err != nil {
		t.Fatalf("RecentMemories: %v", err)
	}
	ids := map[string]bool{}
	for _, m := range got {
		ids[m.ID] = true
	}
	if !ids["global"] || !ids["guild-b"] || ids["guild-a"] {
		t.Errorf("scope filter wrong, got %v", ids)
	}
}

func TestMemoryLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := schema.MemoryRecord{ID: NewID(), Content: "x", Embedding: []float32{1}, Tier: schema.TierObservation, CreatedAt: now.Add(-48 * time.Hour)}
	if err := s.InsertMemory(ctx, rec); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	if err := s.TouchMemory(ctx, rec.ID); err != nil {
		t.Fatalf("TouchMemory: %v", err)
	}
	got, _ := s.RecentMemories(ctx, now.Add(-72*time.Hour), schema.Scope{}, 10)
	if got[0].Reinforcement != 1 || got[0].LastAccessedAt.IsZero() {
		t.Errorf("touch not applied: %+v", got[0])
	}

	if err := s.SoftDeleteMemory(ctx, rec.ID); err != nil {
		t.Fatalf("SoftDeleteMemory: %v", err)
	}
	got, _ = s.RecentMemories(ctx, now.Add(-72*time.Hour), schema.Scope{}, 10)
	if len(got) != 0 {
		t.Errorf("soft-deleted record still visible")
	}
	if n, _ := s.CountMemories(ctx); n != 0 {
		t.Errorf("CountMemories = %d after soft delete", n)
	}

	purged, err := s.PurgeDeleted(ctx, now.Add(time.Minute))
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDeleted = %d, %v", purged, err)
	}
}

func TestDeleteOldestMemories(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		rec := schema.MemoryRecord{
			ID:        NewID(),
			Content:   "m",
			Embedding: []float32{1},
			Tier:      schema.TierObservation,
			CreatedAt: now.Add(time.Duration(i-5) * time.Hour),
		}
		if err := s.InsertMemory(ctx, rec); err != nil {
			t.Fatalf("InsertMemory: %v", err)
		}
	}

	removed, err := s.DeleteOldestMemories(ctx, 2)
	if err != nil || removed != 2 {
		t.Fatalf("DeleteOldestMemories = %d, %v", removed, err)
	}
	if n, _ := s.CountMemories(ctx); n != 3 {
		t.Errorf("CountMemories = %d, want 3", n)
	}
}

func TestKVState(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetState(ctx, "cursor")
	if err != nil || ok {
		t.Fatalf("GetState on empty table: ok=%v err=%v", ok, err)
	}
	if err := s.SetState(ctx, "cursor", "41"); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if err := s.SetState(ctx, "cursor", "42"); err != nil {
		t.Fatalf("SetState overwrite: %v", err)
	}
	v, ok, err := s.GetState(ctx, "cursor")
	if err != nil || !ok || v != "42" {
		t.Fatalf("GetState = %q ok=%v err=%v", v, ok, err)
	}
}
