package cron

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/halcyonbot/halcyon/internal/memory"
	"github.com/halcyonbot/halcyon/internal/scheduler"
	"github.com/halcyonbot/halcyon/internal/schema"
	"github.com/halcyonbot/halcyon/internal/store"
)

type staticEmbedder struct{}

func (staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (staticEmbedder) Dimensions() int { return 3 }

func TestRunOnceSweeps(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sched := scheduler.New(map[string]scheduler.ClassConfig{
		scheduler.ClassEmbedding: {Concurrency: 1, MaxDepth: 4},
	})
	memories, err := memory.New(st, staticEmbedder{}, sched, memory.Config{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()
	stale := schema.MemoryRecord{
		ID: store.NewID(), Content: "stale", Embedding: []float32{1, 0, 0},
		Tier: schema.TierObservation, CreatedAt: now.Add(-100 * 24 * time.Hour),
	}
	fresh := schema.MemoryRecord{
		ID: store.NewID(), Content: "fresh", Embedding: []float32{1, 0, 0},
		Tier: schema.TierObservation, CreatedAt: now,
	}
	if err := st.InsertMemory(ctx, stale); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}
	if err := st.InsertMemory(ctx, fresh); err != nil {
		t.Fatalf("InsertMemory: %v", err)
	}

	svc := NewService(memories, "", 30*24*time.Hour, 24*time.Hour)
	svc.RunOnce(ctx)

	if n, _ := st.CountMemories(ctx); n != 1 {
		t.Errorf("CountMemories = %d, want 1 after age prune", n)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cron.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	sched := scheduler.New(map[string]scheduler.ClassConfig{
		scheduler.ClassEmbedding: {Concurrency: 1, MaxDepth: 4},
	})
	memories, err := memory.New(st, staticEmbedder{}, sched, memory.Config{})
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}

	svc := NewService(memories, "0 0 4 * * *", time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Start = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
