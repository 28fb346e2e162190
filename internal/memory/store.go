// Package memory is the semantic long-term store: embedded facts with
// similarity search, recency decay, reinforcement and pruning. Every
// operation degrades gracefully: a failed store is a logged no-op and a
// failed search returns nothing, so conversation flow never breaks on
// memory errors.
package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/halcyonbot/halcyon/internal/scheduler"
	"github.com/halcyonbot/halcyon/internal/schema"
	"github.com/halcyonbot/halcyon/internal/store"
)

// Config bounds the store. Zero values are filled by Normalize.
type Config struct {
	Capacity        int
	PruneFraction   float64
	DedupThreshold  float64
	DedupLookback   time.Duration
	SearchLookback  time.Duration
	MaxCandidates   int
	MinSimilarity   float64
	DecayRatePerDay float64
	EmbedCacheSize  int64
}

// Normalize fills unset fields with the standard defaults.
func (c *Config) Normalize() {
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.PruneFraction <= 0 {
		c.PruneFraction = 0.2
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = 0.95
	}
	if c.DedupLookback <= 0 {
		c.DedupLookback = 7 * 24 * time.Hour
	}
	if c.SearchLookback <= 0 {
		c.SearchLookback = 30 * 24 * time.Hour
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 500
	}
	if c.MinSimilarity <= 0 {
		c.MinSimilarity = 0.65
	}
	if c.DecayRatePerDay <= 0 {
		c.DecayRatePerDay = 0.01
	}
	if c.EmbedCacheSize <= 0 {
		c.EmbedCacheSize = 2048
	}
}

// Result is one search hit with its raw similarity and decayed score.
type Result struct {
	Record     schema.MemoryRecord
	Similarity float64
	Score      float64
}

// SemanticStore coordinates the embedder, the durable rows and the
// embedding cache.
type SemanticStore struct {
	store    *store.Store
	embedder schema.Embedder
	sched    *scheduler.Scheduler
	cache    *embedCache
	cfg      Config
}

// New builds a SemanticStore. The embedding cache is created here; its
// size comes from cfg.
func New(st *store.Store, embedder schema.Embedder, sched *scheduler.Scheduler, cfg Config) (*SemanticStore, error) {
	cfg.Normalize()
	cache, err := newEmbedCache(cfg.EmbedCacheSize)
	if err != nil {
		return nil, err
	}
	return &SemanticStore{
		store:    st,
		embedder: embedder,
		sched:    sched,
		cache:    cache,
		cfg:      cfg,
	}, nil
}

// Store embeds and persists one fact. Near-duplicates of a record stored
// in the same scope within the dedup lookback are skipped. Returns the
// stored record, or nil when the fact was skipped or dropped; all failure
// paths log and return nil.
func (m *SemanticStore) Store(ctx context.Context, content string, scope schema.Scope, category, tier string, significance float64) *schema.MemoryRecord {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if tier == "" {
		tier = schema.TierObservation
	}

	if err := m.enforceCapacity(ctx); err != nil {
		slog.Warn("memory: capacity check failed", "error", err)
	}

	vec, err := m.embed(ctx, content)
	if err != nil {
		slog.Warn("memory: embedding failed, fact dropped", "error", err)
		return nil
	}

	since := time.Now().Add(-m.cfg.DedupLookback)
	candidates, err := m.store.RecentMemories(ctx, since, scope, m.cfg.MaxCandidates)
	if err != nil {
		slog.Warn("memory: dedup scan failed, storing anyway", "error", err)
	}
	for _, c := range candidates {
		if sim := Cosine(vec, c.Embedding); sim >= m.cfg.DedupThreshold {
			slog.Info("memory: near-duplicate skipped", "existing", c.ID, "similarity", sim)
			return nil
		}
	}

	rec := schema.MemoryRecord{
		ID:           store.NewID(),
		Content:      content,
		Embedding:    vec,
		Scope:        scope,
		Category:     category,
		Tier:         tier,
		Significance: significance,
		CreatedAt:    time.Now().UTC(),
	}
	if err := m.store.InsertMemory(ctx, rec); err != nil {
		slog.Warn("memory: insert failed, fact dropped", "error", err)
		return nil
	}
	return &rec
}

// Search embeds the query and ranks recent in-scope records by
// similarity discounted for age. minSimilarity <= 0 uses the configured
// default. Failures return an empty result set.
func (m *SemanticStore) Search(ctx context.Context, query string, limit int, minSimilarity float64, scope schema.Scope) []Result {
	if limit <= 0 {
		limit = 5
	}
	if minSimilarity <= 0 {
		minSimilarity = m.cfg.MinSimilarity
	}

	vec, err := m.embed(ctx, query)
	if err != nil {
		slog.Warn("memory: query embedding failed", "error", err)
		return nil
	}

	since := time.Now().Add(-m.cfg.SearchLookback)
	candidates, err := m.store.RecentMemories(ctx, since, scope, m.cfg.MaxCandidates)
	if err != nil {
		slog.Warn("memory: candidate scan failed", "error", err)
		return nil
	}

	now := time.Now()
	var results []Result
	for _, c := range candidates {
		sim := Cosine(vec, c.Embedding)
		if sim < minSimilarity {
			continue
		}
		results = append(results, Result{
			Record:     c,
			Similarity: sim,
			Score:      sim * RecencyFactor(c.CreatedAt, now, m.cfg.DecayRatePerDay),
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Touch reinforces a record that proved useful.
func (m *SemanticStore) Touch(ctx context.Context, id string) {
	if err := m.store.TouchMemory(ctx, id); err != nil {
		slog.Warn("memory: touch failed", "id", id, "error", err)
	}
}

// Forget soft-deletes a record. The row stays until the purge job runs.
func (m *SemanticStore) Forget(ctx context.Context, id string) {
	if err := m.store.SoftDeleteMemory(ctx, id); err != nil {
		slog.Warn("memory: forget failed", "id", id, "error", err)
	}
}

// PruneByAge removes records older than maxAge outright.
func (m *SemanticStore) PruneByAge(ctx context.Context, maxAge time.Duration) (int, error) {
	return m.store.DeleteMemoriesBefore(ctx, time.Now().Add(-maxAge))
}

// PurgeDeleted removes soft-deleted rows older than retain.
func (m *SemanticStore) PurgeDeleted(ctx context.Context, retain time.Duration) (int, error) {
	return m.store.PurgeDeleted(ctx, time.Now().Add(-retain))
}

// EnforceCapacity prunes the oldest fraction when the store is at its
// cap.
func (m *SemanticStore) EnforceCapacity(ctx context.Context) (int, error) {
	count, err := m.store.CountMemories(ctx)
	if err != nil {
		return 0, err
	}
	if count < m.cfg.Capacity {
		return 0, nil
	}
	drop := int(float64(m.cfg.Capacity) * m.cfg.PruneFraction)
	if drop < 1 {
		drop = 1
	}
	removed, err := m.store.DeleteOldestMemories(ctx, drop)
	if err != nil {
		return 0, err
	}
	slog.Info("memory: capacity prune", "removed", removed, "cap", m.cfg.Capacity)
	return removed, nil
}

func (m *SemanticStore) enforceCapacity(ctx context.Context) error {
	_, err := m.EnforceCapacity(ctx)
	return err
}

// Stats reports live record counts, total and per tier.
func (m *SemanticStore) Stats(ctx context.Context) (total int, byTier map[string]int, err error) {
	total, err = m.store.CountMemories(ctx)
	if err != nil {
		return 0, nil, err
	}
	byTier, err = m.store.CountMemoriesByTier(ctx)
	if err != nil {
		return 0, nil, err
	}
	return total, byTier, nil
}

// embed resolves a vector through the cache, falling back to the
// embedding provider under its admission class.
func (m *SemanticStore) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := m.cache.get(text); ok {
		return vec, nil
	}

	var vec []float32
	err := m.sched.Do(ctx, scheduler.ClassEmbedding, 0, func(ctx context.Context) error {
		var err error
		vec, err = m.embedder.Embed(ctx, text)
		return err
	})
	if err != nil {
		return nil, err
	}
	m.cache.put(text, vec)
	return vec, nil
}
