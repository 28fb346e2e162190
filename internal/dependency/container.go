// Package dependency wires core halcyon services using go.uber.org/dig.
package dependency

import (
	"time"

	"go.uber.org/dig"

	"github.com/halcyonbot/halcyon/internal/config"
	"github.com/halcyonbot/halcyon/internal/contextmgr"
	"github.com/halcyonbot/halcyon/internal/cron"
	"github.com/halcyonbot/halcyon/internal/memory"
	"github.com/halcyonbot/halcyon/internal/providers"
	"github.com/halcyonbot/halcyon/internal/scheduler"
	"github.com/halcyonbot/halcyon/internal/schema"
	"github.com/halcyonbot/halcyon/internal/store"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	provider schema.CompletionProvider
	store    *store.Store
	sched    *scheduler.Scheduler
	memories *memory.SemanticStore
	contexts *contextmgr.Manager
	cronSvc  *cron.Service
}

func (c *Container) Provider() schema.CompletionProvider { return c.provider }
func (c *Container) Store() *store.Store                 { return c.store }
func (c *Container) Scheduler() *scheduler.Scheduler     { return c.sched }
func (c *Container) Memories() *memory.SemanticStore     { return c.memories }
func (c *Container) Contexts() *contextmgr.Manager       { return c.contexts }
func (c *Container) Maintenance() *cron.Service          { return c.cronSvc }

// Close releases held resources, currently the database handle.
func (c *Container) Close() error {
	return c.store.Close()
}

// New builds and wires all core services from cfg.
func New(cfg *config.Config) (*Container, error) {
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(newStore); err != nil {
		return nil, err
	}
	if err := d.Provide(newScheduler); err != nil {
		return nil, err
	}
	if err := d.Provide(newProvider); err != nil {
		return nil, err
	}
	if err := d.Provide(newEmbedder); err != nil {
		return nil, err
	}
	if err := d.Provide(newSemanticStore); err != nil {
		return nil, err
	}
	if err := d.Provide(newSessionCache); err != nil {
		return nil, err
	}
	if err := d.Provide(newContextManager); err != nil {
		return nil, err
	}
	if err := d.Provide(newMaintenance); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		provider schema.CompletionProvider,
		st *store.Store,
		sched *scheduler.Scheduler,
		memories *memory.SemanticStore,
		contexts *contextmgr.Manager,
		cronSvc *cron.Service,
	) {
		result = &Container{
			provider: provider,
			store:    st,
			sched:    sched,
			memories: memories,
			contexts: contexts,
			cronSvc:  cronSvc,
		}
	})
	return result, err
}

func newStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.Store.DatabasePath())
}

func newScheduler(cfg *config.Config) *scheduler.Scheduler {
	classes := cfg.Scheduler.Classes
	if len(classes) == 0 {
		classes = config.DefaultConfig().Scheduler.Classes
	}
	return scheduler.New(classes)
}

func newProvider(cfg *config.Config) schema.CompletionProvider {
	c := cfg.Completion
	return providers.NewCompletion(c.Provider, c.APIKey, c.APIBase, c.Model, c.Timeout())
}

func newEmbedder(cfg *config.Config) (schema.Embedder, error) {
	e := cfg.Embedding
	return providers.NewEmbedder(e.Provider, e.APIKey, e.APIBase, e.Model, e.Dimensions)
}

func newSemanticStore(cfg *config.Config, st *store.Store, embedder schema.Embedder, sched *scheduler.Scheduler) (*memory.SemanticStore, error) {
	m := cfg.Memory
	return memory.New(st, embedder, sched, memory.Config{
		Capacity:        m.Capacity,
		PruneFraction:   m.PruneFraction,
		DedupThreshold:  m.DedupThreshold,
		DedupLookback:   time.Duration(m.DedupLookbackDays) * 24 * time.Hour,
		SearchLookback:  time.Duration(m.LookbackDays) * 24 * time.Hour,
		MaxCandidates:   m.MaxCandidates,
		MinSimilarity:   m.MinSimilarity,
		DecayRatePerDay: m.DecayRatePerDay,
		EmbedCacheSize:  m.EmbedCacheSize,
	})
}

func newSessionCache(cfg *config.Config) *contextmgr.SessionCache {
	return contextmgr.NewSessionCache(cfg.Context.MaxCachedSessions)
}

func newContextManager(cfg *config.Config, st *store.Store, provider schema.CompletionProvider, sched *scheduler.Scheduler, memories *memory.SemanticStore, cache *contextmgr.SessionCache) *contextmgr.Manager {
	c := cfg.Context
	return contextmgr.NewManager(st, provider, sched, memories, cache, contextmgr.Config{
		MaxContextTokens:  c.MaxContextTokens,
		SummarizeFraction: c.SummarizeFraction,
		MaxWindowTurns:    c.MaxWindowTurns,
		LockTimeout:       c.LockTimeout(),
		SummaryModel:      cfg.Completion.SummaryModel,
	})
}

func newMaintenance(cfg *config.Config, memories *memory.SemanticStore) *cron.Service {
	m := cfg.Memory
	return cron.NewService(
		memories,
		m.MaintenanceSpec,
		time.Duration(m.MaxAgeDays)*24*time.Hour,
		time.Duration(m.PurgeAfterDays)*24*time.Hour,
	)
}
