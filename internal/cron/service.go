// Package cron runs periodic maintenance over the durable stores.
package cron

import (
	"context"
	"log/slog"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/halcyonbot/halcyon/internal/memory"
)

// Service schedules memory maintenance: age pruning, capacity pruning
// and purging of soft-deleted rows.
type Service struct {
	robfig     *robfigcron.Cron
	memories   *memory.SemanticStore
	spec       string
	maxAge     time.Duration
	purgeAfter time.Duration
}

// NewService builds the maintenance scheduler. spec uses the 6-field
// cron syntax with seconds.
func NewService(memories *memory.SemanticStore, spec string, maxAge, purgeAfter time.Duration) *Service {
	if spec == "" {
		spec = "0 0 4 * * *"
	}
	return &Service{
		robfig:     robfigcron.New(robfigcron.WithSeconds()),
		memories:   memories,
		spec:       spec,
		maxAge:     maxAge,
		purgeAfter: purgeAfter,
	}
}

// Start registers the maintenance job and blocks until ctx is done.
func (s *Service) Start(ctx context.Context) error {
	_, err := s.robfig.AddFunc(s.spec, func() {
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}

	s.robfig.Start()
	slog.Info("maintenance: scheduled", "spec", s.spec)

	<-ctx.Done()
	<-s.robfig.Stop().Done()
	return ctx.Err()
}

// RunOnce executes one maintenance sweep immediately.
func (s *Service) RunOnce(ctx context.Context) {
	aged, err := s.memories.PruneByAge(ctx, s.maxAge)
	if err != nil {
		slog.Warn("maintenance: age prune failed", "error", err)
	}
	capped, err := s.memories.EnforceCapacity(ctx)
	if err != nil {
		slog.Warn("maintenance: capacity prune failed", "error", err)
	}
	purged, err := s.memories.PurgeDeleted(ctx, s.purgeAfter)
	if err != nil {
		slog.Warn("maintenance: purge failed", "error", err)
	}
	slog.Info("maintenance: sweep done", "aged", aged, "capped", capped, "purged", purged)
}
