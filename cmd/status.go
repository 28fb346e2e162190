package cmd

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/halcyonbot/halcyon/internal/config"
	"github.com/halcyonbot/halcyon/internal/dependency"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and store health",
	RunE:  runStatus,
}

func runStatus(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("%s halcyon %s\n\n", logo, version)
	fmt.Printf("Config:     %s\n", config.ConfigPath())
	fmt.Printf("Database:   %s\n", cfg.Store.DatabasePath())
	fmt.Printf("Completion: %s (%s)\n", cfg.Completion.Provider, cfg.Completion.Model)
	fmt.Printf("Embedding:  %s (%s)\n", cfg.Embedding.Provider, cfg.Embedding.Model)

	total, byTier, err := container.Memories().Stats(ctx)
	if err != nil {
		fmt.Printf("Memories:   unavailable (%v)\n", err)
	} else {
		fmt.Printf("Memories:   %d", total)
		tiers := make([]string, 0, len(byTier))
		for tier := range byTier {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		for _, tier := range tiers {
			fmt.Printf(", %s=%d", tier, byTier[tier])
		}
		fmt.Println()
	}

	fmt.Println("\nScheduler classes:")
	sched := container.Scheduler()
	names := sched.Classes()
	sort.Strings(names)
	for _, name := range names {
		st, _ := sched.Stats(name)
		bounds := cfg.Scheduler.Classes[name]
		fmt.Printf("  %-10s concurrency=%d depth=%d running=%d waiting=%d done=%d errors=%d\n",
			name, bounds.Concurrency, bounds.MaxDepth, st.Running, st.Waiting, st.Completed, st.Errors)
	}
	return nil
}
