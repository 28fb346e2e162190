package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/halcyonbot/halcyon/internal/config"
	"github.com/halcyonbot/halcyon/internal/dependency"
	"github.com/halcyonbot/halcyon/internal/schema"
)

var (
	memoryUser     string
	memoryGuild    string
	memoryCategory string
	memoryCurated  bool
	memoryLimit    int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and edit the semantic memory store",
}

var memoryPutCmd = &cobra.Command{
	Use:   "put <content>",
	Short: "Store a fact",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemoryPut,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search stored facts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemorySearch,
}

var memoryStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show record counts",
	RunE:  runMemoryStats,
}

func init() {
	for _, c := range []*cobra.Command{memoryPutCmd, memorySearchCmd} {
		c.Flags().StringVar(&memoryUser, "user", "", "User scope")
		c.Flags().StringVar(&memoryGuild, "guild", "", "Guild scope")
	}
	memoryPutCmd.Flags().StringVar(&memoryCategory, "category", "", "Category label")
	memoryPutCmd.Flags().BoolVar(&memoryCurated, "curated", false, "Store as a curated memory")
	memorySearchCmd.Flags().IntVar(&memoryLimit, "limit", 5, "Max results")

	memoryCmd.AddCommand(memoryPutCmd)
	memoryCmd.AddCommand(memorySearchCmd)
	memoryCmd.AddCommand(memoryStatsCmd)
}

func memoryContainer() (*dependency.Container, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	container, err := dependency.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	return container, ctx, cancel, nil
}

func runMemoryPut(_ *cobra.Command, args []string) error {
	container, ctx, cancel, err := memoryContainer()
	if err != nil {
		return err
	}
	defer cancel()
	defer container.Close()

	tier := schema.TierObservation
	if memoryCurated {
		tier = schema.TierCurated
	}
	scope := schema.Scope{UserID: memoryUser, GuildID: memoryGuild}

	rec := container.Memories().Store(ctx, strings.Join(args, " "), scope, memoryCategory, tier, 0.5)
	if rec == nil {
		fmt.Println("Not stored (duplicate or backend unavailable).")
		return nil
	}
	fmt.Printf("Stored %s\n", rec.ID)
	return nil
}

func runMemorySearch(_ *cobra.Command, args []string) error {
	container, ctx, cancel, err := memoryContainer()
	if err != nil {
		return err
	}
	defer cancel()
	defer container.Close()

	scope := schema.Scope{UserID: memoryUser, GuildID: memoryGuild}
	results := container.Memories().Search(ctx, strings.Join(args, " "), memoryLimit, 0, scope)
	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, r := range results {
		fmt.Printf("%d. [%.2f] %s (%s, %s)\n", i+1, r.Score, r.Record.Content, r.Record.Tier, r.Record.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func runMemoryStats(_ *cobra.Command, _ []string) error {
	container, ctx, cancel, err := memoryContainer()
	if err != nil {
		return err
	}
	defer cancel()
	defer container.Close()

	total, byTier, err := container.Memories().Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Records: %d\n", total)
	for tier, n := range byTier {
		fmt.Printf("  %s: %d\n", tier, n)
	}
	return nil
}
