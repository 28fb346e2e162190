package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/halcyonbot/halcyon/internal/config"
	"github.com/halcyonbot/halcyon/internal/dependency"
	"github.com/halcyonbot/halcyon/internal/scheduler"
	"github.com/halcyonbot/halcyon/internal/schema"
	"github.com/halcyonbot/halcyon/internal/shared/cmdutils"
)

var (
	chatMessage string
	chatSession string
	chatUser    string
	chatGuild   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat through the session core",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send a single message and exit")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "cli:direct", "Session key")
	chatCmd.Flags().StringVar(&chatUser, "user", "", "User name for memory scoping")
	chatCmd.Flags().StringVar(&chatGuild, "guild", "", "Guild id for memory scoping")
}

var exitCommands = map[string]bool{
	"exit":  true,
	"quit":  true,
	"/exit": true,
	"/quit": true,
	":q":    true,
}

func runChat(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	container, err := dependency.New(cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	scope := schema.Scope{UserID: chatUser, SessionKey: chatSession, GuildID: chatGuild}

	if chatMessage != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		reply, err := exchange(ctx, container, chatMessage, scope)
		if err != nil {
			return err
		}
		cmdutils.PrintResponse(reply)
		return nil
	}

	return runInteractive(container, scope)
}

// runInteractive starts the REPL loop with the maintenance scheduler
// running alongside it.
func runInteractive(container *dependency.Container, scope schema.Scope) error {
	fmt.Printf("%s Interactive mode (type 'exit' or Ctrl+C to quit)\n\n", logo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := container.Maintenance().Start(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stop()
		return readLoop(ctx, container, scope)
	})
	return g.Wait()
}

func readLoop(ctx context.Context, container *dependency.Container, scope schema.Scope) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")

		if !scanner.Scan() {
			fmt.Println("\nGoodbye!")
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if exitCommands[strings.ToLower(line)] {
			fmt.Println("Goodbye!")
			return nil
		}
		if strings.ToLower(line) == "/clear" {
			container.Contexts().ClearSession(ctx, scope.SessionKey)
			fmt.Println("Session cleared.")
			continue
		}

		reply, err := exchange(ctx, container, line, scope)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		cmdutils.PrintResponse(reply)
	}
}

// exchange runs one full turn: record the user message, build the prompt
// with context and memories, call the model under admission control, and
// record the reply. The user message is also offered to the memory store
// in the background.
func exchange(ctx context.Context, container *dependency.Container, message string, scope schema.Scope) (string, error) {
	contexts := container.Contexts()
	sessionKey := scope.SessionKey

	contexts.AddTurn(ctx, sessionKey, "user", message, scope.UserID, "", nil)
	prompt := contexts.BuildPrompt(ctx, sessionKey, message, scope)

	var reply string
	err := scheduler.Retry(ctx, 3, 500*time.Millisecond, func(ctx context.Context) error {
		return container.Scheduler().Do(ctx, scheduler.ClassPrimary, 5, func(ctx context.Context) error {
			var err error
			reply, err = container.Provider().Chat(ctx, prompt, schema.ChatOptions{})
			return err
		})
	})
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}

	contexts.AddTurn(ctx, sessionKey, "assistant", reply, "", "", nil)

	go func() {
		storeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		container.Memories().Store(storeCtx, message, scope, "conversation", schema.TierObservation, 0.5)
	}()

	return reply, nil
}
