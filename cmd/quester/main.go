package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quester-ai/quester/config"
	"github.com/quester-ai/quester/internal/engine"
	"github.com/quester-ai/quester/internal/llm"
	"github.com/quester-ai/quester/internal/server"
	"github.com/quester-ai/quester/internal/telemetry"
	"github.com/quester-ai/quester/tools/web_fetch"
	"github.com/quester-ai/quester/tools/web_search"
)

func main() {
	var root = &cobra.Command{Use: "quester"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP research API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if serveAddr == "" {
				serveAddr = os.Getenv("QUESTER_HTTP_ADDR")
			}
			return server.Run(serveAddr, cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", ":10001", "listen address")

	var ask = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer one research question, streaming progress to stdout",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return runAsk(cmd.Context(), cfg, joinArgs(args))
		},
	}

	root.AddCommand(serve, ask)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func runAsk(ctx context.Context, cfg *config.Config, query string) error {
	gateway, err := llm.NewGateway(cfg.LLM)
	if err != nil {
		return err
	}
	searcher, err := web_search.NewSearcher(cfg.Search)
	if err != nil {
		return err
	}
	fetcher, err := web_fetch.NewWebFetcher(cfg.Fetch)
	if err != nil {
		return err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)
	defer tele.Shutdown()

	eng := engine.New(cfg.Engine, gateway, searcher, fetcher, tele)

	if cfg.General.MaxRunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.General.MaxRunTime)
		defer cancel()
	}

	var failed bool
	eng.Run(ctx, query, nil, func(ev engine.Event) {
		switch ev.Type {
		case engine.EventPhase:
			fmt.Fprintf(os.Stderr, "-- %s\n", ev.Phase)
		case engine.EventThinking:
			fmt.Fprintf(os.Stderr, "   %s\n", ev.Message)
		case engine.EventSearching:
			fmt.Fprintf(os.Stderr, "   searching: %s\n", ev.Query)
		case engine.EventFound:
			fmt.Fprintf(os.Stderr, "   found %d sources\n", len(ev.Sources))
		case engine.EventScraping:
			fmt.Fprintf(os.Stderr, "   scraping: %s\n", ev.URL)
		case engine.EventChunk:
			fmt.Print(ev.Chunk)
		case engine.EventResult:
			failed = false
			fmt.Println()
			if len(ev.Result.Sources) > 0 {
				fmt.Println("\nSources:")
				for i, src := range ev.Result.Sources {
					fmt.Printf("[%d] %s — %s\n", i+1, src.Title, src.URL)
				}
			}
			if len(ev.Result.FollowUps) > 0 {
				fmt.Println("\nFollow-up questions:")
				for _, q := range ev.Result.FollowUps {
					fmt.Printf("  - %s\n", q)
				}
			}
		case engine.EventError:
			failed = true
			fmt.Fprintf(os.Stderr, "error (%s): %s\n", ev.ErrKind, ev.Error)
		}
	})

	if failed {
		return fmt.Errorf("research run failed")
	}
	return nil
}
