package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"chat-bridge/internal/app"
	"chat-bridge/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:     "chatbridge",
		Short:   "chatbridge - synced terminal client for the agent bridge server",
		Long:    "chatbridge keeps a local, ordered copy of the bridge conversation in sync over a reconnecting WebSocket, and sends messages and button presses back through the HTTP API.",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			cfg, err := app.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if host, _ := cmd.Flags().GetString("host"); host != "" {
				cfg.ServerHost = host
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Debug = true
			}

			logPath := filepath.Join(cfg.DataDir, "chatbridge.log")
			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return err
			}
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer logFile.Close()
			logger := app.NewLogger(logFile, cfg.Debug)

			store, err := app.NewSQLiteStore(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("opening message store: %w", err)
			}
			defer store.Close()

			client, err := app.NewClient(cfg, logger, store)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			go client.Run(ctx)
			client.Connect()

			if headless, _ := cmd.Flags().GetBool("no-tui"); headless {
				return runHeadless(ctx, client)
			}

			p := tea.NewProgram(tui.New(client), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err = p.Run()
			return err
		},
	}

	root.Flags().String("config", "", "path to config file (default: "+app.DefaultConfigPath()+")")
	root.Flags().String("host", "", "bridge server host:port (overrides config)")
	root.Flags().Bool("no-tui", false, "print the synced transcript to stdout instead of the TUI")
	root.Flags().Bool("debug", false, "enable frame-level debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runHeadless tails the transcript to stdout until interrupted.
func runHeadless(ctx context.Context, client *app.Client) error {
	printed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Updates():
			msgs, _ := client.Snapshot()
			if printed > len(msgs) {
				// Transcript was cleared.
				printed = 0
			}
			for _, m := range msgs[printed:] {
				fmt.Printf("[%s] %s\n", m.Origin, m.Text)
			}
			printed = len(msgs)
		}
	}
}
