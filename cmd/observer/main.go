package main

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hackgods/barbershop-scheduling/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	URL      string
	Format   string // "text" | "json"
	LogLevel string
}

var validFormats = []string{"text", "json"}

func (o *RootOptions) logger() *slog.Logger {
	return telemetry.NewLogger("observer", o.LogLevel)
}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "observer",
		Short: "Follow and book barbershop appointments over the sync socket",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	defaultURL := os.Getenv("OBSERVER_URL")
	if defaultURL == "" {
		defaultURL = "ws://localhost:8080/ws"
	}
	cmd.PersistentFlags().StringVar(&opts.URL, "url", defaultURL, "engine websocket endpoint")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "warn", "log level")

	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newBookCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
