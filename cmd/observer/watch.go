package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
	"github.com/hackgods/barbershop-scheduling/internal/observer"
)

func newWatchCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep a live replica and print every change",
		Long: `Connect to the engine, load its snapshot and print each broadcast as it
is applied. After a dropped connection the watcher resumes from the last
sequence it saw, or reloads a snapshot when the engine no longer has it.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			replica := observer.NewReplica()
			client := observer.NewClient(opts.URL, replica, opts.logger())
			out := cmd.OutOrStdout()
			client.OnChange(func(m broadcast.Message) {
				if err := printChange(out, opts.Format, replica, m); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), err)
				}
			})

			err := client.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

func printChange(w io.Writer, format string, replica *observer.Replica, m broadcast.Message) error {
	if format == "json" {
		return json.NewEncoder(w).Encode(m)
	}

	if m.Type == broadcast.TypeSnapshot {
		fmt.Fprintf(w, "snapshot seq=%d\n", m.Seq)
		for _, it := range replica.Items() {
			printItem(w, it)
		}
		return nil
	}

	fmt.Fprintf(w, "%-20s seq=%d", m.Type, m.Seq)
	if m.Origin != "" {
		fmt.Fprintf(w, " origin=%s", m.Origin)
	}
	fmt.Fprintln(w)
	return nil
}

func printItem(w io.Writer, it observer.Item) {
	mark := " "
	if it.Provisional {
		mark = "~"
	}
	fmt.Fprintf(w, "%s %s %s  %-20s %-20s %-10s %.2f\n",
		mark, it.Date, it.Time, it.BarberName, it.ClientName, it.Status, it.TotalPrice)
}
