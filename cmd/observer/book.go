package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/observer"
)

// BookOptions holds flags for the book command.
type BookOptions struct {
	*RootOptions
	Candidate appointment.Candidate
	Timeout   time.Duration
}

func newBookCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BookOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book an appointment",
		Long: `Send a booking to the engine. The booking shows up locally as provisional
right away and is confirmed or dropped once the engine answers.

Examples:
  observer book --barber 1 --client 1 --date 2024-06-04 --time 10:00 --services 1,2
  observer book --barber 1 --name "Walk-in" --phone "(11) 95555-5555" --date 2024-06-04 --time 10:30 --services 1`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBook(cmd, opts)
		},
	}

	c := &opts.Candidate
	cmd.Flags().StringVar(&c.BarberID, "barber", "", "barber id")
	cmd.Flags().StringVar(&c.ClientID, "client", "", "registered client id")
	cmd.Flags().StringVar(&c.ClientName, "name", "", "walk-in client name")
	cmd.Flags().StringVar(&c.Phone, "phone", "", "walk-in client phone")
	cmd.Flags().StringVar(&c.Date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&c.Time, "time", "", "start time (HH:MM)")
	cmd.Flags().StringSliceVar(&c.Services, "services", nil, "service ids")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "how long to wait for the engine")
	_ = cmd.MarkFlagRequired("barber")
	_ = cmd.MarkFlagRequired("date")
	_ = cmd.MarkFlagRequired("time")
	_ = cmd.MarkFlagRequired("services")

	return cmd
}

func runBook(cmd *cobra.Command, opts *BookOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	replica := observer.NewReplica()
	client := observer.NewClient(opts.URL, replica, opts.logger())

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = client.Run(runCtx) }()

	select {
	case <-client.Ready():
	case <-ctx.Done():
		return fmt.Errorf("connect %s: %w", opts.URL, ctx.Err())
	}

	appt, err := client.Book(ctx, opts.Candidate)
	var remote *observer.RemoteError
	if errors.As(err, &remote) {
		return fmt.Errorf("booking refused: %s", remote.Error())
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		return json.NewEncoder(out).Encode(appt)
	}
	fmt.Fprintf(out, "booked %s: %s %s with %s for %s (%.2f)\n",
		appt.ID, appt.Date, appt.Time, appt.BarberName, appt.ClientName, appt.TotalPrice)
	return nil
}
