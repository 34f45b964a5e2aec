package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hackgods/barbershop-scheduling/internal/telemetry"
)

// errDoubleBooked makes the process exit with status 2 so CI can tell a
// broken invariant apart from a failed run.
var errDoubleBooked = errors.New("double bookings found")

type options struct {
	baseURL  string
	duration time.Duration
	workers  int
	days     int
	mix      mix
	logLevel string
}

// mix is the relative weight of each operation a worker picks.
type mix struct {
	book, cancel, read float64
}

func (m mix) normalized() mix {
	total := m.book + m.cancel + m.read
	if total <= 0 {
		return mix{book: 1}
	}
	return mix{book: m.book / total, cancel: m.cancel / total, read: m.read / total}
}

func newRootCommand() *cobra.Command {
	o := &options{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Race concurrent bookings against a running server and audit the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case o.workers <= 0:
				return errors.New("--workers must be > 0")
			case o.duration <= 0:
				return errors.New("--duration must be > 0")
			case o.days <= 0:
				return errors.New("--days must be > 0")
			}
			return run(cmd.Context(), o)
		},
		SilenceUsage: true,
	}

	f := cmd.Flags()
	f.StringVar(&o.baseURL, "api", envOr("SIM_API_BASE_URL", "http://localhost:8080"), "server base URL")
	f.DurationVar(&o.duration, "duration", envDuration("SIM_DURATION", 30*time.Second), "how long workers run")
	f.IntVar(&o.workers, "workers", envInt("SIM_WORKERS", 10), "concurrent workers")
	f.IntVar(&o.days, "days", envInt("SIM_DAYS", 3), "days ahead to collect open slots from")
	f.Float64Var(&o.mix.book, "book", envFloat("SIM_BOOK_RATIO", 0.6), "booking weight")
	f.Float64Var(&o.mix.cancel, "cancel", envFloat("SIM_CANCEL_RATIO", 0.1), "cancel weight")
	f.Float64Var(&o.mix.read, "read", envFloat("SIM_READ_RATIO", 0.3), "read weight")
	f.StringVar(&o.logLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level")
	return cmd
}

func run(ctx context.Context, o *options) error {
	logger := telemetry.NewLogger("simulate", o.logLevel)
	sim := &simulator{
		base:   o.baseURL,
		mix:    o.mix.normalized(),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		stats:  newRunStats(),
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := sim.load(loadCtx, o.days); err != nil {
		return err
	}
	logger.Info("data loaded", "clients", len(sim.clients), "services", len(sim.services), "slots", len(sim.targets))

	started := time.Now()
	sim.race(ctx, o.workers, o.duration)
	elapsed := time.Since(started)

	audit, err := sim.audit(ctx)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	printReport(os.Stdout, elapsed, o.workers, len(sim.targets), sim.stats, audit)

	if len(audit.doubleBooked) > 0 {
		return errDoubleBooked
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, errDoubleBooked) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}
