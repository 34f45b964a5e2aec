package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/availability"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
	"github.com/hackgods/barbershop-scheduling/internal/config"
	"github.com/hackgods/barbershop-scheduling/internal/db"
	"github.com/hackgods/barbershop-scheduling/internal/reminder"
	"github.com/hackgods/barbershop-scheduling/internal/telemetry"
)

type seedCounts struct {
	Barbers      int
	Clients      int
	Appointments int
	Days         int
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load error", "err", err)
		os.Exit(1)
	}
	logger := telemetry.NewLogger("seed", cfg.LogLevel)

	counts := seedCounts{
		Barbers:      getInt("SEED_BARBERS", 4),
		Clients:      getInt("SEED_CLIENTS", 50),
		Appointments: getInt("SEED_APPOINTMENTS", 120),
		Days:         getInt("SEED_DAYS", 7),
	}
	if err := run(cfg, counts, logger); err != nil {
		logger.Error("seed failed", "err", err)
		os.Exit(1)
	}
	logger.Info("seed complete")
}

func run(cfg config.Config, counts seedCounts, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		return err
	}

	reminders := reminder.NewScheduler(reminder.NewLogNotifier(logger), reminder.Options{
		Lead:    cfg.ReminderLead,
		Message: cfg.ReminderMessage,
		Logger:  logger,
	})
	defer reminders.Stop()

	bus := broadcast.New(broadcast.Options{})
	defer bus.Close()

	engine := appointment.NewEngine(repo, bus, reminders, appointment.Options{
		Location:  cfg.Location,
		Protected: appointment.ProtectedFromSeed(seed).Protected,
		Logger:    logger,
	})
	if err := engine.Bootstrap(ctx, seed); err != nil {
		return err
	}

	f := gofakeit.New(uint64(time.Now().UnixNano()))

	barbers, err := seedBarbers(ctx, engine, f, counts.Barbers)
	if err != nil {
		return fmt.Errorf("seed barbers: %w", err)
	}
	logger.Info("barbers seeded", "count", len(barbers))

	clients, err := seedClients(ctx, engine, f, counts.Clients)
	if err != nil {
		return fmt.Errorf("seed clients: %w", err)
	}
	logger.Info("clients seeded", "count", len(clients))

	booked, err := seedAppointments(ctx, engine, f, cfg.Location, counts)
	if err != nil {
		return fmt.Errorf("seed appointments: %w", err)
	}
	logger.Info("appointments seeded", "count", booked, "requested", counts.Appointments)
	return nil
}

func seedBarbers(ctx context.Context, engine *appointment.Engine, f *gofakeit.Faker, count int) ([]appointment.Barber, error) {
	shifts := []appointment.WorkingHours{
		{Start: "08:00", End: "18:00"},
		{Start: "09:00", End: "19:00"},
		{Start: "10:00", End: "20:00"},
		{Start: "12:00", End: "21:00"},
	}

	out := make([]appointment.Barber, 0, count)
	for i := 0; i < count; i++ {
		daysOff := []int{0}
		if f.Bool() {
			daysOff = append(daysOff, f.Number(1, 6))
		}
		b, err := engine.AddBarber(ctx, appointment.Barber{
			Name:         f.Name(),
			Phone:        f.Numerify("(11) 9####-####"),
			WorkingHours: shifts[f.Number(0, len(shifts)-1)],
			DaysOff:      daysOff,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, nil
}

func seedClients(ctx context.Context, engine *appointment.Engine, f *gofakeit.Faker, count int) ([]appointment.Client, error) {
	out := make([]appointment.Client, 0, count)
	for i := 0; i < count; i++ {
		c, err := engine.AddClient(ctx, appointment.Client{
			Name:  f.Name(),
			Phone: f.Numerify("(11) 9####-####"),
			Email: f.Email(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// seedAppointments books random open slots through the engine, so every
// booking goes through the same validation as a real one.
func seedAppointments(ctx context.Context, engine *appointment.Engine, f *gofakeit.Faker, loc *time.Location, counts seedCounts) (int, error) {
	barbers, err := engine.ListBarbers(ctx)
	if err != nil {
		return 0, err
	}
	clients, err := engine.ListClients(ctx)
	if err != nil {
		return 0, err
	}
	services, err := engine.ListServices(ctx)
	if err != nil {
		return 0, err
	}
	if len(barbers) == 0 || len(clients) == 0 || len(services) == 0 {
		return 0, errors.New("need at least one barber, client and service")
	}

	today := time.Now().In(loc)
	booked := 0
	for attempt := 0; booked < counts.Appointments && attempt < counts.Appointments*4; attempt++ {
		barber := barbers[f.Number(0, len(barbers)-1)]
		date := today.AddDate(0, 0, f.Number(0, max(counts.Days-1, 0))).Format(availability.DateFormat)

		open, err := engine.Slots(ctx, barber.ID, date)
		if err != nil {
			return booked, err
		}
		if len(open) == 0 {
			continue
		}

		client := clients[f.Number(0, len(clients)-1)]
		_, err = engine.CreateAppointment(ctx, appointment.Candidate{
			BarberID: barber.ID,
			ClientID: client.ID,
			Date:     date,
			Time:     open[f.Number(0, len(open)-1)].String(),
			Services: pickServices(f, services),
		})
		switch {
		case err == nil:
			booked++
		case errors.Is(err, appointment.ErrSlotConflict), errors.Is(err, appointment.ErrInvalidSlot):
		default:
			return booked, err
		}
	}
	return booked, nil
}

func pickServices(f *gofakeit.Faker, services []appointment.Service) []string {
	n := f.Number(1, min(3, len(services)))
	ids := make([]string, 0, len(services))
	for _, s := range services {
		ids = append(ids, s.ID)
	}
	f.ShuffleStrings(ids)
	return ids[:n]
}

func openStore(ctx context.Context, cfg config.Config) (appointment.Repository, func(), error) {
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return appointment.NewPgRepository(pool), pool.Close, nil
	case "sqlite":
		sqlDB, err := db.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return appointment.NewSQLiteRepository(sqlDB), func() { _ = sqlDB.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("seeding needs a persistent store, got STORE_DRIVER=%s", cfg.StoreDriver)
	}
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
