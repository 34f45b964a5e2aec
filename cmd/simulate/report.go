package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
)

const (
	opBook      = "book"
	opCancel    = "cancel"
	opReadSlots = "read_slots"
	opListDay   = "list_day"
)

var reportOrder = []string{opBook, opCancel, opReadSlots, opListDay}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeRejected
	outcomeError
)

type opStats struct {
	counts    [3]int
	latencies []time.Duration
}

type runStats struct {
	mu  sync.Mutex
	ops map[string]*opStats
}

func newRunStats() *runStats {
	return &runStats{ops: make(map[string]*opStats)}
}

func (r *runStats) record(op string, o outcome, took time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.ops[op]
	if !ok {
		st = &opStats{}
		r.ops[op] = st
	}
	st.counts[o]++
	st.latencies = append(st.latencies, took)
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[min(len(sorted)*p/100, len(sorted)-1)]
}

type auditResult struct {
	live         int
	cancelled    int
	doubleBooked []slotKey
}

// audit reloads every appointment and looks for slots held twice.
func (s *simulator) audit(ctx context.Context) (auditResult, error) {
	var appts []appointment.Appointment
	if err := s.get(ctx, "/appointments", &appts); err != nil {
		return auditResult{}, err
	}

	var res auditResult
	held := make(map[slotKey]int)
	for _, a := range appts {
		if a.Status == appointment.StatusCancelled {
			res.cancelled++
			continue
		}
		res.live++
		k := slotKey{barberID: a.BarberID, date: a.Date, at: a.Time}
		if held[k]++; held[k] == 2 {
			res.doubleBooked = append(res.doubleBooked, k)
		}
	}
	return res, nil
}

func printReport(w io.Writer, elapsed time.Duration, workers, slots int, stats *runStats, audit auditResult) {
	fmt.Fprintf(w, "\nran %s with %d workers over %d open slots\n\n", elapsed.Round(time.Millisecond), workers, slots)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "op\ttotal\tok\trejected\terror\tp50\tp95\tmax\t")

	stats.mu.Lock()
	for _, op := range reportOrder {
		st, ok := stats.ops[op]
		if !ok {
			continue
		}
		lat := slices.Clone(st.latencies)
		slices.Sort(lat)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\t%s\t%s\t\n", op, len(lat),
			st.counts[outcomeOK], st.counts[outcomeRejected], st.counts[outcomeError],
			percentile(lat, 50).Round(time.Millisecond),
			percentile(lat, 95).Round(time.Millisecond),
			lat[len(lat)-1].Round(time.Millisecond))
	}
	stats.mu.Unlock()
	tw.Flush()

	fmt.Fprintf(w, "\nlive appointments: %d, cancelled: %d\n", audit.live, audit.cancelled)
	if len(audit.doubleBooked) == 0 {
		fmt.Fprintln(w, "double bookings: none")
		return
	}
	fmt.Fprintf(w, "double bookings: %d\n", len(audit.doubleBooked))
	for _, k := range audit.doubleBooked {
		fmt.Fprintf(w, "  barber=%s %s %s\n", k.barberID, k.date, k.at)
	}
}
