package observer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
)

func event(t *testing.T, seq uint64, kind broadcast.Kind, op broadcast.Op, origin string, payload any) broadcast.Message {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return broadcast.Event{Seq: seq, Kind: kind, Op: op, Origin: origin, Payload: raw}.Message()
}

func TestReplicaLoadAndApply(t *testing.T) {
	r := NewReplica()
	r.Load(appointment.Snapshot{
		Epoch:    "e1",
		Seq:      3,
		Barbers:  []appointment.Barber{{ID: "1", Name: "João"}},
		Services: []appointment.Service{{ID: "1", Name: "Corte", Price: 45, Duration: 30}},
	})

	epoch, seq := r.Position()
	assert.Equal(t, "e1", epoch)
	assert.Equal(t, uint64(3), seq)

	a := appointment.Appointment{ID: "a1", BarberID: "1", Date: "2024-06-04", Time: "10:00", Status: appointment.StatusScheduled}
	applied, err := r.Apply(event(t, 4, broadcast.KindAppointment, broadcast.OpCreated, "", a))
	require.NoError(t, err)
	assert.True(t, applied)

	a.Status = appointment.StatusCancelled
	applied, err = r.Apply(event(t, 5, broadcast.KindAppointment, broadcast.OpUpdated, "", a))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = r.Apply(event(t, 6, broadcast.KindService, broadcast.OpDeleted, "", map[string]string{"id": "1"}))
	require.NoError(t, err)
	assert.True(t, applied)

	snap := r.Snapshot()
	require.Len(t, snap.Appointments, 1)
	assert.Equal(t, appointment.StatusCancelled, snap.Appointments[0].Status)
	assert.Empty(t, snap.Services)
	assert.Equal(t, uint64(6), snap.Seq)
}

func TestReplicaIgnoresReplayedEvents(t *testing.T) {
	r := NewReplica()
	r.Load(appointment.Snapshot{Epoch: "e1"})

	a := appointment.Appointment{ID: "a1", Status: appointment.StatusScheduled}
	created := event(t, 1, broadcast.KindAppointment, broadcast.OpCreated, "", a)
	a.Status = appointment.StatusCompleted
	updated := event(t, 2, broadcast.KindAppointment, broadcast.OpUpdated, "", a)

	for _, m := range []broadcast.Message{created, updated, created, updated} {
		_, err := r.Apply(m)
		require.NoError(t, err)
	}

	items := r.Items()
	require.Len(t, items, 1)
	assert.Equal(t, appointment.StatusCompleted, items[0].Status)
}

func TestReplicaCreatedOverwrites(t *testing.T) {
	r := NewReplica()
	c := appointment.Client{ID: "c1", Name: "Ana"}

	// unsequenced messages always apply
	for i := 0; i < 2; i++ {
		m := event(t, 0, broadcast.KindClient, broadcast.OpCreated, "", c)
		applied, err := r.Apply(m)
		require.NoError(t, err)
		assert.True(t, applied)
	}
	assert.Len(t, r.Snapshot().Clients, 1)
}

func TestReplicaProvisional(t *testing.T) {
	r := NewReplica()
	cand := appointment.Candidate{BarberID: "1", ClientName: "Ana", Date: "2024-06-04", Time: "10:00", Services: []string{"1"}}

	r.AddProvisional("req-1", cand)
	r.AddProvisional("req-2", cand)

	items := r.Items()
	require.Len(t, items, 2)
	assert.True(t, items[0].Provisional)

	accepted := appointment.Appointment{ID: "a1", BarberID: "1", ClientName: "Ana", Date: "2024-06-04", Time: "10:00", Status: appointment.StatusScheduled}
	_, err := r.Apply(event(t, 1, broadcast.KindAppointment, broadcast.OpCreated, "req-1", accepted))
	require.NoError(t, err)
	r.Reject("req-2")

	items = r.Items()
	require.Len(t, items, 1)
	assert.False(t, items[0].Provisional)
	assert.Equal(t, "a1", items[0].ID)
}

func TestReplicaSkipsNonBroadcasts(t *testing.T) {
	r := NewReplica()
	applied, err := r.Apply(broadcast.Message{Type: broadcast.TypeAck})
	require.NoError(t, err)
	assert.False(t, applied)

	_, err = r.Apply(broadcast.Message{Type: broadcast.TypeClientAdded, Seq: 1, Data: json.RawMessage(`{`)})
	assert.Error(t, err)
}
