package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/availability"
	"github.com/hackgods/barbershop-scheduling/internal/dashboard"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// statusFor maps an engine error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, appointment.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, appointment.ErrProtected):
		return http.StatusForbidden
	case errors.Is(err, appointment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, appointment.ErrSlotConflict),
		errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrBarberBusy):
		return http.StatusConflict
	case errors.Is(err, appointment.ErrInvalidSlot):
		return http.StatusUnprocessableEntity
	case errors.Is(err, appointment.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func handleEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), appointment.Code(err), err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidInput", "could not parse JSON")
		return false
	}
	return true
}

func listBarbersHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		barbers, err := svc.ListBarbers(r.Context())
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, barbers)
	}
}

func addBarberHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.Barber
		if !decodeBody(w, r, &req) {
			return
		}
		b, err := svc.AddBarber(r.Context(), req)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

func removeBarberHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveBarber(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func barberSlotsHandler(svc *appointment.Engine, today func() string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		date := r.URL.Query().Get("date")
		if date == "" {
			date = today()
		}

		slots, err := svc.Slots(r.Context(), id, date)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		if slots == nil {
			slots = []availability.TimeOfDay{}
		}
		writeJSON(w, http.StatusOK, SlotsResponse{BarberID: id, Date: date, Slots: slots})
	}
}

func nextSlotHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		slot, err := svc.NextSlot(r.Context(), id)
		switch {
		case errors.Is(err, availability.ErrNoSlotFound):
			writeJSON(w, http.StatusOK, NextSlotResponse{BarberID: id})
		case err != nil:
			handleEngineError(w, err)
		default:
			writeJSON(w, http.StatusOK, NextSlotResponse{BarberID: id, Slot: &slot})
		}
	}
}

func listClientsHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, err := svc.ListClients(r.Context())
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, clients)
	}
}

func addClientHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.Client
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := svc.AddClient(r.Context(), req)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	}
}

func removeClientHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveClient(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func listServicesHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services, err := svc.ListServices(r.Context())
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, services)
	}
}

func addServiceHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.Service
		if !decodeBody(w, r, &req) {
			return
		}
		s, err := svc.AddService(r.Context(), req)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

func updateServiceHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.Service
		if !decodeBody(w, r, &req) {
			return
		}
		req.ID = chi.URLParam(r, "id")
		s, err := svc.UpdateService(r.Context(), req)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func removeServiceHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := svc.RemoveService(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleEngineError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func createAppointmentHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req appointment.Candidate
		if !decodeBody(w, r, &req) {
			return
		}
		appt, err := svc.CreateAppointment(r.Context(), req)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, appt)
	}
}

func listAppointmentsHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := appointment.AppointmentFilter{
			BarberID: q.Get("barber_id"),
			Date:     q.Get("date"),
			Status:   appointment.Status(q.Get("status")),
		}
		if f.Status != "" && !f.Status.Valid() {
			writeError(w, http.StatusBadRequest, "InvalidInput", "unknown status "+string(f.Status))
			return
		}

		appts, err := svc.ListAppointments(r.Context(), f)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		if appts == nil {
			appts = []appointment.Appointment{}
		}
		writeJSON(w, http.StatusOK, appts)
	}
}

func getAppointmentHandler(svc *appointment.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.GetAppointment(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func transitionHandler(svc *appointment.Engine, to appointment.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		appt, err := svc.Transition(r.Context(), chi.URLParam(r, "id"), to)
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, appt)
	}
}

func dashboardHandler(svc *appointment.Engine, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Snapshot(r.Context())
		if err != nil {
			handleEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, dashboard.Build(*snap, now()))
	}
}
