package api

import (
	"github.com/hackgods/barbershop-scheduling/internal/availability"
)

type SlotsResponse struct {
	BarberID string                   `json:"barberId"`
	Date     string                   `json:"date"`
	Slots    []availability.TimeOfDay `json:"slots"`
}

// NextSlotResponse has a nil Slot when nothing is open within the lookahead.
type NextSlotResponse struct {
	BarberID string             `json:"barberId"`
	Slot     *availability.Slot `json:"slot"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
