package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSlot       = errors.New("invalid slot")
	ErrSlotConflict      = errors.New("slot already booked")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrInvalidInput      = errors.New("invalid input")
	ErrProtected         = errors.New("entity is protected")
	ErrBarberBusy        = errors.New("barber has future scheduled appointments")
)

// Code maps an engine error to its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSlot):
		return "InvalidSlot"
	case errors.Is(err, ErrSlotConflict):
		return "SlotConflict"
	case errors.Is(err, ErrInvalidTransition):
		return "InvalidTransition"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	case errors.Is(err, ErrInvalidInput):
		return "InvalidInput"
	case errors.Is(err, ErrProtected):
		return "Protected"
	case errors.Is(err, ErrBarberBusy):
		return "BarberBusy"
	default:
		return "Internal"
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// storeErr passes NotFound and SlotConflict through and turns anything else
// into StoreUnavailable.
func storeErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrSlotConflict) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
