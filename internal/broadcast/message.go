package broadcast

import "encoding/json"

// Message is the websocket envelope in both directions.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Epoch     string          `json:"epoch,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Code      string          `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// Observer requests.
const (
	TypeGetAppointments     = "get_appointments"
	TypeGetBarbers          = "get_barbers"
	TypeGetClients          = "get_clients"
	TypeGetServices         = "get_services"
	TypeCreateAppointment   = "create_appointment"
	TypeCompleteAppointment = "complete_appointment"
	TypeCancelAppointment   = "cancel_appointment"
	TypeAddBarber           = "add_barber"
	TypeAddClient           = "add_client"
	TypeAddService          = "add_service"
	TypeUpdateService       = "update_service"
	TypeRemoveBarber        = "remove_barber"
	TypeRemoveClient        = "remove_client"
	TypeRemoveService       = "remove_service"
)

// Engine replies.
const (
	TypeSnapshot     = "snapshot"
	TypeAppointments = "appointments"
	TypeBarbers      = "barbers"
	TypeClients      = "clients"
	TypeServices     = "services"
	TypeAck          = "ack"
	TypeError        = "error"
)

// Broadcast types.
const (
	TypeAppointmentCreated = "appointment_created"
	TypeAppointmentUpdated = "appointment_updated"
	TypeBarberAdded        = "barber_added"
	TypeBarberRemoved      = "barber_removed"
	TypeClientAdded        = "client_added"
	TypeClientRemoved      = "client_removed"
	TypeServiceAdded       = "service_added"
	TypeServiceUpdated     = "service_updated"
	TypeServiceRemoved     = "service_removed"
)

type eventKey struct {
	kind Kind
	op   Op
}

var eventTypes = map[eventKey]string{
	{KindAppointment, OpCreated}: TypeAppointmentCreated,
	{KindAppointment, OpUpdated}: TypeAppointmentUpdated,
	{KindBarber, OpCreated}:      TypeBarberAdded,
	{KindBarber, OpUpdated}:      TypeBarberAdded,
	{KindBarber, OpDeleted}:      TypeBarberRemoved,
	{KindClient, OpCreated}:      TypeClientAdded,
	{KindClient, OpUpdated}:      TypeClientAdded,
	{KindClient, OpDeleted}:      TypeClientRemoved,
	{KindService, OpCreated}:     TypeServiceAdded,
	{KindService, OpUpdated}:     TypeServiceUpdated,
	{KindService, OpDeleted}:     TypeServiceRemoved,
}

// EventType names the broadcast message for kind and op. Barber and client
// upserts are both announced as "added".
func EventType(kind Kind, op Op) string {
	if t, ok := eventTypes[eventKey{kind, op}]; ok {
		return t
	}
	return string(kind) + "_" + string(op)
}

// ParseEventType is the inverse of EventType. Upserts come back as
// OpUpdated, which consumers apply the same way as OpCreated.
func ParseEventType(t string) (Kind, Op, bool) {
	switch t {
	case TypeAppointmentCreated:
		return KindAppointment, OpCreated, true
	case TypeAppointmentUpdated:
		return KindAppointment, OpUpdated, true
	case TypeBarberAdded:
		return KindBarber, OpUpdated, true
	case TypeBarberRemoved:
		return KindBarber, OpDeleted, true
	case TypeClientAdded:
		return KindClient, OpUpdated, true
	case TypeClientRemoved:
		return KindClient, OpDeleted, true
	case TypeServiceAdded, TypeServiceUpdated:
		return KindService, OpUpdated, true
	case TypeServiceRemoved:
		return KindService, OpDeleted, true
	}
	return "", "", false
}

// Message wraps the event for the wire.
func (e Event) Message() Message {
	return Message{
		Type:   EventType(e.Kind, e.Op),
		Seq:    e.Seq,
		Origin: e.Origin,
		Data:   e.Payload,
	}
}
