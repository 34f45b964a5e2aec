package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hackgods/barbershop-scheduling/internal/appointment"
	"github.com/hackgods/barbershop-scheduling/internal/broadcast"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// WSHandler serves the sync protocol: a snapshot (or a replay on resume)
// followed by every broadcast, plus request/reply over the same socket.
type WSHandler struct {
	svc      *appointment.Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(svc *appointment.Engine, allowedOrigins []string, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		svc:    svc,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 {
					return true
				}
				return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

type wsSession struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	writeMu sync.Mutex
}

func (s *wsSession) send(m broadcast.Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(m)
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	epoch := q.Get("epoch")
	var since uint64
	resume := false
	if raw := q.Get("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "InvalidInput", "since must be a sequence number")
			return
		}
		since, resume = v, true
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	var (
		snap *appointment.Snapshot
		sub  *broadcast.Subscription
	)
	if resume {
		snap, sub, err = h.svc.Resume(ctx, epoch, since)
	} else {
		snap, sub, err = h.svc.Subscribe(ctx)
	}
	if err != nil {
		h.logger.Error("websocket subscribe failed", "err", err)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, appointment.Code(err)),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Close()

	sess := &wsSession{conn: conn, logger: h.logger.With("request_id", GetRequestID(r.Context()))}

	if snap != nil {
		msg, err := snapshotMessage(snap)
		if err != nil || sess.send(msg) != nil {
			return
		}
	}

	go h.pump(ctx, cancel, sess, sub)
	go ping(ctx, sess)

	h.readLoop(ctx, sess)
}

func snapshotMessage(snap *appointment.Snapshot) (broadcast.Message, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return broadcast.Message{}, err
	}
	return broadcast.Message{Type: broadcast.TypeSnapshot, Seq: snap.Seq, Epoch: snap.Epoch, Data: raw}, nil
}

// pump forwards the subscription to the socket. A subscriber dropped for
// falling behind gets a close frame and is expected to reconnect with resume.
func (h *WSHandler) pump(ctx context.Context, cancel context.CancelFunc, sess *wsSession, sub *broadcast.Subscription) {
	defer cancel()
	for {
		e, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrSlowConsumer) {
				sess.logger.Warn("websocket subscriber dropped", "err", err)
				_ = sess.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "slow consumer"),
					time.Now().Add(writeWait))
			}
			_ = sess.conn.Close()
			return
		}
		if err := sess.send(e.Message()); err != nil {
			_ = sess.conn.Close()
			return
		}
	}
}

func ping(ctx context.Context, sess *wsSession) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sess.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) readLoop(ctx context.Context, sess *wsSession) {
	conn := sess.conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var m broadcast.Message
		if err := conn.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Debug("websocket read ended", "err", err)
			}
			return
		}

		reply := h.dispatch(appointment.WithOrigin(ctx, m.RequestID), m)
		reply.RequestID = m.RequestID
		if err := sess.send(reply); err != nil {
			return
		}
	}
}

func errorMessage(err error) broadcast.Message {
	return broadcast.Message{Type: broadcast.TypeError, Code: appointment.Code(err), Message: err.Error()}
}

func reply(msgType string, v any, err error) broadcast.Message {
	if err != nil {
		return errorMessage(err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return errorMessage(err)
	}
	return broadcast.Message{Type: msgType, Data: raw}
}

func decodeData(m broadcast.Message, v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: %s needs data", appointment.ErrInvalidInput, m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", appointment.ErrInvalidInput, m.Type, err)
	}
	return nil
}

// decodeID accepts either a bare JSON string or an object with an id field.
func decodeID(m broadcast.Message) (string, error) {
	var id string
	if err := json.Unmarshal(m.Data, &id); err == nil && id != "" {
		return id, nil
	}
	var ref struct {
		ID string `json:"id"`
	}
	if err := decodeData(m, &ref); err != nil {
		return "", err
	}
	if ref.ID == "" {
		return "", fmt.Errorf("%w: %s needs an id", appointment.ErrInvalidInput, m.Type)
	}
	return ref.ID, nil
}

type idReply struct {
	ID string `json:"id"`
}

func (h *WSHandler) dispatch(ctx context.Context, m broadcast.Message) broadcast.Message {
	svc := h.svc

	switch m.Type {
	case broadcast.TypeGetAppointments:
		v, err := svc.ListAppointments(ctx, appointment.AppointmentFilter{})
		return reply(broadcast.TypeAppointments, v, err)
	case broadcast.TypeGetBarbers:
		v, err := svc.ListBarbers(ctx)
		return reply(broadcast.TypeBarbers, v, err)
	case broadcast.TypeGetClients:
		v, err := svc.ListClients(ctx)
		return reply(broadcast.TypeClients, v, err)
	case broadcast.TypeGetServices:
		v, err := svc.ListServices(ctx)
		return reply(broadcast.TypeServices, v, err)

	case broadcast.TypeCreateAppointment:
		var c appointment.Candidate
		if err := decodeData(m, &c); err != nil {
			return errorMessage(err)
		}
		v, err := svc.CreateAppointment(ctx, c)
		return reply(broadcast.TypeAck, v, err)

	case broadcast.TypeCompleteAppointment, broadcast.TypeCancelAppointment:
		id, err := decodeID(m)
		if err != nil {
			return errorMessage(err)
		}
		to := appointment.StatusCompleted
		if m.Type == broadcast.TypeCancelAppointment {
			to = appointment.StatusCancelled
		}
		v, err := svc.Transition(ctx, id, to)
		return reply(broadcast.TypeAck, v, err)

	case broadcast.TypeAddBarber:
		var b appointment.Barber
		if err := decodeData(m, &b); err != nil {
			return errorMessage(err)
		}
		v, err := svc.AddBarber(ctx, b)
		return reply(broadcast.TypeAck, v, err)
	case broadcast.TypeAddClient:
		var c appointment.Client
		if err := decodeData(m, &c); err != nil {
			return errorMessage(err)
		}
		v, err := svc.AddClient(ctx, c)
		return reply(broadcast.TypeAck, v, err)
	case broadcast.TypeAddService, broadcast.TypeUpdateService:
		var s appointment.Service
		if err := decodeData(m, &s); err != nil {
			return errorMessage(err)
		}
		var (
			v   *appointment.Service
			err error
		)
		if m.Type == broadcast.TypeAddService {
			v, err = svc.AddService(ctx, s)
		} else {
			v, err = svc.UpdateService(ctx, s)
		}
		return reply(broadcast.TypeAck, v, err)

	case broadcast.TypeRemoveBarber, broadcast.TypeRemoveClient, broadcast.TypeRemoveService:
		id, err := decodeID(m)
		if err != nil {
			return errorMessage(err)
		}
		switch m.Type {
		case broadcast.TypeRemoveBarber:
			err = svc.RemoveBarber(ctx, id)
		case broadcast.TypeRemoveClient:
			err = svc.RemoveClient(ctx, id)
		default:
			err = svc.RemoveService(ctx, id)
		}
		return reply(broadcast.TypeAck, idReply{ID: id}, err)
	}

	return errorMessage(fmt.Errorf("%w: unknown message type %q", appointment.ErrInvalidInput, m.Type))
}
