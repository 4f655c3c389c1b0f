// Package delivery forwards event bus subscriptions to websocket connections.
//
// Each connection owns one subscription. The bus queue is the bounded outbound buffer
// of the connection: when the client cannot keep up the bus drops the subscription and
// the connection is closed with a policy violation.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"librarycatalog/internal/catalog"
	"librarycatalog/internal/pubsub"
)

const (
	// MessageNext carries one event payload.
	MessageNext = "next"

	CloseSlowConsumer = websocket.ClosePolicyViolation
	CloseShutdown     = websocket.CloseGoingAway
)

// Message is the frame sent for every delivered event.
type Message struct {
	Type      string `json:"type"`
	Operation string `json:"operation"`
	Payload   any    `json:"payload,omitempty"`
}

// Subscriber opens named subscription operations.
type Subscriber interface {
	Subscribe(ctx context.Context, operation string) (*pubsub.Subscription, error)
}

// Settings tunes connection keepalive. Zero values use the defaults.
type Settings struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
	// CheckOrigin is passed to the upgrader. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool
}

func (s Settings) withDefaults() Settings {
	if s.WriteWait <= 0 {
		s.WriteWait = 10 * time.Second
	}
	if s.PongWait <= 0 {
		s.PongWait = 60 * time.Second
	}
	if s.PingPeriod <= 0 || s.PingPeriod >= s.PongWait {
		s.PingPeriod = s.PongWait * 9 / 10
	}
	if s.ReadLimit <= 0 {
		s.ReadLimit = 4096
	}
	if s.CheckOrigin == nil {
		s.CheckOrigin = func(*http.Request) bool { return true }
	}
	return s
}

type Handler struct {
	subs     Subscriber
	settings Settings
	upgrader websocket.Upgrader
	metrics  *Metrics
	log      zerolog.Logger
}

// NewHandler serves GET /subscriptions?operation=<name>. metrics may be nil.
func NewHandler(subs Subscriber, st Settings, metrics *Metrics, log zerolog.Logger) *Handler {
	st = st.withDefaults()
	return &Handler{
		subs:     subs,
		settings: st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     st.CheckOrigin,
		},
		metrics: metrics,
		log:     log.With().Str("component", "delivery").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	operation := r.URL.Query().Get("operation")
	if operation == "" {
		operation = "bookAdded"
	}

	// the registration must be live before the handshake completes.
	sub, err := h.subs.Subscribe(r.Context(), operation)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &connection{
		conn:      conn,
		sub:       sub,
		operation: operation,
		settings:  h.settings,
		log:       h.log.With().Uint64("subscription", sub.ID()).Str("operation", operation).Logger(),
	}
	h.metrics.connected()
	c.log.Debug().Msg("subscriber connected")

	written := make(chan struct{})
	go func() {
		defer close(written)
		c.writePump()
	}()
	c.readPump()
	sub.Close()
	<-written

	reason := closeReason(sub.Err())
	h.metrics.disconnected(reason)
	c.log.Debug().Str("reason", reason).Msg("subscriber disconnected")
}

type connection struct {
	conn      *websocket.Conn
	sub       *pubsub.Subscription
	operation string
	settings  Settings
	log       zerolog.Logger
}

// readPump discards client frames and returns when the connection fails or the
// client stops answering pings.
func (c *connection) readPump() {
	c.conn.SetReadLimit(c.settings.ReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.settings.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("subscriber read failed")
			}
			return
		}
	}
}

func (c *connection) writePump() {
	ticker := time.NewTicker(c.settings.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.sub.Done():
			c.closeWith(c.sub.Err())
			return
		default:
		}

		select {
		case ev, ok := <-c.sub.C():
			if !ok {
				c.closeWith(c.sub.Err())
				return
			}
			if err := c.send(Message{Type: MessageNext, Operation: c.operation, Payload: ev.Payload}); err != nil {
				c.log.Debug().Err(err).Msg("subscriber write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) send(msg Message) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteWait))
	return c.conn.WriteJSON(msg)
}

// closeWith sends the close frame matching why the subscription ended. An
// unsubscribed subscription means the client already went away.
func (c *connection) closeWith(reason error) {
	var frame []byte
	switch {
	case errors.Is(reason, pubsub.ErrSlowConsumer):
		frame = websocket.FormatCloseMessage(CloseSlowConsumer, "slow consumer")
	case errors.Is(reason, pubsub.ErrClosed):
		frame = websocket.FormatCloseMessage(CloseShutdown, "server shutting down")
	default:
		return
	}
	if err := c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(c.settings.WriteWait)); err != nil {
		c.log.Debug().Err(err).Msg("close frame not sent")
	}
}

func closeReason(err error) string {
	switch {
	case errors.Is(err, pubsub.ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, pubsub.ErrClosed):
		return "shutdown"
	default:
		return "client"
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := catalog.ResponseError{Message: "internal error", Extensions: catalog.Extensions{Code: catalog.KindInternal}}
	var ce *catalog.Error
	if errors.As(err, &ce) {
		resp.Message = ce.Message
		resp.Extensions = catalog.Extensions{Code: ce.Kind, Field: ce.Field}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(catalog.StatusFor(resp.Extensions.Code))
	_ = json.NewEncoder(w).Encode(catalog.Response{Errors: []catalog.ResponseError{resp}})
}
