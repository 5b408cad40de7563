package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"papermarket/internal/stream"
)

// WSConfig holds websocket session settings.
type WSConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	// ReadLimit caps an inbound message in bytes.
	ReadLimit int64
	// MessageRate and MessageBurst throttle inbound messages per
	// connection; excess messages get an error event.
	MessageRate  float64
	MessageBurst int
	// AllowOrigin reports whether a browser origin may connect. Nil allows
	// every origin.
	AllowOrigin func(r *http.Request) bool
}

// DefaultWSConfig returns the default websocket settings.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		ReadLimit:    4096,
		MessageRate:  20,
		MessageBurst: 40,
	}
}

// WSHandler upgrades connections and bridges them to the hub.
type WSHandler struct {
	hub      *stream.Hub
	config   WSConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewWSHandler creates a websocket handler over hub.
func NewWSHandler(hub *stream.Hub, config WSConfig, logger zerolog.Logger) *WSHandler {
	def := DefaultWSConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = def.PingInterval
	}
	if config.ReadLimit <= 0 {
		config.ReadLimit = def.ReadLimit
	}
	if config.MessageRate <= 0 {
		config.MessageRate = def.MessageRate
	}
	if config.MessageBurst <= 0 {
		config.MessageBurst = def.MessageBurst
	}
	checkOrigin := config.AllowOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &WSHandler{
		hub:    hub,
		config: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP handles GET /ws.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug().Err(err).Msg("Websocket upgrade failed")
		return
	}

	client := h.hub.NewClient()
	log := h.logger.With().Str("client", client.ID).Logger()
	log.Info().Str("remote", r.RemoteAddr).Msg("Client connected")

	go h.writePump(conn, client, log)
	h.readPump(conn, client, log)

	h.hub.RemoveClient(client)
	log.Info().Uint64("dropped", client.Dropped()).Msg("Client disconnected")
}

// readPump decodes client messages until the connection fails.
func (h *WSHandler) readPump(conn *websocket.Conn, client *stream.Client, log zerolog.Logger) {
	pongWait := h.config.PingInterval * 2
	conn.SetReadLimit(h.config.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	budget := newMessageBudget(h.config.MessageRate, h.config.MessageBurst, nil)
	defer func() {
		if budget.dropped > 0 {
			log.Debug().Int("dropped", budget.dropped).Msg("Throttled websocket messages")
		}
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Websocket read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if ok, retry := budget.Spend(); !ok {
			h.hub.Send(client, stream.Event{
				Event: stream.EventError,
				Data:  stream.ErrorPayload{Message: fmt.Sprintf("rate limit exceeded, retry in %s", retry.Round(time.Millisecond))},
			})
			continue
		}

		var msg stream.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.hub.Send(client, stream.Event{
				Event: stream.EventError,
				Data:  stream.ErrorPayload{Message: "malformed message"},
			})
			continue
		}
		h.hub.Handle(client, msg)
	}
}

// writePump is the only writer on conn. It exits when the client's send
// channel is closed or a write fails.
func (h *WSHandler) writePump(conn *websocket.Conn, client *stream.Client, log zerolog.Logger) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("Websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
