package http

import (
	"net/http"
	"time"

	"attempt-ledger/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// CompletionSource hands out live completion subscriptions.
type CompletionSource interface {
	Subscribe() (<-chan domain.CompletionSignal, func())
}

// writeWait bounds a single frame write to a client.
const writeWait = 10 * time.Second

// WSHandler streams completion signals to admin dashboards.
type WSHandler struct {
	source    CompletionSource
	upgrader  websocket.Upgrader
	writeWait time.Duration
}

func NewWSHandler(source CompletionSource) *WSHandler {
	return &WSHandler{
		source:    source,
		writeWait: writeWait,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request and forwards every completion signal until the
// client disconnects. Clients send nothing; any inbound frame is ignored.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		writeError(w, r, domain.ErrForbidden)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	signals, cancel := h.source.Subscribe()
	defer cancel()

	if err := h.write(conn, outboundMessage[struct{}]{Type: "subscribed"}); err != nil {
		return
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case signal, ok := <-signals:
			if !ok {
				return
			}
			if err := h.write(conn, outboundMessage[domain.CompletionSignal]{Type: "completion", Payload: signal}); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		case <-readerDone:
			return
		}
	}
}

// write sends one frame; a peer that stops reading fails it after writeWait.
func (h *WSHandler) write(conn *websocket.Conn, msg any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(h.writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}
