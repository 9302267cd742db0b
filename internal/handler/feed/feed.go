// Package feed pushes live league events to spectators over WebSocket.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/playperu/league/internal/server"
)

type Handler struct {
	broker   *server.Broker
	topic    string
	snapshot func() server.Event
	logger   *slog.Logger
}

// NewHandler streams topic. snapshot, if set, supplies the first frame so
// new spectators see the current table before any update arrives.
func NewHandler(logger *slog.Logger, broker *server.Broker, topic string, snapshot func() server.Event) *Handler {
	return &Handler{broker: broker, topic: topic, snapshot: snapshot, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/standings", h.stream)
	return r
}

func (h *Handler) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ch := h.broker.Subscribe(h.topic)
	defer h.broker.Unsubscribe(h.topic, ch)

	// Spectators never send; CloseRead ends ctx when they disconnect.
	ctx := conn.CloseRead(r.Context())

	if h.snapshot != nil {
		data, err := json.Marshal(h.snapshot())
		if err == nil {
			if err := h.write(ctx, conn, data); err != nil {
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case data := <-ch:
			if err := h.write(ctx, conn, data); err != nil {
				return
			}
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("websocket write failed", "error", err)
		return err
	}
	return nil
}
