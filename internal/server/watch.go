package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleWatch streams status transitions until the session ends, the client
// disconnects, or the server shuts down. The close frame carries the last
// known status.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	events, unsubscribe, err := s.service.Watch(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	s.watchers.Add(1)
	defer s.watchers.Done()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				status, err := s.service.Status(r.Context(), id)
				reason := string(status)
				if err != nil {
					reason = "session removed"
				}
				closeWith(conn, websocket.CloseNormalClosure, reason)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug().Err(err).Str("session_id", id).Msg("Watch write failed")
				}
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-s.closing:
			closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
