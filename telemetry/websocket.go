package telemetry

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 512
)

// handleViewer upgrades the request and streams hub events to the viewer
// until either side goes away.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("ws: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	session := s.hub.Register()
	s.logger.Infow("ws: viewer connected", "session", session.ID, "remote", r.RemoteAddr)

	defer func() {
		s.hub.Unregister(session)
		conn.Close()
		s.logger.Infow("ws: viewer disconnected", "session", session.ID)
	}()

	gone := make(chan struct{})
	go readViewer(conn, gone)

	s.writeViewer(conn, session, gone)
}

// readViewer discards client frames and keeps the read deadline fresh.
// gone is closed once the connection fails or the peer closes it.
func readViewer(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeViewer is the only goroutine writing to conn
func (s *Server) writeViewer(conn *websocket.Conn, session *Session, gone <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-session.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				// dropped by the hub or shutting down
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			msg, err := e.MarshalEnvelope()
			if err != nil {
				s.logger.Errorw("ws: failed to encode event", "session", session.ID, "error", err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debugw("ws: write failed", "session", session.ID, "error", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}
