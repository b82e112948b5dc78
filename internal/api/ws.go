package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	controlReadLimit = 64 << 10
	controlPongWait  = 60 * time.Second
	controlPingEvery = 25 * time.Second
	controlWriteWait = 5 * time.Second
)

var errBinaryMessage = errors.New("binary messages are not supported")

// handleControlSocket upgrades to a websocket. Every text message is a
// joystick body and is answered with the same JSON as POST /joystick.
func (s *Server) handleControlSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Control socket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("Control socket connected", "remote", r.RemoteAddr)
	defer s.logger.Info("Control socket disconnected", "remote", r.RemoteAddr)

	conn.SetReadLimit(controlReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(controlPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(controlPongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(controlPingEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("Control socket read ended", "error", err)
			}
			return
		}

		var reply []byte
		if kind == websocket.TextMessage {
			_, reply = s.forward(RouteSocket, msg)
		} else {
			_, reply = commandError(http.StatusBadRequest, errBinaryMessage)
		}

		_ = conn.SetWriteDeadline(time.Now().Add(controlWriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			return
		}
	}
}
