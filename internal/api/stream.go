// ABOUTME: WebSocket streaming of scan session events to API clients
// ABOUTME: Sends the current state first, then every event until the session ends

package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hikmaai-io/hikmaai-sentinel/internal/scan"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

type eventStreamer struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newEventStreamer(allowedOrigins []string, logger *slog.Logger) *eventStreamer {
	return &eventStreamer{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// originChecker accepts requests without an Origin header, same-host
// origins, and anything listed in allowed ("*" allows all).
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin) {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}

// serve upgrades the request and forwards events. current supplies the
// snapshot sent on connect and, if no final event arrived, on close.
func (s *eventStreamer) serve(w http.ResponseWriter, r *http.Request, events <-chan scan.Event, current func() (scan.Event, bool)) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	initial, ok := current()
	if !ok {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "session expired"),
			time.Now().Add(streamWriteWait))
		return
	}
	if !s.write(conn, initial) {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	sawFinal := initial.Final()
	for !sawFinal {
		select {
		case ev, open := <-events:
			if !open {
				if last, ok := current(); ok && last.Final() {
					if !s.write(conn, last) {
						return
					}
				}
				sawFinal = true
				continue
			}
			if !s.write(conn, ev) {
				return
			}
			sawFinal = ev.Final()
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		}
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished"),
		time.Now().Add(streamWriteWait))
}

func (s *eventStreamer) write(conn *websocket.Conn, ev scan.Event) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debug("websocket write failed",
			slog.String("session_id", ev.SessionID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}
