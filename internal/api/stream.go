package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/resolve-agent/internal/agent"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// EventSnapshot is the first message on every stream.
const EventSnapshot agent.EventType = "snapshot"

// handleEvents upgrades to a websocket and forwards bus events as JSON text
// messages. The optional types query parameter is a comma separated filter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("Websocket handshake failed.", zap.Error(err))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()

	events, unsubscribe := s.agent.Bus().Subscribe(parseTypes(r.URL.Query().Get("types"))...)
	defer unsubscribe()

	// Incoming messages are discarded; ctx ends when the peer goes away. It is
	// not tied to s.streams so the going-away close frame can still be sent.
	ctx := conn.CloseRead(r.Context())

	logger := s.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Debug("Event stream opened.")

	if err := s.send(ctx, conn, agent.Event{Type: EventSnapshot, Timestamp: time.Now().UTC(), Payload: s.agent.Snapshot()}); err != nil {
		logger.Debug("Event stream closed.", zap.Error(err))
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.streams.Done():
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			logger.Debug("Event stream closed for shutdown.")
			return
		case <-ctx.Done():
			conn.CloseNow()
			logger.Debug("Event stream closed.", zap.NamedError("cause", context.Cause(ctx)))
			return
		case ev, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "event bus closed")
				return
			}
			if err := s.send(ctx, conn, ev); err != nil {
				if websocket.CloseStatus(err) == -1 {
					logger.Debug("Event write failed.", zap.Error(err))
				}
				return
			}
		case <-ticker.C:
			pingCtx, cancelPing := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancelPing()
			if err != nil {
				logger.Debug("Event stream ping failed.", zap.Error(err))
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, ev agent.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

func parseTypes(raw string) []agent.EventType {
	var types []agent.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, agent.EventType(t))
		}
	}
	return types
}
