package server

import (
	"net/http"
	"time"

	"github.com/goevery/chainwatch/internal/handler"
	"github.com/goevery/chainwatch/internal/watch"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// SubscriptionCloser flags a connection's registry entries as closed
// when its socket goes away.
type SubscriptionCloser interface {
	Close(cid string)
}

type WebSocketServer struct {
	logger        *zap.Logger
	upgrader      *websocket.Upgrader
	subscriptions SubscriptionCloser
	router        *Router
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	subscriptions SubscriptionCloser,
	router *Router,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		subscriptions,
		router,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.serve)
}

// pushFrame is a server-initiated notification on the wire.
type pushFrame struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	cid := gonanoid.Must()
	client := watch.NewConnection(cid, sendBuffer, s.logger)

	s.logger.Info("websocket connection established",
		zap.String("connectionId", cid))

	done := make(chan struct{})
	replies := make(chan handler.Response, 8)

	go s.writePump(conn, client, replies, done)
	s.readPump(r, conn, client, replies)

	close(done)
	s.subscriptions.Close(cid)

	s.logger.Info("websocket connection closed",
		zap.String("connectionId", cid))
}

func (s *WebSocketServer) readPump(r *http.Request, conn *websocket.Conn, client *watch.Connection, replies chan<- handler.Response) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := watch.WithConnection(r.Context(), client)

	for {
		var request handler.Request
		if err := conn.ReadJSON(&request); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read failed",
					zap.String("connectionId", client.Id),
					zap.Error(err))
			}

			return
		}

		response := s.router.RouteRequest(ctx, request)
		if response != nil {
			replies <- *response
		}
	}
}

func (s *WebSocketServer) writePump(conn *websocket.Conn, client *watch.Connection, replies <-chan handler.Response, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case response := <-replies:
			if !s.write(conn, client, response) {
				return
			}
		case push := <-client.Out:
			if !s.write(conn, client, pushFrameFor(push)) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WebSocketServer) write(conn *websocket.Conn, client *watch.Connection, v any) bool {
	conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := conn.WriteJSON(v); err != nil {
		s.logger.Debug("websocket write failed",
			zap.String("connectionId", client.Id),
			zap.Error(err))

		return false
	}

	return true
}

func pushFrameFor(push watch.Push) pushFrame {
	frame := pushFrame{
		Method: push.Event,
		Error:  push.Err,
	}

	if push.Payload != nil {
		frame.Params = push.Payload
	}

	return frame
}
