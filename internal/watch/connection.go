package watch

import (
	"context"

	"go.uber.org/zap"
)

// EventAccount is the event kind for account subscriptions. Both plain
// transaction matches and token transfer matches are delivered under it.
const EventAccount = "account"

// Push is one server-initiated frame queued for delivery to a client.
// Either Payload or Err is set.
type Push struct {
	Event   string
	Payload any
	Err     string
}

// Sink is the delivery capability the transport exposes for one logical
// client connection. Implementations must remain safe to call after the
// connection has logically closed.
type Sink interface {
	Send(event string, payload any)
	Error(event string, message string)
}

// Connection is the channel-backed Sink drained by the transport's
// write pump. Enqueueing never blocks: when the buffer is full the
// frame is dropped and logged.
type Connection struct {
	Id  string
	Out chan Push

	logger *zap.Logger
}

func NewConnection(id string, buffer int, logger *zap.Logger) *Connection {
	return &Connection{
		Id:     id,
		Out:    make(chan Push, buffer),
		logger: logger,
	}
}

func (c *Connection) Send(event string, payload any) {
	select {
	case c.Out <- Push{Event: event, Payload: payload}:
	default:
		c.logger.Warn("send buffer full, dropping push",
			zap.String("connectionId", c.Id),
			zap.String("event", event))
	}
}

func (c *Connection) Error(event string, message string) {
	select {
	case c.Out <- Push{Event: event, Err: message}:
	default:
		c.logger.Warn("send buffer full, dropping error push",
			zap.String("connectionId", c.Id),
			zap.String("event", event))
	}
}

type contextKey string

const connectionKey contextKey = "connection"

func WithConnection(ctx context.Context, conn *Connection) context.Context {
	return context.WithValue(ctx, connectionKey, conn)
}

func ConnectionFromContext(ctx context.Context) (*Connection, bool) {
	conn, ok := ctx.Value(connectionKey).(*Connection)

	return conn, ok
}
