package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/srg/kbridge/internal/device"
	"github.com/srg/kbridge/internal/groutine"
)

// client is one WebSocket connection. Reads happen on the serving goroutine; writes
// come from the event pump and from call goroutines and are serialized by writeMu.
type client struct {
	id   string
	conn *websocket.Conn
	log  *logrus.Entry

	writeMu sync.Mutex
}

func newClient(id string, conn *websocket.Conn, logger *logrus.Logger) *client {
	conn.SetReadLimit(maxMessageBytes)
	return &client{
		id:   id,
		conn: conn,
		log:  logger.WithField("client_id", id),
	}
}

func (c *client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(v)
}

func (c *client) close(code int, text string) {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
	c.writeMu.Unlock()
	_ = c.conn.Close()
}

// serve pumps events and handles requests until the connection drops. Outstanding
// calls are abandoned once the client is gone.
func (c *client) serve(parent context.Context, s *Server) {
	ctx, cancel := context.WithCancel(parent)
	var calls sync.WaitGroup
	defer func() {
		cancel()
		calls.Wait()
		_ = c.conn.Close()
	}()

	sub := s.session.Subscribe()
	defer sub.Close()
	groutine.Go(ctx, "bridge-events", func(ctx context.Context) {
		for ev := range sub.All(ctx) {
			if err := c.send(encodeEvent(ev)); err != nil {
				c.log.WithError(err).Debug("Event write failed")
				cancel()
				return
			}
		}
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Warn("Client read failed")
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
			if err == nil {
				err = device.Errorf(device.CodeInvalidArguments, "missing method")
			} else {
				err = device.Wrap(device.CodeInvalidArguments, "malformed request", err)
			}
			_ = c.send(Reply{ID: req.ID, Error: errorPayload(err)})
			continue
		}

		c.log.WithFields(logrus.Fields{"method": req.Method, "request_id": string(req.ID)}).Debug("Call received")
		calls.Add(1)
		groutine.GoDone(ctx, "bridge-call", func(ctx context.Context) {
			reply := s.call(ctx, req)
			if ctx.Err() != nil {
				return
			}
			if err := c.send(reply); err != nil {
				c.log.WithError(err).Debug("Reply write failed")
			}
		}, calls.Done)
	}
}
