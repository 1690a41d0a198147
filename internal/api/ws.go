package api

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/auth"
	"github.com/C4T-BuT-S4D/hashchat/internal/chat"
	"github.com/C4T-BuT-S4D/hashchat/internal/gate"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 90 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

// wsClient drives one chat.Sync from a browser connection. Reads happen on the
// handler goroutine, writes on writePump.
type wsClient struct {
	svc    *Service
	conn   *websocket.Conn
	ctrl   *chat.Sync
	send   chan []byte
	cancel context.CancelFunc
	log    *logrus.Entry

	// gateMu serializes gate checks from the reader and the watcher.
	gateMu  sync.Mutex
	session models.Session
	closing bool
}

func (s *Service) HandleWS() echo.HandlerFunc {
	return func(c echo.Context) error {
		sess := sessionFrom(c)
		rc := NewRequestContext(c.Request().Context(), c).WithSession(sess)

		conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			rc.L().Errorf("upgrade failed: %v", err)
			return nil
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client := &wsClient{
			svc:     s,
			conn:    conn,
			session: *sess,
			send:    make(chan []byte, sendBufferSize),
			cancel:  cancel,
			log:     rc.L(),
		}
		client.ctrl = chat.New(s.store, *sess, func(u chat.Update) {
			client.push(OpUpdate, u)
		})

		go client.ctrl.Run(ctx)
		go client.writePump(ctx)
		go client.watchGate(ctx)

		if err := client.ctrl.Activate(ctx, s.config.DefaultChannel); err != nil {
			client.log.Errorf("activating %s: %v", s.config.DefaultChannel, err)
		}

		client.log.Info("chat connection opened")
		client.readPump(ctx)
		client.log.Info("chat connection closed")
		return nil
	}
}

func (c *wsClient) readPump(ctx context.Context) {
	defer c.cancel()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Errorf("failed to set read deadline: %v", err)
		return
	}

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warnf("unexpected close: %v", err)
			}
			return
		}

		var event inboundEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			c.log.Debugf("invalid message: %v", err)
			continue
		}

		if !c.handle(ctx, event) {
			return
		}
	}
}

// handle runs one client operation. It returns false when the connection must close.
func (c *wsClient) handle(ctx context.Context, event inboundEvent) bool {
	switch event.Op {
	case OpHeartbeat:
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.log.Errorf("failed to set read deadline: %v", err)
			return false
		}
		if !c.allowed(ctx) {
			return false
		}
		c.push(OpHeartbeatAck, nil)

	case OpActivate:
		var data activateData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			c.fail(event.Op, err)
			break
		}
		if !c.allowed(ctx) {
			return false
		}
		if err := c.ctrl.Activate(ctx, data.ChannelID); err != nil {
			c.fail(event.Op, err)
		}

	case OpSend:
		var data sendData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			c.fail(event.Op, err)
			break
		}
		if !c.allowed(ctx) {
			return false
		}
		if err := c.ctrl.Send(ctx, data.Text); err != nil {
			msg := err.Error()
			if errors.Is(err, chat.ErrSendFailed) {
				msg = chat.ErrSendFailed.Error()
			}
			c.push(OpSendFailed, sendFailedData{Text: data.Text, Error: msg})
		}

	case OpResync:
		if !c.allowed(ctx) {
			return false
		}
		if err := c.ctrl.Resync(ctx); err != nil {
			c.fail(event.Op, err)
		}

	default:
		c.log.Debugf("unknown op %q", event.Op)
	}
	return true
}

// watchGate re-runs the gate on an interval so a ban or maintenance window
// closes an idle connection too.
func (c *wsClient) watchGate(ctx context.Context) {
	t := time.NewTicker(c.svc.gateInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if !c.allowed(ctx) {
				c.cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// allowed re-runs the gate before every client operation so a ban or
// maintenance window stops an open connection. The new view is pushed once
// before closing.
func (c *wsClient) allowed(ctx context.Context) bool {
	c.gateMu.Lock()
	defer c.gateMu.Unlock()

	if c.closing {
		return false
	}

	var current *models.Session

	fresh, err := c.svc.auth.Refresh(ctx, c.session)
	switch {
	case errors.Is(err, auth.ErrSessionRevoked):
	case err != nil:
		c.log.Warnf("refreshing session: %v", err)
		current = &c.session
	default:
		c.session = fresh
		current = &fresh
	}

	view := gate.Resolve(current, c.svc.panel.Maintenance())
	if view == gate.ViewChat {
		return true
	}

	c.closing = true
	c.log.Infof("closing chat connection, view is now %s", view)
	c.push(OpView, viewResponse{View: view, Session: current})
	return false
}

func (c *wsClient) fail(op ClientOp, err error) {
	c.push(OpError, errorData{Op: op, Error: err.Error()})
}

// push queues an event without blocking. A client that cannot keep up is disconnected.
func (c *wsClient) push(op ServerOp, data any) {
	raw, err := json.Marshal(outboundEvent{Op: op, Data: data})
	if err != nil {
		c.log.Errorf("failed to marshal %s event: %v", op, err)
		return
	}

	select {
	case c.send <- raw:
	default:
		c.log.Warn("send buffer full, disconnecting")
		c.cancel()
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	defer c.conn.Close()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.log.Debugf("write failed: %v", err)
				c.cancel()
				return
			}
		case <-ctx.Done():
			c.flush()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is already queued.
func (c *wsClient) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsClient) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}
