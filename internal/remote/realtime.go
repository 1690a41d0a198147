package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/logging"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"
	eventSystem    = "system"

	heartbeatTopic = "phoenix"

	writeWait         = 10 * time.Second
	heartbeatInterval = 25 * time.Second
)

var ErrJoinRejected = errors.New("realtime subscription rejected")

type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changePayload struct {
	Data struct {
		Type   string          `json:"type"`
		Table  string          `json:"table"`
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

type systemPayload struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type changeConfig struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// Realtime multiplexes insert subscriptions over one WebSocket connection.
// The connection is dialed lazily and redialed by the next Subscribe after a failure.
type Realtime struct {
	url    string
	key    string
	dialer *websocket.Dialer
	log    *logrus.Entry

	heartbeat time.Duration
	ref       atomic.Uint64

	mu       sync.Mutex
	conn     *connection
	channels map[string]*channel
	pending  map[string]chan replyPayload

	writeMu sync.Mutex
}

type connection struct {
	ws   *websocket.Conn
	done chan struct{}
	once sync.Once
}

func (c *connection) close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

type channel struct {
	topic    string
	joinRef  string
	onInsert store.InsertHandler

	done chan struct{}
	once sync.Once
	err  error
}

func (ch *channel) Done() <-chan struct{} {
	return ch.done
}

func (ch *channel) Err() error {
	select {
	case <-ch.done:
		return ch.err
	default:
		return nil
	}
}

func (ch *channel) stop(err error) {
	ch.once.Do(func() {
		ch.err = err
		close(ch.done)
	})
}

func NewRealtime(base *url.URL, key string) (*Realtime, error) {
	u := *base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported realtime scheme %q", u.Scheme)
	}
	u.Path = u.Path + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", key)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()

	return &Realtime{
		url:       u.String(),
		key:       key,
		dialer:    websocket.DefaultDialer,
		log:       logging.Component("realtime"),
		heartbeat: heartbeatInterval,
		channels:  make(map[string]*channel),
		pending:   make(map[string]chan replyPayload),
	}, nil
}

func (r *Realtime) nextRef() string {
	return strconv.FormatUint(r.ref.Add(1), 10)
}

func (r *Realtime) Subscribe(ctx context.Context, table string, filter store.Filter, onInsert store.InsertHandler) (store.Subscription, error) {
	if len(filter.Conds) > 1 {
		return nil, fmt.Errorf("realtime filters support one condition, got %d", len(filter.Conds))
	}
	cfg := changeConfig{Event: "INSERT", Schema: "public", Table: table}
	if len(filter.Conds) == 1 {
		cfg.Filter = filter.Conds[0].String()
	}

	conn, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	ref := r.nextRef()
	ch := &channel{
		topic:    fmt.Sprintf("realtime:%s:%s", table, uuid.NewString()),
		joinRef:  ref,
		onInsert: onInsert,
		done:     make(chan struct{}),
	}
	replies := make(chan replyPayload, 1)

	r.mu.Lock()
	r.channels[ch.topic] = ch
	r.pending[ref] = replies
	r.mu.Unlock()

	payload := map[string]any{
		"config": map[string]any{
			"broadcast":        map[string]any{"self": false},
			"presence":         map[string]any{"key": ""},
			"postgres_changes": []changeConfig{cfg},
		},
		"access_token": r.key,
	}
	if err := r.send(conn, ch.topic, eventJoin, payload, ref, ref); err != nil {
		r.forget(ch, ref)
		return nil, fmt.Errorf("joining %s: %w", ch.topic, err)
	}

	select {
	case reply, ok := <-replies:
		if !ok {
			r.forget(ch, ref)
			return nil, fmt.Errorf("joining %s: connection lost", ch.topic)
		}
		if reply.Status != "ok" {
			r.forget(ch, ref)
			return nil, fmt.Errorf("%w: %s %s", ErrJoinRejected, reply.Status, string(reply.Response))
		}
	case <-ctx.Done():
		r.abandon(conn, ch, ref)
		return nil, ctx.Err()
	}

	if err := ctx.Err(); err != nil {
		r.abandon(conn, ch, ref)
		return nil, err
	}

	r.log.Debugf("subscribed %s to %s %s", ch.topic, table, cfg.Filter)
	return ch, nil
}

// abandon drops a join whose caller gave up. The server may have accepted it
// already, so it is told to leave.
func (r *Realtime) abandon(conn *connection, ch *channel, ref string) {
	r.forget(ch, ref)
	if err := r.send(conn, ch.topic, eventLeave, map[string]any{}, r.nextRef(), ch.joinRef); err != nil {
		r.log.Debugf("leaving abandoned %s: %v", ch.topic, err)
	}
	ch.stop(nil)
}

func (r *Realtime) Unsubscribe(sub store.Subscription) {
	ch, ok := sub.(*channel)
	if !ok {
		return
	}

	r.mu.Lock()
	_, live := r.channels[ch.topic]
	delete(r.channels, ch.topic)
	conn := r.conn
	r.mu.Unlock()

	if live && conn != nil {
		if err := r.send(conn, ch.topic, eventLeave, map[string]any{}, r.nextRef(), ch.joinRef); err != nil {
			r.log.Warnf("leaving %s: %v", ch.topic, err)
		}
	}
	ch.stop(nil)
}

// Close drops the connection and ends every subscription with store.ErrClosed.
func (r *Realtime) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()

	if conn != nil {
		r.fail(conn, store.ErrClosed)
	}
	return nil
}

func (r *Realtime) forget(ch *channel, ref string) {
	r.mu.Lock()
	delete(r.channels, ch.topic)
	delete(r.pending, ref)
	r.mu.Unlock()
}

func (r *Realtime) connect(ctx context.Context) (*connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return r.conn, nil
	}

	ws, _, err := r.dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing realtime: %w", err)
	}

	conn := &connection{ws: ws, done: make(chan struct{})}
	r.conn = conn

	go r.readLoop(conn)
	go r.heartbeatLoop(conn)

	r.log.Info("realtime connection established")
	return conn, nil
}

func (r *Realtime) send(conn *connection, topic, event string, payload any, ref, joinRef string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := conn.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	return conn.ws.WriteJSON(frame{
		Topic:   topic,
		Event:   event,
		Payload: raw,
		Ref:     ref,
		JoinRef: joinRef,
	})
}

func (r *Realtime) heartbeatLoop(conn *connection) {
	t := time.NewTicker(r.heartbeat)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := r.send(conn, heartbeatTopic, eventHeartbeat, map[string]any{}, r.nextRef(), ""); err != nil {
				r.fail(conn, fmt.Errorf("sending heartbeat: %w", err))
				return
			}
		case <-conn.done:
			return
		}
	}
}

func (r *Realtime) readLoop(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			r.fail(conn, fmt.Errorf("reading realtime: %w", err))
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			r.log.Warnf("dropping malformed frame: %v", err)
			continue
		}
		r.dispatch(f)
	}
}

func (r *Realtime) dispatch(f frame) {
	switch f.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(f.Payload, &reply); err != nil {
			r.log.Warnf("malformed reply on %s: %v", f.Topic, err)
			return
		}
		r.mu.Lock()
		replies, ok := r.pending[f.Ref]
		delete(r.pending, f.Ref)
		r.mu.Unlock()
		if ok {
			replies <- reply
		}

	case eventChanges:
		ch := r.channel(f.Topic)
		if ch == nil {
			return
		}
		var change changePayload
		if err := json.Unmarshal(f.Payload, &change); err != nil {
			r.log.Warnf("malformed change on %s: %v", f.Topic, err)
			return
		}
		if change.Data.Type != "INSERT" || len(change.Data.Record) == 0 {
			return
		}
		ch.onInsert(change.Data.Record)

	case eventSystem:
		var sys systemPayload
		if err := json.Unmarshal(f.Payload, &sys); err != nil {
			return
		}
		if sys.Status == "error" {
			r.drop(f.Topic, fmt.Errorf("realtime system error: %s", sys.Message))
		}

	case eventError, eventClose:
		r.drop(f.Topic, fmt.Errorf("realtime channel %s: %s", f.Topic, f.Event))
	}
}

func (r *Realtime) channel(topic string) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[topic]
}

func (r *Realtime) drop(topic string, err error) {
	r.mu.Lock()
	ch, ok := r.channels[topic]
	delete(r.channels, topic)
	r.mu.Unlock()

	if ok {
		r.log.Warnf("subscription %s ended: %v", topic, err)
		ch.stop(err)
	}
}

// fail tears down conn and every subscription riding on it.
func (r *Realtime) fail(conn *connection, err error) {
	r.mu.Lock()
	if r.conn != conn {
		r.mu.Unlock()
		conn.close()
		return
	}
	r.conn = nil
	channels := r.channels
	pending := r.pending
	r.channels = make(map[string]*channel)
	r.pending = make(map[string]chan replyPayload)
	r.mu.Unlock()

	conn.close()

	if !errors.Is(err, store.ErrClosed) {
		r.log.Warnf("realtime connection lost: %v", err)
	}
	for _, replies := range pending {
		close(replies)
	}
	for _, ch := range channels {
		ch.stop(err)
	}
}
