// Package chat keeps one client's view of a channel's message log in step
// with the remote store.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/C4T-BuT-S4D/hashchat/internal/logging"
	"github.com/C4T-BuT-S4D/hashchat/internal/models"
	"github.com/C4T-BuT-S4D/hashchat/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	tableMessages = "messages"
	tableChannels = "channels"

	taskQueueSize = 64
)

var (
	ErrBlankMessage    = errors.New("message is blank")
	ErrNoActiveChannel = errors.New("no active channel")
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrSendFailed      = errors.New("failed to send message, please try again")
	ErrStopped         = errors.New("sync stopped")
)

// Sync owns the message list of one client. Every state change runs as a task
// on the goroutine started by Run, including store callbacks.
type Sync struct {
	store   store.Store
	session models.Session
	sink    Sink
	log     *logrus.Entry
	now     func() time.Time

	tasks chan task

	// stopMu orders posts against shutdown: once stopped is set no task
	// enters the queue, so the final drain sees every one that did.
	stopMu  sync.RWMutex
	stopped bool
	done    chan struct{}

	// open is replaced in tests.
	open func(gen uint64, channelID string, after int64)

	// Owned by the loop goroutine.
	ctx         context.Context
	active      string
	generation  uint64
	messages    []models.Message
	seen        map[int64]struct{}
	watermark   int64
	backfilling bool
	buffered    []models.Message
	sub         store.Subscription
}

func New(st store.Store, session models.Session, sink Sink) *Sync {
	s := &Sync{
		store:   st,
		session: session,
		sink:    sink,
		log:     logging.Component("chat").WithField("session_id", session.ID),
		now:     time.Now,
		tasks:   make(chan task, taskQueueSize),
		done:    make(chan struct{}),
		ctx:     context.Background(),
		seen:    make(map[int64]struct{}),
	}
	s.open = func(gen uint64, channelID string, after int64) {
		go s.connect(s.ctx, gen, channelID, after)
	}
	return s
}

// task is a unit of loop work. cleanup, when set, runs instead of run if the
// loop stops before reaching the task.
type task struct {
	run     func()
	cleanup func()
}

// Run processes tasks until ctx is done, then releases the live subscription
// and every subscription still queued for adoption.
func (s *Sync) Run(ctx context.Context) {
	s.ctx = ctx
	defer s.stop()

	for {
		select {
		case t := <-s.tasks:
			t.run()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sync) stop() {
	close(s.done)

	s.stopMu.Lock()
	s.stopped = true
	s.stopMu.Unlock()

	s.release()
	for {
		select {
		case t := <-s.tasks:
			if t.cleanup != nil {
				t.cleanup()
			}
		default:
			return
		}
	}
}

func (s *Sync) post(fn func()) bool {
	return s.enqueue(task{run: fn})
}

func (s *Sync) enqueue(t task) bool {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()

	if s.stopped {
		return false
	}
	select {
	case s.tasks <- t:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (s *Sync) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		fn()
		close(finished)
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sync) Channels(ctx context.Context) ([]models.Channel, error) {
	return ListChannels(ctx, s.store)
}

func ListChannels(ctx context.Context, st store.Store) ([]models.Channel, error) {
	var channels []models.Channel
	if err := st.Select(ctx, tableChannels, store.All(), &channels); err != nil {
		return nil, fmt.Errorf("getting channels: %w", err)
	}
	return channels, nil
}

// Activate switches the client to channelID, which must be a listed channel.
// Results still in flight for the previous channel are discarded when they arrive.
func (s *Sync) Activate(ctx context.Context, channelID string) error {
	if strings.TrimSpace(channelID) == "" {
		return ErrNoActiveChannel
	}

	var channels []models.Channel
	if err := s.store.Select(ctx, tableChannels, store.Eq("id", channelID), &channels); err != nil {
		return fmt.Errorf("looking up channel %s: %w", channelID, err)
	}
	if len(channels) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}

	return s.call(ctx, func() { s.activate(channelID) })
}

// Resync reopens a failed subscription and backfills everything after the
// highest message id seen so far.
func (s *Sync) Resync(ctx context.Context) error {
	var err error
	if callErr := s.call(ctx, func() { err = s.resync() }); callErr != nil {
		return callErr
	}
	return err
}

func (s *Sync) Active(ctx context.Context) (string, error) {
	var active string
	if err := s.call(ctx, func() { active = s.active }); err != nil {
		return "", err
	}
	return active, nil
}

func (s *Sync) Messages(ctx context.Context) ([]models.Message, error) {
	var out []models.Message
	if err := s.call(ctx, func() { out = s.snapshot() }); err != nil {
		return nil, err
	}
	return out, nil
}

// Send submits text to the active channel. The message shows up once the
// subscription delivers it back; nothing is echoed locally.
func (s *Sync) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrBlankMessage
	}

	channelID, err := s.Active(ctx)
	if err != nil {
		return err
	}
	if channelID == "" {
		return ErrNoActiveChannel
	}

	msg := &models.Message{
		Text:      text,
		Sender:    s.session.ID,
		ChannelID: channelID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Insert(ctx, tableMessages, msg); err != nil {
		s.log.Errorf("inserting message into %s: %v", channelID, err)
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	return nil
}

func (s *Sync) activate(channelID string) {
	s.release()

	s.generation++
	s.active = channelID
	s.messages = nil
	s.seen = make(map[int64]struct{})
	s.watermark = 0
	s.backfilling = true
	s.buffered = nil

	s.log.Debugf("activating channel %s (generation %d)", channelID, s.generation)
	s.emit(Update{Kind: UpdateReset, ChannelID: channelID})
	s.open(s.generation, channelID, 0)
}

func (s *Sync) resync() error {
	if s.active == "" {
		return ErrNoActiveChannel
	}
	if s.sub != nil {
		return nil
	}

	s.generation++
	s.backfilling = true
	s.buffered = nil

	s.log.Infof("resyncing channel %s after message %d", s.active, s.watermark)
	s.open(s.generation, s.active, s.watermark)
	return nil
}

// connect subscribes first and backfills second, so an insert committed in
// between is delivered by at least one of them. Runs off the loop.
func (s *Sync) connect(ctx context.Context, gen uint64, channelID string, after int64) {
	sub, err := s.store.Subscribe(
		ctx,
		tableMessages,
		store.Eq("channel_id", channelID),
		func(record json.RawMessage) { s.received(gen, record) },
	)
	if err != nil {
		s.post(func() { s.subscribeFailed(gen, channelID, err) })
	} else if ctx.Err() != nil {
		s.store.Unsubscribe(sub)
		return
	} else if !s.enqueue(task{
		run:     func() { s.subscribed(gen, sub) },
		cleanup: func() { s.store.Unsubscribe(sub) },
	}) {
		s.store.Unsubscribe(sub)
	}

	filter := store.Eq("channel_id", channelID).OrderBy("id")
	if after > 0 {
		filter = filter.Gt("id", after)
	}

	var history []models.Message
	err = s.store.Select(ctx, tableMessages, filter, &history)
	s.post(func() { s.backfilled(gen, history, err) })
}

func (s *Sync) received(gen uint64, record json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(record, &msg); err != nil {
		s.log.Warnf("dropping malformed message: %v", err)
		return
	}
	s.post(func() { s.inserted(gen, msg) })
}

func (s *Sync) subscribed(gen uint64, sub store.Subscription) {
	if gen != s.generation {
		s.store.Unsubscribe(sub)
		return
	}
	s.sub = sub

	go func() {
		<-sub.Done()
		if err := sub.Err(); err != nil {
			s.post(func() { s.lost(sub, err) })
		}
	}()
}

func (s *Sync) subscribeFailed(gen uint64, channelID string, err error) {
	if gen != s.generation {
		return
	}
	s.log.Warnf("subscribing to %s: %v", channelID, err)
	s.emit(Update{Kind: UpdateDisconnected, ChannelID: channelID, Error: err.Error()})
}

func (s *Sync) lost(sub store.Subscription, err error) {
	if s.sub != sub {
		return
	}
	s.sub = nil
	s.log.Warnf("subscription to %s lost: %v", s.active, err)
	s.emit(Update{Kind: UpdateDisconnected, ChannelID: s.active, Error: err.Error()})
}

func (s *Sync) inserted(gen uint64, msg models.Message) {
	if gen != s.generation || msg.ChannelID != s.active {
		return
	}
	if s.backfilling {
		s.buffered = append(s.buffered, msg)
		return
	}
	if s.add(msg) {
		s.emit(Update{Kind: UpdateMessage, ChannelID: s.active, Message: &msg})
	}
}

func (s *Sync) backfilled(gen uint64, history []models.Message, err error) {
	if gen != s.generation {
		s.log.Debugf("discarding stale history (generation %d, current %d)", gen, s.generation)
		return
	}

	for _, msg := range history {
		s.add(msg)
	}
	for _, msg := range s.buffered {
		s.add(msg)
	}
	s.buffered = nil
	s.backfilling = false

	if err != nil {
		s.log.Errorf("loading history of %s: %v", s.active, err)
		s.emit(Update{Kind: UpdateHistoryError, ChannelID: s.active, Error: err.Error()})
	}
	s.emit(Update{Kind: UpdateSnapshot, ChannelID: s.active, Messages: s.snapshot()})
}

// add appends msg unless its id was already seen.
func (s *Sync) add(msg models.Message) bool {
	if _, ok := s.seen[msg.ID]; ok {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	s.watermark = max(s.watermark, msg.ID)
	return true
}

func (s *Sync) snapshot() []models.Message {
	out := make([]models.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Sync) release() {
	if s.sub == nil {
		return
	}
	s.store.Unsubscribe(s.sub)
	s.sub = nil
}

func (s *Sync) emit(u Update) {
	if s.sink != nil {
		s.sink(u)
	}
}
