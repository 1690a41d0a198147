package store

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Feed fans inserted rows out to in-process subscribers. Backends without a
// native change feed publish to it after every successful insert.
type Feed struct {
	mu   sync.RWMutex
	subs map[*feedSubscription]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*feedSubscription]struct{})}
}

type feedSubscription struct {
	table    string
	filter   Filter
	onInsert InsertHandler

	done chan struct{}
	once sync.Once
}

func (s *feedSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *feedSubscription) Err() error {
	return nil
}

func (s *feedSubscription) close() {
	s.once.Do(func() { close(s.done) })
}

func (f *Feed) Subscribe(table string, filter Filter, onInsert InsertHandler) Subscription {
	sub := &feedSubscription{
		table:    table,
		filter:   filter,
		onInsert: onInsert,
		done:     make(chan struct{}),
	}

	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	return sub
}

func (f *Feed) Unsubscribe(sub Subscription) {
	fs, ok := sub.(*feedSubscription)
	if !ok {
		return
	}

	f.mu.Lock()
	delete(f.subs, fs)
	f.mu.Unlock()

	fs.close()
}

// Publish delivers record to every subscription on table whose filter matches.
// Handlers run on the caller's goroutine, outside the feed lock.
func (f *Feed) Publish(table string, record json.RawMessage) {
	row, err := DecodeRow(record)
	if err != nil {
		logrus.WithField("component", "feed").Errorf("dropping insert on %s: %v", table, err)
		return
	}

	f.mu.RLock()
	var targets []*feedSubscription
	for sub := range f.subs {
		if sub.table == table && sub.filter.Match(row) {
			targets = append(targets, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.onInsert(record)
	}
}

// Close ends every live subscription.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub := range f.subs {
		sub.close()
		delete(f.subs, sub)
	}
}
