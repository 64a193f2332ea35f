package memory

import (
	"context"
	"encoding/json"
	"sync"

	"deploywatch/internal/storage"
)

// Feed is an in-process change feed. The memory stores publish into it
// synchronously, which makes push-notification behavior deterministic in
// tests.
type Feed struct {
	mu     sync.Mutex
	subs   map[int]*feedSub
	nextID int
	closed bool
}

type feedSub struct {
	table string
	ch    chan storage.ChangeEvent
	once  sync.Once
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]*feedSub)}
}

// Subscribe starts delivery of changes for the named table.
func (f *Feed) Subscribe(ctx context.Context, table string) (<-chan storage.ChangeEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, nil, storage.ErrInvalidInput
	}

	sub := &feedSub{table: table, ch: make(chan storage.ChangeEvent, 1024)}
	id := f.nextID
	f.nextID++
	f.subs[id] = sub

	cancel := func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return sub.ch, cancel, nil
}

// SubscriberCount returns the number of live subscriptions for a table.
func (f *Feed) SubscriberCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, sub := range f.subs {
		if sub.table == table {
			n++
		}
	}
	return n
}

// State reports feed health; the in-process feed is always subscribed
// until closed.
func (f *Feed) State() storage.FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return storage.FeedClosed
	}
	return storage.FeedSubscribed
}

// Close terminates every subscription.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for id, sub := range f.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(f.subs, id)
	}
	return nil
}

// publish fans an event out to matching subscribers. A full subscriber
// buffer drops the event rather than blocking the store operation;
// consumers reconcile via sweeps.
func (f *Feed) publish(table string, typ storage.ChangeType, key string, newRow, oldRow interface{}) {
	if f == nil {
		return
	}

	ev := storage.ChangeEvent{Table: table, Type: typ, Key: key}
	if newRow != nil {
		if raw, err := json.Marshal(newRow); err == nil {
			ev.New = raw
		}
	}
	if oldRow != nil {
		if raw, err := json.Marshal(oldRow); err == nil {
			ev.Old = raw
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.table != table {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

var _ storage.ChangeFeed = (*Feed)(nil)
