package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"deploywatch/internal/storage"
)

// notifyChannel is the Postgres NOTIFY channel the schema triggers emit on.
// Every table change arrives here; the feed fans out by table name.
const notifyChannel = "deploywatch_changes"

// reconnect timing for the dedicated listener connection
const (
	feedReconnectDelay = 3 * time.Second
)

// ChangeFeed implements storage.ChangeFeed on Postgres LISTEN/NOTIFY. The
// schema installs row-level triggers that pg_notify a JSON payload for
// every insert, update and delete on the pipeline tables; the feed holds a
// dedicated connection listening on one channel and fans events out to
// per-table subscribers.
//
// Delivery is best-effort. NOTIFY payloads are capped by the server, so
// oversized rows arrive without the row body, and a dropped connection
// loses anything sent while reconnecting. Consumers reconcile by re-reading
// through the stores.
type ChangeFeed struct {
	dsn    string
	logger *log.Logger

	mu     sync.Mutex
	subs   map[int]*changeFeedSub
	nextID int
	state  storage.FeedState
	closed bool

	cancelRun context.CancelFunc
	done      chan struct{}
}

type changeFeedSub struct {
	table string
	ch    chan storage.ChangeEvent
	once  sync.Once
}

// Compile-time interface check.
var _ storage.ChangeFeed = (*ChangeFeed)(nil)

// NewChangeFeed opens the listener connection and starts delivery. The dsn
// is kept for reconnects.
func NewChangeFeed(ctx context.Context, dsn string, logger *log.Logger) (*ChangeFeed, error) {
	if logger == nil {
		logger = log.Default()
	}

	// Fail fast on an unusable dsn before spawning the listen loop.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect change feed listener: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	f := &ChangeFeed{
		dsn:       dsn,
		logger:    logger,
		subs:      make(map[int]*changeFeedSub),
		state:     storage.FeedSubscribed,
		cancelRun: cancel,
		done:      make(chan struct{}),
	}

	go f.run(runCtx, conn)
	return f, nil
}

// Subscribe starts delivery of changes for the named table.
func (f *ChangeFeed) Subscribe(ctx context.Context, table string) (<-chan storage.ChangeEvent, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, nil, fmt.Errorf("subscribe %s: %w", table, storage.ErrInvalidInput)
	}

	sub := &changeFeedSub{table: table, ch: make(chan storage.ChangeEvent, 1024)}
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

// State reports the current listener health.
func (f *ChangeFeed) State() storage.FeedState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Close stops the listener and terminates every subscription.
func (f *ChangeFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.cancelRun()
	<-f.done

	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = storage.FeedClosed
	for id, sub := range f.subs {
		sub.once.Do(func() { close(sub.ch) })
		delete(f.subs, id)
	}
	return nil
}

// run owns the listener connection. On any error it drops the connection,
// reports the error state and redials after a fixed delay.
func (f *ChangeFeed) run(ctx context.Context, conn *pgx.Conn) {
	defer close(f.done)

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(feedReconnectDelay):
			}

			var err error
			conn, err = pgx.Connect(ctx, f.dsn)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				f.logger.Printf("change feed: reconnect failed: %v", err)
				continue
			}
		}

		if err := f.listen(ctx, conn); err != nil {
			if ctx.Err() != nil {
				conn.Close(context.Background())
				return
			}
			f.logger.Printf("change feed: listener error: %v", err)
			f.setState(storage.FeedError)
		}
		conn.Close(context.Background())
		conn = nil
	}
}

// listen issues LISTEN and blocks delivering notifications until the
// connection fails or ctx is done.
func (f *ChangeFeed) listen(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", notifyChannel, err)
	}
	f.setState(storage.FeedSubscribed)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		f.dispatch(notification.Payload)
	}
}

func (f *ChangeFeed) setState(state storage.FeedState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.state = state
	}
}

// dispatch parses a trigger payload and fans it out to matching table
// subscribers. A full subscriber buffer drops the event.
func (f *ChangeFeed) dispatch(payload string) {
	var ev storage.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		f.logger.Printf("change feed: malformed payload dropped: %v", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.table != ev.Table {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
