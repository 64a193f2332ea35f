package ethereum

import "context"

// StreamClient defines the streaming subscription interface to an
// Ethereum node. One logical connection multiplexes every subscription.
type StreamClient interface {
	// Connect establishes the WebSocket connection. Idempotent: calling
	// it while connected is a no-op, and calling it while a disconnect
	// is in flight waits for the disconnect to finish before dialing.
	Connect(ctx context.Context) error

	// Disconnect removes all registered subscriptions before closing the
	// transport, so no event is delivered after disconnect initiation.
	// It also cancels any scheduled reconnect.
	Disconnect() error

	// SetEnabled toggles the stream as an operator action, distinct from
	// connect/disconnect. While disabled no reconnect is ever scheduled
	// and inbound events are dropped even if a stale socket delivers them.
	SetEnabled(enabled bool)

	// SubscribePendingTransactions subscribes to full mempool transaction
	// objects.
	SubscribePendingTransactions(ctx context.Context) (*PendingSubscription, error)

	// SubscribeLogs subscribes to log events matching the filter.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error)
}

// LogsFilter restricts a log subscription by address and first topic.
type LogsFilter struct {
	// Address filters logs emitted by this contract. Empty means any.
	Address string
	// Topics are position-dependent; only the first topic is used.
	Topics []string
}

// PendingSubscription is a cancellable pending-transaction watch.
// Cancel is idempotent; after cancellation no further events are
// delivered and the channel is closed.
type PendingSubscription struct {
	ch     chan PendingTransaction
	cancel func()
}

// NewPendingSubscription builds a subscription handle around a delivery
// channel and a teardown func. Stream fakes hand out the same handle type
// as the real client.
func NewPendingSubscription(ch chan PendingTransaction, cancel func()) *PendingSubscription {
	return &PendingSubscription{ch: ch, cancel: cancel}
}

// Events returns the delivery channel.
func (s *PendingSubscription) Events() <-chan PendingTransaction { return s.ch }

// Cancel tears down the subscription. Safe to call more than once.
func (s *PendingSubscription) Cancel() { s.cancel() }

// LogSubscription is a cancellable log watch.
type LogSubscription struct {
	ch     chan LogEvent
	cancel func()
}

// NewLogSubscription builds a log subscription handle around a delivery
// channel and a teardown func.
func NewLogSubscription(ch chan LogEvent, cancel func()) *LogSubscription {
	return &LogSubscription{ch: ch, cancel: cancel}
}

// Events returns the delivery channel.
func (s *LogSubscription) Events() <-chan LogEvent { return s.ch }

// Cancel tears down the subscription. Safe to call more than once.
func (s *LogSubscription) Cancel() { s.cancel() }
