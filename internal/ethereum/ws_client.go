package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WSClientConfig configures stream client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the fixed delay before a reconnect attempt after
	// an unexpected closure.
	ReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeTimeout bounds the wait for a subscription confirmation.
	SubscribeTimeout time.Duration
}

// DefaultWSConfig returns default stream configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:   5 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		SubscribeTimeout: 30 * time.Second,
	}
}

// subKind distinguishes what a subscription watches.
type subKind int

const (
	kindPendingTx subKind = iota
	kindLogs
)

// streamSub is one logical subscription multiplexed on the connection.
type streamSub struct {
	kind   subKind
	filter LogsFilter

	// alive gates delivery: checked before acting on any inbound event
	// so a stale frame cannot resurrect a torn-down watch.
	alive atomic.Bool

	// mu orders delivery against teardown so a cancel cannot close a
	// channel under an in-flight send.
	mu    sync.Mutex
	txCh  chan PendingTransaction
	logCh chan LogEvent

	cancelOnce sync.Once
}

// deliverTx hands a pending transaction to the subscriber. Returns false
// when the buffer is full.
func (s *streamSub) deliverTx(tx PendingTransaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() || s.txCh == nil {
		return true
	}
	select {
	case s.txCh <- tx:
		return true
	default:
		return false
	}
}

// deliverLog hands a log event to the subscriber. Returns false when the
// buffer is full.
func (s *streamSub) deliverLog(ev LogEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive.Load() || s.logCh == nil {
		return true
	}
	select {
	case s.logCh <- ev:
		return true
	default:
		return false
	}
}

// WSClient implements StreamClient using gorilla/websocket.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	logger   *log.Logger
	ring     *TrafficRing

	// lifecycleMu serializes Connect and Disconnect so a connect issued
	// while a disconnect is in flight waits instead of racing it.
	lifecycleMu sync.Mutex

	conn   *websocket.Conn
	connMu sync.Mutex

	enabled       atomic.Bool // operator toggle
	disconnecting atomic.Bool // gates all event handlers during teardown
	connected     atomic.Bool

	requestID atomic.Uint64

	// pendingSubs maps request ID to the channel waiting for the
	// server-assigned subscription ID.
	pendingSubs   map[uint64]chan string
	pendingSubsMu sync.Mutex

	// subs maps server subscription ID to the logical subscription.
	subs   map[string]*streamSub
	subsMu sync.RWMutex

	reconnectMu    sync.Mutex
	reconnectTimer *time.Timer

	readWG sync.WaitGroup

	reconnects atomic.Uint64
}

// NewWSClient creates a stream client. The client starts enabled but not
// connected; call Connect to dial.
func NewWSClient(endpoint string, config *WSClientConfig, logger *log.Logger, ring *TrafficRing) *WSClient {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &WSClient{
		endpoint:    endpoint,
		config:      cfg,
		logger:      logger,
		ring:        ring,
		pendingSubs: make(map[uint64]chan string),
		subs:        make(map[string]*streamSub),
	}
	c.enabled.Store(true)
	return c
}

// Connect establishes the WebSocket connection. Idempotent; a connect
// issued during a disconnect waits for the disconnect to finish.
func (c *WSClient) Connect(ctx context.Context) error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if !c.enabled.Load() {
		return fmt.Errorf("stream disabled")
	}
	if c.connected.Load() {
		return nil
	}

	return c.dial(ctx)
}

// dial opens the socket and starts the per-connection loops.
// Caller holds lifecycleMu.
func (c *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)

	c.logger.Printf("connected to %s", c.endpoint)

	done := make(chan struct{})
	c.readWG.Add(2)
	go c.readLoop(conn, done)
	go c.pingLoop(conn, done)

	return nil
}

// Disconnect removes all subscriptions, cancels any scheduled reconnect
// and closes the transport.
func (c *WSClient) Disconnect() error {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	c.disconnecting.Store(true)
	defer c.disconnecting.Store(false)

	c.cancelScheduledReconnect()

	// Remove listeners before closing the transport so nothing is
	// delivered after disconnect initiation.
	c.subsMu.Lock()
	for id, sub := range c.subs {
		sub.alive.Store(false)
		sub.closeChannels()
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingSubsMu.Lock()
	for id, ch := range c.pendingSubs {
		close(ch)
		delete(c.pendingSubs, id)
	}
	c.pendingSubsMu.Unlock()

	c.closeConn(true)
	c.readWG.Wait()
	c.connected.Store(false)

	c.logger.Printf("disconnected")
	return nil
}

// SetEnabled toggles the operator enable flag. Disabling does not close
// an open socket but drops every inbound event and suppresses reconnects.
func (c *WSClient) SetEnabled(enabled bool) {
	c.enabled.Store(enabled)
	if !enabled {
		c.cancelScheduledReconnect()
	}
	c.logger.Printf("stream enabled=%v", enabled)
}

// Enabled reports the operator toggle state.
func (c *WSClient) Enabled() bool { return c.enabled.Load() }

// Connected reports whether the transport is currently open.
func (c *WSClient) Connected() bool { return c.connected.Load() }

// Reconnects returns the number of reconnect attempts performed.
func (c *WSClient) Reconnects() uint64 { return c.reconnects.Load() }

// closeConn closes the socket, optionally with a normal close frame.
func (c *WSClient) closeConn(sendClose bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return
	}
	if sendClose {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.conn.Close()
	c.conn = nil
}

// SubscribePendingTransactions subscribes to full mempool transactions.
func (c *WSClient) SubscribePendingTransactions(ctx context.Context) (*PendingSubscription, error) {
	sub := &streamSub{
		kind: kindPendingTx,
		txCh: make(chan PendingTransaction, 10000),
	}
	sub.alive.Store(true)

	subID, err := c.sendSubscribe(ctx, sub)
	if err != nil {
		return nil, err
	}

	c.register(subID, sub)

	return &PendingSubscription{
		ch:     sub.txCh,
		cancel: c.cancelFunc(sub),
	}, nil
}

// SubscribeLogs subscribes to log events matching the filter.
func (c *WSClient) SubscribeLogs(ctx context.Context, filter LogsFilter) (*LogSubscription, error) {
	sub := &streamSub{
		kind:   kindLogs,
		filter: filter,
		logCh:  make(chan LogEvent, 10000),
	}
	sub.alive.Store(true)

	subID, err := c.sendSubscribe(ctx, sub)
	if err != nil {
		return nil, err
	}

	c.register(subID, sub)

	return &LogSubscription{
		ch:     sub.logCh,
		cancel: c.cancelFunc(sub),
	}, nil
}

// register stores the subscription under its server ID.
func (c *WSClient) register(subID string, sub *streamSub) {
	c.subsMu.Lock()
	c.subs[subID] = sub
	c.subsMu.Unlock()
}

// cancelFunc builds the idempotent teardown for a subscription handle.
// The underlying unsubscribe write is fire-and-forget: the liveness flag
// already guarantees no event is processed after cancellation.
func (c *WSClient) cancelFunc(sub *streamSub) func() {
	return func() {
		sub.cancelOnce.Do(func() {
			sub.alive.Store(false)

			var subID string
			c.subsMu.Lock()
			for id, s := range c.subs {
				if s == sub {
					subID = id
					delete(c.subs, id)
					break
				}
			}
			c.subsMu.Unlock()

			if subID != "" {
				c.writeJSON(wsRequest{
					JSONRPC: "2.0",
					ID:      c.requestID.Add(1),
					Method:  "eth_unsubscribe",
					Params:  []interface{}{subID},
				})
			}

			sub.closeChannels()
		})
	}
}

// closeChannels closes the typed delivery channel.
func (s *streamSub) closeChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txCh != nil {
		close(s.txCh)
		s.txCh = nil
	}
	if s.logCh != nil {
		close(s.logCh)
		s.logCh = nil
	}
}

// subscribeParams builds the eth_subscribe params for a subscription.
func (s *streamSub) subscribeParams() []interface{} {
	switch s.kind {
	case kindPendingTx:
		// Full transaction objects, not just hashes.
		return []interface{}{"newPendingTransactions", true}
	default:
		filter := map[string]interface{}{}
		if s.filter.Address != "" {
			filter["address"] = s.filter.Address
		}
		if len(s.filter.Topics) > 0 {
			filter["topics"] = s.filter.Topics
		}
		return []interface{}{"logs", filter}
	}
}

// sendSubscribe issues eth_subscribe and waits for the server-assigned
// subscription ID.
func (c *WSClient) sendSubscribe(ctx context.Context, sub *streamSub) (string, error) {
	if !c.enabled.Load() {
		return "", fmt.Errorf("stream disabled")
	}
	if !c.connected.Load() {
		return "", fmt.Errorf("not connected")
	}

	reqID := c.requestID.Add(1)
	req := wsRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  sub.subscribeParams(),
	}

	confirmCh := make(chan string, 1)
	c.pendingSubsMu.Lock()
	c.pendingSubs[reqID] = confirmCh
	c.pendingSubsMu.Unlock()

	dropPending := func() {
		c.pendingSubsMu.Lock()
		delete(c.pendingSubs, reqID)
		c.pendingSubsMu.Unlock()
	}

	if err := c.writeJSON(req); err != nil {
		dropPending()
		return "", fmt.Errorf("write subscribe: %w", err)
	}

	select {
	case subID, ok := <-confirmCh:
		if !ok || subID == "" {
			return "", fmt.Errorf("subscription rejected")
		}
		return subID, nil
	case <-time.After(c.config.SubscribeTimeout):
		dropPending()
		return "", fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-ctx.Done():
		dropPending()
		return "", ctx.Err()
	}
}

// writeJSON writes a request on the current connection.
func (c *WSClient) writeJSON(req wsRequest) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(req); err != nil {
		return err
	}

	if payload, err := json.Marshal(req); err == nil {
		c.ring.Append(TrafficOutbound, req.Method, payload)
	}
	return nil
}

// readLoop reads messages from one connection until it dies.
func (c *WSClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.readWG.Done()
	defer close(done)

	for {
		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.disconnecting.Load() || !c.enabled.Load() {
				return
			}

			// Unexpected closure while the stream is still wanted:
			// schedule a reconnect after the fixed delay.
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.logger.Printf("read error: %v, reconnecting in %s", err, c.config.ReconnectDelay)
				c.connected.Store(false)
				c.closeConn(false)
				c.scheduleReconnect()
			}
			return
		}

		if !c.enabled.Load() || c.disconnecting.Load() {
			// Stale socket still delivering: drop.
			continue
		}

		c.handleMessage(message)
	}
}

// pingLoop keeps one connection alive until it dies.
func (c *WSClient) pingLoop(conn *websocket.Conn, done chan struct{}) {
	defer c.readWG.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Connection might be dead, reader handles reconnect.
				return
			}
		}
	}
}

// scheduleReconnect arms a one-shot reconnect after the fixed delay.
// Cancelled by Disconnect or SetEnabled(false).
func (c *WSClient) scheduleReconnect() {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()

	if c.reconnectTimer != nil {
		return // already scheduled
	}

	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		c.reconnectMu.Lock()
		c.reconnectTimer = nil
		c.reconnectMu.Unlock()

		if !c.enabled.Load() || c.disconnecting.Load() {
			return
		}

		c.reconnects.Add(1)

		c.lifecycleMu.Lock()
		defer c.lifecycleMu.Unlock()

		if c.connected.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := c.dial(ctx); err != nil {
			c.logger.Printf("reconnect failed: %v", err)
			c.scheduleReconnect()
			return
		}

		c.resubscribeAll(ctx)
	})
}

// cancelScheduledReconnect stops a pending reconnect attempt.
func (c *WSClient) cancelScheduledReconnect() {
	c.reconnectMu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.reconnectMu.Unlock()
}

// resubscribeAll re-issues every live subscription after a reconnect,
// rebinding channels to the new server-assigned IDs.
func (c *WSClient) resubscribeAll(ctx context.Context) {
	c.subsMu.Lock()
	old := make(map[string]*streamSub, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	for oldID, sub := range old {
		if !sub.alive.Load() {
			continue
		}
		newID, err := c.sendSubscribe(ctx, sub)
		if err != nil {
			// Keep the old mapping; a later reconnect retries it.
			c.logger.Printf("resubscribe %s failed: %v", oldID, err)
			c.register(oldID, sub)
			continue
		}
		c.register(newID, sub)
	}
}

// handleMessage processes one inbound frame.
func (c *WSClient) handleMessage(message []byte) {
	// Subscription confirmation first: result is a hex subscription ID.
	var resp wsSubscribeResponse
	if err := json.Unmarshal(message, &resp); err == nil && resp.ID != 0 && resp.Result != "" {
		c.ring.Append(TrafficInbound, "eth_subscribe", message)
		c.handleSubscribeResponse(&resp)
		return
	}

	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err == nil && notif.Method == "eth_subscription" {
		c.dispatch(&notif)
		return
	}

	var errResp struct {
		ID    uint64 `json:"id"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &errResp); err == nil && errResp.Error != nil {
		c.ring.Append(TrafficInbound, "error", message)
		// Pending subscribe will time out; just surface the error.
		c.logger.Printf("error response: code=%d msg=%s", errResp.Error.Code, errResp.Error.Message)
	}
}

// handleSubscribeResponse resolves a pending subscribe request.
func (c *WSClient) handleSubscribeResponse(resp *wsSubscribeResponse) {
	c.pendingSubsMu.Lock()
	ch, ok := c.pendingSubs[resp.ID]
	if ok {
		delete(c.pendingSubs, resp.ID)
	}
	c.pendingSubsMu.Unlock()

	if ok {
		select {
		case ch <- resp.Result:
		default:
		}
	}
}

// dispatch routes a subscription notification to its subscriber. The
// liveness flag is re-checked after lookup so a cancel racing a delivery
// cannot land an event on a torn-down watch.
func (c *WSClient) dispatch(notif *wsNotification) {
	if notif.Params == nil {
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[notif.Params.Subscription]
	c.subsMu.RUnlock()

	if !ok || !sub.alive.Load() {
		return
	}

	switch sub.kind {
	case kindPendingTx:
		var tx PendingTransaction
		if err := json.Unmarshal(notif.Params.Result, &tx); err != nil {
			c.logger.Printf("malformed pending tx: %v", err)
			return
		}
		if !sub.deliverTx(tx) {
			// Subscriber stalled; dropping beats blocking the read loop.
			c.logger.Printf("pending tx buffer full, dropping %s", tx.Hash)
		}
	case kindLogs:
		var ev LogEvent
		if err := json.Unmarshal(notif.Params.Result, &ev); err != nil {
			c.logger.Printf("malformed log event: %v", err)
			return
		}
		if !sub.deliverLog(ev) {
			c.logger.Printf("log buffer full, dropping %s", ev.TransactionHash)
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsSubscribeResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Result  string `json:"result"` // hex subscription ID
}

type wsNotification struct {
	JSONRPC string                `json:"jsonrpc"`
	Method  string                `json:"method"`
	Params  *wsNotificationParams `json:"params"`
}

type wsNotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

var _ StreamClient = (*WSClient)(nil)
