package liquidity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/ethereum"
	"deploywatch/internal/settings"
	"deploywatch/internal/storage"
)

// deleteVerifyDelay is how long Delete waits before re-checking that the
// row is really gone. A change-feed echo can resurrect a row that was
// deleted mid-notification, so the delete is confirmed once and retried.
const defaultDeleteVerifyDelay = 500 * time.Millisecond

// Manager owns every active liquidity watch. One watch per contract
// address; the address is also the storage primary key, so the guard
// against double-monitoring is shared between memory and store.
type Manager struct {
	monitorStore storage.MonitorStore
	eventStore   storage.LiquidityEventStore
	archive      storage.EventArchive // optional
	stream       ethereum.StreamClient
	settings     settings.Provider
	logger       *log.Logger
	nowMs        func() int64

	deleteVerifyDelay time.Duration

	mu       sync.Mutex
	watches  map[string]*watch
	deleting map[string]bool
}

// watch is one contract's live subscription state.
type watch struct {
	contract string

	mu   sync.Mutex
	sub  *ethereum.LogSubscription
	done chan struct{}
	once sync.Once
}

func (w *watch) setSub(sub *ethereum.LogSubscription) {
	w.mu.Lock()
	select {
	case <-w.done:
		// Torn down while the subscribe roundtrip was in flight.
		w.mu.Unlock()
		sub.Cancel()
		return
	default:
	}
	w.sub = sub
	w.mu.Unlock()
}

func (w *watch) stop() {
	w.once.Do(func() { close(w.done) })
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Options for creating a Manager.
type Options struct {
	MonitorStore storage.MonitorStore
	EventStore   storage.LiquidityEventStore
	Archive      storage.EventArchive // optional analytics sink
	Stream       ethereum.StreamClient
	Settings     settings.Provider
	Logger       *log.Logger
}

// NewManager creates a liquidity monitor manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	provider := opts.Settings
	if provider == nil {
		provider = settings.Static{S: settings.Default()}
	}
	return &Manager{
		monitorStore:      opts.MonitorStore,
		eventStore:        opts.EventStore,
		archive:           opts.Archive,
		stream:            opts.Stream,
		settings:          provider,
		logger:            logger,
		nowMs:             func() int64 { return time.Now().UnixMilli() },
		deleteVerifyDelay: defaultDeleteVerifyDelay,
		watches:           make(map[string]*watch),
		deleting:          make(map[string]bool),
	}
}

// Start begins monitoring a contract. Restart semantics:
//   - already watched in memory: no-op,
//   - stored monitor still inside its window: listeners resume, the
//     original started_at and expiry stand,
//   - stored monitor past its window: it is marked expired and no
//     listeners start; a fresh window requires an explicit Delete first.
func (m *Manager) Start(ctx context.Context, contractAddress, txHash, deployer string) error {
	addr := ethereum.NormalizeAddress(contractAddress)
	if addr == "" {
		return fmt.Errorf("start monitor: empty contract address")
	}

	m.mu.Lock()
	if m.deleting[addr] {
		m.mu.Unlock()
		return fmt.Errorf("start monitor %s: delete in progress", addr)
	}
	if _, ok := m.watches[addr]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	existing, err := m.monitorStore.GetByAddress(ctx, addr)
	switch {
	case err == nil:
		return m.resume(ctx, existing)
	case errors.Is(err, storage.ErrNotFound):
		// fall through to create
	default:
		return fmt.Errorf("load monitor %s: %w", addr, err)
	}

	now := m.nowMs()
	minutes := m.settings.Current().ActiveMonitorTimeMinutes
	monitor := &domain.Monitor{
		ContractAddress: addr,
		TxHash:          txHash,
		Deployer:        ethereum.NormalizeAddress(deployer),
		StartedAt:       now,
		DurationMinutes: minutes,
		ExpiresAt:       now + int64(minutes)*60_000,
		Status:          domain.MonitorStatusMonitoring,
		Phase:           domain.PhasePairCreation,
	}

	if err := m.monitorStore.Insert(ctx, monitor); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			// Raced another starter; resume whatever won.
			won, gerr := m.monitorStore.GetByAddress(ctx, addr)
			if gerr != nil {
				return fmt.Errorf("load racing monitor %s: %w", addr, gerr)
			}
			return m.resume(ctx, won)
		}
		return fmt.Errorf("insert monitor %s: %w", addr, err)
	}

	m.logger.Printf("liquidity: monitoring %s for %d minutes", addr, minutes)
	return m.beginWatch(ctx, monitor)
}

// AutoStart starts a monitor for a newly verified contract when the
// auto-monitor toggle is on.
func (m *Manager) AutoStart(ctx context.Context, contract *domain.VerifiedContract) error {
	if !m.settings.Current().AutoMonitorEnabled {
		return nil
	}
	return m.Start(ctx, contract.Address, contract.TxHash, contract.Deployer)
}

// resume re-attaches listeners to a stored monitor. An exhausted window is
// expired instead; started_at is never rewritten.
func (m *Manager) resume(ctx context.Context, monitor *domain.Monitor) error {
	switch monitor.Status {
	case domain.MonitorStatusMonitoring:
		if !monitor.Active(m.nowMs()) {
			return m.expire(ctx, monitor)
		}
		return m.beginWatch(ctx, monitor)
	case domain.MonitorStatusPairDetected:
		// The mint phase has no expiry.
		return m.beginWatch(ctx, monitor)
	default:
		// expired, deleted and manual stay as they are.
		return nil
	}
}

// ResumeAll re-attaches listeners for every stored monitor after a restart.
func (m *Manager) ResumeAll(ctx context.Context) error {
	for _, status := range []domain.MonitorStatus{domain.MonitorStatusMonitoring, domain.MonitorStatusPairDetected} {
		monitors, err := m.monitorStore.ListByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list %s monitors: %w", status, err)
		}
		for _, monitor := range monitors {
			if err := m.resume(ctx, monitor); err != nil {
				m.logger.Printf("liquidity: resume %s: %v", monitor.ContractAddress, err)
			}
		}
	}
	return nil
}

// beginWatch registers the in-memory watch and launches the phase goroutine.
func (m *Manager) beginWatch(ctx context.Context, monitor *domain.Monitor) error {
	addr := monitor.ContractAddress

	m.mu.Lock()
	if _, ok := m.watches[addr]; ok {
		m.mu.Unlock()
		return nil
	}
	w := &watch{contract: addr, done: make(chan struct{})}
	m.watches[addr] = w
	m.mu.Unlock()

	var err error
	if monitor.Phase == domain.PhaseMintEvents && monitor.PairAddress != nil {
		err = m.watchMints(ctx, w, monitor, *monitor.PairAddress)
	} else {
		err = m.watchPairCreation(ctx, w, monitor)
	}
	if err != nil {
		m.dropWatch(addr)
		return err
	}
	return nil
}

// watchPairCreation subscribes to factory PairCreated logs and hands off to
// the mint phase once a pool involving the contract shows up.
func (m *Manager) watchPairCreation(ctx context.Context, w *watch, monitor *domain.Monitor) error {
	sub, err := m.stream.SubscribeLogs(ctx, ethereum.LogsFilter{
		Address: UniswapV2Factory,
		Topics:  []string{PairCreatedTopic},
	})
	if err != nil {
		return fmt.Errorf("subscribe pair creation for %s: %w", monitor.ContractAddress, err)
	}
	w.setSub(sub)

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				pair, err := DecodePairCreated(&ev)
				if err != nil {
					m.logger.Printf("liquidity: undecodable PairCreated log in tx %s: %v", ev.TransactionHash, err)
					continue
				}
				if !pair.Involves(w.contract) {
					continue
				}
				if err := m.handlePairDetected(w, monitor, pair, &ev); err != nil {
					m.logger.Printf("liquidity: pair handoff for %s: %v", w.contract, err)
				}
				return
			}
		}
	}()
	return nil
}

// handlePairDetected records the pair event, transitions the monitor into
// the mint phase and swaps the subscription over to the pool.
func (m *Manager) handlePairDetected(w *watch, monitor *domain.Monitor, pair *PairCreated, ev *ethereum.LogEvent) error {
	ctx := context.Background()

	// The expiry sweep can tear this watch down while the event sits in
	// the channel. Nothing is persisted until both the watch and the
	// stored row confirm the monitor is still in the pair phase.
	select {
	case <-w.done:
		return nil
	default:
	}
	current, err := m.monitorStore.GetByAddress(ctx, w.contract)
	if err != nil {
		return fmt.Errorf("reload monitor %s: %w", w.contract, err)
	}
	if current.Status != domain.MonitorStatusMonitoring {
		return nil
	}
	monitor = current
	now := m.nowMs()

	blockNumber, err := ethereum.ParseHexInt64(ev.BlockNumber)
	if err != nil {
		blockNumber = 0
	}

	m.recordEvent(ctx, &domain.LiquidityEvent{
		ContractAddress: w.contract,
		PairAddress:     pair.Pair,
		EventType:       domain.LiquidityEventPairCreated,
		Token0:          &pair.Token0,
		Token1:          &pair.Token1,
		TxHash:          ev.TransactionHash,
		BlockNumber:     blockNumber,
		DetectedAt:      now,
		RawPayload:      ev.Data,
	})

	monitor.Status = domain.MonitorStatusPairDetected
	monitor.Phase = domain.PhaseMintEvents
	monitor.PairAddress = &pair.Pair
	if err := m.monitorStore.Update(ctx, monitor); err != nil {
		return fmt.Errorf("transition to pair_detected: %w", err)
	}
	m.logger.Printf("liquidity: pair %s detected for %s, watching mints", pair.Pair, w.contract)

	// Swap subscriptions. The pair watch is finished either way.
	old := subSwap(w, nil)
	if old != nil {
		old.Cancel()
	}

	select {
	case <-w.done:
		return nil
	default:
	}
	return m.watchMints(ctx, w, monitor, pair.Pair)
}

func subSwap(w *watch, next *ethereum.LogSubscription) *ethereum.LogSubscription {
	w.mu.Lock()
	defer w.mu.Unlock()
	old := w.sub
	w.sub = next
	return old
}

// watchMints subscribes to Mint logs on the pool. This phase never expires;
// it runs until the monitor is stopped or deleted.
func (m *Manager) watchMints(ctx context.Context, w *watch, monitor *domain.Monitor, pairAddress string) error {
	sub, err := m.stream.SubscribeLogs(ctx, ethereum.LogsFilter{
		Address: pairAddress,
		Topics:  []string{MintTopic},
	})
	if err != nil {
		return fmt.Errorf("subscribe mints on %s: %w", pairAddress, err)
	}
	w.setSub(sub)

	go func() {
		for {
			select {
			case <-w.done:
				return
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				mint, err := DecodeMint(&ev)
				if err != nil {
					m.logger.Printf("liquidity: undecodable Mint log in tx %s: %v", ev.TransactionHash, err)
					continue
				}
				if err := m.handleMint(w, monitor, pairAddress, mint, &ev); err != nil {
					m.logger.Printf("liquidity: mint for %s: %v", w.contract, err)
				}
			}
		}
	}()
	return nil
}

// handleMint records a funding event and bumps the monitor counters.
func (m *Manager) handleMint(w *watch, monitor *domain.Monitor, pairAddress string, mint *Mint, ev *ethereum.LogEvent) error {
	ctx := context.Background()

	select {
	case <-w.done:
		return nil
	default:
	}
	now := m.nowMs()

	blockNumber, err := ethereum.ParseHexInt64(ev.BlockNumber)
	if err != nil {
		blockNumber = 0
	}

	m.recordEvent(ctx, &domain.LiquidityEvent{
		ContractAddress: w.contract,
		PairAddress:     pairAddress,
		EventType:       domain.LiquidityEventMint,
		Sender:          &mint.Sender,
		Amount0:         &mint.Amount0,
		Amount1:         &mint.Amount1,
		TxHash:          ev.TransactionHash,
		BlockNumber:     blockNumber,
		DetectedAt:      now,
		RawPayload:      ev.Data,
	})

	monitor.LiquidityDetected = true
	monitor.MintCount++
	monitor.LastMintAt = &now
	if err := m.monitorStore.Update(ctx, monitor); err != nil {
		return fmt.Errorf("record mint: %w", err)
	}
	m.logger.Printf("liquidity: mint #%d on %s for %s", monitor.MintCount, pairAddress, w.contract)
	return nil
}

// recordEvent persists an event and forwards a copy to the archive.
// Archive failures are logged, never propagated.
func (m *Manager) recordEvent(ctx context.Context, ev *domain.LiquidityEvent) {
	if err := m.eventStore.Insert(ctx, ev); err != nil {
		m.logger.Printf("liquidity: store %s event for %s: %v", ev.EventType, ev.ContractAddress, err)
		return
	}
	if m.archive != nil {
		if err := m.archive.ArchiveLiquidityEvents(ctx, []*domain.LiquidityEvent{ev}); err != nil {
			m.logger.Printf("liquidity: archive %s event for %s: %v", ev.EventType, ev.ContractAddress, err)
		}
	}
}

// Run sweeps for expired monitors until ctx is cancelled. Only the
// pair-creation phase is subject to the window; pair_detected monitors run
// until stopped.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.settings.Current().PeriodicCheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.SweepExpired(ctx); err != nil {
				m.logger.Printf("liquidity: expiry sweep: %v", err)
			}
		}
	}
}

// SweepExpired transitions every out-of-window monitor to expired and tears
// its listeners down. Returns the first storage error encountered.
func (m *Manager) SweepExpired(ctx context.Context) error {
	monitors, err := m.monitorStore.ListByStatus(ctx, domain.MonitorStatusMonitoring)
	if err != nil {
		return fmt.Errorf("list monitoring: %w", err)
	}

	now := m.nowMs()
	for _, monitor := range monitors {
		if monitor.Active(now) {
			continue
		}
		if err := m.expire(ctx, monitor); err != nil {
			return err
		}
	}
	return nil
}

// expire marks a monitor expired and drops its watch.
func (m *Manager) expire(ctx context.Context, monitor *domain.Monitor) error {
	m.teardown(monitor.ContractAddress)
	monitor.Status = domain.MonitorStatusExpired
	if err := m.monitorStore.Update(ctx, monitor); err != nil {
		return fmt.Errorf("expire %s: %w", monitor.ContractAddress, err)
	}
	m.logger.Printf("liquidity: monitor %s expired", monitor.ContractAddress)
	return nil
}

// Stop halts a monitor as an operator action. The record stays, marked
// manual, and keeps its original clock; Start will not revive it.
func (m *Manager) Stop(ctx context.Context, contractAddress string) error {
	addr := ethereum.NormalizeAddress(contractAddress)
	m.teardown(addr)

	monitor, err := m.monitorStore.GetByAddress(ctx, addr)
	if err != nil {
		return fmt.Errorf("load monitor %s: %w", addr, err)
	}
	monitor.Status = domain.MonitorStatusManual
	if err := m.monitorStore.Update(ctx, monitor); err != nil {
		return fmt.Errorf("stop %s: %w", addr, err)
	}
	m.logger.Printf("liquidity: monitor %s stopped", addr)
	return nil
}

// Delete removes a monitor entirely: listeners first, then the row. The
// row's absence is re-checked once after a short delay because a change
// notification processed concurrently can re-insert it.
func (m *Manager) Delete(ctx context.Context, contractAddress string) error {
	addr := ethereum.NormalizeAddress(contractAddress)

	m.mu.Lock()
	if m.deleting[addr] {
		m.mu.Unlock()
		return nil
	}
	m.deleting[addr] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.deleting, addr)
		m.mu.Unlock()
	}()

	m.teardown(addr)

	// Mark the row deleted before removing it so feed subscribers see a
	// terminal transition, not just the row vanishing.
	if monitor, err := m.monitorStore.GetByAddress(ctx, addr); err == nil {
		monitor.Status = domain.MonitorStatusDeleted
		if uerr := m.monitorStore.Update(ctx, monitor); uerr != nil {
			m.logger.Printf("liquidity: mark %s deleted: %v", addr, uerr)
		}
	}

	if err := m.monitorStore.Delete(ctx, addr); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete monitor %s: %w", addr, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.deleteVerifyDelay):
	}

	_, err := m.monitorStore.GetByAddress(ctx, addr)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("verify delete %s: %w", addr, err)
	}

	m.logger.Printf("liquidity: monitor %s resurfaced after delete, retrying", addr)
	if err := m.monitorStore.Delete(ctx, addr); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("retry delete monitor %s: %w", addr, err)
	}
	return nil
}

// teardown cancels and forgets the in-memory watch for an address.
func (m *Manager) teardown(addr string) {
	m.mu.Lock()
	w := m.watches[addr]
	delete(m.watches, addr)
	m.mu.Unlock()
	if w != nil {
		w.stop()
	}
}

func (m *Manager) dropWatch(addr string) {
	m.mu.Lock()
	delete(m.watches, addr)
	m.mu.Unlock()
}

// ActiveCount returns the number of live watches.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Watching reports whether an address has a live watch.
func (m *Manager) Watching(contractAddress string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[ethereum.NormalizeAddress(contractAddress)]
	return ok
}
