// Package pipeline composes the three monitoring stages: mempool
// discovery, receipt verification and liquidity monitoring. It owns the
// component wiring and the blocking run loop; callers bring the stores,
// the stream and the RPC client.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"deploywatch/internal/discovery"
	"deploywatch/internal/domain"
	"deploywatch/internal/ethereum"
	"deploywatch/internal/liquidity"
	"deploywatch/internal/observability"
	"deploywatch/internal/settings"
	"deploywatch/internal/storage"
	"deploywatch/internal/verification"
)

// Pipeline wires discovery, verification and liquidity monitoring over a
// shared stream connection.
type Pipeline struct {
	stream        ethereum.StreamClient
	rpc           ethereum.RPCClient
	detector      *discovery.DeploymentDetector
	engine        *verification.Engine
	manager       *liquidity.Manager
	contractStore storage.ContractStore
	feed          storage.ChangeFeed
	settings      settings.Provider
	logger        *log.Logger
}

// Options for creating a Pipeline.
type Options struct {
	CandidateStore      storage.CandidateStore
	ContractStore       storage.ContractStore
	MonitorStore        storage.MonitorStore
	LiquidityEventStore storage.LiquidityEventStore
	Archive             storage.EventArchive // optional analytics sink

	// Feed, when set, adds a push path: candidate inserts go straight to
	// the verification queue and contract inserts to monitor auto-start,
	// covering rows written by other processes. Optional.
	Feed storage.ChangeFeed

	Stream ethereum.StreamClient
	RPC    ethereum.RPCClient

	Settings settings.Provider
	Logger   *log.Logger
}

// New builds the pipeline. Verified contracts flow straight into the
// liquidity manager through the engine's verification hook.
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	provider := opts.Settings
	if provider == nil {
		provider = settings.Static{S: settings.Default()}
	}

	manager := liquidity.NewManager(liquidity.Options{
		MonitorStore: opts.MonitorStore,
		EventStore:   opts.LiquidityEventStore,
		Archive:      opts.Archive,
		Stream:       opts.Stream,
		Settings:     provider,
		Logger:       logger,
	})

	engine := verification.New(verification.Options{
		CandidateStore: opts.CandidateStore,
		ContractStore:  opts.ContractStore,
		RPC:            opts.RPC,
		Settings:       provider,
		Logger:         logger,
		OnVerified: func(contract *domain.VerifiedContract) {
			observability.RecordVerification("verified")
			if err := manager.AutoStart(context.Background(), contract); err != nil {
				logger.Printf("pipeline: auto-start monitor for %s: %v", contract.Address, err)
			}
		},
	})

	return &Pipeline{
		stream:        opts.Stream,
		rpc:           opts.RPC,
		detector:      discovery.NewDetector(opts.CandidateStore, logger),
		engine:        engine,
		manager:       manager,
		contractStore: opts.ContractStore,
		feed:          opts.Feed,
		settings:      provider,
		logger:        logger,
	}
}

// Engine exposes the verification engine for manual operations.
func (p *Pipeline) Engine() *verification.Engine { return p.engine }

// Manager exposes the liquidity manager for manual operations.
func (p *Pipeline) Manager() *liquidity.Manager { return p.manager }

// Run connects the stream, resumes stored monitors and blocks consuming
// pending transactions until ctx is cancelled. The verification engine and
// the expiry sweep run alongside on their own goroutines.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.stream.Connect(ctx); err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer p.stream.Disconnect()

	if err := p.manager.ResumeAll(ctx); err != nil {
		p.logger.Printf("pipeline: resume monitors: %v", err)
	}

	sub, err := p.stream.SubscribePendingTransactions(ctx)
	if err != nil {
		return fmt.Errorf("subscribe pending transactions: %w", err)
	}
	defer sub.Cancel()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := p.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Printf("pipeline: verification engine: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := p.manager.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Printf("pipeline: expiry sweep: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		p.probeLoop(runCtx)
	}()
	if p.feed != nil {
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.consumeCandidateChanges(runCtx)
		}()
		go func() {
			defer wg.Done()
			p.consumeContractChanges(runCtx)
		}()
	}
	defer wg.Wait()

	p.logger.Println("pipeline: running")

	for {
		select {
		case <-ctx.Done():
			p.logger.Println("pipeline: stopping")
			return ctx.Err()
		case tx, ok := <-sub.Events():
			if !ok {
				return errors.New("pending transaction stream closed")
			}
			p.handlePendingTransaction(ctx, &tx)
		}
	}
}

// handlePendingTransaction runs detection and feeds new candidates into
// the verification queue.
func (p *Pipeline) handlePendingTransaction(ctx context.Context, tx *ethereum.PendingTransaction) {
	observability.RecordPendingTransaction(float64(time.Now().Unix()))

	candidate, err := p.detector.Process(ctx, tx)
	if err != nil {
		p.logger.Printf("pipeline: detect %s: %v", tx.Hash, err)
		return
	}
	if candidate == nil {
		return
	}

	observability.RecordDeploymentDetected()
	if !p.settings.Current().AutoVerificationEnabled {
		return
	}
	p.engine.Enqueue(candidate.TxHash)
}

// consumeCandidateChanges queues candidates inserted by other writers.
// Delivery is best-effort; the engine's sweep covers missed rows.
func (p *Pipeline) consumeCandidateChanges(ctx context.Context) {
	ch, cancel, err := p.feed.Subscribe(ctx, storage.TableCandidates)
	if err != nil {
		p.logger.Printf("pipeline: subscribe candidate changes: %v", err)
		return
	}
	defer cancel()

	for ev := range ch {
		if ev.Type != storage.ChangeInsert {
			continue
		}
		if !p.settings.Current().AutoVerificationEnabled {
			continue
		}
		p.engine.Enqueue(ev.Key)
	}
}

// consumeContractChanges auto-starts monitors for contracts verified by
// other writers. The in-process path goes through the engine hook instead.
func (p *Pipeline) consumeContractChanges(ctx context.Context) {
	ch, cancel, err := p.feed.Subscribe(ctx, storage.TableContracts)
	if err != nil {
		p.logger.Printf("pipeline: subscribe contract changes: %v", err)
		return
	}
	defer cancel()

	for ev := range ch {
		if ev.Type != storage.ChangeInsert {
			continue
		}
		if p.manager.Watching(ev.Key) {
			continue
		}
		contract, err := p.contractStore.GetByAddress(ctx, ev.Key)
		if err != nil {
			p.logger.Printf("pipeline: load contract %s: %v", ev.Key, err)
			continue
		}
		if err := p.manager.AutoStart(ctx, contract); err != nil {
			p.logger.Printf("pipeline: auto-start monitor for %s: %v", ev.Key, err)
		}
	}
}

// probeLoop checks node liveness over the unary endpoint while the stream
// is up, and keeps the queue and watch gauges fresh.
func (p *Pipeline) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(p.settings.Current().PeriodicCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if _, err := p.rpc.BlockNumber(ctx); err != nil {
				p.logger.Printf("pipeline: liveness probe: %v", err)
			} else {
				observability.RecordRPCLatency("eth_blockNumber", time.Since(start).Seconds())
			}

			observability.UpdateActiveWatches(p.manager.ActiveCount())
			if stats, err := p.engine.CollectStats(ctx); err == nil {
				observability.UpdateVerifyQueueDepth(stats.QueueDepth)
			}
		}
	}
}
