// Package verification resolves deployment candidates against on-chain
// receipts. It owns the bounded verification queue, the per-hash
// in-progress guard and the periodic sweep that picks up candidates the
// push path missed.
package verification

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

// receiptStatusSuccess is the receipt status of a transaction that executed
// without reverting.
const receiptStatusSuccess = "0x1"

// Engine drives candidate verification.
type Engine struct {
	candidateStore storage.CandidateStore
	contractStore  storage.ContractStore
	rpc            ethereum.RPCClient
	settings       settings.Provider
	logger         *log.Logger
	nowMs          func() int64

	// onVerified fires after a candidate resolves to a contract. The
	// monitoring stage hooks in here.
	onVerified func(*domain.VerifiedContract)

	mu         sync.Mutex
	queue      []string
	queued     map[string]bool
	inProgress map[string]bool

	settingsCh chan settings.Settings
}

// Options for creating an Engine.
type Options struct {
	CandidateStore storage.CandidateStore
	ContractStore  storage.ContractStore
	RPC            ethereum.RPCClient
	Settings       settings.Provider
	Logger         *log.Logger

	// OnVerified is invoked for every successful verification. Optional.
	OnVerified func(*domain.VerifiedContract)
}

// New creates a verification engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	provider := opts.Settings
	if provider == nil {
		provider = settings.Static{S: settings.Default()}
	}
	return &Engine{
		candidateStore: opts.CandidateStore,
		contractStore:  opts.ContractStore,
		rpc:            opts.RPC,
		settings:       provider,
		logger:         logger,
		nowMs:          func() int64 { return time.Now().UnixMilli() },
		onVerified:     opts.OnVerified,
		queued:         make(map[string]bool),
		inProgress:     make(map[string]bool),
		settingsCh:     make(chan settings.Settings, 1),
	}
}

// Enqueue adds a candidate hash to the verification queue. Hashes already
// queued or being verified are skipped, and a full queue drops the hash;
// the periodic sweep re-queues anything still pending.
func (e *Engine) Enqueue(txHash string) bool {
	maxSize := e.settings.Current().MaxQueueSize

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queued[txHash] || e.inProgress[txHash] {
		return false
	}
	if len(e.queue) >= maxSize {
		e.logger.Printf("verification: queue full (%d), dropping %s", maxSize, txHash)
		return false
	}

	e.queue = append(e.queue, txHash)
	e.queued[txHash] = true
	return true
}

// dequeue pops the oldest queued hash and moves it into the in-progress set.
func (e *Engine) dequeue() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.queue) > 0 {
		txHash := e.queue[0]
		e.queue = e.queue[1:]
		delete(e.queued, txHash)
		if e.inProgress[txHash] {
			continue
		}
		e.inProgress[txHash] = true
		return txHash, true
	}
	return "", false
}

// QueueDepth returns the number of hashes waiting for verification.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Run drains the queue and sweeps storage until ctx is cancelled. One
// candidate is verified per verification-delay tick; the sweep interval
// re-queues pending candidates the push path missed. Settings changes
// re-arm both tickers in place.
func (e *Engine) Run(ctx context.Context) error {
	cfg := e.settings.Current()
	unsubscribe := e.settings.Subscribe(func(s settings.Settings) {
		// Keep only the newest pending update.
		select {
		case <-e.settingsCh:
		default:
		}
		e.settingsCh <- s
	})
	defer unsubscribe()

	drain := time.NewTicker(cfg.VerificationDelay)
	defer drain.Stop()
	sweep := time.NewTicker(cfg.PeriodicCheckInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case s := <-e.settingsCh:
			if s.VerificationDelay != cfg.VerificationDelay {
				drain.Reset(s.VerificationDelay)
			}
			if s.PeriodicCheckInterval != cfg.PeriodicCheckInterval {
				sweep.Reset(s.PeriodicCheckInterval)
			}
			cfg = s

		case <-drain.C:
			if !cfg.AutoVerificationEnabled {
				continue
			}
			txHash, ok := e.dequeue()
			if !ok {
				continue
			}
			if _, err := e.verify(ctx, txHash); err != nil {
				e.logger.Printf("verification: %s: %v", txHash, err)
			}

		case <-sweep.C:
			if !cfg.AutoVerificationEnabled {
				continue
			}
			if n, err := e.Sweep(ctx); err != nil {
				e.logger.Printf("verification: sweep failed: %v", err)
			} else if n > 0 {
				e.logger.Printf("verification: sweep re-queued %d candidates", n)
			}
		}
	}
}

// Sweep re-queues every stored candidate still awaiting verification.
// Returns the number of hashes added to the queue.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	pending, err := e.candidateStore.ListNeedingVerification(ctx)
	if err != nil {
		return 0, fmt.Errorf("list candidates needing verification: %w", err)
	}

	added := 0
	for _, c := range pending {
		if e.Enqueue(c.TxHash) {
			added++
		}
	}
	return added, nil
}

// VerifyOne verifies a single candidate immediately, bypassing the queue.
// A hash already being verified is skipped and returns nil, nil.
func (e *Engine) VerifyOne(ctx context.Context, txHash string) (*domain.VerifiedContract, error) {
	e.mu.Lock()
	if e.inProgress[txHash] {
		e.mu.Unlock()
		return nil, nil
	}
	e.inProgress[txHash] = true
	e.mu.Unlock()

	return e.verify(ctx, txHash)
}

// verify resolves one candidate. The caller must have placed txHash in the
// in-progress set; verify releases it on every path.
func (e *Engine) verify(ctx context.Context, txHash string) (*domain.VerifiedContract, error) {
	defer func() {
		e.mu.Lock()
		delete(e.inProgress, txHash)
		e.mu.Unlock()
	}()

	candidate, err := e.candidateStore.GetByHash(ctx, txHash)
	if err != nil {
		return nil, fmt.Errorf("load candidate: %w", err)
	}
	if candidate.Status.Terminal() {
		return nil, nil
	}

	if err := e.candidateStore.UpdateStatus(ctx, txHash, domain.StatusVerifying, nil, 0); err != nil {
		return nil, fmt.Errorf("mark verifying: %w", err)
	}

	receipt, err := e.rpc.GetTransactionReceipt(ctx, txHash)
	now := e.nowMs()

	switch {
	case errors.Is(err, ethereum.ErrReceiptNotFound):
		// The transaction never made it on chain, or the node pruned it.
		if err := e.candidateStore.UpdateStatus(ctx, txHash, domain.StatusNoContract, nil, now); err != nil {
			return nil, fmt.Errorf("mark no_contract: %w", err)
		}
		return nil, nil

	case err != nil:
		// Transport failure. Terminal until an operator requeues.
		if uerr := e.candidateStore.UpdateStatus(ctx, txHash, domain.StatusFailed, nil, now); uerr != nil {
			return nil, fmt.Errorf("mark failed: %w", uerr)
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}

	if receipt.ContractAddress == nil {
		if err := e.candidateStore.UpdateStatus(ctx, txHash, domain.StatusNoContract, nil, now); err != nil {
			return nil, fmt.Errorf("mark no_contract: %w", err)
		}
		return nil, nil
	}
	if receipt.Status != receiptStatusSuccess {
		// A reverted deployment still reserves its contract address, and the
		// node reports it in the receipt. Record the contract anyway so a
		// later redeploy to the same address is visible.
		e.logger.Printf("verification: %s reverted on chain, recording contract %s", txHash, *receipt.ContractAddress)
	}

	contract, err := e.buildContract(candidate, receipt, now)
	if err != nil {
		if uerr := e.candidateStore.UpdateStatus(ctx, txHash, domain.StatusFailed, nil, now); uerr != nil {
			return nil, fmt.Errorf("mark failed: %w", uerr)
		}
		return nil, fmt.Errorf("parse receipt: %w", err)
	}

	if err := e.contractStore.Upsert(ctx, contract); err != nil {
		return nil, fmt.Errorf("store contract: %w", err)
	}
	if err := e.candidateStore.UpdateStatus(ctx, txHash, domain.StatusVerified, &contract.Address, now); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}

	if e.onVerified != nil {
		e.onVerified(contract)
	}
	return contract, nil
}

// buildContract converts a successful receipt into the storage shape.
func (e *Engine) buildContract(candidate *domain.DeploymentCandidate, receipt *ethereum.TransactionReceipt, verifiedAt int64) (*domain.VerifiedContract, error) {
	blockNumber, err := ethereum.ParseHexInt64(receipt.BlockNumber)
	if err != nil {
		return nil, err
	}
	gasUsed, err := ethereum.ParseHexInt64(receipt.GasUsed)
	if err != nil {
		return nil, err
	}
	gasPrice, err := ethereum.HexToDecimal(receipt.EffectiveGasPrice)
	if err != nil {
		return nil, err
	}

	return &domain.VerifiedContract{
		Address:           ethereum.NormalizeAddress(*receipt.ContractAddress),
		TxHash:            candidate.TxHash,
		Deployer:          candidate.From,
		BlockNumber:       blockNumber,
		GasUsed:           gasUsed,
		EffectiveGasPrice: gasPrice,
		DetectedAt:        candidate.DetectedAt,
		VerifiedAt:        verifiedAt,
	}, nil
}

// VerifyBatch verifies the given hashes in order, reporting progress after
// each one. Items are paced by the configured verification delay so a large
// batch does not hammer the node. Failed hashes do not stop the batch.
func (e *Engine) VerifyBatch(ctx context.Context, txHashes []string, progress func(current, total int)) {
	total := len(txHashes)
	for i, txHash := range txHashes {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.settings.Current().VerificationDelay):
			}
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := e.VerifyOne(ctx, txHash); err != nil {
			e.logger.Printf("verification: batch %s: %v", txHash, err)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
}

// Requeue resets a candidate to pending and puts it back on the queue.
// This is the only way out of a terminal failed or no_contract state.
func (e *Engine) Requeue(ctx context.Context, txHash string) error {
	if err := e.candidateStore.UpdateStatus(ctx, txHash, domain.StatusPending, nil, 0); err != nil {
		return fmt.Errorf("reset candidate: %w", err)
	}
	e.Enqueue(txHash)
	return nil
}

// Stats is a point-in-time rollup of verification state.
type Stats struct {
	QueueDepth int
	InProgress int
	Counts     map[domain.CandidateStatus]int
}

// CollectStats reads candidate counts from storage alongside queue state.
func (e *Engine) CollectStats(ctx context.Context) (*Stats, error) {
	counts, err := e.candidateStore.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count candidates: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return &Stats{
		QueueDepth: len(e.queue),
		InProgress: len(e.inProgress),
		Counts:     counts,
	}, nil
}
