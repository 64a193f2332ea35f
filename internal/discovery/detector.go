package discovery

import (
	"context"
	"log"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/ethereum"
	"deploywatch/internal/storage"
)

// MinDeployPayloadBytes is the smallest input payload accepted as contract
// bytecode. A transaction without a recipient but with a trivial payload is
// not a deployment; plain value burns to the zero address look like this.
const MinDeployPayloadBytes = 5

// DeploymentDetector classifies mempool transactions and persists the ones
// that create contracts.
type DeploymentDetector struct {
	seenHashes     map[string]bool
	candidateStore storage.CandidateStore
	logger         *log.Logger
	nowMs          func() int64
}

// NewDetector creates a deployment detector.
func NewDetector(store storage.CandidateStore, logger *log.Logger) *DeploymentDetector {
	if logger == nil {
		logger = log.Default()
	}
	return &DeploymentDetector{
		seenHashes:     make(map[string]bool),
		candidateStore: store,
		logger:         logger,
		nowMs:          func() int64 { return time.Now().UnixMilli() },
	}
}

// IsDeployment reports whether a pending transaction creates a contract:
// no recipient and a payload large enough to be bytecode.
func IsDeployment(tx *ethereum.PendingTransaction) bool {
	if tx.To != "" {
		return false
	}
	return ethereum.InputByteLen(tx.Input) >= MinDeployPayloadBytes
}

// Process classifies one pending transaction. Returns the persisted
// candidate, or nil if the transaction is not a new deployment. Storage
// failures are returned; malformed mempool payloads are logged and skipped.
func (d *DeploymentDetector) Process(ctx context.Context, tx *ethereum.PendingTransaction) (*domain.DeploymentCandidate, error) {
	if tx.Hash == "" || d.seenHashes[tx.Hash] {
		return nil, nil
	}

	if tx.To != "" {
		return nil, nil
	}

	inputBytes := ethereum.InputByteLen(tx.Input)
	if inputBytes < MinDeployPayloadBytes {
		if ethereum.HasInput(tx.Input) {
			d.logger.Printf("discovery: tx %s has no recipient but only %d payload bytes, skipping", tx.Hash, inputBytes)
		}
		d.seenHashes[tx.Hash] = true
		return nil, nil
	}

	candidate, err := d.buildCandidate(tx)
	if err != nil {
		d.logger.Printf("discovery: tx %s has malformed fields, skipping: %v", tx.Hash, err)
		d.seenHashes[tx.Hash] = true
		return nil, nil
	}

	// Upsert keeps any existing row, so a hash observed twice across a
	// reconnect does not reset an in-flight verification.
	if err := d.candidateStore.Upsert(ctx, candidate); err != nil {
		return nil, err
	}

	d.seenHashes[tx.Hash] = true
	return candidate, nil
}

// buildCandidate converts raw wire hex fields into the storage shape.
func (d *DeploymentDetector) buildCandidate(tx *ethereum.PendingTransaction) (*domain.DeploymentCandidate, error) {
	gasPrice, err := ethereum.HexToDecimal(tx.GasPrice)
	if err != nil {
		return nil, err
	}
	value, err := ethereum.HexToDecimal(tx.Value)
	if err != nil {
		return nil, err
	}
	gasLimit, err := ethereum.ParseHexInt64(tx.Gas)
	if err != nil {
		return nil, err
	}
	nonce, err := ethereum.ParseHexInt64(tx.Nonce)
	if err != nil {
		return nil, err
	}

	return &domain.DeploymentCandidate{
		TxHash:     tx.Hash,
		From:       ethereum.NormalizeAddress(tx.From),
		Input:      tx.Input,
		InputBytes: ethereum.InputByteLen(tx.Input),
		GasPrice:   gasPrice,
		GasLimit:   gasLimit,
		Value:      value,
		Nonce:      nonce,
		DetectedAt: d.nowMs(),
		Status:     domain.StatusPending,
	}, nil
}

// SeenCount returns the size of the in-memory dedupe cache.
func (d *DeploymentDetector) SeenCount() int {
	return len(d.seenHashes)
}

// Reset clears the in-memory seen cache. Candidates already persisted stay
// deduplicated by the store upsert.
func (d *DeploymentDetector) Reset() {
	d.seenHashes = make(map[string]bool)
}
