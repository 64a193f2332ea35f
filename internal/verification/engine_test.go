package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deploywatch/internal/domain"
	"deploywatch/internal/ethereum"
	"deploywatch/internal/settings"
	"deploywatch/internal/storage/memory"
)

type stubRPC struct {
	mu      sync.Mutex
	calls   int
	delay   time.Duration
	receipt *ethereum.TransactionReceipt
	err     error
}

func (s *stubRPC) GetTransactionReceipt(ctx context.Context, txHash string) (*ethereum.TransactionReceipt, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.receipt, nil
}

func (s *stubRPC) BlockNumber(context.Context) (int64, error) {
	return 19000000, nil
}

func (s *stubRPC) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func successReceipt(contractAddr string) *ethereum.TransactionReceipt {
	return &ethereum.TransactionReceipt{
		TransactionHash:   "0xaaa",
		Status:            "0x1",
		ContractAddress:   &contractAddr,
		BlockNumber:       "0x121eac0", // 19000000
		GasUsed:           "0x12d687",  // 1234567
		EffectiveGasPrice: "0x5d21dba00",
	}
}

type engineFixture struct {
	engine     *Engine
	candidates *memory.CandidateStore
	contracts  *memory.ContractStore
	rpc        *stubRPC
	verified   []*domain.VerifiedContract
}

func newFixture(rpc *stubRPC, provider settings.Provider) *engineFixture {
	f := &engineFixture{
		candidates: memory.NewCandidateStore(nil),
		contracts:  memory.NewContractStore(nil),
		rpc:        rpc,
	}
	f.engine = New(Options{
		CandidateStore: f.candidates,
		ContractStore:  f.contracts,
		RPC:            rpc,
		Settings:       provider,
		OnVerified:     func(c *domain.VerifiedContract) { f.verified = append(f.verified, c) },
	})
	f.engine.nowMs = func() int64 { return 1700000005000 }
	return f
}

func (f *engineFixture) seed(t *testing.T, txHash string) {
	t.Helper()
	err := f.candidates.Upsert(context.Background(), &domain.DeploymentCandidate{
		TxHash:     txHash,
		From:       "0xdeployer",
		Input:      "0x60806040526000",
		InputBytes: 7,
		GasPrice:   "20000000000",
		GasLimit:   3000000,
		Value:      "0",
		DetectedAt: 1700000000000,
		Status:     domain.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
}

func TestEngine_VerifyOneSuccess(t *testing.T) {
	f := newFixture(&stubRPC{receipt: successReceipt("0xC0FFEE0000000000000000000000000000000001")}, nil)
	f.seed(t, "0xaaa")
	ctx := context.Background()

	contract, err := f.engine.VerifyOne(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("VerifyOne: %v", err)
	}
	if contract == nil {
		t.Fatal("expected a contract")
	}

	if contract.Address != "0xc0ffee0000000000000000000000000000000001" {
		t.Errorf("address not normalized: %s", contract.Address)
	}
	if contract.Deployer != "0xdeployer" || contract.TxHash != "0xaaa" {
		t.Errorf("wrong provenance: %+v", contract)
	}
	if contract.BlockNumber != 19000000 || contract.GasUsed != 1234567 {
		t.Errorf("wrong receipt numbers: %+v", contract)
	}
	if contract.EffectiveGasPrice != "25000000000" {
		t.Errorf("EffectiveGasPrice = %s", contract.EffectiveGasPrice)
	}
	if contract.DetectedAt != 1700000000000 || contract.VerifiedAt != 1700000005000 {
		t.Errorf("wrong timestamps: %+v", contract)
	}

	stored, err := f.contracts.GetByAddress(ctx, contract.Address)
	if err != nil {
		t.Fatalf("contract not stored: %v", err)
	}
	if stored.TxHash != "0xaaa" {
		t.Errorf("stored TxHash = %s", stored.TxHash)
	}

	candidate, _ := f.candidates.GetByHash(ctx, "0xaaa")
	if candidate.Status != domain.StatusVerified {
		t.Errorf("candidate status = %s", candidate.Status)
	}
	if candidate.ContractAddress == nil || *candidate.ContractAddress != contract.Address {
		t.Errorf("candidate address = %v", candidate.ContractAddress)
	}

	if len(f.verified) != 1 {
		t.Errorf("OnVerified fired %d times", len(f.verified))
	}
}

func TestEngine_VerifyOneNoReceipt(t *testing.T) {
	f := newFixture(&stubRPC{err: ethereum.ErrReceiptNotFound}, nil)
	f.seed(t, "0xbbb")
	ctx := context.Background()

	contract, err := f.engine.VerifyOne(ctx, "0xbbb")
	if err != nil {
		t.Fatalf("VerifyOne: %v", err)
	}
	if contract != nil {
		t.Error("expected no contract")
	}

	candidate, _ := f.candidates.GetByHash(ctx, "0xbbb")
	if candidate.Status != domain.StatusNoContract {
		t.Errorf("candidate status = %s", candidate.Status)
	}
	if len(f.verified) != 0 {
		t.Error("OnVerified fired for missing receipt")
	}
}

func TestEngine_VerifyOneRevertedReceipt(t *testing.T) {
	// A reverted deployment still carries its contract address in the
	// receipt; the candidate verifies like any other.
	receipt := successReceipt("0xBEEF000000000000000000000000000000000001")
	receipt.Status = "0x0"
	f := newFixture(&stubRPC{receipt: receipt}, nil)
	f.seed(t, "0xccc")
	ctx := context.Background()

	contract, err := f.engine.VerifyOne(ctx, "0xccc")
	if err != nil {
		t.Fatalf("VerifyOne: %v", err)
	}
	if contract == nil {
		t.Fatal("reverted deployment with a contract address must verify")
	}
	if contract.Address != "0xbeef000000000000000000000000000000000001" {
		t.Errorf("contract address = %s", contract.Address)
	}

	candidate, _ := f.candidates.GetByHash(ctx, "0xccc")
	if candidate.Status != domain.StatusVerified {
		t.Errorf("candidate status = %s", candidate.Status)
	}
	if _, err := f.contracts.GetByAddress(ctx, contract.Address); err != nil {
		t.Errorf("contract not stored: %v", err)
	}
}

func TestEngine_VerifyOneTransportFailure(t *testing.T) {
	f := newFixture(&stubRPC{err: errors.New("connection refused")}, nil)
	f.seed(t, "0xddd")
	ctx := context.Background()

	_, err := f.engine.VerifyOne(ctx, "0xddd")
	if err == nil {
		t.Fatal("expected an error")
	}

	candidate, _ := f.candidates.GetByHash(ctx, "0xddd")
	if candidate.Status != domain.StatusFailed {
		t.Errorf("candidate status = %s", candidate.Status)
	}

	// Terminal: another verify attempt must not touch the node.
	before := f.rpc.callCount()
	if _, err := f.engine.VerifyOne(ctx, "0xddd"); err != nil {
		t.Fatalf("VerifyOne on terminal candidate: %v", err)
	}
	if f.rpc.callCount() != before {
		t.Error("terminal candidate was re-fetched")
	}
}

func TestEngine_ConcurrentVerifySingleFetch(t *testing.T) {
	rpc := &stubRPC{receipt: successReceipt("0xc0ffee"), delay: 50 * time.Millisecond}
	f := newFixture(rpc, nil)
	f.seed(t, "0xeee")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.VerifyOne(ctx, "0xeee")
		}()
	}
	wg.Wait()

	if got := rpc.callCount(); got != 1 {
		t.Errorf("receipt fetched %d times, want 1", got)
	}
}

func TestEngine_EnqueueDedupeAndBound(t *testing.T) {
	cfg := settings.Default()
	cfg.MaxQueueSize = settings.MinQueueSize
	f := newFixture(&stubRPC{}, settings.Static{S: cfg})

	if !f.engine.Enqueue("0x1") {
		t.Fatal("first enqueue rejected")
	}
	if f.engine.Enqueue("0x1") {
		t.Error("duplicate enqueue accepted")
	}

	for i := 2; i <= settings.MinQueueSize; i++ {
		f.engine.Enqueue(string(rune('a' + i)))
	}
	if f.engine.QueueDepth() != settings.MinQueueSize {
		t.Fatalf("queue depth = %d", f.engine.QueueDepth())
	}
	if f.engine.Enqueue("0xoverflow") {
		t.Error("enqueue past the bound accepted")
	}
}

func TestEngine_SweepRequeuesOnlyPending(t *testing.T) {
	f := newFixture(&stubRPC{}, nil)
	ctx := context.Background()

	f.seed(t, "0xp1")
	f.seed(t, "0xp2")
	f.seed(t, "0xdone")
	f.candidates.UpdateStatus(ctx, "0xdone", domain.StatusVerified, nil, 1)
	f.seed(t, "0xfail")
	f.candidates.UpdateStatus(ctx, "0xfail", domain.StatusFailed, nil, 1)

	// One pending hash is already queued; the sweep must not double it.
	f.engine.Enqueue("0xp1")

	added, err := f.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if added != 1 {
		t.Errorf("sweep added %d, want 1", added)
	}
	if f.engine.QueueDepth() != 2 {
		t.Errorf("queue depth = %d, want 2", f.engine.QueueDepth())
	}
}

func TestEngine_RequeueResetsTerminal(t *testing.T) {
	f := newFixture(&stubRPC{err: errors.New("boom")}, nil)
	f.seed(t, "0xfff")
	ctx := context.Background()

	f.engine.VerifyOne(ctx, "0xfff")
	candidate, _ := f.candidates.GetByHash(ctx, "0xfff")
	if candidate.Status != domain.StatusFailed {
		t.Fatalf("setup: status = %s", candidate.Status)
	}

	if err := f.engine.Requeue(ctx, "0xfff"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	candidate, _ = f.candidates.GetByHash(ctx, "0xfff")
	if candidate.Status != domain.StatusPending {
		t.Errorf("status after requeue = %s", candidate.Status)
	}
	if f.engine.QueueDepth() != 1 {
		t.Errorf("queue depth = %d", f.engine.QueueDepth())
	}
}

func TestEngine_VerifyBatchReportsProgress(t *testing.T) {
	cfg := settings.Default()
	cfg.VerificationDelay = settings.MinVerificationDelay
	f := newFixture(&stubRPC{receipt: successReceipt("0xc0ffee")}, settings.Static{S: cfg})
	ctx := context.Background()

	f.seed(t, "0xb1")
	f.seed(t, "0xb2")

	var progress [][2]int
	f.engine.VerifyBatch(ctx, []string{"0xb1", "0xb2"}, func(current, total int) {
		progress = append(progress, [2]int{current, total})
	})

	if len(progress) != 2 || progress[0] != [2]int{1, 2} || progress[1] != [2]int{2, 2} {
		t.Errorf("progress = %v", progress)
	}
}

func TestEngine_VerifyBatchPacesItems(t *testing.T) {
	cfg := settings.Default()
	cfg.VerificationDelay = settings.MinVerificationDelay
	f := newFixture(&stubRPC{receipt: successReceipt("0xc0ffee")}, settings.Static{S: cfg})
	ctx := context.Background()

	hashes := []string{"0xt1", "0xt2", "0xt3"}
	for _, h := range hashes {
		f.seed(t, h)
	}

	start := time.Now()
	f.engine.VerifyBatch(ctx, hashes, nil)
	elapsed := time.Since(start)

	// Two gaps between three items.
	if want := 2 * settings.MinVerificationDelay; elapsed < want {
		t.Errorf("batch of 3 finished in %v, want at least %v", elapsed, want)
	}
}

func TestEngine_VerifyBatchStopsOnCancel(t *testing.T) {
	cfg := settings.Default()
	cfg.VerificationDelay = settings.MinVerificationDelay
	rpc := &stubRPC{receipt: successReceipt("0xc0ffee")}
	f := newFixture(rpc, settings.Static{S: cfg})

	hashes := []string{"0xc1", "0xc2", "0xc3"}
	for _, h := range hashes {
		f.seed(t, h)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	f.engine.VerifyBatch(ctx, hashes, nil)

	// The first item runs before any pacing; the cancel lands inside the
	// first inter-item wait.
	if got := rpc.callCount(); got != 1 {
		t.Errorf("cancelled batch fetched %d receipts, want 1", got)
	}
}

func TestEngine_CollectStats(t *testing.T) {
	f := newFixture(&stubRPC{}, nil)
	ctx := context.Background()

	f.seed(t, "0xs1")
	f.seed(t, "0xs2")
	f.candidates.UpdateStatus(ctx, "0xs2", domain.StatusVerified, nil, 1)
	f.engine.Enqueue("0xs1")

	stats, err := f.engine.CollectStats(ctx)
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if stats.QueueDepth != 1 {
		t.Errorf("QueueDepth = %d", stats.QueueDepth)
	}
	if stats.Counts[domain.StatusPending] != 1 || stats.Counts[domain.StatusVerified] != 1 {
		t.Errorf("Counts = %v", stats.Counts)
	}
}

func TestEngine_RunDrainsQueue(t *testing.T) {
	cfg := settings.Default()
	cfg.VerificationDelay = settings.MinVerificationDelay
	f := newFixture(&stubRPC{receipt: successReceipt("0xc0ffee")}, settings.Static{S: cfg})
	f.seed(t, "0xrun")
	f.engine.Enqueue("0xrun")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.engine.Run(ctx)
		close(done)
	}()

	deadline := time.After(1900 * time.Millisecond)
	for {
		candidate, _ := f.candidates.GetByHash(context.Background(), "0xrun")
		if candidate.Status == domain.StatusVerified {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("candidate never verified, status = %s", candidate.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestEngine_RunRespectsDisabledToggle(t *testing.T) {
	broadcaster := settings.NewBroadcaster(settings.Default())
	disabled := broadcaster.Current()
	disabled.AutoVerificationEnabled = false
	disabled.VerificationDelay = settings.MinVerificationDelay
	broadcaster.Update(disabled)

	rpc := &stubRPC{receipt: successReceipt("0xc0ffee")}
	f := newFixture(rpc, broadcaster)
	f.seed(t, "0xoff")
	f.engine.Enqueue("0xoff")

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	f.engine.Run(ctx)

	if rpc.callCount() != 0 {
		t.Errorf("disabled engine fetched %d receipts", rpc.callCount())
	}
	if f.engine.QueueDepth() != 1 {
		t.Errorf("disabled engine drained the queue")
	}
}
