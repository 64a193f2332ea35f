package memory

import (
	"context"
	"testing"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

func testMonitor(addr string, startedAt int64) *domain.Monitor {
	return &domain.Monitor{
		ContractAddress: addr,
		TxHash:          "0xtx",
		Deployer:        "0xdead",
		StartedAt:       startedAt,
		DurationMinutes: 60,
		ExpiresAt:       startedAt + 60*60*1000,
		Status:          domain.MonitorStatusMonitoring,
		Phase:           domain.PhasePairCreation,
	}
}

func TestMonitorStore_InsertDuplicate(t *testing.T) {
	store := NewMonitorStore(nil)
	ctx := context.Background()

	if err := store.Insert(ctx, testMonitor("0xaaa", 1000)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Insert(ctx, testMonitor("0xaaa", 2000)); err != storage.ErrDuplicateKey {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestMonitorStore_UpdatePreservesCreatedAt(t *testing.T) {
	store := NewMonitorStore(nil)
	ctx := context.Background()

	m := testMonitor("0xaaa", 1000)
	if err := store.Insert(ctx, m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	inserted, _ := store.GetByAddress(ctx, "0xaaa")

	m.Status = domain.MonitorStatusPairDetected
	m.Phase = domain.PhaseMintEvents
	pair := "0xpool"
	m.PairAddress = &pair
	if err := store.Update(ctx, m); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.GetByAddress(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	if got.Status != domain.MonitorStatusPairDetected || got.Phase != domain.PhaseMintEvents {
		t.Errorf("update not applied: %+v", got)
	}
	if got.CreatedAt != inserted.CreatedAt {
		t.Errorf("CreatedAt changed on update")
	}
	if got.PairAddress == nil || *got.PairAddress != pair {
		t.Errorf("pair address = %v", got.PairAddress)
	}

	if err := store.Update(ctx, testMonitor("0xmissing", 1)); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMonitorStore_ListByStatus(t *testing.T) {
	store := NewMonitorStore(nil)
	ctx := context.Background()

	a := testMonitor("0xaaa", 1000)
	b := testMonitor("0xbbb", 3000)
	c := testMonitor("0xccc", 2000)
	c.Status = domain.MonitorStatusExpired

	for _, m := range []*domain.Monitor{a, b, c} {
		if err := store.Insert(ctx, m); err != nil {
			t.Fatalf("Insert %s: %v", m.ContractAddress, err)
		}
	}

	active, err := store.ListByStatus(ctx, domain.MonitorStatusMonitoring)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active monitors, got %d", len(active))
	}
	// Newest start first.
	if active[0].ContractAddress != "0xbbb" || active[1].ContractAddress != "0xaaa" {
		t.Errorf("unexpected order: %s, %s", active[0].ContractAddress, active[1].ContractAddress)
	}
}

func TestMonitorStore_Delete(t *testing.T) {
	store := NewMonitorStore(nil)
	ctx := context.Background()

	store.Insert(ctx, testMonitor("0xaaa", 1000))
	if err := store.Delete(ctx, "0xaaa"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.GetByAddress(ctx, "0xaaa"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "0xaaa"); err != storage.ErrNotFound {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}
