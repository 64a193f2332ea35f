package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

func newTestMonitor(address string) *domain.Monitor {
	return &domain.Monitor{
		ContractAddress: address,
		TxHash:          "0xdeadbeef",
		Deployer:        "0x1111111111111111111111111111111111111111",
		StartedAt:       1700000000000,
		DurationMinutes: 60,
		ExpiresAt:       1700000000000 + 60*60_000,
		Status:          domain.MonitorStatusMonitoring,
		Phase:           domain.PhasePairCreation,
	}
}

func TestMonitorStore_InsertAndGetByAddress(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMonitorStore(pool)
	ctx := context.Background()

	monitor := newTestMonitor("0xabc1")
	require.NoError(t, store.Insert(ctx, monitor))

	retrieved, err := store.GetByAddress(ctx, "0xabc1")
	require.NoError(t, err)

	assert.Equal(t, monitor.ContractAddress, retrieved.ContractAddress)
	assert.Equal(t, monitor.TxHash, retrieved.TxHash)
	assert.Equal(t, monitor.Deployer, retrieved.Deployer)
	assert.Equal(t, monitor.StartedAt, retrieved.StartedAt)
	assert.Equal(t, monitor.DurationMinutes, retrieved.DurationMinutes)
	assert.Equal(t, monitor.ExpiresAt, retrieved.ExpiresAt)
	assert.Equal(t, domain.MonitorStatusMonitoring, retrieved.Status)
	assert.Equal(t, domain.PhasePairCreation, retrieved.Phase)
	assert.Nil(t, retrieved.PairAddress)
	assert.False(t, retrieved.LiquidityDetected)
	assert.Zero(t, retrieved.MintCount)
	assert.NotZero(t, retrieved.CreatedAt)
	assert.NotZero(t, retrieved.UpdatedAt)
}

func TestMonitorStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMonitorStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestMonitor("0xabc2")))

	err := store.Insert(ctx, newTestMonitor("0xabc2"))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestMonitorStore_UpdatePreservesStartedAt(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMonitorStore(pool)
	ctx := context.Background()

	monitor := newTestMonitor("0xabc3")
	require.NoError(t, store.Insert(ctx, monitor))

	monitor.Status = domain.MonitorStatusPairDetected
	monitor.Phase = domain.PhaseMintEvents
	monitor.PairAddress = ptr("0xpool0000000000000000000000000000000000")
	monitor.LiquidityDetected = true
	monitor.MintCount = 3
	monitor.LastMintAt = ptr(int64(1700000100000))
	monitor.StartedAt = 9999999999999 // must be ignored by Update
	require.NoError(t, store.Update(ctx, monitor))

	retrieved, err := store.GetByAddress(ctx, "0xabc3")
	require.NoError(t, err)
	assert.Equal(t, domain.MonitorStatusPairDetected, retrieved.Status)
	assert.Equal(t, domain.PhaseMintEvents, retrieved.Phase)
	require.NotNil(t, retrieved.PairAddress)
	assert.Equal(t, "0xpool0000000000000000000000000000000000", *retrieved.PairAddress)
	assert.True(t, retrieved.LiquidityDetected)
	assert.Equal(t, 3, retrieved.MintCount)
	require.NotNil(t, retrieved.LastMintAt)
	assert.Equal(t, int64(1700000100000), *retrieved.LastMintAt)

	// started_at is immutable at the schema level.
	assert.Equal(t, int64(1700000000000), retrieved.StartedAt)
}

func TestMonitorStore_UpdateNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMonitorStore(pool)

	err := store.Update(context.Background(), newTestMonitor("0xmissing"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMonitorStore_ListByStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMonitorStore(pool)
	ctx := context.Background()

	active1 := newTestMonitor("0xabc4")
	active1.StartedAt = 1700000001000
	active2 := newTestMonitor("0xabc5")
	active2.StartedAt = 1700000002000
	expired := newTestMonitor("0xabc6")
	expired.Status = domain.MonitorStatusExpired

	require.NoError(t, store.Insert(ctx, active1))
	require.NoError(t, store.Insert(ctx, active2))
	require.NoError(t, store.Insert(ctx, expired))

	monitoring, err := store.ListByStatus(ctx, domain.MonitorStatusMonitoring)
	require.NoError(t, err)
	require.Len(t, monitoring, 2)
	assert.Equal(t, "0xabc5", monitoring[0].ContractAddress)
	assert.Equal(t, "0xabc4", monitoring[1].ContractAddress)

	all, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMonitorStore_Delete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMonitorStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, newTestMonitor("0xabc7")))
	require.NoError(t, store.Delete(ctx, "0xabc7"))

	_, err := store.GetByAddress(ctx, "0xabc7")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Delete(ctx, "0xabc7")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
