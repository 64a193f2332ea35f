package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deploywatch/internal/domain"
	"deploywatch/internal/storage"
)

func newTestContract(address string) *domain.VerifiedContract {
	return &domain.VerifiedContract{
		Address:           address,
		TxHash:            "0xdeadbeef",
		Deployer:          "0x1111111111111111111111111111111111111111",
		BlockNumber:       19000000,
		GasUsed:           1234567,
		EffectiveGasPrice: "25000000000",
		DetectedAt:        1700000000000,
		VerifiedAt:        1700000003000,
	}
}

func TestContractStore_UpsertAndGetByAddress(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewContractStore(pool)
	ctx := context.Background()

	contract := newTestContract("0xc0ffee01")
	require.NoError(t, store.Upsert(ctx, contract))

	retrieved, err := store.GetByAddress(ctx, "0xc0ffee01")
	require.NoError(t, err)

	assert.Equal(t, contract.Address, retrieved.Address)
	assert.Equal(t, contract.TxHash, retrieved.TxHash)
	assert.Equal(t, contract.Deployer, retrieved.Deployer)
	assert.Equal(t, contract.BlockNumber, retrieved.BlockNumber)
	assert.Equal(t, contract.GasUsed, retrieved.GasUsed)
	assert.Equal(t, contract.EffectiveGasPrice, retrieved.EffectiveGasPrice)
	assert.Equal(t, contract.VerifiedAt, retrieved.VerifiedAt)
	assert.NotZero(t, retrieved.CreatedAt)
}

func TestContractStore_UpsertLastWriteWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewContractStore(pool)
	ctx := context.Background()

	first := newTestContract("0xc0ffee02")
	require.NoError(t, store.Upsert(ctx, first))

	second := newTestContract("0xc0ffee02")
	second.GasUsed = 7654321
	second.VerifiedAt = 1700000009000
	require.NoError(t, store.Upsert(ctx, second))

	retrieved, err := store.GetByAddress(ctx, "0xc0ffee02")
	require.NoError(t, err)
	assert.Equal(t, int64(7654321), retrieved.GasUsed)
	assert.Equal(t, int64(1700000009000), retrieved.VerifiedAt)
}

func TestContractStore_GetByAddressNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewContractStore(pool)

	_, err := store.GetByAddress(context.Background(), "0xmissing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestContractStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewContractStore(pool)
	ctx := context.Background()

	older := newTestContract("0xc0ffee03")
	older.VerifiedAt = 1700000001000
	newer := newTestContract("0xc0ffee04")
	newer.VerifiedAt = 1700000002000

	require.NoError(t, store.Upsert(ctx, older))
	require.NoError(t, store.Upsert(ctx, newer))

	contracts, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, "0xc0ffee04", contracts[0].Address)
	assert.Equal(t, "0xc0ffee03", contracts[1].Address)
}

func TestContractStore_Delete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewContractStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, newTestContract("0xc0ffee05")))
	require.NoError(t, store.Delete(ctx, "0xc0ffee05"))

	_, err := store.GetByAddress(ctx, "0xc0ffee05")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.Delete(ctx, "0xc0ffee05")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
