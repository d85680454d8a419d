package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/devflow/pkg/lease"
)

func TestMemoryStore_AcquireExclusive(t *testing.T) {
	t.Parallel()

	store := lease.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "run-1", "engine-a", time.Minute))

	err := store.Acquire(ctx, "run-1", "engine-b", time.Minute)
	require.ErrorIs(t, err, lease.ErrLeaseHeld)
}

func TestMemoryStore_ReacquireByOwnerExtends(t *testing.T) {
	t.Parallel()

	store := lease.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "run-1", "engine-a", time.Minute))
	require.NoError(t, store.Acquire(ctx, "run-1", "engine-a", time.Minute))
}

func TestMemoryStore_ReleaseFreesLease(t *testing.T) {
	t.Parallel()

	store := lease.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "run-1", "engine-a", time.Minute))
	require.NoError(t, store.Release(ctx, "run-1", "engine-a"))
	require.NoError(t, store.Acquire(ctx, "run-1", "engine-b", time.Minute))
}

func TestMemoryStore_ReleaseByNonOwnerIsNoop(t *testing.T) {
	t.Parallel()

	store := lease.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "run-1", "engine-a", time.Minute))
	require.NoError(t, store.Release(ctx, "run-1", "engine-b"))

	err := store.Acquire(ctx, "run-1", "engine-b", time.Minute)
	assert.ErrorIs(t, err, lease.ErrLeaseHeld)
}

func TestMemoryStore_ExpiredLeaseIsFree(t *testing.T) {
	t.Parallel()

	store := lease.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "run-1", "engine-a", time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	require.NoError(t, store.Acquire(ctx, "run-1", "engine-b", time.Minute))
}

func TestMemoryStore_IndependentRuns(t *testing.T) {
	t.Parallel()

	store := lease.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Acquire(ctx, "run-1", "engine-a", time.Minute))
	require.NoError(t, store.Acquire(ctx, "run-2", "engine-b", time.Minute))
}
