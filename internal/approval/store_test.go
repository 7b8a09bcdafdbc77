package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "approvals.db")
	writer, reader, err := OpenDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = writer.Close()
		_ = reader.Close()
	})

	store, err := NewStore(writer, reader)
	require.NoError(t, err)
	return store
}

func TestStore_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.Create(ctx, "t1", ActionMerge, `{"branch":"task-1"}`)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.NotEmpty(t, req.RequestID)

	got, err := s.Get(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, req.RequestID, got.RequestID)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestStore_GetMissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "does-not-exist")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ResolveTransitionsOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.Create(ctx, "t1", ActionMerge, "{}")
	require.NoError(t, err)

	resolved, err := s.Resolve(ctx, req.RequestID, StatusApproved, "looks good", "operator")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
	require.NotNil(t, resolved.Decision)
	assert.Equal(t, "looks good", *resolved.Decision)

	again, err := s.Resolve(ctx, req.RequestID, StatusRejected, "changed my mind", "operator")
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	require.NotNil(t, again)
	assert.Equal(t, StatusApproved, again.Status)

	persisted, err := s.Get(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, persisted.Status)
}

func TestStore_SweepExpiredPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.Create(ctx, "t1", ActionMerge, "{}")
	require.NoError(t, err)

	n, err := s.SweepExpiredPending(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.Get(ctx, req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestStore_PruneResolvedByRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req, err := s.Create(ctx, "t1", ActionMerge, "{}")
	require.NoError(t, err)
	_, err = s.Resolve(ctx, req.RequestID, StatusApproved, "ok", "operator")
	require.NoError(t, err)

	require.NoError(t, s.PruneResolved(ctx, -time.Second, 0))

	_, err = s.Get(ctx, req.RequestID)
	assert.ErrorIs(t, err, ErrNotFound)
}
