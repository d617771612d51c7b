package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alexbotov/mpesa/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestControl(t *testing.T) (*Service, *ledger.MemoryStore) {
	t.Helper()
	store := ledger.NewMemoryStore()
	return New(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestOverloadOffByDefault(t *testing.T) {
	svc, _ := setupTestControl(t)

	assert.False(t, svc.IsOverloaded())
	assert.NoError(t, svc.CheckAccess())
	assert.Nil(t, svc.Status().ChangedAt)
}

func TestSetOverload(t *testing.T) {
	svc, store := setupTestControl(t)
	ctx := context.Background()

	status, err := svc.SetOverload(ctx, true, "maintenance window", "operator")
	require.NoError(t, err)
	assert.True(t, status.Overloaded)
	assert.Equal(t, "operator", status.ChangedBy)
	assert.Equal(t, "maintenance window", status.Reason)
	require.NotNil(t, status.ChangedAt)

	assert.ErrorIs(t, svc.CheckAccess(), ErrOverloaded)

	value, ok, err := store.State(ctx, overloadKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", value)

	_, err = svc.SetOverload(ctx, false, "", "operator")
	require.NoError(t, err)
	assert.NoError(t, svc.CheckAccess())
}

func TestLoadState(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	require.NoError(t, store.SetState(ctx, overloadKey, "true", "operator"))

	svc := New(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, svc.LoadState(ctx))
	assert.True(t, svc.IsOverloaded())
}

type failingStore struct{}

func (failingStore) SetState(ctx context.Context, key, value, updatedBy string) error {
	return errors.New("store unavailable")
}

func (failingStore) State(ctx context.Context, key string) (string, bool, error) {
	return "", false, errors.New("store unavailable")
}

func TestPersistenceFailureKeepsState(t *testing.T) {
	svc := New(failingStore{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := svc.SetOverload(context.Background(), true, "", "operator")
	assert.Error(t, err)
	assert.False(t, svc.IsOverloaded())

	assert.Error(t, svc.LoadState(context.Background()))
}
