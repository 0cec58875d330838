package sharedstate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/internal/storage"
)

func TestStore_GetEmpty(t *testing.T) {
	s := New(storage.NewMemoryStore().State())
	st, err := s.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, st.Data)
}

func TestStore_SetReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryStore().State())

	_, err := s.Set(ctx, map[string]any{"a": 1})
	require.NoError(t, err)
	st, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(1)}, st.Data)
	assert.False(t, st.UpdatedAt.IsZero())

	_, err = s.Set(ctx, map[string]any{})
	require.NoError(t, err)
	st, err = s.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Data)
}

func TestStore_CorruptDocumentReadsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore().State()
	require.NoError(t, backend.Save(ctx, []byte(`{not json`), time.Now()))

	st, err := New(backend).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, st.Data)

	require.NoError(t, backend.Save(ctx, []byte(`[1,2]`), time.Now()))
	st, err = New(backend).Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, st.Data)
}

func TestStore_TransactFailureDoesNotSave(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryStore().State())
	_, err := s.Set(ctx, map[string]any{"keep": true})
	require.NoError(t, err)

	err = s.Transact(ctx, func(data map[string]any) (map[string]any, error) {
		return map[string]any{"lost": true}, errors.New("script failed")
	})
	require.Error(t, err)

	st, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"keep": true}, st.Data)
}

func TestStore_SerializedTransactCountsEveryIncrement(t *testing.T) {
	ctx := context.Background()
	s := New(storage.NewMemoryStore().State(), WithSerialize(true))

	var wg sync.WaitGroup
	for range 25 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transact(ctx, func(data map[string]any) (map[string]any, error) {
				n, _ := data["n"].(float64)
				time.Sleep(time.Millisecond)
				data["n"] = n + 1
				return data, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	st, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(25), st.Data["n"])
}
