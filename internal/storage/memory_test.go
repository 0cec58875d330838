package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/pkg/handler"
	"github.com/getmockd/hookd/pkg/store"
	"github.com/getmockd/hookd/pkg/store/storetest"
)

func TestMemoryStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	h := &handler.Handler{Method: "GET", Path: "/a", Code: "x"}
	require.NoError(t, s.Handlers().SaveHTTP(ctx, h))

	got, err := s.Handlers().GetHTTP(ctx, h.ID)
	require.NoError(t, err)
	got.Path = "/mutated"

	again, err := s.Handlers().GetHTTP(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "/a", again.Path)
}
