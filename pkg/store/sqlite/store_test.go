package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/internal/id"
	"github.com/getmockd/hookd/pkg/requestlog"
	"github.com/getmockd/hookd/pkg/store"
	"github.com/getmockd/hookd/pkg/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "hookd_test.db"))
	require.NoError(t, err)
	return s
}

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.State().Save(ctx, []byte(`{"n":1}`), time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	data, _, err := s.State().Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(data))
}

func TestStore_ExecutionsCascadeWithConnection(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	defer s.Close()

	c := &requestlog.TCPConnection{ID: id.New(), Status: requestlog.ConnActive, OpenedAt: time.Now()}
	require.NoError(t, s.Connections().Create(ctx, c))
	e := &requestlog.HandlerExecution{
		ID: id.New(), TCPConnectionID: c.ID, HandlerID: "t", Status: requestlog.ExecRunning, Timestamp: time.Now(),
	}
	require.NoError(t, s.Executions().Create(ctx, e))

	// Delete through raw SQL so only the foreign key removes the execution.
	require.NoError(t, s.db.Exec("DELETE FROM tcp_connections WHERE id = ?", c.ID).Error)

	var count int64
	require.NoError(t, s.db.Model(&executionModel{}).Where("id = ?", e.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestStore_ExecutionRequiresParent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	defer s.Close()

	e := &requestlog.HandlerExecution{
		ID: id.New(), RequestEventID: "missing", HandlerID: "h", Status: requestlog.ExecRunning, Timestamp: time.Now(),
	}
	assert.Error(t, s.Executions().Create(ctx, e))
}
