package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/internal/storage"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestParseSeeds_Formats(t *testing.T) {
	data := []byte(`
kind: http
id: log-all
method: post
path: /hooks/:source
order: 2
code: console.log(req.params.source)
---
handlers:
  - kind: http
    id: fallback
    path: "*"
    code: resp.status = 204
  - kind: tcp
    id: echo
    code: send(data)
---
`)
	r := &ValidationResult{}
	seeds := ParseSeeds("a.yaml", data, r)
	require.True(t, r.IsValid(), r.Error())
	require.Len(t, seeds, 3)

	h := seeds[0].Handler()
	assert.Equal(t, "log-all", h.ID)
	assert.Equal(t, "POST", h.Method)
	assert.Equal(t, 2, h.Order)
	assert.Equal(t, "a.yaml#0", seeds[0].Source)

	fallback := seeds[1].Handler()
	assert.Equal(t, "*", fallback.Method)
	assert.Equal(t, "a.yaml#1.handlers[0]", seeds[1].Source)

	tcp := seeds[2].TCPHandler()
	assert.True(t, tcp.Enabled)
	assert.Equal(t, "send(data)", tcp.Code)
}

func TestParseSeeds_SchemaErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"missing code", "kind: http\nid: a\npath: /", "a.yaml#0"},
		{"missing id", "kind: http\npath: /\ncode: x", "a.yaml#0"},
		{"unknown kind", "kind: udp\nid: a\ncode: x", "a.yaml#0"},
		{"http needs path", "kind: http\nid: a\ncode: x", "a.yaml#0"},
		{"tcp rejects path", "kind: tcp\nid: a\npath: /\ncode: x", "a.yaml#0"},
		{"negative order", "kind: http\nid: a\npath: /\ncode: x\norder: -1", "a.yaml#0.order"},
		{"unknown field", "kind: http\nid: a\npath: /\ncode: x\nmatch: y", "a.yaml#0"},
		{"scalar document", "just a string", "a.yaml#0"},
		{"handlers not a list", "handlers: 3", "a.yaml#0.handlers"},
		{"bad yaml", "kind: [", "a.yaml#0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ValidationResult{}
			seeds := ParseSeeds("a.yaml", []byte(tt.doc), r)
			assert.Empty(t, seeds)
			require.False(t, r.IsValid())
			assert.Equal(t, tt.want, r.Errors[0].Path[:len(tt.want)])
		})
	}
}

func TestLoadSeeds_Glob(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.yaml"), "kind: http\nid: b\npath: /b\norder: 1\ncode: x\n")
	writeFile(t, filepath.Join(dir, "nested", "deep", "a.yaml"), "kind: tcp\nid: t\ncode: send(data)\nenabled: false\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	seeds, err := LoadSeeds(filepath.Join(dir, "**", "*.yaml"))
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	ids := []string{seeds[0].ID, seeds[1].ID}
	assert.ElementsMatch(t, []string{"b", "t"}, ids)
	for _, s := range seeds {
		if s.Kind == KindTCP {
			assert.False(t, s.TCPHandler().Enabled)
		}
	}
}

func TestLoadSeeds_ReportsEveryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "one.yaml"), "kind: http\nid: a\ncode: x\n")
	writeFile(t, filepath.Join(dir, "two.yaml"), "kind: tcp\nid: b\n")

	_, err := LoadSeeds(filepath.Join(dir, "*.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one.yaml#0")
	assert.Contains(t, err.Error(), "two.yaml#0")
}

func TestLoadSeeds_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "kind: http\nid: same\npath: /a\ncode: x\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "kind: http\nid: same\npath: /b\norder: 1\ncode: x\n")

	_, err := LoadSeeds(filepath.Join(dir, "*.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already declared")
}

func TestLoadSeeds_NoMatches(t *testing.T) {
	seeds, err := LoadSeeds(filepath.Join(t.TempDir(), "**", "*.yaml"))
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

func TestApplySeeds_Upserts(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()

	r := &ValidationResult{}
	seeds := ParseSeeds("s.yaml", []byte(`
handlers:
  - {kind: http, id: a, path: /a, order: 0, code: "x"}
  - {kind: http, id: b, path: /b, order: 1, code: "y"}
  - {kind: tcp, id: t, code: "send(data)"}
`), r)
	require.True(t, r.IsValid(), r.Error())

	res, err := ApplySeeds(ctx, st.Handlers(), seeds)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{HTTP: 2, TCP: 1}, res)

	first, err := st.Handlers().GetHTTP(ctx, "a")
	require.NoError(t, err)

	// Applying again updates in place.
	_, err = ApplySeeds(ctx, st.Handlers(), seeds)
	require.NoError(t, err)
	list, err := st.Handlers().ListHTTP(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	again, err := st.Handlers().GetHTTP(ctx, "a")
	require.NoError(t, err)
	assert.NotEqual(t, first.VersionID, again.VersionID)

	active, err := st.Handlers().ActiveTCP(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t", active.ID)
}

func TestApplySeeds_DuplicateOrder(t *testing.T) {
	st := storage.NewMemoryStore()
	seeds := []*Seed{
		{Kind: KindHTTP, ID: "a", Path: "/a", Code: "x", Source: "s#0"},
		{Kind: KindHTTP, ID: "b", Path: "/b", Code: "x", Source: "s#1"},
	}
	res, err := ApplySeeds(context.Background(), st.Handlers(), seeds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s#1")
	assert.Equal(t, 1, res.HTTP)
}
