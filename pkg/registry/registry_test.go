package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/hookd/internal/storage"
	"github.com/getmockd/hookd/pkg/handler"
)

func h(id, method, path string, order int) *handler.Handler {
	return &handler.Handler{ID: id, Method: method, Path: path, Code: "x", Order: order}
}

func ids(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Handler.ID
	}
	return out
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		ok      bool
		params  map[string]string
	}{
		{"*", "/anything", true, map[string]string{}},
		{"/foo", "/foo", true, map[string]string{}},
		{"/foo", "/foo/bar", true, map[string]string{}},
		{"/foo", "/foobar", true, map[string]string{}},
		{"/foo", "/fo", false, nil},
		{"/foo/:id", "/foo/bar", true, map[string]string{"id": "bar"}},
		{"/foo/:id", "/foo/bar/baz", true, map[string]string{"id": "bar"}},
		{"/foo/:id", "/foo", false, nil},
		{"/foo/:id", "/foo/", false, nil},
		{"/orders/:order/items/:item", "/orders/7/items/3", true, map[string]string{"order": "7", "item": "3"}},
		{"/orders/:order/items", "/orders/7/items-archive", true, map[string]string{"order": "7"}},
		{"/orders/:order/items", "/orders/7/lines", false, nil},
		{"/a/:x/b", "/c/1/b", false, nil},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			params, ok := MatchPath(tt.pattern, tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.params, params)
			}
		})
	}
}

func TestSelect_Candidates(t *testing.T) {
	handlers := []*handler.Handler{
		h("get-foo", "GET", "/foo", 0),
		h("post-foo", "POST", "/foo", 1),
		h("any-foo", "*", "/foo", 2),
		h("other", "GET", "/other", 3),
	}
	got := Select(handlers, "GET", "/foo/bar")
	assert.ElementsMatch(t, []string{"get-foo", "any-foo"}, ids(got))
}

func TestSelect_Precedence(t *testing.T) {
	handlers := []*handler.Handler{
		h("wild-path", "GET", "*", 0),
		h("short-any", "*", "/foo", 1),
		h("short-get", "GET", "/foo", 2),
		h("long", "GET", "/foo/bar", 3),
		h("short-get-b", "GET", "/foo", 4),
		h("wild-all", "*", "*", 5),
	}
	got := Select(handlers, "GET", "/foo/bar")
	assert.Equal(t, []string{"wild-all", "wild-path", "short-any", "short-get", "short-get-b", "long"}, ids(got))
}

func TestSelect_OrderBreaksTies(t *testing.T) {
	handlers := []*handler.Handler{h("b", "GET", "/x", 9), h("a", "GET", "/x", 1)}
	assert.Equal(t, []string{"a", "b"}, ids(Select(handlers, "GET", "/x")))
}

func TestSelect_OrderBreaksTiesAfterSpecificity(t *testing.T) {
	handlers := []*handler.Handler{
		h("get-2", "GET", "/x", 2),
		h("any", "*", "/x", 0),
		h("get-1", "GET", "/x", 1),
	}
	assert.Equal(t, []string{"any", "get-1", "get-2"}, ids(Select(handlers, "GET", "/x")))
}

func TestSelect_MethodCaseInsensitive(t *testing.T) {
	got := Select([]*handler.Handler{h("a", "GET", "/", 0)}, "get", "/")
	assert.Len(t, got, 1)
}

func TestSelect_Params(t *testing.T) {
	got := Select([]*handler.Handler{h("p", "GET", "/foo/:id", 0)}, "GET", "/foo/bar")
	require.Len(t, got, 1)
	assert.Equal(t, "bar", got[0].Params["id"])
}

func TestRegistry_AgainstStore(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	r := New(s.Handlers())

	matches, err := r.MatchHTTP(ctx, "GET", "/")
	require.NoError(t, err)
	assert.Empty(t, matches)

	require.NoError(t, s.Handlers().SaveHTTP(ctx, &handler.Handler{Method: "*", Path: "*", Code: "x"}))
	matches, err = r.MatchHTTP(ctx, "DELETE", "/x")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	active, err := r.ActiveTCP(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, s.Handlers().SaveTCP(ctx, &handler.TCPHandler{Code: "x", Enabled: true}))
	active, err = r.ActiveTCP(ctx)
	require.NoError(t, err)
	assert.NotNil(t, active)
}
