package events

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Filter is a compiled boolean expression over an event, for example
//
//	type startsWith "tcp_connection" && payload.status == "closed"
//
// The expression sees `type`, `payload`, `id` and `status`.
type Filter struct {
	source  string
	program *vm.Program
}

func filterEnv(ev Event) map[string]any {
	env := map[string]any{
		"type":    ev.Type,
		"payload": ev.Payload,
		"id":      "",
		"status":  "",
	}
	if ev.Payload != nil {
		if v, ok := ev.Payload["id"]; ok {
			env["id"] = v
		}
		if v, ok := ev.Payload["status"]; ok {
			env["status"] = v
		}
	}
	return env
}

// CompileFilter compiles src. An empty source yields a nil Filter, which
// matches everything.
func CompileFilter(src string) (*Filter, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	program, err := expr.Compile(src, expr.Env(filterEnv(Event{Payload: map[string]any{}})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", src, err)
	}
	return &Filter{source: src, program: program}, nil
}

// Match reports whether ev passes the filter. Evaluation errors count as
// no match.
func (f *Filter) Match(ev Event) bool {
	if f == nil {
		return true
	}
	out, err := expr.Run(f.program, filterEnv(ev))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

// String returns the filter source.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}
