package script

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/getmockd/hookd/pkg/logging"
)

//go:embed prelude.js
var preludeSource string

var (
	preludeOnce    sync.Once
	preludeProgram *goja.Program
	preludeErr     error
	classesJSON    string
)

func prelude() (*goja.Program, error) {
	preludeOnce.Do(func() {
		preludeProgram, preludeErr = goja.Compile("prelude.js", preludeSource, true)
		data, _ := json.Marshal(errorClasses)
		classesJSON = string(data)
	})
	return preludeProgram, preludeErr
}

// maxCachedPrograms bounds the compiled-script cache.
const maxCachedPrograms = 512

// Func is a Go callback exposed to scripts. Arguments arrive exported to Go
// values; a returned error is thrown into the script.
type Func func(args ...any) (any, error)

// Bindings are the values injected into one execution.
type Bindings struct {
	// Frozen values are deep-frozen before the script runs.
	Frozen map[string]any

	// Mutable values are read back into Result.Mutated after a successful
	// run. A dotted key such as "ctx.locals" attaches the value as a
	// property of the Frozen value "ctx" and exempts it from freezing.
	Mutable map[string]any

	// Funcs are exposed as global functions.
	Funcs map[string]Func
}

// Result is the outcome of one execution.
type Result struct {
	// Console holds the captured console lines in call order.
	Console []string

	// Mutated holds the final JSON of each Mutable binding. It is only
	// populated when the run succeeds.
	Mutated map[string]json.RawMessage

	// Value is the JSON of the script's return value, if any.
	Value json.RawMessage

	Duration time.Duration
}

// ConsoleOutput returns the newline-joined console lines, or nil when the
// script printed nothing.
func (r *Result) ConsoleOutput() *string {
	if r == nil || len(r.Console) == 0 {
		return nil
	}
	s := strings.Join(r.Console, "\n")
	return &s
}

// Executor runs handler scripts.
type Executor struct {
	timeout time.Duration
	log     *slog.Logger

	programMu    sync.RWMutex
	programCache map[string]*goja.Program
}

// Option configures an Executor.
type Option func(*Executor)

// WithTimeout bounds every run. Zero disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Executor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		log:          logging.Nop(),
		programCache: make(map[string]*goja.Program),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timeout returns the configured per-run deadline.
func (e *Executor) Timeout() time.Duration { return e.timeout }

// Run executes code with the given bindings. The returned Result is non-nil
// whenever the script started, even if err is non-nil, so callers can still
// record console output of failed runs.
func (e *Executor) Run(ctx context.Context, code string, b Bindings) (*Result, error) {
	start := time.Now()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	program, err := e.compile(code)
	if err != nil {
		return &Result{}, &ThrownError{Message: err.Error()}
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	res := &Result{}
	loop := newLoop(vm)
	defer loop.close()

	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ErrTimeout) })
	defer stop()

	run := func() error {
		helpers, err := e.installPrelude(vm, loop, res)
		if err != nil {
			return err
		}
		readBack, err := bind(vm, helpers, b)
		if err != nil {
			return err
		}

		fnVal, err := vm.RunProgram(program)
		if err != nil {
			return err
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			return errors.New("handler did not compile to a function")
		}
		ret, err := fn(goja.Undefined())
		if err != nil {
			return err
		}
		promise, ok := ret.Export().(*goja.Promise)
		if !ok {
			return errors.New("handler did not return a promise")
		}

		if err := loop.run(ctx, promise); err != nil {
			return err
		}

		switch promise.State() {
		case goja.PromiseStateRejected:
			return fromThrown(vm, promise.Result())
		case goja.PromiseStateFulfilled:
			res.Value = stringify(vm, promise.Result())
			res.Mutated, err = readBack()
			return err
		default:
			return ErrUnsettled
		}
	}

	err = run()
	res.Duration = time.Since(start)
	if err != nil {
		err = e.normalize(ctx, vm, err)
		e.log.Debug("handler script failed", "error", err, "duration", res.Duration)
	}
	return res, err
}

// normalize converts goja-level errors into the package taxonomy.
func (e *Executor) normalize(ctx context.Context, vm *goja.Runtime, err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return ErrTimeout
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		return fromThrown(vm, exc.Value())
	}
	var he *HandlerError
	var ae *AbortError
	var te *ThrownError
	if errors.As(err, &he) || errors.As(err, &ae) || errors.As(err, &te) ||
		errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnsettled) {
		return err
	}
	return &ThrownError{Message: err.Error()}
}

func (e *Executor) compile(code string) (*goja.Program, error) {
	e.programMu.RLock()
	if p, ok := e.programCache[code]; ok {
		e.programMu.RUnlock()
		return p, nil
	}
	e.programMu.RUnlock()

	p, err := goja.Compile("handler.js", "(async function () {\n"+code+"\n})", false)
	if err != nil {
		return nil, err
	}

	e.programMu.Lock()
	if existing, ok := e.programCache[code]; ok {
		e.programMu.Unlock()
		return existing, nil
	}
	if len(e.programCache) >= maxCachedPrograms {
		e.programCache = make(map[string]*goja.Program)
	}
	e.programCache[code] = p
	e.programMu.Unlock()
	return p, nil
}

func (e *Executor) installPrelude(vm *goja.Runtime, loop *loop, res *Result) (*goja.Object, error) {
	program, err := prelude()
	if err != nil {
		return nil, fmt.Errorf("compile prelude: %w", err)
	}
	factoryVal, err := vm.RunProgram(program)
	if err != nil {
		return nil, err
	}
	factory, ok := goja.AssertFunction(factoryVal)
	if !ok {
		return nil, errors.New("prelude is not a function")
	}

	emit := func(label, line string) {
		res.Console = append(res.Console, "["+label+"] "+line)
	}
	helpers, err := factory(goja.Undefined(), vm.ToValue(emit), vm.ToValue(loop.sleep), vm.ToValue(classesJSON))
	if err != nil {
		return nil, err
	}
	return helpers.ToObject(vm), nil
}

// bind injects b into vm and returns a function that reads the mutable
// values back as JSON.
func bind(vm *goja.Runtime, helpers *goja.Object, b Bindings) (func() (map[string]json.RawMessage, error), error) {
	parse, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("parse"))
	toJS := func(v any) (goja.Value, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return parse(goja.Undefined(), vm.ToValue(string(data)))
	}

	frozen := make(map[string]goja.Value, len(b.Frozen))
	for name, v := range b.Frozen {
		jv, err := toJS(v)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", name, err)
		}
		frozen[name] = jv
	}

	type attached struct {
		parent *goja.Object
		prop   string
	}
	mutableAt := make(map[string]attached, len(b.Mutable))
	var exempt []any
	for path, v := range b.Mutable {
		jv, err := toJS(v)
		if err != nil {
			return nil, fmt.Errorf("bind %s: %w", path, err)
		}
		exempt = append(exempt, jv)

		parentName, prop, dotted := strings.Cut(path, ".")
		if !dotted {
			if err := vm.Set(path, jv); err != nil {
				return nil, err
			}
			continue
		}
		parentVal, ok := frozen[parentName]
		if !ok {
			return nil, fmt.Errorf("bind %s: no frozen value %q", path, parentName)
		}
		parent := parentVal.ToObject(vm)
		if err := parent.Set(prop, jv); err != nil {
			return nil, err
		}
		mutableAt[path] = attached{parent: parent, prop: prop}
	}

	deepFreeze, _ := goja.AssertFunction(helpers.Get("deepFreeze"))
	exemptList := vm.NewArray(exempt...)
	for name, jv := range frozen {
		if _, err := deepFreeze(goja.Undefined(), jv, exemptList); err != nil {
			return nil, err
		}
		if err := vm.Set(name, jv); err != nil {
			return nil, err
		}
	}

	for name, fn := range b.Funcs {
		if err := vm.Set(name, wrapFunc(vm, fn)); err != nil {
			return nil, err
		}
	}

	return func() (map[string]json.RawMessage, error) {
		out := make(map[string]json.RawMessage, len(b.Mutable))
		for path := range b.Mutable {
			var v goja.Value
			if at, ok := mutableAt[path]; ok {
				v = at.parent.Get(at.prop)
			} else {
				v = vm.Get(path)
			}
			out[path] = stringify(vm, v)
		}
		return out, nil
	}, nil
}

func wrapFunc(vm *goja.Runtime, fn Func) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = a.Export()
		}
		out, err := fn(args...)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(out)
	}
}

// stringify returns the JSON encoding of v, or "null" when v has none.
func stringify(vm *goja.Runtime, v goja.Value) json.RawMessage {
	if v == nil || goja.IsUndefined(v) {
		return json.RawMessage("null")
	}
	fn, _ := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	out, err := fn(goja.Undefined(), v)
	if err != nil || out == nil || goja.IsUndefined(out) {
		return json.RawMessage("null")
	}
	return json.RawMessage(out.String())
}

// fromThrown classifies a value thrown (or rejected) by a script.
func fromThrown(vm *goja.Runtime, v goja.Value) error {
	if obj, ok := v.(*goja.Object); ok {
		var kind, name, message string
		var status int64
		if exc := vm.Try(func() {
			kind = propString(obj, "__kind")
			name = propString(obj, "name")
			message = propString(obj, "message")
			if s := obj.Get("status"); s != nil {
				status = s.ToInteger()
			}
		}); exc != nil {
			return &ThrownError{Message: exc.Error()}
		}

		switch kind {
		case "handler":
			if status < 400 || status > 599 {
				status = 500
			}
			k := KindForStatus(int(status))
			for _, c := range errorClasses {
				if c.Name == name {
					k = c.Kind
				}
			}
			return &HandlerError{Kind: k, Status: int(status), Message: message}
		case "abort":
			return &AbortError{Message: message}
		}
	}

	var msg string
	if exc := vm.Try(func() { msg = v.String() }); exc != nil {
		msg = exc.Error()
	}
	return &ThrownError{Message: msg}
}

func propString(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
