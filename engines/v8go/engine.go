//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import (
	"encoding/json"
	"fmt"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/tommie/v8go"
)

var (
	// Make these functions variables so they can be mocked in tests.
	v8NewIsolate  = v8go.NewIsolate
	v8NewContext  = v8go.NewContext
	jsonUnmarshal = json.Unmarshal
	v8NewValue    = v8go.NewValue
)

// callScript evaluates to a function taking a JSON encoded ScriptCall and
// returning a promise of {value: result}.
const callScript = `(function (raw) {
  const call = JSON.parse(raw);
  return (async () => ({ value: await globalThis[call.function](...(call.args || [])) }))();
})`

// Engine is a V8 isolate and context implementing asyncexecutor.ScriptEngine.
type Engine struct {
	// Iso is the V8 Isolate, exposed for advanced setup.
	Iso *v8go.Isolate

	// Ctx is the V8 Context, exposed for advanced setup.
	Ctx *v8go.Context

	Option *EngineOption

	// CallScript evaluates to the call dispatcher.
	CallScript string
}

// Option configures a V8 engine.
type Option func(*Engine) error

// NewFactory returns a factory creating V8 engines with the given options.
func NewFactory(opts ...Option) asyncexecutor.ScriptEngineFactory {
	return func() (asyncexecutor.ScriptEngine, error) {
		return newEngine(opts...)
	}
}

func newEngine(opts ...Option) (*Engine, error) {
	e := &Engine{
		Option:     &EngineOption{},
		CallScript: callScript,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	iso := v8NewIsolate()
	if iso == nil {
		return nil, fmt.Errorf("failed to create v8 isolate")
	}
	e.Iso = iso

	ctx := v8NewContext(iso)
	if ctx == nil {
		iso.Dispose()
		return nil, fmt.Errorf("failed to create v8 context")
	}
	e.Ctx = ctx

	return e, nil
}

// Load runs scripts in the current context.
func (e *Engine) Load(scripts []*asyncexecutor.Script) error {
	for _, script := range scripts {
		if _, err := e.Ctx.RunScript(script.Content, script.FileName); err != nil {
			return fmt.Errorf("failed to execute script %s: %w", script.FileName, err)
		}
	}
	return nil
}

// Reload replaces the context, keeping the isolate, and loads scripts.
func (e *Engine) Reload(scripts []*asyncexecutor.Script) error {
	if e.Ctx != nil {
		e.Ctx.Close()
	}

	ctx := v8NewContext(e.Iso)
	if ctx == nil {
		e.Ctx = nil
		return fmt.Errorf("failed to create new v8 context for reload")
	}
	e.Ctx = ctx

	return e.Load(scripts)
}

// Call invokes a global function. The call is passed to the dispatcher as a
// JSON string and the result comes back through MarshalJSON.
func (e *Engine) Call(call *asyncexecutor.ScriptCall) (any, error) {
	if call == nil {
		return nil, fmt.Errorf("call cannot be nil")
	}

	fnVal, err := e.Ctx.RunScript(e.CallScript, "call.js")
	if err != nil {
		return nil, fmt.Errorf("failed to run call script: %w", err)
	}
	fn, err := fnVal.AsFunction()
	if err != nil {
		return nil, fmt.Errorf("call script did not return a function")
	}

	raw, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("failed to json marshal call: %w", err)
	}
	arg, err := v8NewValue(e.Iso, string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create v8 value: %w", err)
	}

	promiseVal, err := fn.Call(e.Ctx.Global(), arg)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", call.Function, err)
	}
	promise, err := promiseVal.AsPromise()
	if err != nil {
		return nil, fmt.Errorf("call script did not return a promise: %w", err)
	}

	result := promise.Result()
	switch promise.State() {
	case v8go.Rejected:
		return nil, fmt.Errorf("js execution error: %s", result.String())
	case v8go.Pending:
		return nil, fmt.Errorf("function %s did not settle", call.Function)
	}

	data, _ := result.MarshalJSON()
	if len(data) == 0 {
		return nil, fmt.Errorf("failed to marshal result to json: result is empty")
	}

	var out struct {
		Value any `json:"value"`
	}
	if err := jsonUnmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return out.Value, nil
}

// Close releases the context and the isolate.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Iso != nil {
		e.Iso.Dispose()
		e.Iso = nil
	}
	return nil
}
