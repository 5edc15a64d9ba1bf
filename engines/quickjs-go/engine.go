// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package quickjsengine

import (
	"fmt"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/buke/quickjs-go"
)

// callScript evaluates to the function that performs a ScriptCall. Wrapping
// the result in an object lets Unmarshal handle any JSON value.
const callScript = `(async (call) => ({ value: await globalThis[call.function](...(call.args || [])) }))`

// Engine is a QuickJS runtime and context implementing asyncexecutor.ScriptEngine.
type Engine struct {
	Runtime    *quickjs.Runtime // QuickJS runtime instance
	Ctx        *quickjs.Context // QuickJS context instance
	Option     *EngineOption    // Engine configuration options
	CallScript string           // Script evaluating to the call dispatcher
	opts       []Option         // Original options, reapplied by Reload
}

// Option configures a QuickJS engine.
type Option func(*Engine) error

// NewFactory returns a factory creating QuickJS engines with the given options.
func NewFactory(opts ...Option) asyncexecutor.ScriptEngineFactory {
	return func() (asyncexecutor.ScriptEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates a runtime and context and applies opts.
func newEngine(opts ...Option) (*Engine, error) {
	rt := quickjs.NewRuntime()

	e := &Engine{
		Runtime: rt,
		Ctx:     rt.NewContext(),
		Option: &EngineOption{
			MemoryLimit:        0,     // No limit
			GCThreshold:        -1,    // No threshold
			Timeout:            0,     // No timeout
			MaxStackSize:       0,     // Default stack size
			CanBlock:           false, // Blocking not allowed
			EnableModuleImport: false, // Module import disabled
			Strip:              1,     // Default strip behavior
		},
		CallScript: callScript,
		opts:       opts,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// Load evaluates scripts in order.
func (e *Engine) Load(scripts []*asyncexecutor.Script) error {
	for _, script := range scripts {
		v := e.Ctx.Eval(script.Content, quickjs.EvalFileName(script.FileName), quickjs.EvalAwait(true))
		failed := v.IsException()
		v.Free()
		if failed {
			return fmt.Errorf("failed to execute script %s: %w", script.FileName, e.Ctx.Exception())
		}
	}
	return nil
}

// Reload replaces the runtime and context, reapplies the options and loads
// scripts.
func (e *Engine) Reload(scripts []*asyncexecutor.Script) error {
	e.Close()

	e.Runtime = quickjs.NewRuntime()
	e.Ctx = e.Runtime.NewContext()

	for _, opt := range e.opts {
		if err := opt(e); err != nil {
			e.Close()
			return fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e.Load(scripts)
}

// Call invokes a global function, awaiting a returned promise.
func (e *Engine) Call(call *asyncexecutor.ScriptCall) (any, error) {
	if call == nil {
		return nil, fmt.Errorf("call cannot be nil")
	}

	fn := e.Ctx.Eval(e.CallScript, quickjs.EvalFileName("call.js"))
	defer fn.Free()
	if fn.IsException() {
		return nil, fmt.Errorf("failed to evaluate call script: %w", e.Ctx.Exception())
	}

	jsCall, err := e.Ctx.Marshal(call)
	defer jsCall.Free()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call: %w", err)
	}

	jsResult := fn.Execute(e.Ctx.Null(), jsCall).Await()
	defer jsResult.Free()
	if jsResult.IsException() {
		return nil, fmt.Errorf("failed to call %s: %w", call.Function, e.Ctx.Exception())
	}

	var out struct {
		Value any `json:"value"`
	}
	if err := e.Ctx.Unmarshal(jsResult, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return out.Value, nil
}

// Close releases the context and the runtime.
func (e *Engine) Close() error {
	if e.Ctx != nil {
		e.Ctx.Close()
		e.Ctx = nil
	}
	if e.Runtime != nil {
		e.Runtime.Close()
		e.Runtime = nil
	}
	return nil
}
