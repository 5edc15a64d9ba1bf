// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// Engine implements asyncexecutor.ScriptEngine using the Goja JS engine.
// The runtime is owned by an event loop, which serializes access to it and
// provides timers, so calls may return promises settled by setTimeout.
type Engine struct {
	Loop   *eventloop.EventLoop // The event loop that owns the runtime
	Option *EngineOption        // Engine configuration options
	opts   []Option             // Original options, reapplied by Reload
}

// Option configures a Goja engine.
type Option func(*Engine) error

// NewFactory returns a factory creating Goja engines with the given options.
func NewFactory(opts ...Option) asyncexecutor.ScriptEngineFactory {
	return func() (asyncexecutor.ScriptEngine, error) {
		return newEngine(opts...)
	}
}

// newEngine creates a Goja engine with a started event loop.
func newEngine(opts ...Option) (*Engine, error) {
	loop := eventloop.NewEventLoop()

	e := &Engine{
		Loop:   loop,
		Option: &EngineOption{},
		opts:   opts,
	}

	// Options run on the loop, so it must be started first
	loop.Start()

	// JSON field names by default; options may override it
	if err := WithFieldNameMapper(goja.TagFieldNameMapper("json", true))(e); err != nil {
		loop.Stop()
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			loop.Stop()
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	return e, nil
}

// runOnLoop runs fn on the event loop and waits for it.
func (e *Engine) runOnLoop(fn func(vm *goja.Runtime) error) error {
	done := make(chan error, 1)
	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		done <- fn(vm)
	})
	return <-done
}

// Load runs scripts on the engine's event loop.
func (e *Engine) Load(scripts []*asyncexecutor.Script) error {
	return e.runOnLoop(func(vm *goja.Runtime) error {
		for _, script := range scripts {
			if _, err := vm.RunScript(script.FileName, script.Content); err != nil {
				return fmt.Errorf("failed to execute script %s: %w", script.FileName, err)
			}
		}
		return nil
	})
}

// Reload replaces the event loop with a fresh one and loads scripts into it.
func (e *Engine) Reload(scripts []*asyncexecutor.Script) error {
	e.Close()

	newE, err := newEngine(e.opts...)
	if err != nil {
		return fmt.Errorf("failed to create new engine on reload: %w", err)
	}
	e.Loop = newE.Loop
	e.Option = newE.Option

	return e.Load(scripts)
}

// Call invokes a global function on the event loop. A returned promise (or
// any thenable) is awaited on the loop.
func (e *Engine) Call(call *asyncexecutor.ScriptCall) (any, error) {
	if call == nil {
		return nil, fmt.Errorf("call cannot be nil")
	}

	resultChan := make(chan any, 1)
	errorChan := make(chan error, 1)

	e.Loop.RunOnLoop(func(vm *goja.Runtime) {
		fn, ok := goja.AssertFunction(vm.Get(call.Function))
		if !ok {
			errorChan <- fmt.Errorf("function %q is not defined", call.Function)
			return
		}

		args := make([]goja.Value, len(call.Args))
		for i, arg := range call.Args {
			args[i] = vm.ToValue(arg)
		}

		res, err := fn(goja.Undefined(), args...)
		if err != nil {
			errorChan <- fmt.Errorf("failed to call %s: %w", call.Function, err)
			return
		}

		// ToObject panics on null or undefined
		if goja.IsUndefined(res) || goja.IsNull(res) {
			resultChan <- nil
			return
		}

		obj := res.ToObject(vm)
		then, ok := goja.AssertFunction(obj.Get("then"))
		if !ok {
			resultChan <- res.Export()
			return
		}

		onSuccess := func(c goja.FunctionCall) goja.Value {
			resultChan <- c.Argument(0).Export()
			return goja.Undefined()
		}
		onError := func(c goja.FunctionCall) goja.Value {
			errorChan <- fmt.Errorf("js execution error: %s", c.Argument(0).String())
			return goja.Undefined()
		}
		if _, err := then(obj, vm.ToValue(onSuccess), vm.ToValue(onError)); err != nil {
			errorChan <- fmt.Errorf("failed to invoke promise.then: %w", err)
		}
	})

	select {
	case v := <-resultChan:
		return v, nil
	case err := <-errorChan:
		return nil, err
	}
}

// Close stops the event loop.
func (e *Engine) Close() error {
	if e.Loop != nil {
		e.Loop.Stop()
	}
	return nil
}
