// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
)

// EngineOption holds configuration for a Goja engine instance.
type EngineOption struct {
	MaxCallStackSize int
	EnableConsole    bool
	EnableRequire    bool
	FieldNameMapper  goja.FieldNameMapper
}

// WithMaxCallStackSize sets the maximum call stack size for the runtime.
func WithMaxCallStackSize(size int) Option {
	return func(e *Engine) error {
		e.Option.MaxCallStackSize = size
		return e.runOnLoop(func(vm *goja.Runtime) error {
			vm.SetMaxCallStackSize(size)
			return nil
		})
	}
}

// WithEnableConsole enables the console object (console.log, etc.).
func WithEnableConsole() Option {
	return func(e *Engine) error {
		e.Option.EnableConsole = true
		return e.runOnLoop(func(vm *goja.Runtime) error {
			console.Enable(vm)
			return nil
		})
	}
}

// WithRequire enables require() for loading CommonJS modules.
func WithRequire() Option {
	return func(e *Engine) error {
		e.Option.EnableRequire = true
		return e.runOnLoop(func(vm *goja.Runtime) error {
			new(require.Registry).Enable(vm)
			return nil
		})
	}
}

// WithFieldNameMapper sets how Go struct fields are named in JavaScript.
// A nil mapper is ignored.
func WithFieldNameMapper(mapper goja.FieldNameMapper) Option {
	return func(e *Engine) error {
		if mapper == nil {
			return nil
		}
		e.Option.FieldNameMapper = mapper
		return e.runOnLoop(func(vm *goja.Runtime) error {
			vm.SetFieldNameMapper(mapper)
			return nil
		})
	}
}
