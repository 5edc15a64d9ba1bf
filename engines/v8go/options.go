//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package v8engine

import "fmt"

// EngineOption holds V8 specific settings. V8 is configured through the
// isolate, so there are none yet.
type EngineOption struct{}

// WithCallScript replaces the call dispatcher. The script must evaluate to a
// function taking the JSON encoded call and returning a promise of
// {value: result}.
func WithCallScript(script string) Option {
	return func(e *Engine) error {
		if script == "" {
			return fmt.Errorf("call script cannot be empty")
		}
		e.CallScript = script
		return nil
	}
}
