//go:build !windows

// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	asyncexecutor "github.com/buke/async-executor"
	v8engine "github.com/buke/async-executor/engines/v8go"
)

func init() {
	engineFactories["v8"] = func() asyncexecutor.ScriptEngineFactory {
		return v8engine.NewFactory()
	}
}
