// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package gojaengine

import (
	"fmt"
	"testing"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
)

func loadEngine(t *testing.T, content string) *Engine {
	t.Helper()
	engine, err := newEngine()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	err = engine.Load([]*asyncexecutor.Script{{FileName: "test.js", Content: content}})
	require.NoError(t, err)
	return engine
}

func TestNewFactory(t *testing.T) {
	factory := NewFactory()
	require.NotNil(t, factory)

	engine, err := factory()
	require.NoError(t, err)
	require.NotNil(t, engine)
	defer engine.Close()

	_, ok := engine.(*Engine)
	require.True(t, ok)
}

func TestNewFactory_OptionError(t *testing.T) {
	errorOption := func(*Engine) error {
		return fmt.Errorf("a deliberate config error")
	}
	_, err := NewFactory(errorOption)()
	require.Error(t, err)
	require.Contains(t, err.Error(), "a deliberate config error")
}

func TestEngine_Load(t *testing.T) {
	engine := loadEngine(t, "var a = 10;")

	done := make(chan goja.Value, 1)
	engine.Loop.RunOnLoop(func(vm *goja.Runtime) {
		done <- vm.Get("a")
	})
	require.Equal(t, int64(10), (<-done).Export())
}

func TestEngine_Load_Error(t *testing.T) {
	engine, err := newEngine()
	require.NoError(t, err)
	defer engine.Close()

	err = engine.Load([]*asyncexecutor.Script{{FileName: "error.js", Content: "var a =;"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to execute script error.js")
}

func TestEngine_Reload(t *testing.T) {
	engine := loadEngine(t, "var a = 1;")

	err := engine.Reload([]*asyncexecutor.Script{{FileName: "b.js", Content: "var b = 2;"}})
	require.NoError(t, err)

	done := make(chan []goja.Value, 1)
	engine.Loop.RunOnLoop(func(vm *goja.Runtime) {
		done <- []goja.Value{vm.Get("a"), vm.Get("b")}
	})
	values := <-done
	require.Nil(t, values[0], "a fresh runtime should not know a")
	require.Equal(t, int64(2), values[1].Export())
}

func TestEngine_Call_Nil(t *testing.T) {
	engine := loadEngine(t, "")

	_, err := engine.Call(nil)
	require.Error(t, err)
	require.Equal(t, "call cannot be nil", err.Error())
}

func TestEngine_Call_UndefinedFunction(t *testing.T) {
	engine := loadEngine(t, "")

	_, err := engine.Call(&asyncexecutor.ScriptCall{Function: "missing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), `function "missing" is not defined`)
}

func TestEngine_Call_Throws(t *testing.T) {
	engine := loadEngine(t, "function boom() { throw new Error('kaboom'); }")

	_, err := engine.Call(&asyncexecutor.ScriptCall{Function: "boom"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to call boom")
	require.Contains(t, err.Error(), "kaboom")
}

func TestEngine_Call_Sync(t *testing.T) {
	engine := loadEngine(t, "function hello(name) { return 'Hello, ' + name; }")

	v, err := engine.Call(&asyncexecutor.ScriptCall{Function: "hello", Args: []any{"World"}})
	require.NoError(t, err)
	require.Equal(t, "Hello, World", v)
}

func TestEngine_Call_Object(t *testing.T) {
	engine := loadEngine(t, "function obj() { return { message: 'not a promise' }; }")

	v, err := engine.Call(&asyncexecutor.ScriptCall{Function: "obj"})
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "not a promise", m["message"])
}

func TestEngine_Call_Undefined(t *testing.T) {
	engine := loadEngine(t, "function nothing() {}")

	v, err := engine.Call(&asyncexecutor.ScriptCall{Function: "nothing"})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestEngine_Call_Async(t *testing.T) {
	engine := loadEngine(t, "async function hello(name) { return 'Hello, ' + name; }")

	v, err := engine.Call(&asyncexecutor.ScriptCall{Function: "hello", Args: []any{"Async World"}})
	require.NoError(t, err)
	require.Equal(t, "Hello, Async World", v)
}

func TestEngine_Call_Timer(t *testing.T) {
	engine := loadEngine(t, `
function later(v) {
	return new Promise(resolve => setTimeout(() => resolve(v), 10));
}`)

	v, err := engine.Call(&asyncexecutor.ScriptCall{Function: "later", Args: []any{"tick"}})
	require.NoError(t, err)
	require.Equal(t, "tick", v)
}

func TestEngine_Call_RejectedPromise(t *testing.T) {
	engine := loadEngine(t, "function fail() { return Promise.reject('a serious error'); }")

	_, err := engine.Call(&asyncexecutor.ScriptCall{Function: "fail"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "js execution error: a serious error")
}

func TestEngine_Call_BrokenThen(t *testing.T) {
	engine := loadEngine(t, `
function broken() {
	return { then: function() { throw new Error('I am a broken .then method'); } };
}`)

	_, err := engine.Call(&asyncexecutor.ScriptCall{Function: "broken"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to invoke promise.then")
}
