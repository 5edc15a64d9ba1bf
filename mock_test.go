// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockEngine is a ScriptEngine whose behavior is set per test. By default
// Call echoes its first argument, or the function name without arguments.
type mockEngine struct {
	loadFunc  func(scripts []*Script) error
	callFunc  func(call *ScriptCall) (any, error)
	closeFunc func() error

	loads  atomic.Int32
	closed atomic.Bool
}

func (m *mockEngine) Load(scripts []*Script) error {
	m.loads.Add(1)
	if m.loadFunc != nil {
		return m.loadFunc(scripts)
	}
	return nil
}

func (m *mockEngine) Call(call *ScriptCall) (any, error) {
	if m.callFunc != nil {
		return m.callFunc(call)
	}
	if len(call.Args) > 0 {
		return call.Args[0], nil
	}
	return call.Function, nil
}

func (m *mockEngine) Close() error {
	m.closed.Store(true)
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

func mockEngineFactory() ScriptEngineFactory {
	return func() (ScriptEngine, error) {
		return &mockEngine{}, nil
	}
}

// engineFactoryOf returns a factory handing out copies of the behavior of m.
func engineFactoryOf(m *mockEngine) ScriptEngineFactory {
	return func() (ScriptEngine, error) {
		return &mockEngine{loadFunc: m.loadFunc, callFunc: m.callFunc, closeFunc: m.closeFunc}, nil
	}
}

// newTestJob returns a job for call whose completion signals the returned
// channel.
func newTestJob(call *ScriptCall) (*scriptJob, <-chan struct{}) {
	woken := make(chan struct{}, 1)
	state := &scriptState{waker: WakerFunc(func() { woken <- struct{}{} })}
	return &scriptJob{call: call, state: state}, woken
}

func waitJob(t *testing.T, job *scriptJob, woken <-chan struct{}) ScriptResult {
	t.Helper()
	select {
	case <-woken:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not finish")
	}
	job.state.mu.Lock()
	defer job.state.mu.Unlock()
	require.True(t, job.state.done)
	return job.state.result
}

func newTestPool(t *testing.T, opts ...func(*ScriptPool)) *ScriptPool {
	t.Helper()
	opts = append([]func(*ScriptPool){WithPoolLogger(nil)}, opts...)
	p, err := NewScriptPool(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { p.Stop() })
	return p
}

func newStartedPool(t *testing.T, opts ...func(*ScriptPool)) *ScriptPool {
	t.Helper()
	p := newTestPool(t, opts...)
	require.NoError(t, p.Start())
	return p
}

func echoCall(id string) *ScriptCall {
	return &ScriptCall{Id: id, Function: "echo", Args: []any{fmt.Sprintf("value-%s", id)}}
}
