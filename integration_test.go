// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package asyncexecutor_test

import (
	"fmt"
	"testing"
	"time"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/stretchr/testify/require"
)

const helloScript = `
function hello(name) { return "Hello, " + name + "!"; }
async function helloLater(name) { return await Promise.resolve("Later, " + name + "!"); }
function fail(msg) { throw new Error(msg); }
`

func newIntegrationPool(t *testing.T, factory asyncexecutor.ScriptEngineFactory) *asyncexecutor.ScriptPool {
	t.Helper()
	pool, err := asyncexecutor.NewScriptPool(
		asyncexecutor.WithScriptEngine(factory),
		asyncexecutor.WithScripts(&asyncexecutor.Script{FileName: "hello.js", Content: helloScript}),
		asyncexecutor.WithPoolLogger(nil),
		asyncexecutor.WithMinPoolSize(2),
		asyncexecutor.WithMaxPoolSize(4),
		asyncexecutor.WithQueueSize(4),
	)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { pool.Stop() })
	return pool
}

// testEngineIntegration drives script calls on the given engine through an
// executor, mixing them with timers on the same run loop.
func testEngineIntegration(t *testing.T, name string, factory asyncexecutor.ScriptEngineFactory) {
	pool := newIntegrationPool(t, factory)

	t.Run("Call", func(t *testing.T) {
		res := asyncexecutor.BlockOn[asyncexecutor.ScriptResult](pool.CallFunction("hello", name))
		require.NoError(t, res.Err)
		require.Equal(t, fmt.Sprintf("Hello, %s!", name), res.Value)
	})

	t.Run("Promise", func(t *testing.T) {
		res := asyncexecutor.BlockOn[asyncexecutor.ScriptResult](pool.CallFunction("helloLater", name))
		require.NoError(t, res.Err)
		require.Equal(t, fmt.Sprintf("Later, %s!", name), res.Value)
	})

	t.Run("Error", func(t *testing.T) {
		res := asyncexecutor.BlockOn[asyncexecutor.ScriptResult](pool.CallFunction("fail", "broken"))
		require.ErrorContains(t, res.Err, "broken")
	})

	t.Run("Reload", func(t *testing.T) {
		p := newIntegrationPool(t, factory)
		require.NoError(t, p.Reload(&asyncexecutor.Script{
			FileName: "hello.js",
			Content:  `function hello(name) { return "Hi, " + name + "!"; }`,
		}))
		for i := 0; i < 4; i++ {
			res := asyncexecutor.BlockOn[asyncexecutor.ScriptResult](p.CallFunction("hello", name))
			require.NoError(t, res.Err)
			require.Equal(t, fmt.Sprintf("Hi, %s!", name), res.Value)
		}
	})

	t.Run("Executor", func(t *testing.T) {
		const tasks = 256
		executor, spawner := asyncexecutor.NewExecutorAndSpawner(asyncexecutor.WithLogger(nil))

		handles := make([]*asyncexecutor.JoinHandle[asyncexecutor.ScriptResult], tasks)
		for i := range handles {
			call := &asyncexecutor.ScriptCall{
				Id:       fmt.Sprintf("%s-%d", name, i),
				Function: "hello",
				Args:     []any{fmt.Sprintf("%sUser%d", name, i)},
			}
			handles[i] = asyncexecutor.SpawnWithHandle[asyncexecutor.ScriptResult](spawner, pool.Call(call))
		}
		timer := asyncexecutor.SpawnWithHandle[asyncexecutor.Unit](spawner, asyncexecutor.NewTimerFuture(10*time.Millisecond))
		spawner.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			executor.Run()
		}()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			t.Fatal("executor did not terminate")
		}

		<-timer.Done()
		for i, h := range handles {
			res := h.Wait()
			require.NoError(t, res.Err, "task %d failed", i)
			require.Equal(t, fmt.Sprintf("%s-%d", name, i), res.Id)
			require.Equal(t, fmt.Sprintf("Hello, %sUser%d!", name, i), res.Value)
		}
		require.Equal(t, uint64(tasks+1), executor.Stats().Completed)
	})
}
