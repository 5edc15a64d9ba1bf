// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	asyncexecutor "github.com/buke/async-executor"
	gojaengine "github.com/buke/async-executor/engines/goja"
	quickjsengine "github.com/buke/async-executor/engines/quickjs-go"
	"github.com/spf13/cobra"
)

// defaultScript is loaded when no --file is given.
const defaultScript = `
function hello(name) { return "Hello, " + (name || "World") + "!"; }
async function add(a, b) { return a + b; }
`

// engineFactories maps --engine values to engine factories.
var engineFactories = map[string]func() asyncexecutor.ScriptEngineFactory{
	"goja": func() asyncexecutor.ScriptEngineFactory {
		return gojaengine.NewFactory(gojaengine.WithEnableConsole())
	},
	"quickjs": func() asyncexecutor.ScriptEngineFactory {
		return quickjsengine.NewFactory(quickjsengine.WithCanBlock(true))
	},
}

var (
	scriptEngine  string
	scriptFile    string
	scriptRepeat  int
	scriptTimeout time.Duration
)

var scriptCmd = &cobra.Command{
	Use:   "script [function] [args...]",
	Short: "Call a JavaScript function through the script pool",
	Long: `Call a JavaScript function on a pool of engine threads. Each call is a
future awaited by its own task on the executor. Arguments are parsed as JSON
when possible and passed as strings otherwise.`,
	Args: cobra.ArbitraryArgs,
	RunE: runScript,
}

func init() {
	scriptCmd.Flags().StringVarP(&scriptEngine, "engine", "e", "goja", "Script engine: goja, quickjs or v8")
	scriptCmd.Flags().StringVarP(&scriptFile, "file", "f", "", "JavaScript file to load instead of the built-in script")
	scriptCmd.Flags().IntVarP(&scriptRepeat, "repeat", "n", 1, "Number of concurrent calls")
	scriptCmd.Flags().DurationVar(&scriptTimeout, "timeout", 30*time.Second, "Timeout for each call")
}

func engineNames() []string {
	names := make([]string, 0, len(engineFactories))
	for name := range engineFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadScript() (*asyncexecutor.Script, error) {
	if scriptFile == "" {
		return &asyncexecutor.Script{FileName: "demo.js", Content: defaultScript}, nil
	}
	content, err := os.ReadFile(scriptFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return &asyncexecutor.Script{FileName: filepath.Base(scriptFile), Content: string(content)}, nil
}

// parseArgs decodes each argument as JSON, falling back to the raw string.
func parseArgs(args []string) []any {
	out := make([]any, len(args))
	for i, arg := range args {
		var v any
		if err := json.Unmarshal([]byte(arg), &v); err != nil {
			v = arg
		}
		out[i] = v
	}
	return out
}

func runScript(cmd *cobra.Command, args []string) error {
	newFactory, ok := engineFactories[scriptEngine]
	if !ok {
		return fmt.Errorf("unknown engine %q, expected one of %s", scriptEngine, strings.Join(engineNames(), ", "))
	}
	if scriptRepeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}
	script, err := loadScript()
	if err != nil {
		return err
	}

	function, callArgs := "hello", []any(nil)
	if len(args) > 0 {
		function, callArgs = args[0], parseArgs(args[1:])
	}

	pool, err := asyncexecutor.NewScriptPool(
		asyncexecutor.WithScriptEngine(newFactory()),
		asyncexecutor.WithScripts(script),
		asyncexecutor.WithPoolLogger(slog.Default()),
		asyncexecutor.WithMinPoolSize(1),
		asyncexecutor.WithExecuteTimeout(scriptTimeout),
	)
	if err != nil {
		return err
	}
	if err := pool.Start(); err != nil {
		return err
	}
	defer pool.Stop()

	executor, spawner := asyncexecutor.NewExecutorAndSpawner(
		asyncexecutor.WithLogger(slog.Default()),
		asyncexecutor.WithName("script"),
	)

	handles := make([]*asyncexecutor.JoinHandle[asyncexecutor.ScriptResult], scriptRepeat)
	for i := range handles {
		call := &asyncexecutor.ScriptCall{
			Id:       fmt.Sprintf("call-%d", i+1),
			Function: function,
			Args:     callArgs,
		}
		handles[i] = asyncexecutor.SpawnWithHandle[asyncexecutor.ScriptResult](spawner, pool.Call(call))
	}
	spawner.Close()
	executor.Run()

	out := cmd.OutOrStdout()
	var failed int
	for _, h := range handles {
		res := h.Wait()
		if res.Err != nil {
			failed++
			fmt.Fprintf(out, "%s error: %v\n", res.Id, res.Err)
			continue
		}
		value, err := json.Marshal(res.Value)
		if err != nil {
			value = []byte(fmt.Sprint(res.Value))
		}
		fmt.Fprintf(out, "%s [%s] %s\n", res.Id, res.Thread, value)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d calls failed", failed, len(handles))
	}
	return nil
}
