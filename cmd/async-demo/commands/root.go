// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package commands provides the CLI commands for async-demo.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/spf13/cobra"
)

var (
	unit    time.Duration
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "async-demo",
	Short: "Demos for the single-threaded async executor",
	Long: `async-demo runs small programs on the single-threaded async executor.

Every demo spawns futures onto one executor and returns once the executor
terminates. Durations are expressed in units, one second by default.

Usage:
  async-demo timer              Await a timer inside a task
  async-demo select             Race two timers
  async-demo race               Race five timers, report the winner
  async-demo delay              Busy-wake delay future
  async-demo script hello Bob   Call a JavaScript function
  async-demo version            Print version`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if unit <= 0 {
			return fmt.Errorf("--unit must be positive, got %s", unit)
		}
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(timerCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(raceCmd)
	rootCmd.AddCommand(delayCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().DurationVarP(&unit, "unit", "u", time.Second, "Length of one demo time unit")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// units converts n demo units to a duration.
func units(n int) time.Duration {
	return time.Duration(n) * unit
}

// runOnExecutor spawns fut on a new executor, closes the spawner and runs
// the executor until it terminates.
func runOnExecutor(name string, fut asyncexecutor.Future[asyncexecutor.Unit]) asyncexecutor.ExecutorStats {
	executor, spawner := asyncexecutor.NewExecutorAndSpawner(
		asyncexecutor.WithLogger(slog.Default()),
		asyncexecutor.WithName(name),
	)
	spawner.Spawn(fut)
	spawner.Close()
	executor.Run()
	return executor.Stats()
}

// step returns a future that prints msg when polled.
func step(cmd *cobra.Command, msg string) asyncexecutor.Future[asyncexecutor.Unit] {
	return asyncexecutor.Lazy(func() asyncexecutor.Unit {
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return asyncexecutor.Unit{}
	})
}

// seq runs futs one after another.
func seq(futs ...asyncexecutor.Future[asyncexecutor.Unit]) asyncexecutor.Future[asyncexecutor.Unit] {
	out := asyncexecutor.ReadyFuture(asyncexecutor.Unit{})
	for _, f := range futs {
		out = asyncexecutor.Then(out, func(asyncexecutor.Unit) asyncexecutor.Future[asyncexecutor.Unit] {
			return f
		})
	}
	return out
}
