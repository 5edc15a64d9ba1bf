// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	asyncexecutor "github.com/buke/async-executor"
	"github.com/spf13/cobra"
)

var timerUnits int

var timerCmd = &cobra.Command{
	Use:   "timer",
	Short: "Spawn one task that awaits a timer",
	RunE: func(cmd *cobra.Command, args []string) error {
		runOnExecutor("timer", seq(
			step(cmd, "running!"),
			asyncexecutor.NewTimerFuture(units(timerUnits)),
			step(cmd, "finished!"),
		))
		return nil
	},
}

func init() {
	timerCmd.Flags().IntVarP(&timerUnits, "duration", "d", 5, "Timer duration in units")
}
