// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/spf13/cobra"
)

var delayUnits int

var delayCmd = &cobra.Command{
	Use:   "delay",
	Short: "Await a Delay, which wakes itself on every poll",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats := runOnExecutor("delay", asyncexecutor.Discard(asyncexecutor.Map[string](
			asyncexecutor.NewDelay(units(delayUnits)),
			func(out string) asyncexecutor.Unit {
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return asyncexecutor.Unit{}
			},
		)))
		fmt.Fprintf(cmd.OutOrStdout(), "polled %d times\n", stats.Polled)
		return nil
	},
}

func init() {
	delayCmd.Flags().IntVarP(&delayUnits, "duration", "d", 1, "Delay duration in units")
}
