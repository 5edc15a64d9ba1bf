// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/spf13/cobra"
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Race two timer tasks, the second one is faster",
	RunE: func(cmd *cobra.Command, args []string) error {
		task := func(name string, n int) asyncexecutor.Future[asyncexecutor.Unit] {
			return seq(
				step(cmd, "starting "+name),
				asyncexecutor.NewTimerFuture(units(n)),
				step(cmd, name+" complete!"),
			)
		}

		race := asyncexecutor.Map(
			asyncexecutor.Select(task("task 1", 5), task("task 2", 1)),
			func(res asyncexecutor.Either[asyncexecutor.Unit, asyncexecutor.Unit]) asyncexecutor.Unit {
				if res.IsFirst {
					fmt.Fprintln(cmd.OutOrStdout(), "task 1 completed first.")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "task 2 completed first.")
				}
				return asyncexecutor.Unit{}
			},
		)

		runOnExecutor("select", seq(step(cmd, "spawning!"), race, step(cmd, "finished executing.")))
		return nil
	},
}
