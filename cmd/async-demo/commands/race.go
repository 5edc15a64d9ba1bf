// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"strconv"
	"strings"

	asyncexecutor "github.com/buke/async-executor"
	"github.com/spf13/cobra"
)

var raceDurations []int

var raceCmd = &cobra.Command{
	Use:   "race",
	Short: "Race timers with SelectAll and report the winner",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(raceDurations) == 0 {
			return fmt.Errorf("at least one duration is required")
		}

		futs := make([]asyncexecutor.Future[int], len(raceDurations))
		for i, n := range raceDurations {
			futs[i] = asyncexecutor.Map[asyncexecutor.Unit](asyncexecutor.NewTimerFuture(units(n)), func(asyncexecutor.Unit) int {
				return n
			})
		}

		labels := make([]string, len(raceDurations))
		for i, n := range raceDurations {
			labels[i] = strconv.Itoa(n)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "racing timers of %s units\n", strings.Join(labels, ", "))

		runOnExecutor("race", asyncexecutor.Discard(asyncexecutor.Map(
			asyncexecutor.SelectAll(futs),
			func(res asyncexecutor.SelectAllResult[int]) asyncexecutor.Unit {
				fmt.Fprintf(cmd.OutOrStdout(), "timer %d won after %d units, %d still pending\n",
					res.Index, res.Value, len(res.Remaining))
				return asyncexecutor.Unit{}
			},
		)))
		return nil
	},
}

func init() {
	raceCmd.Flags().IntSliceVarP(&raceDurations, "durations", "d", []int{5, 4, 1, 2, 3}, "Timer durations in units")
}
