// Copyright 2026 CleverData
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cleverdata/plotmover/internal/config"
	"github.com/cleverdata/plotmover/internal/db"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func openJournal() (*db.Store, error) {
	path := viper.GetString("db_path")
	if path == "" {
		path = config.DefaultDBPath()
	}
	return db.Open(path)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent transfers from the journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()

		recs, err := journal.List(limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No transfers recorded.")
			return nil
		}

		var rows [][]string
		for _, r := range recs {
			duration, speed := "-", "-"
			if !r.FinishedAt.IsZero() {
				duration = r.Duration.Round(time.Second).String()
				speed = fmt.Sprintf("%.1f MiB/s", r.SpeedMiB)
			}
			rows = append(rows, []string{
				humanize.Time(r.StartedAt),
				r.Plot,
				r.Destination,
				r.Status,
				duration,
				speed,
				r.Error,
			})
		}
		printTable(os.Stdout, []string{"STARTED", "PLOT", "DEST", "STATUS", "DURATION", "SPEED", "ERROR"}, rows)
		return nil
	},
}

var resetHistoryCmd = &cobra.Command{
	Use:   "reset-history",
	Short: "Delete journal entries for one plot, or all of them",
	RunE: func(cmd *cobra.Command, args []string) error {
		plotName, _ := cmd.Flags().GetString("plot")
		all, _ := cmd.Flags().GetBool("all")
		if plotName == "" && !all {
			return fmt.Errorf("use --plot NAME or --all")
		}

		journal, err := openJournal()
		if err != nil {
			return err
		}
		defer journal.Close()

		n, err := journal.Reset(plotName)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d journal entries.\n", n)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Number of transfers to show (0 for all)")
	resetHistoryCmd.Flags().String("plot", "", "Plot file name to forget")
	resetHistoryCmd.Flags().Bool("all", false, "Forget every transfer")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(resetHistoryCmd)
}
