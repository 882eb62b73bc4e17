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

	"github.com/cleverdata/plotmover/internal/config"
	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/ledger"
	"github.com/cleverdata/plotmover/internal/plot"
	"github.com/dustin/go-humanize"
	"github.com/kardianos/service"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Show what the next cycle would move, without moving anything",
	Long: `Scans the source directories and assigns destinations exactly like one
cycle of the agent would, using a private reservation ledger. No file is touched
and a running agent's reservations are not visible here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetViper())
		if err != nil {
			return err
		}

		logger := service.ConsoleLogger
		scanner := plot.NewScanner(afero.NewOsFs(), cfg.MinSizeBytes, logger)
		scanner.Ext = cfg.Extension
		selector := dest.NewSelector(cfg.Destinations(), logger)
		l := ledger.New()

		candidates := scanner.Scan(cfg.Sources, l)
		if len(candidates) == 0 {
			fmt.Println("No plots found.")
			return nil
		}

		var rows [][]string
		for _, c := range candidates {
			target := "-"
			if d, ok := selector.Select(c.Size, l); ok && l.TryReserve(c.File, d.ID()) {
				target = d.String()
			}
			rows = append(rows, []string{c.Path(), humanize.IBytes(uint64(c.Size)), target})
		}
		fmt.Printf("Mode: %s\n\n", cfg.Mode())
		printTable(os.Stdout, []string{"PLOT", "SIZE", "DESTINATION"}, rows)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
