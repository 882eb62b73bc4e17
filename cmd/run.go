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
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cleverdata/plotmover/internal/config"
	"github.com/cleverdata/plotmover/internal/core"
	"github.com/cleverdata/plotmover/internal/db"
	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/cleverdata/plotmover/internal/notify"
	"github.com/cleverdata/plotmover/internal/transfer"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunAgent is the entry point for the long-running process. It returns
// when ctx is cancelled and every in-flight transfer has finished.
func RunAgent(ctx context.Context, logger logging.Logger) error {
	if err := viper.ReadInConfig(); err != nil {
		logger.Warningf("Config not found or invalid: %v", err)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	deps := core.Deps{Logger: logger}

	journal, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Warningf("Transfer journal disabled: %v", err)
	} else {
		defer journal.Close()
		deps.Journal = journal
		reportInterrupted(journal, logger)
	}

	if cfg.Notify.URL != "" {
		deps.Notifier = notify.New(cfg.Notify.URL, cfg.Notify.Key, logger)
	}

	if cfg.Mode() == config.ModeRemote {
		if len(cfg.Dests) > 0 {
			logger.Warningf("rsync targets configured, ignoring %d local destination(s)", len(cfg.Dests))
		}
		if !cfg.CheckRemoteDuplicates {
			logger.Warningf("rsync mode does not check for plots already on the remote side; set check_remote_duplicates to enable it")
		}
	}

	for _, d := range cfg.Destinations() {
		logger.Infof("Destination: %s", d)
	}
	logger.Infof("Mode: %s | Sources: %v | Debounce: %s | Sleep: %s | Min size: %d bytes",
		cfg.Mode(), cfg.Sources, cfg.Debounce, cfg.Sleep, cfg.MinSizeBytes)

	return core.NewEngine(cfg, deps).Run(ctx)
}

// reportInterrupted logs transfers a previous process never finished. Local
// plots may sit at their destination under the temporary name.
func reportInterrupted(journal *db.Store, logger logging.Logger) {
	recs, err := journal.Interrupted()
	if err != nil {
		logger.Warningf("Journal: %v", err)
	}
	for _, r := range recs {
		started := r.StartedAt.Local().Format("2006-01-02 15:04:05")
		if temp, ok := transfer.TempPath(r.Destination, r.Plot); ok {
			logger.Warningf("Transfer of %s to %s was interrupted (started %s). Check for %s",
				r.SourcePath, r.Destination, started, temp)
			continue
		}
		logger.Warningf("Transfer of %s to %s was interrupted (started %s). Check the remote copy",
			r.SourcePath, r.Destination, started)
	}
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent in the foreground",
	Long:  `Runs the mover loop directly. Also the command the installed service invokes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if service.Interactive() {
			fmt.Println("Plot Mover Agent Starting...")
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return RunAgent(ctx, service.ConsoleLogger)
		}

		// Under a service manager we MUST call s.Run() to check in with it
		s, err := getService(viper.ConfigFileUsed())
		if err != nil {
			log.Fatalf("Failed to initialize service: %v", err)
		}
		return s.Run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
