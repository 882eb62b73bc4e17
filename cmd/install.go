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
	"time"

	"github.com/cleverdata/plotmover/internal/logging"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const serviceName = "PlotMover"

// stopTimeout bounds how long Stop waits for in-flight transfers before
// the service manager is told we are done.
const stopTimeout = 30 * time.Minute

// program implements the service.Interface
type program struct {
	logger service.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx)
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(stopTimeout):
		if p.logger != nil {
			p.logger.Warning("Stopped with transfers still in flight")
		}
	}
	return nil
}

func (p *program) run(ctx context.Context) {
	defer close(p.done)
	var logger logging.Logger = service.ConsoleLogger
	if p.logger != nil {
		logger = p.logger
	}
	if err := RunAgent(ctx, logger); err != nil {
		logger.Errorf("Agent stopped: %v", err)
	}
}

func getService(configPath string) (service.Service, error) {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	svcConfig := &service.Config{
		Name:        serviceName,
		DisplayName: "Plot Mover Agent",
		Description: "Moves finished plots from plotter directories to farming disks.",
		Arguments:   args,
	}

	prg := &program{}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		return nil, err
	}
	if prg.logger, err = s.Logger(nil); err != nil {
		return nil, err
	}
	return s, nil
}

// controlService returns a handle that is only used to talk to the
// service manager, not to run the agent.
func controlService() (service.Service, error) {
	return service.New(&program{}, &service.Config{Name: serviceName})
}

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the Plot Mover Agent as a system service",
	Run: func(cmd *cobra.Command, args []string) {
		// Find current config file to pass to the service
		configPath := viper.ConfigFileUsed()
		if configPath == "" {
			fmt.Println("Error: No config file found. Please run 'plotmover dest add' first.")
			return
		}

		s, err := getService(configPath)
		if err != nil {
			fmt.Printf("Setup failed: %v\n", err)
			return
		}

		// Check if already installed
		status, err := s.Status()
		if err == nil {
			fmt.Println("Plot Mover Agent is already installed.")
			if status == service.StatusRunning {
				fmt.Println("Service is currently RUNNING.")
			} else {
				fmt.Println("Service is currently STOPPED.")
			}
			fmt.Println("Use 'plotmover restart' to apply config changes, or 'plotmover uninstall' to remove it.")
			return
		}

		fmt.Println("Installing Plot Mover Agent Service...")
		if err := s.Install(); err != nil {
			fmt.Printf("Failed to install: %v\n", err)
			fmt.Println("Hint: Ensure you are running as root / Administrator.")
			return
		}
		fmt.Println("Service installed successfully.")

		fmt.Println("Starting service...")
		if err := s.Start(); err != nil {
			fmt.Printf("Failed to start: %v\n", err)
			return
		}
		fmt.Println("Service started.")
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the Plot Mover Agent service",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := controlService()
		if err != nil {
			fmt.Println(err)
			return
		}

		// It might not be running
		_ = s.Stop()

		if err := s.Uninstall(); err != nil {
			fmt.Printf("Failed to uninstall: %v\n", err)
			return
		}
		fmt.Println("Service uninstalled.")
	},
}

// controlCmd builds the start/stop/restart commands, which only differ in
// the action they send.
func controlCmd(use, short, verb, done string, action func(service.Service) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Run: func(cmd *cobra.Command, args []string) {
			s, err := controlService()
			if err != nil {
				fmt.Println(err)
				return
			}

			fmt.Printf("%s Plot Mover Agent Service...\n", verb)
			if err := action(s); err != nil {
				fmt.Printf("Failed to %s: %v\n", use, err)
				return
			}
			fmt.Println(done)
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the Plot Mover Agent service",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := controlService()
		if err != nil {
			fmt.Println(err)
			return
		}

		status, err := s.Status()
		if err != nil {
			fmt.Printf("Could not get status: %v\n", err)
			return
		}

		fmt.Printf("Plot Mover Agent Service Status: %s\n", statusString(status))
	},
}

func statusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "Running"
	case service.StatusStopped:
		return "Stopped"
	}
	return "Unknown"
}

func init() {
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(controlCmd("restart", "Restart the Plot Mover Agent service", "Restarting", "Service restarted.",
		func(s service.Service) error { return s.Restart() }))
	rootCmd.AddCommand(controlCmd("stop", "Stop the Plot Mover Agent service", "Stopping", "Service stopped.",
		func(s service.Service) error { return s.Stop() }))
	rootCmd.AddCommand(controlCmd("start", "Start the Plot Mover Agent service", "Starting", "Service started.",
		func(s service.Service) error { return s.Start() }))
	rootCmd.AddCommand(statusCmd)
}
