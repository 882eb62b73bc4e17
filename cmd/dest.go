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
	"os"
	"path/filepath"
	"time"

	"github.com/cleverdata/plotmover/internal/config"
	"github.com/cleverdata/plotmover/internal/dest"
	"github.com/cleverdata/plotmover/internal/transfer"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var destCmd = &cobra.Command{
	Use:   "dest",
	Short: "Manage destination disks and rsync targets",
}

var destAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a destination",
	Long: `Adds a local destination directory (--path) or a remote rsync target (--host and --dir).

Destinations are tried in the order they were added; the first one that is idle
and has more free space than the plot wins. As soon as one rsync target exists the
agent runs in rsync mode and local destinations are ignored.`,
	Example: `  plotmover dest add --path /mnt/hdd07
  plotmover dest add --host farmer@10.0.0.5 --dir /mnt/plots`,
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		host, _ := cmd.Flags().GetString("host")
		dir, _ := cmd.Flags().GetString("dir")
		force, _ := cmd.Flags().GetBool("force")

		if (path == "") == (host == "" && dir == "") || (host == "") != (dir == "") {
			fmt.Println("Error: use either --path, or --host together with --dir.")
			return
		}

		var d dest.Destination
		if path != "" {
			absPath, err := filepath.Abs(path)
			if err != nil {
				fmt.Printf("Invalid path: %v\n", err)
				return
			}
			d = dest.Local(absPath)
		} else {
			d = dest.Remote(host, dir)
		}

		if !force && !verifyDestination(d) {
			fmt.Println("Use --force to add anyway.")
			return
		}

		locals := viper.GetStringSlice("dest")
		remotes, err := rsyncTargets()
		if err != nil {
			fmt.Printf("Error parsing config: %v\n", err)
			return
		}

		for _, existing := range destinations(locals, remotes) {
			if existing.ID() == d.ID() {
				fmt.Printf("Error: Destination '%s' already exists.\n", d)
				return
			}
		}

		if d.IsRemote() {
			remotes = append(remotes, config.RsyncTarget{Host: d.Host, Dir: d.Path})
		} else {
			locals = append(locals, d.Path)
		}
		setDestinations(locals, remotes)

		if err := saveConfig(); err != nil {
			fmt.Println(err)
			return
		}

		fmt.Printf("Destination '%s' added successfully.\n", d)
		if !d.IsRemote() && len(remotes) > 0 {
			fmt.Println(">>> NOTE: rsync targets are configured, local destinations are ignored until they are removed.")
		}
		fmt.Println("\n>>> IMPORTANT: Run 'plotmover restart' to apply these changes to the running service.")
	},
}

// verifyDestination checks that a local directory exists or that the remote
// directory is reachable over ssh.
func verifyDestination(d dest.Destination) bool {
	if !d.IsRemote() {
		info, err := os.Stat(d.Path)
		if err != nil || !info.IsDir() {
			fmt.Printf("❌ %s is not a directory\n", d.Path)
			return false
		}
		free, err := dest.FreeSpace(d.Path)
		if err != nil {
			fmt.Printf("❌ Cannot read free space: %v\n", err)
			return false
		}
		fmt.Printf("✅ %s has %s free\n", d.Path, humanize.IBytes(free))
		return true
	}

	fmt.Printf("Verifying %s over ssh...\n", d)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := transfer.NewRsyncMover("", false).CheckDir(ctx, d); err != nil {
		fmt.Printf("❌ Remote check failed: %v\n", err)
		return false
	}
	fmt.Println("✅ Remote directory reachable!")
	return true
}

var destListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List configured destinations",
	Run: func(cmd *cobra.Command, args []string) {
		locals := viper.GetStringSlice("dest")
		remotes, err := rsyncTargets()
		if err != nil {
			fmt.Printf("Error parsing config: %v\n", err)
			return
		}

		all := destinations(locals, remotes)
		if len(all) == 0 {
			fmt.Println("No destinations configured.")
			return
		}

		var rows [][]string
		for _, d := range all {
			kind, free, active := "local", "-", "yes"
			if d.IsRemote() {
				kind = "rsync"
			} else {
				if f, err := dest.FreeSpace(d.Path); err == nil {
					free = humanize.IBytes(f)
				} else {
					free = "unavailable"
				}
				if len(remotes) > 0 {
					active = "no"
				}
			}
			rows = append(rows, []string{kind, d.ID(), free, active})
		}
		printTable(os.Stdout, []string{"TYPE", "TARGET", "FREE", "ACTIVE"}, rows)
	},
}

var destRemoveCmd = &cobra.Command{
	Use:     "remove [target]",
	Aliases: []string{"rm", "del"},
	Short:   "Remove a destination by path or host:dir",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := args[0]

		locals := viper.GetStringSlice("dest")
		remotes, err := rsyncTargets()
		if err != nil {
			fmt.Printf("Error parsing config: %v\n", err)
			return
		}

		found := false
		var keptLocals []string
		for _, p := range locals {
			if dest.Local(p).ID() == target {
				found = true
				continue
			}
			keptLocals = append(keptLocals, p)
		}
		var keptRemotes []config.RsyncTarget
		for _, r := range remotes {
			if dest.Remote(r.Host, r.Dir).ID() == target {
				found = true
				continue
			}
			keptRemotes = append(keptRemotes, r)
		}

		if !found {
			fmt.Printf("Error: Destination '%s' not found.\n", target)
			return
		}

		setDestinations(keptLocals, keptRemotes)
		if err := viper.WriteConfig(); err != nil {
			fmt.Printf("Failed to save config: %v\n", err)
			return
		}

		fmt.Printf("Destination '%s' removed successfully.\n", target)
		fmt.Println("\n>>> IMPORTANT: Run 'plotmover restart' to apply these changes to the running service.")
	},
}

// rsyncTargets reads the rsync key in either its list or its single-map form.
func rsyncTargets() ([]config.RsyncTarget, error) {
	if !viper.IsSet("rsync") {
		return nil, nil
	}
	if _, single := viper.Get("rsync").(map[string]interface{}); single {
		var t config.RsyncTarget
		if err := viper.UnmarshalKey("rsync", &t); err != nil {
			return nil, err
		}
		return []config.RsyncTarget{t}, nil
	}
	var targets []config.RsyncTarget
	if err := viper.UnmarshalKey("rsync", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func destinations(locals []string, remotes []config.RsyncTarget) []dest.Destination {
	var out []dest.Destination
	for _, p := range locals {
		out = append(out, dest.Local(p))
	}
	for _, r := range remotes {
		out = append(out, dest.Remote(r.Host, r.Dir))
	}
	return out
}

func setDestinations(locals []string, remotes []config.RsyncTarget) {
	viper.Set("dest", locals)
	rs := make([]map[string]string, 0, len(remotes))
	for _, r := range remotes {
		rs = append(rs, map[string]string{"host": r.Host, "dir": r.Dir})
	}
	viper.Set("rsync", rs)
}

// saveConfig writes to the config file in use, or creates one in the best
// location when none exists yet.
func saveConfig() error {
	if viper.ConfigFileUsed() != "" {
		if err := viper.WriteConfig(); err != nil {
			return fmt.Errorf("failed to update config: %w", err)
		}
		return nil
	}

	var targetDir string
	switch {
	case os.Getenv("PROGRAMDATA") != "":
		targetDir = filepath.Join(os.Getenv("PROGRAMDATA"), "PlotMover")
	case os.Geteuid() == 0:
		targetDir = "/etc/plotmover"
	default:
		exePath, _ := os.Executable()
		targetDir = filepath.Dir(exePath)
		fmt.Println("\n>>> NOTE: Running as non-root. Config saved next to the binary.")
		fmt.Println(">>> The system service will NOT see this destination.")
	}

	os.MkdirAll(targetDir, 0755)
	viper.SetConfigFile(filepath.Join(targetDir, "config.yaml"))
	if err := viper.SafeWriteConfig(); err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	return nil
}

func init() {
	destAddCmd.Flags().String("path", "", "Local destination directory")
	destAddCmd.Flags().String("host", "", "rsync/ssh host, e.g. user@farmer")
	destAddCmd.Flags().String("dir", "", "Directory on the rsync host")
	destAddCmd.Flags().Bool("force", false, "Skip destination verification")

	destCmd.AddCommand(destAddCmd)
	destCmd.AddCommand(destListCmd)
	destCmd.AddCommand(destRemoveCmd)
	rootCmd.AddCommand(destCmd)
}
