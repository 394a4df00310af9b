// Copyright (C) 2025 lifelog
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/elibdev/lifelog/config"
	"github.com/elibdev/lifelog/coordinator"
	"github.com/elibdev/lifelog/discovery"
	"github.com/elibdev/lifelog/internal/logger"
)

var (
	flagName         string
	flagPort         int
	flagKeyFile      string
	flagConfigDir    string
	flagSyncInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the sync node and an interactive shell",
	RunE:  runNode,
}

func init() {
	runCmd.Flags().StringVar(&flagName, "name", "", "device name announced to peers")
	runCmd.Flags().IntVar(&flagPort, "port", 0, "HTTP sync port (0 picks a free port)")
	runCmd.Flags().StringVar(&flagKeyFile, "keyfile", "", "identity key file path")
	runCmd.Flags().StringVar(&flagConfigDir, "config-dir", "config", "configuration directory")
	runCmd.Flags().DurationVar(&flagSyncInterval, "sync-interval", 0, "background sync period (0 disables)")
}

// replNotifier prints peer lifecycle events to the interactive shell.
type replNotifier struct{}

func (replNotifier) PeerDiscovered(p discovery.Peer) {
	fmt.Printf("📡 discovered %s (%s:%d)\n", p.DeviceName, p.Address, p.SyncPort)
}

func (replNotifier) PeerLost(p discovery.Peer) {
	fmt.Printf("📴 lost %s\n", p.DeviceName)
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: flagConfigDir})
	if err != nil {
		return err
	}
	if flagName != "" {
		cfg.Device.Name = flagName
	}
	if flagPort != 0 {
		cfg.Device.SyncPort = flagPort
	}
	if flagKeyFile != "" {
		cfg.Device.KeyFile = flagKeyFile
	}
	if flagSyncInterval != 0 {
		cfg.Sync.SyncInterval = flagSyncInterval
	}
	if cfg.Logging != nil {
		logger.GetDefaultLogger().SetLevel(logger.ParseLevel(cfg.Logging.Level))
	}

	coord, err := coordinator.New(cfg, replNotifier{})
	if err != nil {
		return err
	}
	if err := coord.Start(); err != nil {
		return err
	}
	defer coord.Stop()

	fmt.Printf("lifelog %s on port %d (user %s)\n",
		coord.DeviceName(), coord.SyncPort(), coord.UserID())
	fmt.Println("commands: create, update, delete, list, peers, sync <name>, sync all, quit")

	repl(coord)
	return nil
}

// repl reads commands until quit or EOF.
func repl(coord *coordinator.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 3)

		switch parts[0] {
		case "create":
			if len(parts) < 2 {
				fmt.Println("usage: create <content>")
				continue
			}
			content := strings.TrimPrefix(line, "create ")
			subject, err := coord.Create(content)
			if err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			fmt.Printf("✅ created %s\n", subject)

		case "update":
			if len(parts) < 3 {
				fmt.Println("usage: update <subject> <content>")
				continue
			}
			if err := coord.Update(parts[1], parts[2]); err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			fmt.Println("✅ updated")

		case "delete":
			if len(parts) < 2 {
				fmt.Println("usage: delete <subject>")
				continue
			}
			if err := coord.Delete(parts[1]); err != nil {
				fmt.Printf("❌ %v\n", err)
				continue
			}
			fmt.Println("✅ deleted")

		case "list":
			view := coord.Project()
			if len(view) == 0 {
				fmt.Println("(empty)")
				continue
			}
			subjects := make([]string, 0, len(view))
			for s := range view {
				subjects = append(subjects, s)
			}
			sort.Strings(subjects)
			for _, s := range subjects {
				fmt.Printf("%s  %s\n", s, view[s].Content)
			}

		case "peers":
			peers := coord.Peers()
			if len(peers) == 0 {
				fmt.Println("(no peers)")
				continue
			}
			for _, p := range peers {
				fmt.Printf("%s  %s:%d\n", p.DeviceName, p.Address, p.SyncPort)
			}

		case "sync":
			if len(parts) < 2 {
				fmt.Println("usage: sync <name> | sync all")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if parts[1] == "all" {
				if err := coord.SyncAll(ctx); err != nil {
					fmt.Printf("❌ %v\n", err)
				} else {
					fmt.Println("✅ synced all peers")
				}
			} else {
				res, err := coord.SyncWith(ctx, parts[1])
				if err != nil {
					fmt.Printf("❌ %v\n", err)
				} else {
					fmt.Printf("✅ pulled %d, pushed %d\n", res.Pulled, res.Pushed)
				}
			}
			cancel()

		case "quit", "exit":
			return

		default:
			fmt.Printf("unknown command: %s\n", parts[0])
		}
	}
}
