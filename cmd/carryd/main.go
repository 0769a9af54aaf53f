// Copyright 2023 The Cockroach Authors
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
//
// SPDX-License-Identifier: Apache-2.0

// Command carryd is a server replica: it runs the same engine a
// client embeds, fans pushed operations out through the sync
// transport, and persists its backlog to a durable Postgres-backed
// log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vsevex/carry/internal/config"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
)

func main() {
	var configFile string
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:     "carryd",
		Short:   "carryd runs a sync-transport server replica",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, cfg, configFile)
		},
	}

	cfg.Bind(rootCmd.Flags())
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "path to a YAML config file layered under flags and environment")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, bound *config.Config, configFile string) error {
	loaded, err := config.Load(cmd.Flags(), configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	*bound = *loaded

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, cleanup, err := newApp(ctx, bound)
	if err != nil {
		return fmt.Errorf("wiring server: %w", err)
	}
	defer cleanup()

	if configFile != "" {
		stop, err := config.WatchFile(configFile, func() {
			a.Logger.WithField("file", configFile).Warn("config file changed; restart carryd to apply it")
		})
		if err != nil {
			a.Logger.WithError(err).Warn("could not watch config file for changes")
		} else {
			defer stop()
		}
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		a.Logger.Info("received shutdown signal")
		cancel()
	}()

	a.Logger.WithFields(logrus.Fields{
		"nodeId":  bound.NodeID,
		"version": version,
		"commit":  commit,
	}).Info("carryd starting")

	if err := a.Server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	a.Logger.Info("carryd stopped")
	return nil
}
