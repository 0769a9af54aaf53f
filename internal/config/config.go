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

// Package config declares cmd/carryd's configuration surface: flags
// bound to a pflag.FlagSet the way
// internal/source/server/config.go's Config.Bind does, loaded through
// viper (flags, then a config file, then environment variables) the
// way MaxIOFS's internal/config.Load layers its sources. WatchFile
// reports rewrites of the config file via fsnotify; it does not
// reload the configuration.
package config

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is cmd/carryd's full runtime configuration.
type Config struct {
	NodeID       string `mapstructure:"nodeId"`
	BindAddr     string `mapstructure:"bindAddr"`
	SchemaFile   string `mapstructure:"schemaFile"`
	DatabaseURL  string `mapstructure:"databaseUrl"`
	LogFile      string `mapstructure:"logFile"`
	LogLevel     string `mapstructure:"logLevel"`
	MetricsAddr  string `mapstructure:"metricsAddr"`
	DurableTable string `mapstructure:"durableTable"`
}

// Bind registers flags on flags, following
// internal/source/server/config.go's Bind shape.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.NodeID, "nodeId", "", "the node_id this replica identifies writes as")
	flags.StringVar(&c.BindAddr, "bindAddr", ":8443", "the network address the transport listens on")
	flags.StringVar(&c.SchemaFile, "schemaFile", "", "path to the collection schema definition (JSON)")
	flags.StringVar(&c.DatabaseURL, "databaseUrl", "", "the Postgres/CockroachDB connection string backing the durable log")
	flags.StringVar(&c.LogFile, "logFile", "", "path to write rotated logs to; empty logs to stderr")
	flags.StringVar(&c.LogLevel, "logLevel", "info", "logrus level: trace, debug, info, warn, error")
	flags.StringVar(&c.MetricsAddr, "metricsAddr", ":9090", "the network address the Prometheus /metrics endpoint listens on")
	flags.StringVar(&c.DurableTable, "durableTable", "carry_operations", "the table name the durable log uses")
}

// Preflight validates c after Load populates it, following
// internal/source/server/config.go's Preflight shape.
func (c *Config) Preflight() error {
	if c.NodeID == "" {
		return errors.New("nodeId unset")
	}
	if c.BindAddr == "" {
		return errors.New("bindAddr unset")
	}
	if c.SchemaFile == "" {
		return errors.New("schemaFile unset")
	}
	if c.DatabaseURL == "" {
		return errors.New("databaseUrl unset")
	}
	if c.DurableTable == "" {
		return errors.New("durableTable unset")
	}
	return nil
}

// Load builds a Config from flags, an optional config file, and
// environment variables prefixed CARRY_, the way MaxIOFS's
// config.Load layers viper sources. configFile may be empty.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CARRY")
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, errors.Wrap(err, "binding flags")
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config file %s", configFile)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WatchFile calls onChange every time configFile is rewritten on
// disk, using fsnotify the same way MaxIOFS watches its config file
// for live reload. The returned func stops the watch.
func WatchFile(configFile string, onChange func()) (stop func() error, err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating config file watcher")
	}
	if err := watcher.Add(configFile); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watching config file %s", configFile)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onChange()
				}
			case <-watcher.Errors:
				// Swallow watcher errors; a failed watch is not fatal to a
				// running server, which keeps its last-loaded config.
			case <-done:
				return
			}
		}
	}()

	return func() error {
		close(done)
		return watcher.Close()
	}, nil
}

// Address formats addr for logging, the way
// internal/source/server prints its bind address.
func Address(addr string) string {
	return fmt.Sprintf("http://%s", addr)
}
