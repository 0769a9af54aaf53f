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

//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/vsevex/carry/internal/config"
	"github.com/vsevex/carry/internal/reconcile"
)

// newApp is the injector wire_gen.go is generated from. It is never
// compiled into the binary; running `go generate ./cmd/carryd` rebuilds
// wire_gen.go from this graph.
func newApp(ctx context.Context, cfg *config.Config) (*app, func(), error) {
	wire.Build(
		provideLogger,
		provideSchemaDefinition,
		provideEngine,
		providePool,
		provideDurableLog,
		wire.Value(reconcile.ClockWins),
		newReplicatedLog,
		newServer,
		wire.Struct(new(app), "*"),
	)
	return nil, nil, nil
}
