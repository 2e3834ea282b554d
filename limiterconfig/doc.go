// Copyright (C) 2025 sage-x-project
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

// Package limiterconfig loads and validates the process configuration
// used to construct a ratelimit.Limiter: store backend selection and
// connection settings, the config-resolver cache tier, acquire-engine
// tunables, the default namespace, and the logging/metrics/health
// ambient settings.
//
// Precedence, highest first:
//  1. Environment variables (RATELIMIT_<SECTION>_<FIELD>)
//  2. Configuration file (YAML or JSON)
//  3. Default values
//
// # Usage
//
//	cfg, err := limiterconfig.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	gw, err := store.NewDynamoGateway(ctx, store.DynamoConfig{
//	    TableName:   cfg.Store.DynamoDB.TableName,
//	    Region:      cfg.Store.DynamoDB.Region,
//	    EndpointURL: cfg.Store.DynamoDB.Endpoint,
//	})
//	lim, err := ratelimit.New(gw, ratelimit.WithConfig(ratelimit.Config{
//	    ConfigCacheTTL:           cfg.Acquire.ConfigCacheTTL,
//	    AcquireDeadline:          cfg.Acquire.AcquireDeadline,
//	    ConflictRetryMaxAttempts: cfg.Acquire.ConflictRetryMaxAttempts,
//	    ConflictRetryBudget:      cfg.Acquire.ConflictRetryBudget,
//	    MaxLimitsPerAcquire:      cfg.Acquire.MaxLimitsPerAcquire,
//	}))
//
// Environment override example:
//
//	export RATELIMIT_STORE_BACKEND=dynamodb
//	export RATELIMIT_STORE_DYNAMODB_TABLE_NAME=rate-limits
//	export RATELIMIT_STORE_DYNAMODB_REGION=us-east-1
//
// See Config.Validate for the complete set of validation rules.
package limiterconfig
