/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package verification

import (
	"time"

	"github.com/provideplatform/questproof/common"
)

// Config tunes the verification flow
type Config struct {
	RateLimit       int
	RateLimitWindow time.Duration

	StatsCacheTTL time.Duration
	FetchTimeout  time.Duration
	ChainTimeout  time.Duration

	ReverifyStaleness    time.Duration
	ConsistencyThreshold float64

	ConfidentialFraudScores bool
	ExposeFraudFlags        bool
}

// DefaultConfig returns the stock verification configuration
func DefaultConfig() Config {
	return Config{
		RateLimit:            10,
		RateLimitWindow:      time.Hour,
		StatsCacheTTL:        time.Minute * 5,
		FetchTimeout:         time.Second * 12,
		ChainTimeout:         time.Second * 5,
		ReverifyStaleness:    time.Hour * 24,
		ConsistencyThreshold: 0.7,
		ExposeFraudFlags:     true,
	}
}

// NewConfig derives the verification configuration from the service configuration
func NewConfig(cfg *common.Config) Config {
	return Config{
		RateLimit:               cfg.RateLimit,
		RateLimitWindow:         cfg.RateLimitWindow,
		StatsCacheTTL:           cfg.StatsCacheTTL,
		FetchTimeout:            cfg.FetchTimeout,
		ChainTimeout:            cfg.ChainTimeout,
		ReverifyStaleness:       cfg.ReverifyStaleness,
		ConsistencyThreshold:    cfg.ConsistencyThreshold,
		ConfidentialFraudScores: cfg.ConfidentialFraudScores,
		ExposeFraudFlags:        cfg.ExposeFraudFlags,
	}
}
