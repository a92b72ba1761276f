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

package common

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

var (
	// Log is the configured logger
	Log *logger.Logger
)

// Config for a questproof instance; every field may be overridden from the environment
type Config struct {
	ListenPort string `env:"PORT" envDefault:"8080"`

	// verification attempt budget per (user, game)
	RateLimit       int           `env:"VERIFICATION_RATE_LIMIT" envDefault:"10"`
	RateLimitWindow time.Duration `env:"VERIFICATION_RATE_WINDOW" envDefault:"1h"`

	// inbound request budget per client ip
	IPRateLimit       int           `env:"IP_RATE_LIMIT" envDefault:"120"`
	IPRateLimitWindow time.Duration `env:"IP_RATE_WINDOW" envDefault:"1m"`

	StatsCacheTTL time.Duration `env:"STATS_CACHE_TTL" envDefault:"5m"`
	FetchTimeout  time.Duration `env:"STATS_FETCH_TIMEOUT" envDefault:"12s"`
	ChainTimeout  time.Duration `env:"CHAIN_SUBMIT_TIMEOUT" envDefault:"5s"`

	ReviewThreshold         int           `env:"FRAUD_REVIEW_THRESHOLD" envDefault:"50"`
	RejectThreshold         int           `env:"FRAUD_REJECT_THRESHOLD" envDefault:"70"`
	BehavioralWindow        time.Duration `env:"FRAUD_BEHAVIORAL_WINDOW" envDefault:"24h"`
	BehavioralAttemptLimit  int           `env:"FRAUD_BEHAVIORAL_ATTEMPT_LIMIT" envDefault:"5"`
	ReverifyStaleness       time.Duration `env:"REVERIFY_STALENESS" envDefault:"24h"`
	ConsistencyThreshold    float64       `env:"REVERIFY_CONSISTENCY_THRESHOLD" envDefault:"0.7"`
	ConfidentialFraudScores bool          `env:"CONFIDENTIAL_FRAUD_SCORES" envDefault:"false"`
	ExposeFraudFlags        bool          `env:"EXPOSE_FRAUD_FLAGS" envDefault:"true"`

	TierPoints map[string]int `env:"SKILL_TIER_POINTS" envKeyValSeparator:":" envDefault:"Novice:50,Beginner:100,Intermediate:250,Intermediate+:400,Advanced:700,Expert:1000"`

	ProvingScheme      string `env:"PROOF_PROVING_SCHEME" envDefault:"groth16"`
	Curve              string `env:"PROOF_CURVE" envDefault:"bn254"`
	VerificationKeyID  string `env:"PROOF_VERIFICATION_KEY_ID" envDefault:"questproof-dev"`
	VerificationSecret string `env:"PROOF_VERIFICATION_SECRET"`

	RedisAddr     string `env:"REDIS_HOSTS"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	NatsURL               string `env:"NATS_URL"`
	ConsumeNATSStreaming  bool   `env:"CONSUME_NATS_STREAMING_SUBSCRIPTIONS" envDefault:"false"`
	StatsGatewayNamespace string `env:"STATS_GATEWAY_SUBJECT_PREFIX" envDefault:"questproof.stats"`

	QuestCatalogPath  string   `env:"QUEST_CATALOG_PATH"`
	TrustedUserHeader string   `env:"TRUSTED_USER_HEADER"`
	ReviewerIDs       []string `env:"REVIEWER_IDS" envSeparator:","`
}

func init() {
	godotenv.Load()

	requireLogger()
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("questproof", lvl, endpoint)
}

// LoadConfig parses the instance configuration from the environment
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration from environment; %s", err.Error())
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimit <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("verification rate limit and window must be positive")
	}
	if c.ReviewThreshold < 0 || c.RejectThreshold > 100 || c.ReviewThreshold >= c.RejectThreshold {
		return fmt.Errorf("invalid fraud thresholds; review %d must be below reject %d within [0,100]", c.ReviewThreshold, c.RejectThreshold)
	}
	if c.ConsistencyThreshold < 0 || c.ConsistencyThreshold > 1 {
		return fmt.Errorf("consistency threshold %f must be within [0,1]", c.ConsistencyThreshold)
	}
	if GnarkCurveIDFactory(StringOrNil(c.Curve)) == ecc.UNKNOWN {
		return fmt.Errorf("unsupported proof curve: %s", c.Curve)
	}
	if GnarkProvingSchemeFactory(StringOrNil(c.ProvingScheme)) == backend.UNKNOWN {
		return fmt.Errorf("unsupported proving scheme: %s", c.ProvingScheme)
	}
	c.Curve = strings.ToLower(c.Curve)
	c.ProvingScheme = strings.ToLower(c.ProvingScheme)
	return nil
}
