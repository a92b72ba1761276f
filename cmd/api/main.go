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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	dbconf "github.com/kthomas/go-db-config"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/provideplatform/questproof/cache"
	"github.com/provideplatform/questproof/chain"
	"github.com/provideplatform/questproof/commitment"
	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/fraud"
	"github.com/provideplatform/questproof/game"
	"github.com/provideplatform/questproof/ledger"
	"github.com/provideplatform/questproof/quest"
	"github.com/provideplatform/questproof/ratelimit"
	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/stats"
	"github.com/provideplatform/questproof/stats/providers"
	"github.com/provideplatform/questproof/store"
	"github.com/provideplatform/questproof/verification"
)

const runloopSleepInterval = 250 * time.Millisecond
const runloopTickInterval = 5000 * time.Millisecond

var (
	cancelF     context.CancelFunc
	closing     uint32
	shutdownCtx context.Context
	sigs        chan os.Signal

	srv *http.Server
	wg  sync.WaitGroup

	closers []func()
	tickers []func()
)

func main() {
	common.Log.Debugf("starting questproof API...")
	installSignalHandlers()

	cfg, err := common.LoadConfig()
	if err != nil {
		common.Log.Panicf("failed to load configuration; %s", err.Error())
	}

	orchestrator, limiter, err := initOrchestrator(cfg)
	if err != nil {
		common.Log.Panicf("failed to initialize verification orchestrator; %s", err.Error())
	}

	runAPI(cfg, orchestrator, limiter)

	timer := time.NewTicker(runloopTickInterval)
	defer timer.Stop()

	for !shuttingDown() {
		select {
		case <-timer.C:
			for _, tick := range tickers {
				tick()
			}
		case sig := <-sigs:
			common.Log.Debugf("received signal: %s", sig)
			srv.Shutdown(shutdownCtx)
			shutdown()
		case <-shutdownCtx.Done():
			close(sigs)
		default:
			time.Sleep(runloopSleepInterval)
		}
	}

	for _, closer := range closers {
		closer()
	}

	common.Log.Debug("exiting questproof API")
	cancelF()
}

func installSignalHandlers() {
	common.Log.Debug("installing signal handlers for questproof API")
	sigs = make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	shutdownCtx, cancelF = context.WithCancel(context.Background())
}

func shutdown() {
	if atomic.AddUint32(&closing, 1) == 1 {
		common.Log.Debug("shutting down questproof API")
		cancelF()
	}
}

func shuttingDown() bool {
	return (atomic.LoadUint32(&closing) > 0)
}

func initOrchestrator(cfg *common.Config) (*verification.Orchestrator, ratelimit.Limiter, error) {
	games := game.DefaultRegistry()

	points, err := skill.NewPointsTable(cfg.TierPoints)
	if err != nil {
		return nil, nil, err
	}

	limiter, backend := initRedis(cfg)
	st := initStore(cfg)

	registry, submitter, err := initNats(cfg, games, st)
	if err != nil {
		return nil, nil, err
	}

	quests, err := initQuests(cfg)
	if err != nil {
		return nil, nil, err
	}

	commitments, err := commitment.NewService(commitment.Config{
		ProvingScheme:      cfg.ProvingScheme,
		Curve:              cfg.Curve,
		VerificationKeyID:  cfg.VerificationKeyID,
		VerificationSecret: []byte(cfg.VerificationSecret),
	})
	if err != nil {
		return nil, nil, err
	}

	orchestrator, err := verification.NewOrchestrator(verification.Dependencies{
		Games:     games,
		Providers: registry,
		Cache:     cache.New(backend),
		Limiter:   limiter,
		Fraud: fraud.NewEngine(games, store.NewAttemptHistory(st), fraud.Config{
			ReviewThreshold:        cfg.ReviewThreshold,
			RejectThreshold:        cfg.RejectThreshold,
			BehavioralWindow:       cfg.BehavioralWindow,
			BehavioralAttemptLimit: cfg.BehavioralAttemptLimit,
		}),
		Skill:       skill.NewEngine(games),
		Commitments: commitments,
		Ledger:      ledger.New(st, points),
		Store:       st,
		Quests:      quests,
		Chain:       submitter,
	}, verification.NewConfig(cfg))
	if err != nil {
		return nil, nil, err
	}

	return orchestrator, limiter, nil
}

// initRedis returns redis-backed rate limiting and stats caching when redis is configured,
// otherwise process-local equivalents
func initRedis(cfg *common.Config) (ratelimit.Limiter, cache.Backend) {
	if cfg.RedisAddr == "" {
		common.Log.Warning("REDIS_HOSTS not set; rate limits and stats cache are local to this instance")
		limiter := ratelimit.NewMemoryLimiter()
		backend := cache.NewMemoryBackend()
		closers = append(closers, func() {
			limiter.Close()
			backend.Close()
		})
		return limiter, backend
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    strings.Split(cfg.RedisAddr, ","),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	closers = append(closers, func() { client.Close() })

	common.Log.Debugf("using redis at %s for rate limits and stats cache", cfg.RedisAddr)
	return ratelimit.NewRedisLimiter(client), cache.NewRedisBackend(client)
}

func initStore(cfg *common.Config) store.Store {
	if os.Getenv("DATABASE_HOST") == "" {
		common.Log.Warning("DATABASE_HOST not set; verification state is held in memory")
		st := store.NewMemoryStore()
		tickers = append(tickers, func() {
			pruned, err := st.PruneAttempts(shutdownCtx, time.Now().Add(-cfg.BehavioralWindow))
			if err != nil {
				common.Log.Warningf("failed to prune verification attempts; %s", err.Error())
			} else if pruned > 0 {
				common.Log.Debugf("pruned %d verification attempts older than %s", pruned, cfg.BehavioralWindow)
			}
		})
		return st
	}
	return store.NewGormStore(dbconf.DatabaseConnection())
}

// initNats wires the stats gateway providers and chain submission when NATS is configured;
// otherwise every supported game is served by an empty static provider
func initNats(cfg *common.Config, games *game.Registry, st store.Store) (*stats.Registry, chain.Submitter, error) {
	registry := stats.NewRegistry()

	if cfg.NatsURL == "" {
		common.Log.Warning("NATS_URL not set; stats are served by static providers and chain submission is disabled")
		for _, id := range games.Games() {
			definition, _ := games.Definition(id)
			registry.Register(id, providers.NewStaticProvider(definition.ValidateAccountFormat))
		}
		return registry, &chain.NoopSubmitter{}, nil
	}

	conn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to stats gateway at %s; %s", cfg.NatsURL, err.Error())
	}
	closers = append(closers, conn.Close)

	for _, id := range games.Games() {
		definition, _ := games.Definition(id)
		registry.Register(id, providers.NewGatewayProvider(conn, cfg.StatsGatewayNamespace, id, definition.ValidateAccountFormat))
	}

	chain.RequireStream()
	if cfg.ConsumeNATSStreaming {
		chain.InstallConsumers(&wg, store.NewProofStore(st))
	}

	return registry, chain.NewNatsSubmitter(), nil
}

func initQuests(cfg *common.Config) (quest.Catalog, error) {
	if cfg.QuestCatalogPath == "" {
		common.Log.Warning("QUEST_CATALOG_PATH not set; no quests are available")
		return quest.NewStaticCatalog(), nil
	}
	return quest.LoadStaticCatalog(cfg.QuestCatalogPath)
}

func runAPI(cfg *common.Config, orchestrator *verification.Orchestrator, limiter ratelimit.Limiter) {
	r := gin.Default()
	r.Use(gin.Recovery())
	r.Use(verification.RateLimitMiddleware(limiter, cfg.IPRateLimit, cfg.IPRateLimitWindow))

	r.GET("/status", statusHandler)

	opts := []verification.APIOption{verification.WithReviewers(cfg.ReviewerIDs...)}
	if cfg.TrustedUserHeader != "" {
		opts = append(opts, verification.WithTrustedUserHeader(cfg.TrustedUserHeader))
	}
	verification.InstallAPI(r, orchestrator, opts...)

	srv = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%s", cfg.ListenPort),
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			common.Log.Panicf("failed to initialize questproof API; %s", err.Error())
		}
	}()

	common.Log.Debugf("listening on %s", srv.Addr)
}

func statusHandler(c *gin.Context) {
	c.JSON(http.StatusNoContent, nil)
}
