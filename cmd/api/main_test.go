package main

import (
	"context"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/provideplatform/questproof/chain"
	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/game"
	"github.com/provideplatform/questproof/ratelimit"
	"github.com/provideplatform/questproof/stats"
	"github.com/provideplatform/questproof/store"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "questproof api")
}

var _ = Describe("main", func() {
	var cfg *common.Config

	BeforeEach(func() {
		os.Unsetenv("DATABASE_HOST")
		os.Unsetenv("NATS_URL")
		os.Unsetenv("REDIS_HOSTS")

		var err error
		cfg, err = common.LoadConfig()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		for _, closer := range closers {
			closer()
		}
		closers = nil
		tickers = nil
	})

	Describe("initRedis", func() {
		It("falls back to a local limiter without redis", func() {
			limiter, backend := initRedis(cfg)
			Expect(limiter).To(BeAssignableToTypeOf(&ratelimit.MemoryLimiter{}))
			Expect(backend).NotTo(BeNil())
			Expect(closers).To(HaveLen(1))
		})
	})

	Describe("initStore", func() {
		It("holds state in memory without a database", func() {
			Expect(initStore(cfg)).To(BeAssignableToTypeOf(&store.MemoryStore{}))
		})

		It("prunes attempts older than the behavioral window on each tick", func() {
			shutdownCtx = context.Background()
			st := initStore(cfg)
			Expect(tickers).To(HaveLen(1))

			Expect(st.Transact(shutdownCtx, func(tx store.Tx) error {
				return tx.CreateAttempt(shutdownCtx, &store.VerificationAttempt{
					ID:        "stale",
					UserID:    "u1",
					Outcome:   store.AttemptOutcomeSuccess,
					CreatedAt: time.Now().Add(-2 * cfg.BehavioralWindow),
				})
			})).To(Succeed())

			tickers[0]()

			Expect(st.Transact(shutdownCtx, func(tx store.Tx) error {
				_, err := tx.Attempt(shutdownCtx, "stale")
				return err
			})).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("initNats", func() {
		It("serves every game from static providers without nats", func() {
			registry, submitter, err := initNats(cfg, game.DefaultRegistry(), store.NewMemoryStore())
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.Games()).To(ConsistOf(stats.GameLeagueOfLegends, stats.GameValorant, stats.GameCounterStrike))
			Expect(submitter).To(BeAssignableToTypeOf(&chain.NoopSubmitter{}))
		})
	})

	Describe("initQuests", func() {
		It("starts with an empty catalog when no path is configured", func() {
			quests, err := initQuests(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(quests).NotTo(BeNil())
		})

		It("fails on a missing catalog file", func() {
			cfg.QuestCatalogPath = "/nonexistent/quests.json"
			_, err := initQuests(cfg)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("initOrchestrator", func() {
		It("wires a local orchestrator from the default configuration", func() {
			orchestrator, limiter, err := initOrchestrator(cfg)
			Expect(err).NotTo(HaveOccurred())
			Expect(orchestrator).NotTo(BeNil())
			Expect(limiter).NotTo(BeNil())
		})

		It("rejects an invalid points table", func() {
			cfg.TierPoints = map[string]int{"Novice": 10}
			_, _, err := initOrchestrator(cfg)
			Expect(err).To(HaveOccurred())
		})
	})
})
