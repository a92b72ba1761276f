package verification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/provideplatform/questproof/cache"
	"github.com/provideplatform/questproof/chain"
	"github.com/provideplatform/questproof/commitment"
	"github.com/provideplatform/questproof/fraud"
	"github.com/provideplatform/questproof/game"
	"github.com/provideplatform/questproof/ledger"
	"github.com/provideplatform/questproof/quest"
	"github.com/provideplatform/questproof/ratelimit"
	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/stats"
	"github.com/provideplatform/questproof/stats/providers"
	"github.com/provideplatform/questproof/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lolAccount    = "Player#EUW"
	csAccount     = "76561197960287930"
	questID       = "quest-1"
	sideQuestID   = "quest-2"
	openQuestID   = "quest-3"
	worldID       = "world-1"
	userID        = "user-1"
	otherUserID   = "user-2"
	reviewerID    = "reviewer-1"
	cleanPoints   = 400 // Intermediate+
	reviewPoints  = 700 // Advanced
	reviewAccount = "Climber#EUW"
	cheatAccount  = "Booster#EUW"
)

type fakeChain struct {
	mutex       sync.Mutex
	submissions []*chain.Submission
	err         error
}

func (f *fakeChain) SubmitToChain(ctx context.Context, submission *chain.Submission) (string, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.submissions = append(f.submissions, submission)
	return fmt.Sprintf("questproof:%d", len(f.submissions)), nil
}

func (f *fakeChain) count() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.submissions)
}

type harness struct {
	orchestrator *Orchestrator
	store        *store.MemoryStore
	ledger       *ledger.Ledger
	lol          *providers.StaticProvider
	cs           *providers.StaticProvider
	chain        *fakeChain
	clock        time.Time
	ids          int64
}

func recentMatches(n, kills, deaths, assists, score int) []stats.MatchSummary {
	out := make([]stats.MatchSummary, n)
	for i := range out {
		out[i] = stats.MatchSummary{Kills: kills, Deaths: deaths, Assists: assists, Score: score, Won: i%2 == 0}
	}
	return out
}

func cleanLeagueStats() *stats.RawStats {
	return &stats.RawStats{
		Rank:          "PLATINUM",
		Division:      1,
		RankPoints:    50,
		AccountLevel:  300,
		RankedWins:    110,
		RankedLosses:  90,
		RecentMatches: recentMatches(10, 6, 4, 8, 180),
	}
}

func reviewLeagueStats() *stats.RawStats {
	return &stats.RawStats{
		Rank:          "MASTER",
		RankPoints:    120,
		AccountLevel:  20,
		RankedWins:    60,
		RankedLosses:  50,
		RecentMatches: recentMatches(10, 2, 8, 3, 150),
	}
}

func implausibleLeagueStats() *stats.RawStats {
	return &stats.RawStats{
		Rank:         "GOLD",
		Division:     2,
		RankPoints:   40,
		AccountLevel: 150,
		RankedWins:   58,
		RankedLosses: 2,
	}
}

func cleanCounterStrikeStats() *stats.RawStats {
	return &stats.RawStats{
		RankPoints:     12000,
		AccountLevel:   30,
		AccountAgeDays: 900,
		Kills:          1000,
		Deaths:         900,
		Headshots:      300,
		RankedWins:     30,
		RankedLosses:   28,
	}
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	h := &harness{
		store: store.NewMemoryStore(),
		chain: &fakeChain{},
		clock: time.Now(),
	}

	games := game.DefaultRegistry()
	lolDef, err := games.Definition(stats.GameLeagueOfLegends)
	require.NoError(t, err)
	csDef, err := games.Definition(stats.GameCounterStrike)
	require.NoError(t, err)

	h.lol = providers.NewStaticProvider(lolDef.ValidateAccountFormat)
	h.lol.Set(lolAccount, cleanLeagueStats())
	h.lol.Set(reviewAccount, reviewLeagueStats())
	h.lol.Set(cheatAccount, implausibleLeagueStats())

	h.cs = providers.NewStaticProvider(csDef.ValidateAccountFormat)
	h.cs.Set(csAccount, cleanCounterStrikeStats())

	registry := stats.NewRegistry()
	registry.Register(stats.GameLeagueOfLegends, h.lol)
	registry.Register(stats.GameCounterStrike, h.cs)

	backend := cache.NewMemoryBackend()
	t.Cleanup(func() { backend.Close() })
	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(func() { limiter.Close() })

	commitments, err := commitment.NewService(commitment.Config{
		ProvingScheme:      "groth16",
		Curve:              "bn254",
		VerificationKeyID:  "test",
		VerificationSecret: []byte("secret"),
	})
	require.NoError(t, err)

	h.ledger = ledger.New(h.store, skill.DefaultPointsTable())

	config := DefaultConfig()
	for _, m := range mutate {
		m(&config)
	}

	h.orchestrator, err = NewOrchestrator(Dependencies{
		Games:       games,
		Providers:   registry,
		Cache:       cache.New(backend),
		Limiter:     limiter,
		Fraud:       fraud.NewEngine(games, store.NewAttemptHistory(h.store), fraud.DefaultConfig()),
		Skill:       skill.NewEngine(games),
		Commitments: commitments,
		Ledger:      h.ledger,
		Store:       h.store,
		Quests: quest.NewStaticCatalog(
			&quest.Quest{ID: questID, WorldID: worldID, ProofRequired: true},
			&quest.Quest{ID: sideQuestID, WorldID: worldID, ProofRequired: true},
			&quest.Quest{ID: openQuestID, WorldID: worldID},
		),
		Chain: h.chain,
	}, config)
	require.NoError(t, err)

	h.orchestrator.now = func() time.Time { return h.clock }
	h.orchestrator.newID = func() (string, error) {
		return fmt.Sprintf("id-%d", atomic.AddInt64(&h.ids, 1)), nil
	}
	return h
}

func (h *harness) submit(userID, gameID, account, questID string) (*Result, error) {
	return h.orchestrator.Submit(context.Background(), SubmitParams{
		UserID:  userID,
		Game:    gameID,
		Account: account,
		QuestID: questID,
	})
}

func (h *harness) attempt(t *testing.T, id string) *store.VerificationAttempt {
	var attempt *store.VerificationAttempt
	require.NoError(t, h.store.Transact(context.Background(), func(tx store.Tx) error {
		var err error
		attempt, err = tx.Attempt(context.Background(), id)
		return err
	}))
	return attempt
}

func (h *harness) proof(t *testing.T, id string) *store.Proof {
	var proof *store.Proof
	require.NoError(t, h.store.Transact(context.Background(), func(tx store.Tx) error {
		var err error
		proof, err = tx.Proof(context.Background(), id)
		return err
	}))
	return proof
}

func (h *harness) progress(t *testing.T, userID, questID string) *store.ProgressRecord {
	record, err := h.ledger.Progress(context.Background(), userID, questID)
	require.NoError(t, err)
	return record
}

func (h *harness) leaderboardScore(t *testing.T, userID string) int64 {
	entries, err := h.ledger.Leaderboard(context.Background(), worldID, 0)
	require.NoError(t, err)
	for _, e := range entries {
		if e.UserID == userID {
			return e.Score
		}
	}
	return 0
}

func TestSubmitAccepted(t *testing.T) {
	h := newHarness(t)

	result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.Equal(t, skill.IntermediatePlus, result.SkillTier)
	require.NotNil(t, result.FraudScore)
	assert.Equal(t, 0, *result.FraudScore)
	assert.Empty(t, result.Warnings)

	attempt := h.attempt(t, result.AttemptID)
	assert.Equal(t, store.AttemptOutcomeSuccess, attempt.Outcome)

	proof := h.proof(t, result.ProofID)
	assert.True(t, proof.Verified)
	assert.False(t, proof.NeedsManualReview)
	assert.Equal(t, "static", proof.APISource)
	assert.Len(t, proof.VerificationHash, 64)
	require.NotNil(t, proof.BlockchainTx)
	assert.Equal(t, "questproof:1", *proof.BlockchainTx)
	assert.NoError(t, h.orchestrator.VerifyProofEnvelope(context.Background(), proof.ID))

	record := h.progress(t, userID, questID)
	assert.Equal(t, store.ProgressStatusVerified, record.Status)
	assert.Equal(t, cleanPoints, record.Score)
	assert.Equal(t, int64(cleanPoints), h.leaderboardScore(t, userID))
	assert.Equal(t, 1, h.chain.count())
}

func TestSubmitRejectsImplausibleWinRate(t *testing.T) {
	h := newHarness(t)

	result, err := h.submit(userID, stats.GameLeagueOfLegends, cheatAccount, questID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.GreaterOrEqual(t, *result.FraudScore, 70)
	assert.Contains(t, result.Flags, game.FlagWinRateImplausible)

	proof := h.proof(t, result.ProofID)
	assert.False(t, proof.Verified)
	assert.Equal(t, store.ProofStatusRejected, proof.Status)
	assert.Equal(t, store.AttemptOutcomeRejected, h.attempt(t, result.AttemptID).Outcome)

	assert.Equal(t, store.ProgressStatusNotStarted, h.progress(t, userID, questID).Status)
	assert.Zero(t, h.leaderboardScore(t, userID))
	assert.Zero(t, h.chain.count())
}

func TestSubmitRejectsImplausibleWinRateAtAnyRank(t *testing.T) {
	for _, rank := range []string{"DIAMOND", "CHALLENGER", ""} {
		h := newHarness(t)
		raw := implausibleLeagueStats()
		raw.Rank = rank
		h.lol.Set(cheatAccount, raw)

		result, err := h.submit(userID, stats.GameLeagueOfLegends, cheatAccount, questID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRejected, result.Outcome, rank)
		assert.GreaterOrEqual(t, *result.FraudScore, 70, rank)
		assert.False(t, h.proof(t, result.ProofID).Verified)
	}
}

func TestResubmitAfterAcceptIsAlreadyVerified(t *testing.T) {
	h := newHarness(t)

	_, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)
	calls := h.lol.Calls()

	_, err = h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	assert.ErrorIs(t, err, ErrAlreadyVerified)
	_, err = h.submit(userID, stats.GameCounterStrike, csAccount, questID)
	assert.ErrorIs(t, err, ErrAlreadyVerified)

	assert.Equal(t, calls, h.lol.Calls())
	assert.Zero(t, h.cs.Calls())
	assert.Equal(t, int64(cleanPoints), h.leaderboardScore(t, userID))
}

func TestSubmitUnderReview(t *testing.T) {
	h := newHarness(t)

	result, err := h.submit(userID, stats.GameLeagueOfLegends, reviewAccount, questID)
	require.NoError(t, err)

	assert.Equal(t, OutcomeUnderReview, result.Outcome)
	assert.Equal(t, 55, *result.FraudScore)

	proof := h.proof(t, result.ProofID)
	assert.False(t, proof.Verified)
	assert.True(t, proof.NeedsManualReview)
	assert.Equal(t, store.AttemptOutcomePending, h.attempt(t, result.AttemptID).Outcome)
	assert.Equal(t, store.ProgressStatusInProgress, h.progress(t, userID, questID).Status)
	assert.Zero(t, h.leaderboardScore(t, userID))
	assert.Zero(t, h.chain.count())
}

func TestInvalidFormatDoesNotFetchOrConsumeBudget(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateLimit = 1 })

	_, err := h.submit(userID, stats.GameCounterStrike, "abc", questID)
	assert.ErrorIs(t, err, ErrInvalidAccountFormat)
	assert.Zero(t, h.cs.Calls())
	assert.Equal(t, store.AttemptOutcomeErrored, h.attempt(t, "id-1").Outcome)

	result, err := h.submit(userID, stats.GameCounterStrike, csAccount, questID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
}

func TestRateLimitedPerUserAndGame(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateLimit = 2 })
	missing := "Nobody#EUW"

	for i := 0; i < 2; i++ {
		_, err := h.submit(userID, stats.GameLeagueOfLegends, missing, questID)
		assert.ErrorIs(t, err, ErrAccountNotFound)
	}

	_, err := h.submit(userID, stats.GameLeagueOfLegends, missing, questID)
	assert.ErrorIs(t, err, ErrRateLimited)
	verr, ok := AsError(err)
	require.True(t, ok)
	assert.True(t, verr.Retryable())
	assert.Greater(t, verr.RetryAfter, time.Duration(0))
	assert.Equal(t, 2, h.lol.Calls())

	_, err = h.submit(userID, stats.GameCounterStrike, csAccount, questID)
	assert.NoError(t, err)

	_, err = h.submit(otherUserID, stats.GameLeagueOfLegends, missing, questID)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestFetchErrorTranslation(t *testing.T) {
	cases := []struct {
		err      error
		expected *Error
	}{
		{stats.NewFetchError(stats.FetchErrorNotFound, nil), ErrAccountNotFound},
		{stats.NewFetchError(stats.FetchErrorForbidden, nil), ErrAccountPrivate},
		{stats.NewFetchError(stats.FetchErrorUnauthorized, nil), ErrUpstreamUnauthorized},
		{stats.NewFetchError(stats.FetchErrorUnavailable, nil), ErrUpstreamUnavailable},
		{&stats.FetchError{Kind: stats.FetchErrorRateLimited, RetryAfter: 30 * time.Second}, ErrRateLimited},
		{errors.New("connection reset"), ErrUpstreamUnavailable},
	}

	for _, tc := range cases {
		h := newHarness(t)
		h.lol.Fail(lolAccount, tc.err)

		result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, tc.expected)
		assert.Equal(t, store.AttemptOutcomeErrored, h.attempt(t, "id-1").Outcome)

		if tc.expected == ErrRateLimited {
			verr, _ := AsError(err)
			assert.Equal(t, 30*time.Second, verr.RetryAfter)
		}
	}
}

func TestFailedFetchesAreNotCached(t *testing.T) {
	h := newHarness(t)
	h.lol.Fail(lolAccount, stats.NewFetchError(stats.FetchErrorUnavailable, nil))

	_, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	h.lol.Set(lolAccount, cleanLeagueStats())
	result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.Equal(t, 2, h.lol.Calls())
}

func TestConcurrentSubmissionsVerifyOnce(t *testing.T) {
	h := newHarness(t)

	var accepted, already int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
			if err != nil {
				assert.ErrorIs(t, err, ErrAlreadyVerified)
				atomic.AddInt64(&already, 1)
				return
			}
			assert.Equal(t, OutcomeAccepted, result.Outcome)
			atomic.AddInt64(&accepted, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), accepted)
	assert.Equal(t, int64(7), already)
	assert.Equal(t, int64(cleanPoints), h.leaderboardScore(t, userID))
}

func TestCancellationMarksAttemptErrored(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	h.lol.Hook = func(ctx context.Context, account string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, err := h.orchestrator.Submit(ctx, SubmitParams{UserID: userID, Game: stats.GameLeagueOfLegends, Account: lolAccount, QuestID: questID})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)

	attempt := h.attempt(t, "id-1")
	assert.Equal(t, store.AttemptOutcomeErrored, attempt.Outcome)
	require.NotNil(t, attempt.Error)
	assert.Equal(t, store.ProgressStatusNotStarted, h.progress(t, userID, questID).Status)
}

func TestUnknownRankIsInternalScoringFailure(t *testing.T) {
	h := newHarness(t)
	h.lol.Set(lolAccount, &stats.RawStats{Rank: "WOOD"})

	result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInternalScoringFailure)
	assert.Equal(t, store.AttemptOutcomeErrored, h.attempt(t, "id-1").Outcome)
	assert.Zero(t, h.leaderboardScore(t, userID))
	assert.Equal(t, store.ProgressStatusNotStarted, h.progress(t, userID, questID).Status)
}

type panickingGame struct {
	game.CounterStrike
}

func (p *panickingGame) Signals(raw *stats.RawStats) []fraud.Signal {
	panic("signal table corrupted")
}

func TestScoringPanicIsInternalScoringFailure(t *testing.T) {
	h := newHarness(t)
	games := game.NewRegistry(&panickingGame{})
	h.orchestrator.games = games
	h.orchestrator.fraud = fraud.NewEngine(games, nil, fraud.DefaultConfig())

	_, err := h.submit(userID, stats.GameCounterStrike, csAccount, questID)
	assert.ErrorIs(t, err, ErrInternalScoringFailure)
	assert.Equal(t, store.AttemptOutcomeErrored, h.attempt(t, "id-1").Outcome)
}

func TestChainFailureIsAWarning(t *testing.T) {
	h := newHarness(t)
	h.chain.err = errors.New("jetstream unavailable")

	result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
	assert.Equal(t, []string{warningChainSubmissionFailed}, result.Warnings)

	attempt := h.attempt(t, result.AttemptID)
	assert.Equal(t, store.AttemptOutcomeSuccess, attempt.Outcome)
	require.NotNil(t, attempt.Error)
	assert.Contains(t, *attempt.Error, "chain submission failed")

	assert.Nil(t, h.proof(t, result.ProofID).BlockchainTx)
	assert.Equal(t, store.ProgressStatusVerified, h.progress(t, userID, questID).Status)
}

func TestBehavioralSignalCountsAttemptsAcrossGames(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 3; i++ {
		_, err := h.submit(userID, stats.GameCounterStrike, "abc", questID)
		require.Error(t, err)
		_, err = h.submit(userID, stats.GameLeagueOfLegends, "bad", questID)
		require.Error(t, err)
	}

	result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)
	assert.Equal(t, 20, *result.FraudScore)
	assert.Contains(t, result.Flags, fraud.FlagExcessiveAttempts)
	assert.Equal(t, OutcomeAccepted, result.Outcome)
}

func TestUnknownQuestAndGame(t *testing.T) {
	h := newHarness(t)

	_, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, "missing")
	assert.ErrorIs(t, err, ErrQuestNotFound)

	_, err = h.submit(userID, stats.GameValorant, "Player#EUW", questID)
	assert.ErrorIs(t, err, ErrUnsupportedGame)

	_, err = h.submit(userID, "chess", "magnus", questID)
	assert.ErrorIs(t, err, ErrUnsupportedGame)
}

func TestSubmitRequiresProofQuest(t *testing.T) {
	h := newHarness(t)
	calls := h.lol.Calls()

	_, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, openQuestID)
	assert.ErrorIs(t, err, ErrProofNotRequired)
	assert.Equal(t, calls, h.lol.Calls())

	assert.Equal(t, store.AttemptOutcomeErrored, h.attempt(t, "id-1").Outcome)
	assert.Equal(t, store.ProgressStatusNotStarted, h.progress(t, userID, openQuestID).Status)
	assert.Zero(t, h.leaderboardScore(t, userID))
}

func TestConfidentialFraudScores(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.ConfidentialFraudScores = true
		c.ExposeFraudFlags = false
	})

	result, err := h.submit(userID, stats.GameLeagueOfLegends, cheatAccount, questID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, result.Outcome)
	assert.Nil(t, result.FraudScore)
	assert.Nil(t, result.Flags)

	view, err := h.orchestrator.Proof(context.Background(), result.ProofID, userID)
	require.NoError(t, err)
	assert.Nil(t, view.FraudScore)
}

func TestProofOwnership(t *testing.T) {
	h := newHarness(t)

	result, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)

	view, err := h.orchestrator.Proof(context.Background(), result.ProofID, userID)
	require.NoError(t, err)
	assert.Equal(t, store.ProofStatusAccepted, view.Status)

	_, err = h.orchestrator.Proof(context.Background(), result.ProofID, otherUserID)
	assert.ErrorIs(t, err, ErrNotProofOwner)

	_, err = h.orchestrator.Proof(context.Background(), "missing", userID)
	assert.ErrorIs(t, err, ErrProofNotFound)
}

func TestAbandon(t *testing.T) {
	h := newHarness(t)

	_, err := h.orchestrator.Abandon(context.Background(), userID, questID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.submit(userID, stats.GameLeagueOfLegends, reviewAccount, questID)
	require.NoError(t, err)

	record, err := h.orchestrator.Abandon(context.Background(), userID, questID)
	require.NoError(t, err)
	assert.Equal(t, store.ProgressStatusNotStarted, record.Status)

	_, err = h.submit(userID, stats.GameLeagueOfLegends, lolAccount, sideQuestID)
	require.NoError(t, err)
	_, err = h.orchestrator.Abandon(context.Background(), userID, sideQuestID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.orchestrator.Abandon(context.Background(), userID, "missing")
	assert.ErrorIs(t, err, ErrQuestNotFound)
}

func TestErrorSemantics(t *testing.T) {
	err := fmt.Errorf("wrapped; %w", NewError(CodeAccountPrivate, errors.New("403 from upstream")))
	assert.ErrorIs(t, err, ErrAccountPrivate)
	assert.False(t, errors.Is(err, ErrAccountNotFound))

	verr, ok := AsError(err)
	require.True(t, ok)
	assert.False(t, verr.Retryable())
	assert.Equal(t, 403, verr.Status())
	assert.NotContains(t, verr.PublicMessage(), "upstream")

	assert.True(t, NewError(CodeUpstreamUnavailable, nil).Retryable())
	assert.True(t, rateLimited(time.Second, nil).Retryable())
	assert.False(t, NewError(CodeInternalScoringFailure, nil).Retryable())
	assert.Equal(t, 429, rateLimited(time.Second, nil).Status())
}
