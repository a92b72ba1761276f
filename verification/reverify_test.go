package verification

import (
	"context"
	"testing"
	"time"

	"github.com/provideplatform/questproof/stats"
	"github.com/provideplatform/questproof/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func progressedLeagueStats() *stats.RawStats {
	raw := cleanLeagueStats()
	raw.RankedWins += 3
	raw.RankedLosses += 2
	raw.AccountLevel++
	return raw
}

func resetLeagueStats() *stats.RawStats {
	return &stats.RawStats{
		Rank:         "IRON",
		Division:     4,
		AccountLevel: 1,
		RankedWins:   5,
		RankedLosses: 5,
	}
}

func TestReverifyConsistentProofRemainsVerified(t *testing.T) {
	h := newHarness(t)

	submitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)
	calls := h.lol.Calls()
	original := h.proof(t, submitted.ProofID)

	h.lol.Set(lolAccount, progressedLeagueStats())
	h.clock = h.clock.Add(time.Hour)

	result, err := h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.False(t, result.Revoked)
	assert.Greater(t, result.ConsistencyScore, 0.9)
	assert.NotEqual(t, original.VerificationHash, result.Commitment)
	assert.Equal(t, calls+1, h.lol.Calls())

	proof := h.proof(t, submitted.ProofID)
	assert.True(t, proof.Verified)
	assert.Equal(t, store.ProofStatusAccepted, proof.Status)
	assert.Equal(t, original.VerificationHash, proof.VerificationHash)
	require.NotNil(t, proof.LastVerified)
	require.NotNil(t, proof.ConsistencyScore)
	assert.Equal(t, store.ProgressStatusVerified, h.progress(t, userID, questID).Status)
}

func TestReverifyInconsistentProofIsRevoked(t *testing.T) {
	h := newHarness(t)

	submitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)

	h.lol.Set(lolAccount, resetLeagueStats())

	result, err := h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.True(t, result.Revoked)
	assert.Less(t, result.ConsistencyScore, 0.7)

	proof := h.proof(t, submitted.ProofID)
	assert.False(t, proof.Verified)
	assert.Equal(t, store.ProofStatusRevoked, proof.Status)
	assert.Equal(t, store.ProgressStatusCompleted, h.progress(t, userID, questID).Status)
	assert.Equal(t, int64(cleanPoints), h.leaderboardScore(t, userID))

	_, err = h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	assert.ErrorIs(t, err, ErrProofNotVerified)
}

func TestReverifyRevokesWhenFreshStatsScoreAsFraud(t *testing.T) {
	h := newHarness(t)

	submitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)

	boosted := cleanLeagueStats()
	boosted.RankedWins = 2000
	h.lol.Set(lolAccount, boosted)

	result, err := h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	require.NoError(t, err)
	assert.True(t, result.Revoked)
	assert.GreaterOrEqual(t, *result.FraudScore, 70)
}

func TestReverifyGuards(t *testing.T) {
	h := newHarness(t)

	submitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)

	_, err = h.orchestrator.Reverify(context.Background(), submitted.ProofID, otherUserID)
	assert.ErrorIs(t, err, ErrNotProofOwner)

	_, err = h.orchestrator.Reverify(context.Background(), "missing", userID)
	assert.ErrorIs(t, err, ErrProofNotFound)

	h.clock = h.clock.Add(25 * time.Hour)
	_, err = h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	assert.ErrorIs(t, err, ErrReverificationExpired)

	review, err := h.submit(otherUserID, stats.GameLeagueOfLegends, reviewAccount, questID)
	require.NoError(t, err)
	_, err = h.orchestrator.Reverify(context.Background(), review.ProofID, otherUserID)
	assert.ErrorIs(t, err, ErrProofNotVerified)
}

func TestReverifySharesTheSubmissionRateBudget(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.RateLimit = 2 })

	submitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)

	_, err = h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	require.NoError(t, err)

	calls := h.lol.Calls()
	_, err = h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, calls, h.lol.Calls())
	assert.True(t, h.proof(t, submitted.ProofID).Verified)
}

func TestReverifyUpstreamFailureLeavesProofUntouched(t *testing.T) {
	h := newHarness(t)

	submitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)

	h.lol.Fail(lolAccount, stats.NewFetchError(stats.FetchErrorUnavailable, nil))
	_, err = h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	proof := h.proof(t, submitted.ProofID)
	assert.True(t, proof.Verified)
	assert.Nil(t, proof.LastVerified)
}

func TestRevokedAbandonedQuestIsNotCreditedTwice(t *testing.T) {
	h := newHarness(t)

	submitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)
	assert.Equal(t, int64(cleanPoints), h.leaderboardScore(t, userID))

	h.lol.Set(lolAccount, resetLeagueStats())
	result, err := h.orchestrator.Reverify(context.Background(), submitted.ProofID, userID)
	require.NoError(t, err)
	require.True(t, result.Revoked)

	record, err := h.orchestrator.Abandon(context.Background(), userID, questID)
	require.NoError(t, err)
	assert.Equal(t, store.ProgressStatusNotStarted, record.Status)

	h.lol.Set(lolAccount, cleanLeagueStats())
	resubmitted, err := h.submit(userID, stats.GameLeagueOfLegends, lolAccount, questID)
	require.NoError(t, err)
	assert.True(t, h.proof(t, resubmitted.ProofID).Verified)
	assert.Equal(t, store.ProgressStatusVerified, h.progress(t, userID, questID).Status)
	assert.Equal(t, int64(cleanPoints), h.leaderboardScore(t, userID))
}
