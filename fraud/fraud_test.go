package fraud

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/provideplatform/questproof/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedProfile []Signal

func (p fixedProfile) Signals(raw *stats.RawStats) []Signal {
	return p
}

type profileMap map[string]Profile

func (m profileMap) Profile(game string) (Profile, error) {
	p, ok := m[game]
	if !ok {
		return nil, stats.ErrUnsupportedGame
	}
	return p, nil
}

type countingHistory struct {
	count int
	err   error
	since time.Time
}

func (h *countingHistory) CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	h.since = since
	return h.count, h.err
}

func TestScoreSumsFlaggedSignals(t *testing.T) {
	engine := NewEngine(profileMap{
		"game": fixedProfile{
			{Category: CategoryImplausiblePerformance, Weight: 30, Flag: "a"},
			{Category: CategoryAccountCredibility, Weight: 25, Flag: "b"},
		},
	}, nil, DefaultConfig())

	assessment, err := engine.Score(context.Background(), "game", "acct", &stats.RawStats{}, "user")
	require.NoError(t, err)
	assert.Equal(t, 55, assessment.Score)
	assert.Equal(t, []string{"a", "b"}, assessment.Flags)
	assert.Equal(t, DecisionReview, engine.Decide(assessment.Score))
}

func TestScoreIsCapped(t *testing.T) {
	engine := NewEngine(profileMap{
		"game": fixedProfile{
			{Category: CategoryImplausiblePerformance, Weight: 50, Flag: "a"},
			{Category: CategoryImplausiblePerformance, Weight: 40, Flag: "b"},
			{Category: CategoryInternalConsistency, Weight: 30, Flag: "c"},
		},
	}, nil, DefaultConfig())

	assessment, err := engine.Score(context.Background(), "game", "acct", &stats.RawStats{}, "user")
	require.NoError(t, err)
	assert.Equal(t, MaxScore, assessment.Score)
	assert.Len(t, assessment.Flags, 3)
}

func TestUnflaggedWeightIsAFault(t *testing.T) {
	engine := NewEngine(profileMap{
		"game": fixedProfile{{Category: CategoryInternalConsistency, Weight: 30}},
	}, nil, DefaultConfig())

	_, err := engine.Score(context.Background(), "game", "acct", &stats.RawStats{}, "user")
	assert.True(t, errors.Is(err, ErrUntraceableSignal))
}

func TestZeroWeightSignalsAreDropped(t *testing.T) {
	engine := NewEngine(profileMap{
		"game": fixedProfile{{Category: CategoryInternalConsistency}},
	}, nil, DefaultConfig())

	assessment, err := engine.Score(context.Background(), "game", "acct", &stats.RawStats{}, "user")
	require.NoError(t, err)
	assert.Zero(t, assessment.Score)
	assert.Empty(t, assessment.Flags)
}

func TestBehavioralSignal(t *testing.T) {
	history := &countingHistory{count: 6}
	engine := NewEngine(profileMap{"game": fixedProfile{}}, history, DefaultConfig())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }

	assessment, err := engine.Score(context.Background(), "game", "acct", &stats.RawStats{}, "user")
	require.NoError(t, err)
	assert.Equal(t, behavioralWeight, assessment.Score)
	assert.Equal(t, []string{FlagExcessiveAttempts}, assessment.Flags)
	assert.Equal(t, now.Add(-24*time.Hour), history.since)

	history.count = 5
	assessment, err = engine.Score(context.Background(), "game", "acct", &stats.RawStats{}, "user")
	require.NoError(t, err)
	assert.Zero(t, assessment.Score)

	history.err = errors.New("db down")
	_, err = engine.Score(context.Background(), "game", "acct", &stats.RawStats{}, "user")
	assert.Error(t, err)
}

func TestDecideBands(t *testing.T) {
	assert.Equal(t, DecisionAccept, Decide(0, 50, 70))
	assert.Equal(t, DecisionAccept, Decide(49, 50, 70))
	assert.Equal(t, DecisionReview, Decide(50, 50, 70))
	assert.Equal(t, DecisionReview, Decide(69, 50, 70))
	assert.Equal(t, DecisionReject, Decide(70, 50, 70))
	assert.Equal(t, DecisionReject, Decide(100, 50, 70))
}

func TestUnknownGame(t *testing.T) {
	engine := NewEngine(profileMap{}, nil, DefaultConfig())
	_, err := engine.Score(context.Background(), "nope", "acct", &stats.RawStats{}, "user")
	assert.True(t, errors.Is(err, stats.ErrUnsupportedGame))
}
