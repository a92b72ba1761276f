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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

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
	"github.com/provideplatform/questproof/store"
)

const attemptFinalizeTimeout = time.Second * 5

const warningChainSubmissionFailed = "proof accepted but chain submission failed; it will not appear on chain until resubmitted"

// Dependencies are the collaborators of the orchestrator
type Dependencies struct {
	Games       *game.Registry
	Providers   *stats.Registry
	Cache       *cache.StatsCache
	Limiter     ratelimit.Limiter
	Fraud       *fraud.Engine
	Skill       *skill.Engine
	Commitments *commitment.Service
	Ledger      *ledger.Ledger
	Store       store.Store
	Quests      quest.Catalog
	Chain       chain.Submitter
}

// Orchestrator runs the verification state machine: a submission is fetched, scored,
// then accepted, held for review or rejected
type Orchestrator struct {
	config Config

	games       *game.Registry
	providers   *stats.Registry
	cache       *cache.StatsCache
	limiter     ratelimit.Limiter
	fraud       *fraud.Engine
	skill       *skill.Engine
	commitments *commitment.Service
	ledger      *ledger.Ledger
	store       store.Store
	quests      quest.Catalog
	chain       chain.Submitter

	now   func() time.Time
	newID func() (string, error)
}

// scored is everything derived from one set of stats before persistence
type scored struct {
	assessment     *fraud.Assessment
	classification *skill.Classification
	decision       fraud.Decision
	hash           string
	envelope       *commitment.Envelope
	committedAt    time.Time
}

// NewOrchestrator wires the verification flow; a nil chain submitter disables chain submission
func NewOrchestrator(deps Dependencies, config Config) (*Orchestrator, error) {
	if deps.Games == nil || deps.Providers == nil || deps.Cache == nil || deps.Limiter == nil {
		return nil, errors.New("failed to initialize orchestrator; games, providers, cache and limiter are required")
	}
	if deps.Fraud == nil || deps.Skill == nil || deps.Commitments == nil {
		return nil, errors.New("failed to initialize orchestrator; fraud, skill and commitment services are required")
	}
	if deps.Ledger == nil || deps.Store == nil || deps.Quests == nil {
		return nil, errors.New("failed to initialize orchestrator; ledger, store and quest catalog are required")
	}

	submitter := deps.Chain
	if submitter == nil {
		submitter = &chain.NoopSubmitter{}
	}

	defaults := DefaultConfig()
	if config.RateLimit <= 0 {
		config.RateLimit = defaults.RateLimit
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = defaults.RateLimitWindow
	}
	if config.StatsCacheTTL <= 0 {
		config.StatsCacheTTL = defaults.StatsCacheTTL
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = defaults.FetchTimeout
	}
	if config.ChainTimeout <= 0 {
		config.ChainTimeout = defaults.ChainTimeout
	}
	if config.ReverifyStaleness <= 0 {
		config.ReverifyStaleness = defaults.ReverifyStaleness
	}
	if config.ConsistencyThreshold <= 0 {
		config.ConsistencyThreshold = defaults.ConsistencyThreshold
	}

	return &Orchestrator{
		config:      config,
		games:       deps.Games,
		providers:   deps.Providers,
		cache:       deps.Cache,
		limiter:     deps.Limiter,
		fraud:       deps.Fraud,
		skill:       deps.Skill,
		commitments: deps.Commitments,
		ledger:      deps.Ledger,
		store:       deps.Store,
		quests:      deps.Quests,
		chain:       submitter,
		now:         time.Now,
		newID:       common.NewID,
	}, nil
}

// Submit verifies a claimed game account for a quest that requires proof. Every call records an
// attempt before any external fetch; gates run in order idempotency, format, rate, then the stats are fetched,
// scored, classified, committed and persisted in one transaction
func (o *Orchestrator) Submit(ctx context.Context, params SubmitParams) (result *Result, err error) {
	params.Account = strings.TrimSpace(params.Account)
	if params.UserID == "" {
		return nil, errors.New("failed to submit verification; user id required")
	}

	attempt, err := o.recordAttempt(ctx, params)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err != nil {
			o.failAttempt(ctx, attempt.ID, err)
		}
	}()

	q, definition, provider, err := o.resolve(ctx, params.QuestID, params.Game)
	if err != nil {
		return nil, err
	}
	if !q.ProofRequired {
		return nil, NewError(CodeProofNotRequired, nil)
	}

	if err := o.requireUnverified(ctx, params.UserID, params.QuestID); err != nil {
		return nil, err
	}

	if !definition.ValidateAccountFormat(params.Account) {
		return nil, NewError(CodeInvalidAccountFormat, nil)
	}

	if err := o.consumeRateBudget(ctx, params.Game, params.UserID); err != nil {
		return nil, err
	}

	raw, err := o.fetch(ctx, params.Game, params.Account, provider, true)
	if err != nil {
		return nil, err
	}

	s, err := o.score(ctx, params.Game, params.Account, params.UserID, raw)
	if err != nil {
		return nil, err
	}

	proof, err := o.newProof(attempt, params, stats.SourceOf(provider, params.Game), raw, s)
	if err != nil {
		return nil, err
	}

	outcome := outcomeFor(s.decision)
	fraudScore := s.assessment.Score

	err = o.store.Transact(ctx, func(tx store.Tx) error {
		if _, err := tx.VerifiedProof(ctx, params.UserID, params.QuestID); err == nil {
			return NewError(CodeAlreadyVerified, nil)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if err := tx.CreateProof(ctx, proof); err != nil {
			return err
		}

		switch outcome {
		case OutcomeAccepted:
			if _, err := o.ledger.ApplyScore(ctx, tx, params.UserID, params.QuestID, q.WorldID, s.classification.Tier); err != nil {
				return err
			}
			return tx.ResolveAttempt(ctx, attempt.ID, store.AttemptOutcomeSuccess, &fraudScore, nil)
		case OutcomeUnderReview:
			// the attempt stays pending until a reviewer decides
			return o.ledger.MarkInProgress(ctx, tx, params.UserID, params.QuestID)
		default:
			return tx.ResolveAttempt(ctx, attempt.ID, store.AttemptOutcomeRejected, &fraudScore, nil)
		}
	})
	if err != nil {
		return nil, o.persistenceError(ctx, params.UserID, params.QuestID, err)
	}

	result = &Result{
		Outcome:    outcome,
		SkillTier:  s.classification.Tier,
		FraudScore: o.fraudScore(fraudScore),
		Flags:      o.flags(s.assessment.Flags),
		ProofID:    proof.ID,
		AttemptID:  attempt.ID,
		Warnings:   make([]string, 0),
	}

	if outcome == OutcomeAccepted {
		if warning := o.submitToChain(ctx, proof, s.envelope); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}

	common.Log.Debugf("verification attempt %s for user %s on quest %s resolved %s; fraud score: %d; tier: %s", attempt.ID, params.UserID, params.QuestID, outcome, fraudScore, s.classification.Tier)
	return result, nil
}

// Proof returns a proof owned by the requester
func (o *Orchestrator) Proof(ctx context.Context, proofID, requesterID string) (*ProofView, error) {
	proof, err := o.loadProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if proof.UserID != requesterID {
		return nil, NewError(CodeNotProofOwner, nil)
	}
	return o.view(proof), nil
}

// Progress returns the user's standing on a quest
func (o *Orchestrator) Progress(ctx context.Context, userID, questID string) (*store.ProgressRecord, error) {
	if _, err := o.quest(ctx, questID); err != nil {
		return nil, err
	}
	return o.ledger.Progress(ctx, userID, questID)
}

// Abandon resets an in-progress or completed quest; verified quests cannot be abandoned
func (o *Orchestrator) Abandon(ctx context.Context, userID, questID string) (*store.ProgressRecord, error) {
	if _, err := o.quest(ctx, questID); err != nil {
		return nil, err
	}

	var record *store.ProgressRecord
	err := o.store.Transact(ctx, func(tx store.Tx) error {
		var err error
		record, err = o.ledger.Abandon(ctx, tx, userID, questID)
		return err
	})
	if errors.Is(err, ledger.ErrInvalidTransition) {
		return nil, NewError(CodeInvalidTransition, err)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Leaderboard returns a world's ranked entries
func (o *Orchestrator) Leaderboard(ctx context.Context, worldID string, limit int) ([]*store.LeaderboardEntry, error) {
	return o.ledger.Leaderboard(ctx, worldID, limit)
}

func (o *Orchestrator) recordAttempt(ctx context.Context, params SubmitParams) (*store.VerificationAttempt, error) {
	id, err := o.newID()
	if err != nil {
		return nil, err
	}

	attempt := &store.VerificationAttempt{
		ID:          id,
		UserID:      params.UserID,
		Game:        params.Game,
		GameAccount: params.Account,
		QuestID:     params.QuestID,
		Outcome:     store.AttemptOutcomePending,
		CreatedAt:   o.now(),
	}

	err = o.store.Transact(ctx, func(tx store.Tx) error {
		return tx.CreateAttempt(ctx, attempt)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to record verification attempt for user %s; %w", params.UserID, err)
	}
	return attempt, nil
}

// failAttempt marks the attempt errored; it runs detached from ctx so cancellation is recorded
func (o *Orchestrator) failAttempt(ctx context.Context, attemptID string, cause error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptFinalizeTimeout)
	defer cancel()

	msg := cause.Error()
	err := o.store.Transact(fctx, func(tx store.Tx) error {
		return tx.ResolveAttempt(fctx, attemptID, store.AttemptOutcomeErrored, nil, &msg)
	})
	if err != nil && !errors.Is(err, store.ErrOutcomeFinal) {
		common.Log.Warningf("failed to mark verification attempt %s errored; %s", attemptID, err.Error())
	}
}

func (o *Orchestrator) annotateAttempt(ctx context.Context, attemptID, msg string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptFinalizeTimeout)
	defer cancel()

	err := o.store.Transact(fctx, func(tx store.Tx) error {
		return tx.ResolveAttempt(fctx, attemptID, "", nil, &msg)
	})
	if err != nil {
		common.Log.Warningf("failed to annotate verification attempt %s; %s", attemptID, err.Error())
	}
}

func (o *Orchestrator) quest(ctx context.Context, questID string) (*quest.Quest, error) {
	q, err := o.quests.Quest(ctx, questID)
	if err != nil {
		if errors.Is(err, quest.ErrQuestNotFound) {
			return nil, NewError(CodeQuestNotFound, err)
		}
		return nil, fmt.Errorf("failed to resolve quest %s; %w", questID, err)
	}
	return q, nil
}

func (o *Orchestrator) resolve(ctx context.Context, questID, gameID string) (*quest.Quest, game.Definition, stats.Provider, error) {
	q, err := o.quest(ctx, questID)
	if err != nil {
		return nil, nil, nil, err
	}

	definition, err := o.games.Definition(gameID)
	if err != nil {
		return nil, nil, nil, NewError(CodeUnsupportedGame, err)
	}

	provider, err := o.providers.Provider(gameID)
	if err != nil {
		return nil, nil, nil, NewError(CodeUnsupportedGame, err)
	}

	return q, definition, provider, nil
}

func (o *Orchestrator) requireUnverified(ctx context.Context, userID, questID string) error {
	err := o.store.Transact(ctx, func(tx store.Tx) error {
		_, err := tx.VerifiedProof(ctx, userID, questID)
		return err
	})
	if err == nil {
		return NewError(CodeAlreadyVerified, nil)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (o *Orchestrator) consumeRateBudget(ctx context.Context, gameID, userID string) error {
	result, err := o.limiter.Allow(ctx, ratelimit.UserGameKey(gameID, userID), o.config.RateLimit, o.config.RateLimitWindow)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		common.Log.Warningf("rate limiter unavailable for user %s; %s", userID, err.Error())
		return NewError(CodeUpstreamUnavailable, err)
	}
	if !result.Allowed {
		return rateLimited(result.RetryAfter, nil)
	}
	return nil
}

// fetch reads stats through the cache, or straight from the provider when cached is false
func (o *Orchestrator) fetch(ctx context.Context, gameID, account string, provider stats.Provider, cached bool) (*stats.RawStats, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, o.config.FetchTimeout)
	defer cancel()

	fetch := func(c context.Context) (*stats.RawStats, error) {
		return provider.FetchStats(c, account)
	}

	var raw *stats.RawStats
	var err error
	if cached {
		var fromCache bool
		raw, fromCache, err = o.cache.GetOrFetch(fetchCtx, cache.Key(gameID, account), o.config.StatsCacheTTL, fetch)
		if fromCache {
			common.Log.Debugf("served %s stats for account %s from cache", gameID, account)
		}
	} else {
		raw, err = fetch(fetchCtx)
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, translateFetchError(err)
	}
	if raw == nil {
		return nil, NewError(CodeUpstreamUnavailable, errors.New("provider returned no stats"))
	}
	return raw, nil
}

func translateFetchError(err error) error {
	fetchErr, ok := stats.AsFetchError(err)
	if !ok {
		return NewError(CodeUpstreamUnavailable, err)
	}

	switch fetchErr.Kind {
	case stats.FetchErrorNotFound:
		return NewError(CodeAccountNotFound, err)
	case stats.FetchErrorForbidden:
		return NewError(CodeAccountPrivate, err)
	case stats.FetchErrorUnauthorized:
		common.Log.Warningf("stats provider rejected upstream credentials; %s", err.Error())
		return NewError(CodeUpstreamUnauthorized, err)
	case stats.FetchErrorRateLimited:
		return rateLimited(fetchErr.RetryAfter, err)
	default:
		return NewError(CodeUpstreamUnavailable, err)
	}
}

// score runs fraud scoring, classification and commitment; any fault, panics included, is an
// internal scoring failure
func (o *Orchestrator) score(ctx context.Context, gameID, account, userID string, raw *stats.RawStats) (s *scored, err error) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered from scoring fault for %s account %s; %v", gameID, account, r)
			s = nil
			err = NewError(CodeInternalScoringFailure, fmt.Errorf("%v", r))
		}
	}()

	assessment, err := o.fraud.Score(ctx, gameID, account, raw, userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	classification, err := o.skill.Classify(gameID, raw)
	if err != nil {
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	committedAt := o.now().UTC()
	hash, err := commitment.Commit(gameID, account, raw, committedAt)
	if err != nil {
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	envelope, err := o.commitments.BuildProofEnvelope(hash)
	if err != nil {
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	return &scored{
		assessment:     assessment,
		classification: classification,
		decision:       o.fraud.Decide(assessment.Score),
		hash:           hash,
		envelope:       envelope,
		committedAt:    committedAt,
	}, nil
}

func (o *Orchestrator) newProof(attempt *store.VerificationAttempt, params SubmitParams, source string, raw *stats.RawStats, s *scored) (*store.Proof, error) {
	id, err := o.newID()
	if err != nil {
		return nil, err
	}

	rawStats, err := store.MarshalJSONValue(raw)
	if err != nil {
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	envelope, err := store.MarshalJSONValue(s.envelope)
	if err != nil {
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	outcome := outcomeFor(s.decision)
	status := store.ProofStatusRejected
	switch outcome {
	case OutcomeAccepted:
		status = store.ProofStatusAccepted
	case OutcomeUnderReview:
		status = store.ProofStatusUnderReview
	}

	return &store.Proof{
		ID:                id,
		AttemptID:         attempt.ID,
		UserID:            params.UserID,
		QuestID:           params.QuestID,
		Game:              params.Game,
		GameAccount:       params.Account,
		APISource:         source,
		RawStats:          rawStats,
		FraudScore:        s.assessment.Score,
		Flags:             s.assessment.Flags,
		SkillTier:         s.classification.Tier.String(),
		VerificationHash:  s.hash,
		Envelope:          envelope,
		Status:            status,
		Verified:          outcome == OutcomeAccepted,
		NeedsManualReview: outcome == OutcomeUnderReview,
		SubmittedAt:       s.committedAt,
	}, nil
}

// persistenceError classifies a failed persistence transaction
func (o *Orchestrator) persistenceError(ctx context.Context, userID, questID string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := AsError(err); ok {
		return err
	}
	if errors.Is(err, store.ErrConflict) {
		if gateErr := o.requireUnverified(ctx, userID, questID); gateErr != nil {
			if verr, ok := AsError(gateErr); ok && verr.Code == CodeAlreadyVerified {
				return NewError(CodeAlreadyVerified, err)
			}
		}
		return NewError(CodePersistenceConflict, err)
	}
	return fmt.Errorf("failed to persist verification for user %s on quest %s; %w", userID, questID, err)
}

// submitToChain forwards an accepted proof; failures are reported as a warning, never as an error
func (o *Orchestrator) submitToChain(ctx context.Context, proof *store.Proof, envelope *commitment.Envelope) string {
	chainCtx, cancel := context.WithTimeout(ctx, o.config.ChainTimeout)
	defer cancel()

	txRef, err := o.chain.SubmitToChain(chainCtx, &chain.Submission{
		ProofID:  proof.ID,
		UserID:   proof.UserID,
		QuestID:  proof.QuestID,
		Envelope: envelope,
	})
	if err != nil {
		common.Log.Warningf("failed to submit proof %s to chain; %s", proof.ID, err.Error())
		o.annotateAttempt(ctx, proof.AttemptID, fmt.Sprintf("chain submission failed; %s", err.Error()))
		return warningChainSubmissionFailed
	}

	if txRef == "" {
		return ""
	}

	if err := store.NewProofStore(o.store).RecordBlockchainTx(context.WithoutCancel(ctx), proof.ID, txRef); err != nil {
		common.Log.Warningf("failed to record chain reference %s for proof %s; %s", txRef, proof.ID, err.Error())
		return ""
	}
	proof.BlockchainTx = &txRef
	return ""
}

func (o *Orchestrator) loadProof(ctx context.Context, proofID string) (*store.Proof, error) {
	var proof *store.Proof
	err := o.store.Transact(ctx, func(tx store.Tx) error {
		var err error
		proof, err = tx.Proof(ctx, proofID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewError(CodeProofNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	return proof, nil
}

func decodeEnvelope(raw store.JSON) (*commitment.Envelope, error) {
	envelope := &commitment.Envelope{}
	if err := json.Unmarshal(raw, envelope); err != nil {
		return nil, err
	}
	return envelope, nil
}

func outcomeFor(decision fraud.Decision) Outcome {
	switch decision {
	case fraud.DecisionAccept:
		return OutcomeAccepted
	case fraud.DecisionReview:
		return OutcomeUnderReview
	default:
		return OutcomeRejected
	}
}
