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

	"github.com/provideplatform/questproof/commitment"
	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/stats"
	"github.com/provideplatform/questproof/store"
)

// Reverify re-fetches fresh stats for a verified proof, bypassing the cache, and revokes the proof
// unless the fresh stats are consistent with the originals and still score below the reject
// threshold. Only the owner may re-verify, and only within the staleness window after submission.
// Each re-verification draws on the same per-user, per-game budget as submissions
func (o *Orchestrator) Reverify(ctx context.Context, proofID, requesterID string) (*ReverifyResult, error) {
	proof, err := o.loadProof(ctx, proofID)
	if err != nil {
		return nil, err
	}
	if proof.UserID != requesterID {
		return nil, NewError(CodeNotProofOwner, nil)
	}
	if !proof.Verified {
		return nil, NewError(CodeProofNotVerified, nil)
	}
	if o.now().Sub(proof.SubmittedAt) > o.config.ReverifyStaleness {
		return nil, NewError(CodeReverificationExpired, nil)
	}

	q, _, provider, err := o.resolve(ctx, proof.QuestID, proof.Game)
	if err != nil {
		return nil, err
	}

	original := &stats.RawStats{}
	if err := json.Unmarshal(proof.RawStats, original); err != nil {
		return nil, NewError(CodeInternalScoringFailure, fmt.Errorf("failed to decode stats of proof %s; %s", proof.ID, err.Error()))
	}

	if err := o.consumeRateBudget(ctx, proof.Game, proof.UserID); err != nil {
		return nil, err
	}

	fresh, err := o.fetch(ctx, proof.Game, proof.GameAccount, provider, false)
	if err != nil {
		return nil, err
	}

	s, err := o.score(ctx, proof.Game, proof.GameAccount, proof.UserID, fresh)
	if err != nil {
		return nil, err
	}

	originalClassification, err := o.skill.Classify(proof.Game, original)
	if err != nil {
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	consistency := Consistency(original, fresh, originalClassification.Score, s.classification.Score)
	remains := consistency > o.config.ConsistencyThreshold && s.assessment.Score < o.fraud.RejectThreshold()

	now := o.now()
	err = o.store.Transact(ctx, func(tx store.Tx) error {
		current, err := tx.ProofForUpdate(ctx, proof.ID)
		if err != nil {
			return err
		}
		if !current.Verified {
			return NewError(CodeProofNotVerified, nil)
		}

		current.LastVerified = &now
		current.ConsistencyScore = &consistency

		if !remains {
			current.Verified = false
			current.Status = store.ProofStatusRevoked
			if err := o.ledger.Revoke(ctx, tx, current.UserID, current.QuestID); err != nil {
				return err
			}
		}

		return tx.UpdateProof(ctx, current)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewError(CodeProofNotFound, err)
		}
		return nil, err
	}

	if remains {
		common.Log.Debugf("proof %s re-verified for quest %s in world %s; consistency: %.2f", proof.ID, q.ID, q.WorldID, consistency)
	} else {
		common.Log.Warningf("revoked proof %s; consistency: %.2f; fresh fraud score: %d", proof.ID, consistency, s.assessment.Score)
	}

	return &ReverifyResult{
		ProofID:          proof.ID,
		Verified:         remains,
		Revoked:          !remains,
		ConsistencyScore: consistency,
		FraudScore:       o.fraudScore(s.assessment.Score),
		Flags:            o.flags(s.assessment.Flags),
		Commitment:       s.hash,
	}, nil
}

// VerifyProofEnvelope checks a stored proof's envelope against its commitment
func (o *Orchestrator) VerifyProofEnvelope(ctx context.Context, proofID string) error {
	proof, err := o.loadProof(ctx, proofID)
	if err != nil {
		return err
	}
	envelope, err := decodeEnvelope(proof.Envelope)
	if err != nil {
		return fmt.Errorf("failed to decode envelope of proof %s; %w", proof.ID, commitment.ErrEnvelopeMismatch)
	}
	return o.commitments.VerifyEnvelope(envelope, proof.VerificationHash)
}
