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
	"errors"

	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/skill"
	"github.com/provideplatform/questproof/store"
)

// Review resolves a proof held for manual review. Approval promotes it to accepted, crediting the
// ledger and forwarding it to the chain; a failed chain submission is reported in the view's
// warnings. Rejection leaves quest progress untouched
func (o *Orchestrator) Review(ctx context.Context, params ReviewParams) (*ProofView, error) {
	proof, err := o.loadProof(ctx, params.ProofID)
	if err != nil {
		return nil, err
	}
	if proof.Status != store.ProofStatusUnderReview {
		return nil, NewError(CodeNotUnderReview, nil)
	}

	q, err := o.quest(ctx, proof.QuestID)
	if err != nil {
		return nil, err
	}

	tier, err := skill.ParseTier(proof.SkillTier)
	if err != nil {
		return nil, NewError(CodeInternalScoringFailure, err)
	}

	var reviewed *store.Proof
	err = o.store.Transact(ctx, func(tx store.Tx) error {
		current, err := tx.ProofForUpdate(ctx, params.ProofID)
		if err != nil {
			return err
		}
		if current.Status != store.ProofStatusUnderReview {
			return NewError(CodeNotUnderReview, nil)
		}

		current.NeedsManualReview = false
		current.ReviewedBy = common.StringOrNil(params.ReviewerID)
		current.ReviewNote = common.StringOrNil(params.Note)
		score := current.FraudScore

		if params.Approve {
			if _, err := tx.VerifiedProof(ctx, current.UserID, current.QuestID); err == nil {
				return NewError(CodeAlreadyVerified, nil)
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}

			current.Status = store.ProofStatusAccepted
			current.Verified = true
			if err := tx.UpdateProof(ctx, current); err != nil {
				return err
			}
			if _, err := o.ledger.ApplyScore(ctx, tx, current.UserID, current.QuestID, q.WorldID, tier); err != nil {
				return err
			}
			if err := tx.ResolveAttempt(ctx, current.AttemptID, store.AttemptOutcomeSuccess, &score, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		} else {
			current.Status = store.ProofStatusRejected
			if err := tx.UpdateProof(ctx, current); err != nil {
				return err
			}
			if err := tx.ResolveAttempt(ctx, current.AttemptID, store.AttemptOutcomeRejected, &score, nil); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		reviewed = current
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if _, ok := AsError(err); ok {
			return nil, err
		}
		if errors.Is(err, store.ErrConflict) {
			return nil, NewError(CodeAlreadyVerified, err)
		}
		return nil, err
	}

	common.Log.Debugf("proof %s reviewed by %s; approved: %v", reviewed.ID, params.ReviewerID, params.Approve)

	var warnings []string
	if params.Approve {
		envelope, err := decodeEnvelope(reviewed.Envelope)
		if err != nil {
			common.Log.Warningf("failed to decode envelope of proof %s for chain submission; %s", reviewed.ID, err.Error())
			warnings = append(warnings, warningChainSubmissionFailed)
		} else if warning := o.submitToChain(ctx, reviewed, envelope); warning != "" {
			warnings = append(warnings, warning)
		}
	}

	view := o.view(reviewed)
	view.Warnings = warnings
	return view, nil
}
