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

package chain

import (
	"context"

	"github.com/provideplatform/questproof/commitment"
)

// Submission is an accepted proof handed to the external chain system
type Submission struct {
	ProofID  string               `json:"proof_id"`
	UserID   string               `json:"user_id"`
	QuestID  string               `json:"quest_id"`
	Envelope *commitment.Envelope `json:"envelope"`
}

// Submitter forwards accepted proofs to the chain system and returns a transaction reference
type Submitter interface {
	SubmitToChain(ctx context.Context, submission *Submission) (string, error)
}

// NoopSubmitter accepts every submission without forwarding it
type NoopSubmitter struct{}

// SubmitToChain returns an empty reference
func (s *NoopSubmitter) SubmitToChain(ctx context.Context, submission *Submission) (string, error) {
	return "", ctx.Err()
}
