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
	"encoding/json"
	"errors"
	"fmt"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/questproof/common"
)

const defaultNatsStream = "questproof"

const natsChainSubmitSubject = "questproof.chain.submit"
const natsChainConfirmedSubject = "questproof.chain.confirmed"

// NatsSubmitter publishes submissions to a jetstream subject consumed by the chain system
type NatsSubmitter struct {
	publish func(subject string, payload []byte) (*nats.PubAck, error)
	subject string
}

// NewNatsSubmitter returns a submitter publishing through the shared natsutil connection
func NewNatsSubmitter() *NatsSubmitter {
	return &NatsSubmitter{
		publish: natsutil.NatsJetstreamPublish,
		subject: natsChainSubmitSubject,
	}
}

// SubmitToChain publishes the submission; the reference is the stream and sequence of the ack
func (s *NatsSubmitter) SubmitToChain(ctx context.Context, submission *Submission) (string, error) {
	if submission == nil || submission.Envelope == nil {
		return "", errors.New("failed to submit proof to chain; no envelope")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload, err := json.Marshal(submission)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chain submission for proof %s; %s", submission.ProofID, err.Error())
	}

	type result struct {
		ack *nats.PubAck
		err error
	}
	done := make(chan result, 1)
	go func() {
		ack, err := s.publish(s.subject, payload)
		done <- result{ack, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("failed to publish chain submission for proof %s; %s", submission.ProofID, r.err.Error())
		}
		if r.ack == nil {
			return "", fmt.Errorf("failed to publish chain submission for proof %s; no ack", submission.ProofID)
		}
		common.Log.Debugf("published chain submission for proof %s; stream: %s; seq: %d", submission.ProofID, r.ack.Stream, r.ack.Sequence)
		return fmt.Sprintf("%s:%d", r.ack.Stream, r.ack.Sequence), nil
	}
}
