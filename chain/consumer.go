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
	"sync"
	"time"

	natsutil "github.com/kthomas/go-natsutil"
	"github.com/nats-io/nats.go"
	"github.com/provideplatform/questproof/common"
)

const natsChainConfirmedMaxInFlight = 256
const chainConfirmedAckWait = time.Second * 30
const chainConfirmedMaxDeliveries = 10
const chainConfirmedTimeout = time.Second * 10

// ConfirmationRecorder stores on-chain transaction references against proofs
type ConfirmationRecorder interface {
	RecordBlockchainTx(ctx context.Context, proofID, txRef string) error
}

// Confirmation is published by the chain system once a submission lands on chain
type Confirmation struct {
	ProofID string `json:"proof_id"`
	TxHash  string `json:"tx_hash"`
}

// RequireStream establishes the shared connection and the jetstream stream backing chain subjects
func RequireStream() {
	natsutil.EstablishSharedNatsConnection(nil)
	natsutil.NatsCreateStream(defaultNatsStream, []string{
		fmt.Sprintf("%s.chain.>", defaultNatsStream),
	})
}

// InstallConsumers subscribes the confirmation handler to the chain confirmation subject
func InstallConsumers(wg *sync.WaitGroup, recorder ConfirmationRecorder) {
	handler := func(msg *nats.Msg) {
		consumeChainConfirmationMsg(msg, recorder)
	}

	for i := uint64(0); i < natsutil.GetNatsConsumerConcurrency(); i++ {
		natsutil.RequireNatsJetstreamSubscription(wg,
			chainConfirmedAckWait,
			natsChainConfirmedSubject,
			natsChainConfirmedSubject,
			natsChainConfirmedSubject,
			handler,
			chainConfirmedAckWait,
			natsChainConfirmedMaxInFlight,
			chainConfirmedMaxDeliveries,
			nil,
		)
	}
}

func consumeChainConfirmationMsg(msg *nats.Msg, recorder ConfirmationRecorder) {
	defer func() {
		if r := recover(); r != nil {
			common.Log.Warningf("recovered during chain confirmation; %s", r)
			msg.Nak()
		}
	}()

	common.Log.Debugf("consuming %d-byte NATS chain confirmation message on subject: %s", len(msg.Data), msg.Subject)

	ctx, cancel := context.WithTimeout(context.Background(), chainConfirmedTimeout)
	defer cancel()

	if err := handleConfirmation(ctx, msg.Data, recorder); err != nil {
		common.Log.Warningf("failed to handle chain confirmation; %s", err.Error())
		msg.Nak()
		return
	}

	msg.Ack()
}

func handleConfirmation(ctx context.Context, data []byte, recorder ConfirmationRecorder) error {
	confirmation := &Confirmation{}
	if err := json.Unmarshal(data, confirmation); err != nil {
		return fmt.Errorf("failed to unmarshal chain confirmation message; %s", err.Error())
	}

	if confirmation.ProofID == "" || confirmation.TxHash == "" {
		return errors.New("chain confirmation requires proof_id and tx_hash")
	}

	if err := recorder.RecordBlockchainTx(ctx, confirmation.ProofID, confirmation.TxHash); err != nil {
		return fmt.Errorf("failed to record blockchain tx %s for proof %s; %w", confirmation.TxHash, confirmation.ProofID, err)
	}

	common.Log.Debugf("recorded blockchain tx %s for proof %s", confirmation.TxHash, confirmation.ProofID)
	return nil
}
