package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/provideplatform/questproof/commitment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRecorder struct {
	records map[string]string
	err     error
}

func (r *recordingRecorder) RecordBlockchainTx(ctx context.Context, proofID, txRef string) error {
	if r.err != nil {
		return r.err
	}
	r.records[proofID] = txRef
	return nil
}

func submission() *Submission {
	return &Submission{
		ProofID:  "p1",
		UserID:   "u1",
		QuestID:  "q1",
		Envelope: &commitment.Envelope{PublicInputs: []string{"00"}},
	}
}

func TestNatsSubmitterReturnsStreamSequence(t *testing.T) {
	var published []byte
	s := &NatsSubmitter{
		subject: natsChainSubmitSubject,
		publish: func(subject string, payload []byte) (*nats.PubAck, error) {
			assert.Equal(t, natsChainSubmitSubject, subject)
			published = payload
			return &nats.PubAck{Stream: "questproof", Sequence: 42}, nil
		},
	}

	ref, err := s.SubmitToChain(context.Background(), submission())
	require.NoError(t, err)
	assert.Equal(t, "questproof:42", ref)
	assert.Contains(t, string(published), `"proof_id":"p1"`)
}

func TestNatsSubmitterFailures(t *testing.T) {
	s := &NatsSubmitter{
		subject: natsChainSubmitSubject,
		publish: func(subject string, payload []byte) (*nats.PubAck, error) {
			return nil, errors.New("no responders")
		},
	}

	_, err := s.SubmitToChain(context.Background(), submission())
	assert.Error(t, err)

	_, err = s.SubmitToChain(context.Background(), &Submission{ProofID: "p1"})
	assert.Error(t, err)
}

func TestNatsSubmitterHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := &NatsSubmitter{
		subject: natsChainSubmitSubject,
		publish: func(subject string, payload []byte) (*nats.PubAck, error) {
			<-release
			return &nats.PubAck{}, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.SubmitToChain(ctx, submission())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleConfirmation(t *testing.T) {
	recorder := &recordingRecorder{records: map[string]string{}}

	require.NoError(t, handleConfirmation(context.Background(), []byte(`{"proof_id":"p1","tx_hash":"0xabc"}`), recorder))
	assert.Equal(t, "0xabc", recorder.records["p1"])

	assert.Error(t, handleConfirmation(context.Background(), []byte(`{"proof_id":"p1"}`), recorder))
	assert.Error(t, handleConfirmation(context.Background(), []byte(`not json`), recorder))

	recorder.err = errors.New("not found")
	assert.Error(t, handleConfirmation(context.Background(), []byte(`{"proof_id":"p2","tx_hash":"0xdef"}`), recorder))
}

func TestConsumeRecoversFromRecorderPanic(t *testing.T) {
	msg := &nats.Msg{Subject: natsChainConfirmedSubject, Data: []byte(`{"proof_id":"p1","tx_hash":"0xabc"}`)}
	assert.NotPanics(t, func() {
		consumeChainConfirmationMsg(msg, nil)
	})
}

func TestNoopSubmitter(t *testing.T) {
	ref, err := (&NoopSubmitter{}).SubmitToChain(context.Background(), submission())
	require.NoError(t, err)
	assert.Empty(t, ref)
}
