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

package commitment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	frbls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	frbls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
	frbls24315 "github.com/consensys/gnark-crypto/ecc/bls24-315/fr"
	frbn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	frbw6761 "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/backend"

	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/stats"
)

const protocolName = "questproof-v1"

// ErrEnvelopeMismatch is returned when an envelope does not attest the given commitment
var ErrEnvelopeMismatch = errors.New("proof envelope does not match commitment")

// Envelope is the proof package handed to the external ZK/chain system
type Envelope struct {
	CircuitProof    string   `json:"circuit_proof"`
	PublicInputs    []string `json:"public_inputs"`
	VerificationKey string   `json:"verification_key"`
	ProtocolVersion string   `json:"protocol_version"`
}

// Config for the commitment service
type Config struct {
	ProvingScheme      string
	Curve              string
	VerificationKeyID  string
	VerificationSecret []byte
}

// Service commits to verified stats and packages the commitment for proving
type Service struct {
	curve  ecc.ID
	scheme backend.ID
	keyID  string
	secret []byte
}

// commitmentPayload field order is the canonical serialization
type commitmentPayload struct {
	Game      string          `json:"game"`
	Account   string          `json:"account"`
	Stats     *stats.RawStats `json:"stats"`
	Timestamp string          `json:"timestamp"`
}

// NewService validates the proving configuration; a missing secret is replaced by an ephemeral one
func NewService(cfg Config) (*Service, error) {
	curve := common.GnarkCurveIDFactory(common.StringOrNil(cfg.Curve))
	if curve == ecc.UNKNOWN {
		return nil, fmt.Errorf("unsupported curve: %s", cfg.Curve)
	}

	scheme := common.GnarkProvingSchemeFactory(common.StringOrNil(cfg.ProvingScheme))
	if scheme == backend.UNKNOWN {
		return nil, fmt.Errorf("unsupported proving scheme: %s", cfg.ProvingScheme)
	}

	secret := cfg.VerificationSecret
	if len(secret) == 0 {
		common.Log.Warning("no proof verification secret configured; using an ephemeral secret")
		var err error
		secret, err = common.RandomBytes(32)
		if err != nil {
			return nil, err
		}
	}

	return &Service{
		curve:  curve,
		scheme: scheme,
		keyID:  cfg.VerificationKeyID,
		secret: secret,
	}, nil
}

// Commit returns the hex sha256 commitment over the canonical serialization of the verified claim
func Commit(game, account string, raw *stats.RawStats, timestamp time.Time) (string, error) {
	if raw == nil {
		return "", errors.New("no stats to commit")
	}

	payload, err := json.Marshal(&commitmentPayload{
		Game:      game,
		Account:   account,
		Stats:     raw,
		Timestamp: timestamp.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize commitment payload; %s", err.Error())
	}

	digest := sha256.Sum256(payload)
	return hex.EncodeToString(digest[:]), nil
}

// ProtocolVersion names the envelope format, proving scheme and curve
func (s *Service) ProtocolVersion() string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s", protocolName, s.scheme.String(), s.curve.String()))
}

// BuildProofEnvelope packages a commitment hash as public inputs for the external prover
func (s *Service) BuildProofEnvelope(hash string) (*Envelope, error) {
	digest, err := hex.DecodeString(hash)
	if err != nil || len(digest) != sha256.Size {
		return nil, fmt.Errorf("invalid commitment hash: %s", hash)
	}

	elem, err := s.fieldElement(digest)
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		PublicInputs:    []string{hex.EncodeToString(elem)},
		VerificationKey: s.keyID,
		ProtocolVersion: s.ProtocolVersion(),
	}
	env.CircuitProof = s.sign(env)
	return env, nil
}

// VerifyEnvelope checks that env attests hash under this service's key
func (s *Service) VerifyEnvelope(env *Envelope, hash string) error {
	if env == nil {
		return ErrEnvelopeMismatch
	}

	expected, err := s.BuildProofEnvelope(hash)
	if err != nil {
		return err
	}

	if env.ProtocolVersion != expected.ProtocolVersion || env.VerificationKey != expected.VerificationKey {
		return ErrEnvelopeMismatch
	}
	if strings.Join(env.PublicInputs, ",") != strings.Join(expected.PublicInputs, ",") {
		return ErrEnvelopeMismatch
	}
	if !hmac.Equal([]byte(env.CircuitProof), []byte(s.sign(env))) {
		return ErrEnvelopeMismatch
	}
	return nil
}

func (s *Service) sign(env *Envelope) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(env.ProtocolVersion))
	mac.Write([]byte{'|'})
	mac.Write([]byte(env.VerificationKey))
	for _, input := range env.PublicInputs {
		mac.Write([]byte{'|'})
		mac.Write([]byte(input))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// fieldElement reduces b into the scalar field of the configured curve
func (s *Service) fieldElement(b []byte) ([]byte, error) {
	switch s.curve {
	case ecc.BLS12_377:
		var elem frbls12377.Element
		elem.SetBytes(b)
		elemBytes := elem.Bytes()
		return elemBytes[:], nil
	case ecc.BLS12_381:
		var elem frbls12381.Element
		elem.SetBytes(b)
		elemBytes := elem.Bytes()
		return elemBytes[:], nil
	case ecc.BLS24_315:
		var elem frbls24315.Element
		elem.SetBytes(b)
		elemBytes := elem.Bytes()
		return elemBytes[:], nil
	case ecc.BN254:
		var elem frbn254.Element
		elem.SetBytes(b)
		elemBytes := elem.Bytes()
		return elemBytes[:], nil
	case ecc.BW6_761:
		var elem frbw6761.Element
		elem.SetBytes(b)
		elemBytes := elem.Bytes()
		return elemBytes[:], nil
	}
	return nil, fmt.Errorf("unsupported curve: %s", s.curve.String())
}
