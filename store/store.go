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

package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness invariant,
	// i.e. a second verified proof for the same user and quest
	ErrConflict = errors.New("record conflicts with an existing record")

	// ErrOutcomeFinal is returned when resolving an attempt whose outcome was already set
	ErrOutcomeFinal = errors.New("verification attempt outcome already final")
)

// Tx is the set of persistence operations available within a transaction
type Tx interface {
	CreateAttempt(ctx context.Context, attempt *VerificationAttempt) error
	Attempt(ctx context.Context, attemptID string) (*VerificationAttempt, error)

	// ResolveAttempt sets the outcome of a pending attempt; an empty outcome, or an attempt
	// that is already final, only accepts an error annotation
	ResolveAttempt(ctx context.Context, attemptID, outcome string, fraudScore *int, errMsg *string) error
	CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error)

	CreateProof(ctx context.Context, proof *Proof) error
	UpdateProof(ctx context.Context, proof *Proof) error
	Proof(ctx context.Context, proofID string) (*Proof, error)
	ProofForUpdate(ctx context.Context, proofID string) (*Proof, error)
	VerifiedProof(ctx context.Context, userID, questID string) (*Proof, error)

	Progress(ctx context.Context, userID, questID string) (*ProgressRecord, error)
	SaveProgress(ctx context.Context, record *ProgressRecord) error

	// IncrementLeaderboard atomically adds delta to the user's score in the world, creating the entry if needed
	IncrementLeaderboard(ctx context.Context, userID, worldID string, delta int64, at time.Time) error
	LeaderboardEntry(ctx context.Context, userID, worldID string) (*LeaderboardEntry, error)
	Leaderboard(ctx context.Context, worldID string, limit int) ([]*LeaderboardEntry, error)
}

// Store runs units of work atomically; fn's writes are all applied or none are
type Store interface {
	Transact(ctx context.Context, fn func(tx Tx) error) error
}

// AttemptHistory reads attempt counts through a store
type AttemptHistory struct {
	store Store
}

// NewAttemptHistory returns an attempt history over the store
func NewAttemptHistory(store Store) *AttemptHistory {
	return &AttemptHistory{
		store: store,
	}
}

// CountAttemptsSince counts the user's attempts across all games created at or after since
func (h *AttemptHistory) CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := h.store.Transact(ctx, func(tx Tx) error {
		var err error
		count, err = tx.CountAttemptsSince(ctx, userID, since)
		return err
	})
	return count, err
}

// ProofStore adapts a store to out-of-band proof updates such as chain confirmations
type ProofStore struct {
	store Store
}

// NewProofStore returns a proof store over the store
func NewProofStore(store Store) *ProofStore {
	return &ProofStore{
		store: store,
	}
}

// RecordBlockchainTx sets the chain transaction reference on a proof
func (p *ProofStore) RecordBlockchainTx(ctx context.Context, proofID, txRef string) error {
	return p.store.Transact(ctx, func(tx Tx) error {
		proof, err := tx.ProofForUpdate(ctx, proofID)
		if err != nil {
			return err
		}
		proof.BlockchainTx = &txRef
		return tx.UpdateProof(ctx, proof)
	})
}
