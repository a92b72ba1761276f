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
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Code classifies a verification failure
type Code string

const (
	CodeAlreadyVerified        Code = "already_verified"
	CodeRateLimited            Code = "rate_limited"
	CodeInvalidAccountFormat   Code = "invalid_account_format"
	CodeAccountNotFound        Code = "account_not_found"
	CodeAccountPrivate         Code = "account_private"
	CodeUpstreamUnauthorized   Code = "upstream_unauthorized"
	CodeUpstreamUnavailable    Code = "upstream_unavailable"
	CodeInternalScoringFailure Code = "internal_scoring_failure"
	CodePersistenceConflict    Code = "persistence_conflict"

	CodeUnsupportedGame       Code = "unsupported_game"
	CodeQuestNotFound         Code = "quest_not_found"
	CodeProofNotFound         Code = "proof_not_found"
	CodeNotProofOwner         Code = "not_proof_owner"
	CodeProofNotVerified      Code = "proof_not_verified"
	CodeReverificationExpired Code = "reverification_expired"
	CodeNotUnderReview        Code = "not_under_review"
	CodeInvalidTransition     Code = "invalid_transition"
	CodeProofNotRequired      Code = "proof_not_required"
)

var codeMessages = map[Code]string{
	CodeAlreadyVerified:        "quest already verified",
	CodeRateLimited:            "too many verification attempts",
	CodeInvalidAccountFormat:   "invalid game account format",
	CodeAccountNotFound:        "game account not found",
	CodeAccountPrivate:         "game account statistics are private",
	CodeUpstreamUnauthorized:   "statistics provider rejected our credentials",
	CodeUpstreamUnavailable:    "statistics provider unavailable",
	CodeInternalScoringFailure: "failed to score verification",
	CodePersistenceConflict:    "verification conflicted with a concurrent update",
	CodeUnsupportedGame:        "unsupported game",
	CodeQuestNotFound:          "quest not found",
	CodeProofNotFound:          "proof not found",
	CodeNotProofOwner:          "proof belongs to another user",
	CodeProofNotVerified:       "proof is not verified",
	CodeReverificationExpired:  "proof is too old to re-verify",
	CodeNotUnderReview:         "proof is not under review",
	CodeInvalidTransition:      "invalid progress transition",
	CodeProofNotRequired:       "quest does not take proof submissions",
}

var codeStatuses = map[Code]int{
	CodeAlreadyVerified:        http.StatusConflict,
	CodeRateLimited:            http.StatusTooManyRequests,
	CodeInvalidAccountFormat:   http.StatusUnprocessableEntity,
	CodeAccountNotFound:        http.StatusNotFound,
	CodeAccountPrivate:         http.StatusForbidden,
	CodeUpstreamUnauthorized:   http.StatusBadGateway,
	CodeUpstreamUnavailable:    http.StatusServiceUnavailable,
	CodeInternalScoringFailure: http.StatusInternalServerError,
	CodePersistenceConflict:    http.StatusConflict,
	CodeUnsupportedGame:        http.StatusUnprocessableEntity,
	CodeQuestNotFound:          http.StatusNotFound,
	CodeProofNotFound:          http.StatusNotFound,
	CodeNotProofOwner:          http.StatusForbidden,
	CodeProofNotVerified:       http.StatusConflict,
	CodeReverificationExpired:  http.StatusConflict,
	CodeNotUnderReview:         http.StatusConflict,
	CodeInvalidTransition:      http.StatusConflict,
	CodeProofNotRequired:       http.StatusUnprocessableEntity,
}

// Error is a classified verification failure; upstream detail stays in Cause and is never rendered
type Error struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = codeMessages[e.Code]
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s; %s", e.Code, msg, e.Cause.Error())
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Retryable reports whether the caller may retry the same request later
func (e *Error) Retryable() bool {
	return e.Code == CodeRateLimited || e.Code == CodeUpstreamUnavailable
}

// PublicMessage is the caller-facing description
func (e *Error) PublicMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return codeMessages[e.Code]
}

// Status is the http status corresponding to the code
func (e *Error) Status() int {
	if status, ok := codeStatuses[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NewError returns an error of the given code
func NewError(code Code, cause error) *Error {
	return &Error{
		Code:  code,
		Cause: cause,
	}
}

func rateLimited(retryAfter time.Duration, cause error) *Error {
	return &Error{
		Code:       CodeRateLimited,
		RetryAfter: retryAfter,
		Cause:      cause,
	}
}

// AsError extracts a verification error from err
func AsError(err error) (*Error, bool) {
	var verr *Error
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}

// Sentinels for errors.Is comparisons
var (
	ErrAlreadyVerified        = &Error{Code: CodeAlreadyVerified}
	ErrRateLimited            = &Error{Code: CodeRateLimited}
	ErrInvalidAccountFormat   = &Error{Code: CodeInvalidAccountFormat}
	ErrAccountNotFound        = &Error{Code: CodeAccountNotFound}
	ErrAccountPrivate         = &Error{Code: CodeAccountPrivate}
	ErrUpstreamUnauthorized   = &Error{Code: CodeUpstreamUnauthorized}
	ErrUpstreamUnavailable    = &Error{Code: CodeUpstreamUnavailable}
	ErrInternalScoringFailure = &Error{Code: CodeInternalScoringFailure}
	ErrPersistenceConflict    = &Error{Code: CodePersistenceConflict}
	ErrUnsupportedGame        = &Error{Code: CodeUnsupportedGame}
	ErrQuestNotFound          = &Error{Code: CodeQuestNotFound}
	ErrProofNotFound          = &Error{Code: CodeProofNotFound}
	ErrNotProofOwner          = &Error{Code: CodeNotProofOwner}
	ErrProofNotVerified       = &Error{Code: CodeProofNotVerified}
	ErrReverificationExpired  = &Error{Code: CodeReverificationExpired}
	ErrNotUnderReview         = &Error{Code: CodeNotUnderReview}
	ErrInvalidTransition      = &Error{Code: CodeInvalidTransition}
	ErrProofNotRequired       = &Error{Code: CodeProofNotRequired}
)
