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

package stats

import (
	"errors"
	"fmt"
	"time"
)

// FetchErrorKind tags the failure mode of an upstream stats fetch
type FetchErrorKind string

const (
	FetchErrorNotFound     FetchErrorKind = "not_found"
	FetchErrorRateLimited  FetchErrorKind = "rate_limited"
	FetchErrorForbidden    FetchErrorKind = "forbidden"
	FetchErrorUnauthorized FetchErrorKind = "unauthorized"
	FetchErrorUnavailable  FetchErrorKind = "unavailable"
)

// FetchError is the typed failure returned by providers
type FetchError struct {
	Kind       FetchErrorKind
	RetryAfter time.Duration // only meaningful for FetchErrorRateLimited
	Cause      error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stats fetch failed (%s); %s", e.Kind, e.Cause.Error())
	}
	return fmt.Sprintf("stats fetch failed (%s)", e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewFetchError returns a fetch error of the given kind
func NewFetchError(kind FetchErrorKind, cause error) *FetchError {
	return &FetchError{
		Kind:  kind,
		Cause: cause,
	}
}

// AsFetchError extracts a *FetchError from the chain, if any
func AsFetchError(err error) (*FetchError, bool) {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr, true
	}
	return nil, false
}

// ParseFetchErrorKind maps a wire kind onto a known kind; unknown kinds are unavailable
func ParseFetchErrorKind(kind string) FetchErrorKind {
	switch FetchErrorKind(kind) {
	case FetchErrorNotFound, FetchErrorRateLimited, FetchErrorForbidden, FetchErrorUnauthorized, FetchErrorUnavailable:
		return FetchErrorKind(kind)
	default:
		return FetchErrorUnavailable
	}
}
