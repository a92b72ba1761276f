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

package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/stats"
)

// Requester is the request/reply capability of a NATS connection
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// GatewayProvider fetches stats for one game from an external stats gateway over NATS request/reply;
// publisher credentials, HTTP semantics and upstream retries belong to the gateway
type GatewayProvider struct {
	game     string
	subject  string
	conn     Requester
	validate func(string) bool
}

type gatewayRequest struct {
	Game    string `json:"game"`
	Account string `json:"account"`
}

type gatewayError struct {
	Kind              string `json:"kind"`
	Message           string `json:"message,omitempty"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

type gatewayReply struct {
	Stats *stats.RawStats `json:"stats,omitempty"`
	Error *gatewayError   `json:"error,omitempty"`
}

// NewGatewayProvider returns a provider for the given game which requests stats on
// <subjectPrefix>.<game>.fetch and validates accounts with the given format check
func NewGatewayProvider(conn Requester, subjectPrefix, game string, validate func(string) bool) *GatewayProvider {
	return &GatewayProvider{
		game:     game,
		subject:  fmt.Sprintf("%s.%s.fetch", subjectPrefix, game),
		conn:     conn,
		validate: validate,
	}
}

// ValidateAccountFormat implements stats.Provider
func (p *GatewayProvider) ValidateAccountFormat(account string) bool {
	if p.validate == nil {
		return account != ""
	}
	return p.validate(account)
}

// Source names the upstream recorded on proofs
func (p *GatewayProvider) Source() string {
	return fmt.Sprintf("nats:%s", p.subject)
}

// FetchStats implements stats.Provider
func (p *GatewayProvider) FetchStats(ctx context.Context, account string) (*stats.RawStats, error) {
	payload, _ := json.Marshal(&gatewayRequest{
		Game:    p.game,
		Account: account,
	})

	msg, err := p.conn.RequestWithContext(ctx, p.subject, payload)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, ctx.Err()
		}
		common.Log.Debugf("stats gateway request failed on subject %s; %s", p.subject, err.Error())
		return nil, stats.NewFetchError(stats.FetchErrorUnavailable, err)
	}

	return decodeGatewayReply(msg.Data)
}

func decodeGatewayReply(data []byte) (*stats.RawStats, error) {
	var reply gatewayReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, stats.NewFetchError(stats.FetchErrorUnavailable, fmt.Errorf("malformed stats gateway reply; %s", err.Error()))
	}

	if reply.Error != nil {
		fetchErr := stats.NewFetchError(stats.ParseFetchErrorKind(reply.Error.Kind), errors.New(reply.Error.Message))
		if fetchErr.Kind == stats.FetchErrorRateLimited && reply.Error.RetryAfterSeconds > 0 {
			fetchErr.RetryAfter = time.Duration(reply.Error.RetryAfterSeconds) * time.Second
		}
		return nil, fetchErr
	}

	if reply.Stats == nil {
		return nil, stats.NewFetchError(stats.FetchErrorUnavailable, errors.New("empty stats gateway reply"))
	}

	return reply.Stats, nil
}
