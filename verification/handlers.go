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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/provideplatform/questproof/common"
	"github.com/provideplatform/questproof/ratelimit"
	provide "github.com/provideplatform/provide-go/common"
	"github.com/provideplatform/provide-go/common/util"
)

const defaultLeaderboardLimit = 25
const maxLeaderboardLimit = 100

// APIOption customizes the installed API
type APIOption func(*api)

// WithTrustedUserHeader accepts the user id from the named header when no bearer token identifies
// the caller; only use behind a gateway which sets it
func WithTrustedUserHeader(header string) APIOption {
	return func(a *api) {
		a.trustedUserHeader = header
	}
}

// WithReviewers restricts manual review to the given user ids
func WithReviewers(reviewerIDs ...string) APIOption {
	return func(a *api) {
		for _, id := range reviewerIDs {
			if id = strings.TrimSpace(id); id != "" {
				a.reviewers[id] = true
			}
		}
	}
}

type api struct {
	orchestrator      *Orchestrator
	trustedUserHeader string
	reviewers         map[string]bool
}

// InstallAPI registers the verification API handlers with gin
func InstallAPI(r *gin.Engine, o *Orchestrator, opts ...APIOption) {
	a := &api{
		orchestrator: o,
		reviewers:    map[string]bool{},
	}
	for _, opt := range opts {
		opt(a)
	}

	r.POST("/api/v1/verifications", a.createVerificationHandler)

	r.GET("/api/v1/proofs/:id", a.proofDetailsHandler)
	r.POST("/api/v1/proofs/:id/reverify", a.reverifyProofHandler)
	r.POST("/api/v1/proofs/:id/review", a.reviewProofHandler)

	r.GET("/api/v1/progress/:quest_id", a.progressDetailsHandler)
	r.DELETE("/api/v1/progress/:quest_id", a.abandonProgressHandler)

	r.GET("/api/v1/worlds/:id/leaderboard", a.leaderboardHandler)
}

// RateLimitMiddleware limits inbound requests per client ip
func RateLimitMiddleware(limiter ratelimit.Limiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := limiter.Allow(c.Request.Context(), ratelimit.IPKey(c.ClientIP()), limit, window)
		if err != nil {
			common.Log.Warningf("ip rate limiter unavailable; %s", err.Error())
			c.Next()
			return
		}

		if !result.Allowed {
			setRetryAfter(c, result.RetryAfter)
			provide.RenderError("rate limit exceeded", 429, c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// authorizedUserID resolves the caller from the bearer token, then the trusted header
func (a *api) authorizedUserID(c *gin.Context) string {
	if userID := util.AuthorizedSubjectID(c, "user"); userID != nil {
		return userID.String()
	}
	if a.trustedUserHeader != "" {
		return strings.TrimSpace(c.GetHeader(a.trustedUserHeader))
	}
	return ""
}

func (a *api) createVerificationHandler(c *gin.Context) {
	userID := a.authorizedUserID(c)
	if userID == "" {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	buf, err := c.GetRawData()
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return
	}

	params := SubmitParams{}
	err = json.Unmarshal(buf, &params)
	if err != nil {
		provide.RenderError(err.Error(), 422, c)
		return
	}
	params.UserID = userID

	if params.Game == "" || params.Account == "" || params.QuestID == "" {
		provide.RenderError("game, account and quest_id are required", 422, c)
		return
	}

	result, err := a.orchestrator.Submit(c.Request.Context(), params)
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(result, 201, c)
}

func (a *api) proofDetailsHandler(c *gin.Context) {
	userID := a.authorizedUserID(c)
	if userID == "" {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	proof, err := a.orchestrator.Proof(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(proof, 200, c)
}

func (a *api) reverifyProofHandler(c *gin.Context) {
	userID := a.authorizedUserID(c)
	if userID == "" {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	result, err := a.orchestrator.Reverify(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(result, 200, c)
}

func (a *api) reviewProofHandler(c *gin.Context) {
	userID := a.authorizedUserID(c)
	if userID == "" {
		provide.RenderError("unauthorized", 401, c)
		return
	}
	if !a.reviewers[userID] {
		provide.RenderError("forbidden", 403, c)
		return
	}

	buf, err := c.GetRawData()
	if err != nil {
		provide.RenderError(err.Error(), 400, c)
		return
	}

	params := ReviewParams{}
	err = json.Unmarshal(buf, &params)
	if err != nil {
		provide.RenderError(err.Error(), 422, c)
		return
	}
	params.ProofID = c.Param("id")
	params.ReviewerID = userID

	proof, err := a.orchestrator.Review(c.Request.Context(), params)
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(proof, 200, c)
}

func (a *api) progressDetailsHandler(c *gin.Context) {
	userID := a.authorizedUserID(c)
	if userID == "" {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	record, err := a.orchestrator.Progress(c.Request.Context(), userID, c.Param("quest_id"))
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(record, 200, c)
}

func (a *api) abandonProgressHandler(c *gin.Context) {
	userID := a.authorizedUserID(c)
	if userID == "" {
		provide.RenderError("unauthorized", 401, c)
		return
	}

	record, err := a.orchestrator.Abandon(c.Request.Context(), userID, c.Param("quest_id"))
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(record, 200, c)
}

func (a *api) leaderboardHandler(c *gin.Context) {
	limit := defaultLeaderboardLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			provide.RenderError("invalid limit", 400, c)
			return
		}
		limit = parsed
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	entries, err := a.orchestrator.Leaderboard(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(entries, 200, c)
}

// renderError renders classified errors with their code; anything else is a bare 500
func renderError(err error, c *gin.Context) {
	if errors.Is(err, context.Canceled) {
		provide.RenderError("request canceled", 408, c)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		provide.RenderError("request timed out", 504, c)
		return
	}

	verr, ok := AsError(err)
	if !ok {
		common.Log.Errorf("verification request failed; %s", err.Error())
		provide.RenderError("internal server error", 500, c)
		return
	}

	if verr.Code == CodeInternalScoringFailure {
		common.Log.Errorf("verification scoring failed; %s", verr.Error())
	}

	obj := map[string]interface{}{
		"code":      verr.Code,
		"message":   verr.PublicMessage(),
		"retryable": verr.Retryable(),
	}
	if verr.RetryAfter > 0 {
		setRetryAfter(c, verr.RetryAfter)
		obj["retry_after"] = int(math.Ceil(verr.RetryAfter.Seconds()))
	}

	provide.Render(map[string]interface{}{
		"errors": []interface{}{obj},
	}, verr.Status(), c)
}

func setRetryAfter(c *gin.Context, retryAfter time.Duration) {
	if retryAfter <= 0 {
		return
	}
	c.Header("Retry-After", fmt.Sprintf("%d", int(math.Ceil(retryAfter.Seconds()))))
}
