// Package api wires the Account Scheduler, upstream Client, and translator
// functions into an Anthropic-compatible Messages API surface.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/antigravity-proxy/messages-proxy/internal/account"
	apimiddleware "github.com/antigravity-proxy/messages-proxy/internal/api/middleware"
	"github.com/antigravity-proxy/messages-proxy/internal/config"
	"github.com/antigravity-proxy/messages-proxy/internal/constant"
	"github.com/antigravity-proxy/messages-proxy/internal/logging"
	"github.com/antigravity-proxy/messages-proxy/internal/registry"
	"github.com/antigravity-proxy/messages-proxy/internal/scheduler"
	"github.com/antigravity-proxy/messages-proxy/internal/thinking"
	claude "github.com/antigravity-proxy/messages-proxy/internal/translator/antigravity/claude"
	"github.com/antigravity-proxy/messages-proxy/internal/upstream"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Server exposes the Anthropic Messages API and a small set of operational
// endpoints (health, account limits) over gin.
type Server struct {
	cfg    *config.Config
	store  *account.Store
	sched  *scheduler.Scheduler
	up     *upstream.Client
	reqLog logging.RequestLogger
}

// New wires a Server from its already-constructed collaborators. reqLog may
// be nil, in which case request logging is skipped entirely.
func New(cfg *config.Config, store *account.Store, sched *scheduler.Scheduler, up *upstream.Client, reqLog logging.RequestLogger) *Server {
	return &Server{cfg: cfg, store: store, sched: sched, up: up, reqLog: reqLog}
}

// Router builds the gin engine, with logging middleware matching the rest
// of the ambient stack.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logging.GinLogrusRecovery(), logging.GinLogrusLogger())
	r.Use(apimiddleware.RequestLoggingMiddleware(s.reqLog))
	r.Use(s.authMiddleware())

	r.GET("/health", s.handleHealth)
	r.GET("/v1/models", s.handleListModels)
	r.POST("/v1/messages", s.handleMessages)
	r.POST("/v1/messages/count_tokens", s.handleCountTokens)
	r.GET("/account-limits", s.handleAccountLimits)
	r.POST("/refresh-token", s.handleRefreshToken)
	return r
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(s.cfg.APIKeys) == 0 {
			c.Next()
			return
		}
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		key := extractAPIKey(c.Request)
		for _, allowed := range s.cfg.APIKeys {
			if key != "" && key == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, anthropicError("authentication_error", "invalid x-api-key"))
	}
}

func extractAPIKey(req *http.Request) string {
	if key := strings.TrimSpace(req.Header.Get("x-api-key")); key != "" {
		return key
	}
	if auth := strings.TrimSpace(req.Header.Get("Authorization")); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "accounts": len(s.store.Accounts())})
}

func (s *Server) handleAccountLimits(c *gin.Context) {
	type accountStatus struct {
		Label               string               `json:"label"`
		Invalid             bool                 `json:"invalid"`
		ConsecutiveFailures int                  `json:"consecutive_failures"`
		RateLimitedUntil    map[string]time.Time `json:"rate_limited_until"`
	}
	out := make([]accountStatus, 0)
	for _, a := range s.store.Accounts() {
		out = append(out, accountStatus{
			Label:               a.Label(),
			Invalid:             a.Invalid,
			ConsecutiveFailures: a.ConsecutiveFailures,
			RateLimitedUntil:    a.RateLimitSnapshot(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// handleRefreshToken proactively refreshes every account's access token,
// tolerating individual failures, and reports only that the sweep ran: the
// response never carries any portion of a token.
func (s *Server) handleRefreshToken(c *gin.Context) {
	for _, a := range s.store.Accounts() {
		if a.Invalid {
			continue
		}
		if _, err := s.store.GetAccessToken(c.Request.Context(), a); err != nil {
			log.Debugf("api: refresh-token: %s: %v", a.Label(), err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now()})
}

func (s *Server) handleListModels(c *gin.Context) {
	models := registry.GetAntigravityModelConfig()
	data := make([]gin.H, 0, len(models))
	for id, info := range models {
		data = append(data, gin.H{
			"id":       id,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": info.OwnedBy,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

func (s *Server) handleCountTokens(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, anthropicError("invalid_request_error", err.Error()))
		return
	}
	model := gjson.GetBytes(body, "model").String()
	baseModel := thinking.ParseSuffix(model).ModelName
	translated := claude.ConvertClaudeRequestToAntigravity(baseModel, body, false)

	var count int64
	err = s.sched.Do(c.Request.Context(), conversationKey(body), baseModel, true, func(ctx context.Context, a scheduler.Attempt) error {
		n, errCount := s.up.CountTokens(ctx, a.Account, a.ModelName, translated)
		if errCount != nil {
			return errCount
		}
		count = n
		return nil
	})
	if err != nil {
		writeSchedulerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": count})
}

func (s *Server) handleMessages(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, anthropicError("invalid_request_error", err.Error()))
		return
	}
	if err := validateMessagesRequest(body); err != nil {
		c.JSON(http.StatusBadRequest, anthropicError("invalid_request_error", err.Error()))
		return
	}

	model := gjson.GetBytes(body, "model").String()
	baseModel := thinking.ParseSuffix(model).ModelName
	stream := gjson.GetBytes(body, "stream").Bool()

	if messages := gjson.GetBytes(body, "messages"); messages.Exists() {
		repaired := thinking.RepairMessages(baseModel, []byte(messages.Raw))
		body, _ = sjson.SetRawBytes(body, "messages", repaired)
	}

	translated := claude.ConvertClaudeRequestToAntigravity(baseModel, body, false)
	translated, err = thinking.ApplyThinking(translated, model, constant.Claude, constant.Antigravity, constant.Antigravity)
	if err != nil {
		c.JSON(http.StatusBadRequest, anthropicError("invalid_request_error", err.Error()))
		return
	}
	c.Set("API_REQUEST", translated)

	key := conversationKey(body)

	if stream {
		s.handleMessagesStream(c, key, model, baseModel, body, translated)
		return
	}

	var payload []byte
	err = s.sched.Do(c.Request.Context(), key, baseModel, true, func(ctx context.Context, a scheduler.Attempt) error {
		respBody, _, errGen := s.up.Generate(ctx, a.Account, a.ModelName, translated, true)
		if errGen != nil {
			return errGen
		}
		payload = respBody
		return nil
	})
	if err != nil {
		writeSchedulerError(c, err)
		return
	}
	c.Set("API_RESPONSE", payload)
	c.Set("API_RESPONSE_TIMESTAMP", time.Now())

	converted := claude.ConvertAntigravityResponseToClaudeNonStream(c.Request.Context(), model, body, translated, payload, nil)
	c.Data(http.StatusOK, "application/json", []byte(converted))
}

func (s *Server) handleMessagesStream(c *gin.Context, key, model, baseModel string, originalBody, translated []byte) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Set("API_REQUEST", translated)

	var param any
	var apiResponse bytes.Buffer
	err := s.sched.Do(c.Request.Context(), key, baseModel, true, func(ctx context.Context, a scheduler.Attempt) error {
		chunks, _, errGen := s.up.GenerateStream(ctx, a.Account, a.ModelName, translated, true)
		if errGen != nil {
			return errGen
		}
		for chunk := range chunks {
			if chunk.Err != nil {
				return chunk.Err
			}
			apiResponse.Write(chunk.Payload)
			events := claude.ConvertAntigravityResponseToClaude(ctx, model, originalBody, translated, chunk.Payload, &param)
			for _, event := range events {
				if _, errWrite := c.Writer.Write([]byte(event)); errWrite != nil {
					log.Debugf("api: stream write failed: %v", errWrite)
					return nil
				}
			}
			c.Writer.Flush()
		}
		return nil
	})
	c.Set("API_RESPONSE", apiResponse.Bytes())
	c.Set("API_RESPONSE_TIMESTAMP", time.Now())
	if err != nil {
		log.Errorf("api: stream request failed: %v", err)
	}
}

func conversationKey(body []byte) string {
	first := gjson.GetBytes(body, "messages.0.content").Raw
	if first == "" {
		first = gjson.GetBytes(body, "messages.0.content").String()
	}
	if first == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(first))
	return hex.EncodeToString(sum[:16])
}

func anthropicError(errType, message string) gin.H {
	return gin.H{"type": "error", "error": gin.H{"type": errType, "message": message}}
}

func writeSchedulerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, anthropicError("rate_limit_error", err.Error()))
	case errors.Is(err, scheduler.ErrNoAccounts):
		c.JSON(http.StatusServiceUnavailable, anthropicError("overloaded_error", err.Error()))
	default:
		c.JSON(http.StatusBadGateway, anthropicError("api_error", err.Error()))
	}
}
