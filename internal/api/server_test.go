package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/antigravity-proxy/messages-proxy/internal/scheduler"
	"github.com/gin-gonic/gin"
)

func TestExtractAPIKeyPrefersXAPIKeyHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("x-api-key", "sk-direct")
	req.Header.Set("Authorization", "Bearer sk-bearer")

	if got := extractAPIKey(req); got != "sk-direct" {
		t.Fatalf("expected the x-api-key header to win, got %q", got)
	}
}

func TestExtractAPIKeyFallsBackToBearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	req.Header.Set("Authorization", "Bearer sk-bearer")

	if got := extractAPIKey(req); got != "sk-bearer" {
		t.Fatalf("expected the bearer token to be extracted, got %q", got)
	}
}

func TestExtractAPIKeyEmptyWhenNeitherHeaderPresent(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	if got := extractAPIKey(req); got != "" {
		t.Fatalf("expected no key, got %q", got)
	}
}

func TestConversationKeyStableForSameFirstMessage(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hello there"}]}`)
	if conversationKey(body) != conversationKey(body) {
		t.Fatalf("expected conversationKey to be deterministic for the same body")
	}
	other := []byte(`{"messages":[{"role":"user","content":"goodbye"}]}`)
	if conversationKey(body) == conversationKey(other) {
		t.Fatalf("expected different first messages to produce different conversation keys")
	}
}

func TestConversationKeyEmptyWithoutMessages(t *testing.T) {
	if got := conversationKey([]byte(`{}`)); got != "" {
		t.Fatalf("expected an empty conversation key when there is no first message, got %q", got)
	}
}

func TestAnthropicErrorShape(t *testing.T) {
	out := anthropicError("overloaded_error", "try again")
	errObj, ok := out["error"].(gin.H)
	if !ok {
		t.Fatalf("expected error to be a nested object, got %T", out["error"])
	}
	if out["type"] != "error" || errObj["type"] != "overloaded_error" || errObj["message"] != "try again" {
		t.Fatalf("unexpected error shape: %+v", out)
	}
}

func TestWriteSchedulerErrorMapsRateLimited(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeSchedulerError(c, fmt.Errorf("%w: model claude-sonnet-4-5", scheduler.ErrRateLimited))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected a 429 for a wrapped ErrRateLimited, got %d", w.Code)
	}
}

func TestWriteSchedulerErrorMapsNoAccounts(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeSchedulerError(c, scheduler.ErrNoAccounts)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected a 503 for ErrNoAccounts, got %d", w.Code)
	}
}

func TestWriteSchedulerErrorMapsUnknownToBadGateway(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	writeSchedulerError(c, errors.New("boom"))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected a 502 for an unrecognized error, got %d", w.Code)
	}
}
