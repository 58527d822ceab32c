package scheduler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/antigravity-proxy/messages-proxy/internal/account"
	"github.com/antigravity-proxy/messages-proxy/internal/config"
	"github.com/antigravity-proxy/messages-proxy/internal/upstream"
)

func newTestConfig() *config.Config {
	cfg := config.Default()
	cfg.Scheduler.MaxWaitBeforeErrorMs = 50
	return cfg
}

func TestSchedulerPicksStickyAccountFirst(t *testing.T) {
	a1 := &account.Account{Email: "one@example.com"}
	a2 := &account.Account{Email: "two@example.com"}
	store := &account.Store{}
	store.Add(a1)
	store.Add(a2)

	s := New(store, newTestConfig())

	var used []*account.Account
	fn := func(ctx context.Context, attempt Attempt) error {
		used = append(used, attempt.Account)
		return nil
	}

	if err := s.Do(context.Background(), "conversation-1", "claude-sonnet-4-5", true, fn); err != nil {
		t.Fatalf("Do: %v", err)
	}
	first := used[0]

	if err := s.Do(context.Background(), "conversation-1", "claude-sonnet-4-5", true, fn); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if used[1] != first {
		t.Fatalf("expected the same conversation to stick to the same account across calls")
	}
}

func TestSchedulerRotatesAwayFromRateLimitedAccount(t *testing.T) {
	a1 := &account.Account{Email: "one@example.com"}
	a2 := &account.Account{Email: "two@example.com"}
	store := &account.Store{}
	store.Add(a1)
	store.Add(a2)

	s := New(store, newTestConfig())

	attempts := 0
	err := s.Do(context.Background(), "conversation-2", "claude-sonnet-4-5", true, func(ctx context.Context, attempt Attempt) error {
		attempts++
		if attempt.Account.Email == "one@example.com" {
			return &upstream.StatusError{Code: http.StatusTooManyRequests}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected the scheduler to retry against the second account, got %d attempts", attempts)
	}
}

func TestSchedulerReturnsRateLimitedWhenEveryAccountFails(t *testing.T) {
	a1 := &account.Account{Email: "one@example.com"}
	store := &account.Store{}
	store.Add(a1)

	s := New(store, newTestConfig())

	err := s.Do(context.Background(), "conversation-3", "claude-sonnet-4-5", true, func(ctx context.Context, attempt Attempt) error {
		return &upstream.StatusError{Code: http.StatusTooManyRequests, RetryAfter: durationPtr(10 * time.Millisecond)}
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestSchedulerNoAccounts(t *testing.T) {
	store := &account.Store{}
	s := New(store, newTestConfig())

	err := s.Do(context.Background(), "conversation-4", "claude-sonnet-4-5", true, func(ctx context.Context, attempt Attempt) error {
		return nil
	})
	if !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("expected ErrNoAccounts, got %v", err)
	}
}

func TestSchedulerFallbackModelRetriesOnce(t *testing.T) {
	a1 := &account.Account{Email: "one@example.com"}
	store := &account.Store{}
	store.Add(a1)

	cfg := newTestConfig()
	cfg.FallbackModel = map[string]string{"claude-opus-4-5": "claude-sonnet-4-5"}
	s := New(store, cfg)

	var modelsTried []string
	err := s.Do(context.Background(), "conversation-5", "claude-opus-4-5", true, func(ctx context.Context, attempt Attempt) error {
		modelsTried = append(modelsTried, attempt.ModelName)
		if attempt.ModelName == "claude-opus-4-5" {
			return &upstream.StatusError{Code: http.StatusTooManyRequests}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(modelsTried) < 2 || modelsTried[len(modelsTried)-1] != "claude-sonnet-4-5" {
		t.Fatalf("expected a final attempt against the fallback model, got %v", modelsTried)
	}
}

func TestSchedulerMarksAccountInvalidOnAuthError(t *testing.T) {
	a1 := &account.Account{Email: "one@example.com"}
	a2 := &account.Account{Email: "two@example.com"}
	store := &account.Store{}
	store.Add(a1)
	store.Add(a2)

	s := New(store, newTestConfig())

	err := s.Do(context.Background(), "conversation-6", "claude-sonnet-4-5", true, func(ctx context.Context, attempt Attempt) error {
		if attempt.Account.Email == "one@example.com" {
			return &upstream.StatusError{Code: http.StatusUnauthorized}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !a1.Invalid {
		t.Fatal("expected the account that returned 401 to be marked invalid")
	}
}

func durationPtr(d time.Duration) *time.Duration { return &d }
