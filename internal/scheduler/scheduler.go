// Package scheduler implements sticky-session account selection across a
// pool of upstream accounts: it prefers the last account that served a given
// conversation, tracks per-account/per-model rate limits, decides whether to
// wait out a rate limit or fail over to another account, and retries once
// against a configured fallback model when every account is exhausted.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/antigravity-proxy/messages-proxy/internal/account"
	"github.com/antigravity-proxy/messages-proxy/internal/config"
	"github.com/antigravity-proxy/messages-proxy/internal/upstream"
	log "github.com/sirupsen/logrus"
)

// ErrRateLimited is returned when every account is rate limited for the
// requested model and the caller should surface a 429 to the client.
var ErrRateLimited = errors.New("scheduler: all accounts rate limited")

// ErrNoAccounts is returned when the store has no usable (non-invalid)
// accounts at all.
var ErrNoAccounts = errors.New("scheduler: no usable accounts configured")

// Attempt is a single try against one account, passed to the caller's do
// function so it can execute the actual upstream call.
type Attempt struct {
	Account   *account.Account
	IsClaude  bool
	ModelName string
}

// stickyEntry pins a conversation to the account that last served it.
type stickyEntry struct {
	account  *account.Account
	lastUsed time.Time
}

// Scheduler selects an account for each request, tracking sticky sessions
// keyed by an opaque conversation key supplied by the caller (typically a
// hash of the first user message).
type Scheduler struct {
	store *account.Store
	cfg   *config.Config

	mu     sync.Mutex
	sticky map[string]*stickyEntry

	rr int // round-robin cursor for non-sticky selection
}

// New creates a Scheduler over store, using cfg's scheduler tunables.
func New(store *account.Store, cfg *config.Config) *Scheduler {
	return &Scheduler{store: store, cfg: cfg, sticky: make(map[string]*stickyEntry)}
}

// Do runs fn against a selected account for model, applying spec.md's
// wait-vs-failover policy, endpoint fallback (handled inside fn via
// upstream.BaseURLs), and fallback-model retry. conversationKey pins repeat
// calls for the same conversation to the same account while it stays healthy.
func (s *Scheduler) Do(ctx context.Context, conversationKey, model string, isClaude bool, fn func(ctx context.Context, a Attempt) error) error {
	err := s.attemptModel(ctx, conversationKey, model, isClaude, fn)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrRateLimited) {
		return err
	}
	fallback, ok := s.cfg.FallbackModel[model]
	if !ok || fallback == "" {
		return err
	}
	log.Warnf("scheduler: model %s exhausted, retrying once with fallback %s", model, fallback)
	return s.attemptModel(ctx, conversationKey, fallback, isClaude, fn)
}

func (s *Scheduler) attemptModel(ctx context.Context, conversationKey, model string, isClaude bool, fn func(ctx context.Context, a Attempt) error) error {
	accounts := s.store.Accounts()
	usable := make([]*account.Account, 0, len(accounts))
	for _, a := range accounts {
		if !a.Invalid {
			usable = append(usable, a)
		}
	}
	if len(usable) == 0 {
		return ErrNoAccounts
	}

	maxRetries := s.cfg.Scheduler.MaxRetries
	if n := len(usable) + 1; n > maxRetries {
		maxRetries = n
	}

	deadline := time.Now().Add(time.Duration(s.cfg.Scheduler.MaxWaitBeforeErrorMs) * time.Millisecond)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		for _, a := range usable {
			a.ClearExpiredRateLimits()
		}

		a := s.pickAccount(conversationKey, model, usable)
		if a == nil {
			if s.store.IsAllRateLimited(model) {
				wait := s.store.MinWaitMs(model)
				if wait <= 0 {
					continue
				}
				if time.Now().Add(time.Duration(wait) * time.Millisecond).After(deadline) {
					return fmt.Errorf("%w: model %s", ErrRateLimited, model)
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(wait) * time.Millisecond):
				}
				continue
			}
			return ErrNoAccounts
		}

		err := fn(ctx, Attempt{Account: a, IsClaude: isClaude, ModelName: model})
		if err == nil {
			s.pin(conversationKey, a)
			return nil
		}
		lastErr = err

		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) {
			if statusErr.Code == http.StatusTooManyRequests {
				resetAt := time.Now().Add(time.Minute)
				if statusErr.RetryAfter != nil {
					resetAt = time.Now().Add(*statusErr.RetryAfter)
				}
				a.MarkRateLimited(model, resetAt)
				s.unpin(conversationKey, a)
				continue
			}
			if statusErr.Code == http.StatusUnauthorized || statusErr.Code == http.StatusForbidden {
				a.MarkInvalid()
				s.unpin(conversationKey, a)
				continue
			}
		}
		// Non rate-limit, non-auth failures are not the account's fault to
		// the same degree; still rotate away from it for this attempt.
		s.unpin(conversationKey, a)
	}

	if s.store.IsAllRateLimited(model) {
		return fmt.Errorf("%w: model %s", ErrRateLimited, model)
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("scheduler: exhausted %d attempts for model %s", maxRetries, model)
}

func (s *Scheduler) pickAccount(conversationKey, model string, usable []*account.Account) *account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationKey != "" {
		if entry, ok := s.sticky[conversationKey]; ok {
			if time.Since(entry.lastUsed) <= s.cfg.Scheduler.StickyIdleWindow &&
				!entry.account.Invalid && !entry.account.IsRateLimited(model) {
				return entry.account
			}
			delete(s.sticky, conversationKey)
		}
	}

	for i := 0; i < len(usable); i++ {
		idx := (s.rr + i) % len(usable)
		a := usable[idx]
		if !a.Invalid && !a.IsRateLimited(model) {
			s.rr = (idx + 1) % len(usable)
			return a
		}
	}
	return nil
}

func (s *Scheduler) pin(conversationKey string, a *account.Account) {
	if conversationKey == "" {
		return
	}
	s.mu.Lock()
	s.sticky[conversationKey] = &stickyEntry{account: a, lastUsed: time.Now()}
	s.mu.Unlock()
}

func (s *Scheduler) unpin(conversationKey string, a *account.Account) {
	if conversationKey == "" {
		return
	}
	s.mu.Lock()
	if entry, ok := s.sticky[conversationKey]; ok && entry.account == a {
		delete(s.sticky, conversationKey)
	}
	s.mu.Unlock()
}
