// Package account holds the account model and in-memory store the scheduler
// selects from: OAuth token state, per-model rate limits, and invalidation.
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/antigravity-proxy/messages-proxy/internal/auth/antigravity"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	// RefreshBuffer is how far ahead of expiry a token is proactively refreshed.
	RefreshBuffer = 5 * time.Minute

	backoffBase   = 60 * time.Second
	backoffFactor = 2
	backoffCap    = 15 * time.Minute
)

// Account is one OAuth-authenticated upstream identity.
type Account struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token"`
	AccessToken  string `json:"access_token,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
	BaseURL      string `json:"base_url,omitempty"`

	IssuedAt  time.Time `json:"issued_at,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	ConsecutiveFailures int       `json:"consecutive_failures,omitempty"`
	LastFailureAt       time.Time `json:"last_failure_at,omitempty"`
	Invalid             bool      `json:"invalid,omitempty"`

	// RateLimitedUntil maps a model ID to the time its rate limit clears.
	RateLimitedUntil map[string]time.Time `json:"rate_limited_until,omitempty"`

	mu sync.Mutex
}

func (a *Account) lock()   { a.mu.Lock() }
func (a *Account) unlock() { a.mu.Unlock() }

// IsRateLimited reports whether model is currently rate limited on this account.
func (a *Account) IsRateLimited(model string) bool {
	a.lock()
	defer a.unlock()
	until, ok := a.RateLimitedUntil[model]
	return ok && time.Now().Before(until)
}

// WaitMs is how many milliseconds remain before model's rate limit clears, 0 if none.
func (a *Account) WaitMs(model string) int64 {
	a.lock()
	defer a.unlock()
	until, ok := a.RateLimitedUntil[model]
	if !ok {
		return 0
	}
	remain := time.Until(until)
	if remain <= 0 {
		return 0
	}
	return remain.Milliseconds()
}

// MarkRateLimited records that model is rate limited on this account until resetAt.
func (a *Account) MarkRateLimited(model string, resetAt time.Time) {
	a.lock()
	defer a.unlock()
	if a.RateLimitedUntil == nil {
		a.RateLimitedUntil = make(map[string]time.Time)
	}
	a.RateLimitedUntil[model] = resetAt
}

// RateLimitSnapshot returns a copy of the per-model rate-limit clear times,
// safe to read without holding the account's internal lock.
func (a *Account) RateLimitSnapshot() map[string]time.Time {
	a.lock()
	defer a.unlock()
	out := make(map[string]time.Time, len(a.RateLimitedUntil))
	for model, until := range a.RateLimitedUntil {
		out[model] = until
	}
	return out
}

// ClearExpiredRateLimits drops any per-model rate limit entries that have elapsed.
func (a *Account) ClearExpiredRateLimits() {
	a.lock()
	defer a.unlock()
	now := time.Now()
	for model, until := range a.RateLimitedUntil {
		if now.After(until) {
			delete(a.RateLimitedUntil, model)
		}
	}
}

// MarkInvalid records a terminal auth failure (e.g. invalid_grant) that takes
// the account out of rotation until its refresh token is replaced.
func (a *Account) MarkInvalid() {
	a.lock()
	defer a.unlock()
	a.Invalid = true
	a.LastFailureAt = time.Now()
	a.ConsecutiveFailures++
}

// recordFailure bumps the exponential-backoff failure counter.
func (a *Account) recordFailure() {
	a.lock()
	defer a.unlock()
	a.ConsecutiveFailures++
	a.LastFailureAt = time.Now()
}

// recordSuccess resets the failure counter after a successful refresh.
func (a *Account) recordSuccess(access string, expiresIn int64, projectID string) {
	a.lock()
	defer a.unlock()
	a.AccessToken = access
	a.IssuedAt = time.Now()
	a.ExpiresAt = a.IssuedAt.Add(time.Duration(expiresIn) * time.Second)
	if projectID != "" {
		a.ProjectID = projectID
	}
	a.ConsecutiveFailures = 0
}

// backoffDelay returns how long to wait before the next refresh attempt,
// given the account's current consecutive-failure count.
func (a *Account) backoffDelay() time.Duration {
	a.lock()
	n := a.ConsecutiveFailures
	a.unlock()
	if n <= 0 {
		return 0
	}
	delay := backoffBase
	for i := 0; i < n-1 && delay < backoffCap; i++ {
		delay *= backoffFactor
	}
	if delay > backoffCap {
		delay = backoffCap
	}
	return delay
}

func (a *Account) needsRefresh() bool {
	a.lock()
	defer a.unlock()
	if a.AccessToken == "" {
		return true
	}
	return time.Now().Add(RefreshBuffer).After(a.ExpiresAt)
}

func (a *Account) snapshotAccessToken() string {
	a.lock()
	defer a.unlock()
	return a.AccessToken
}

// Store holds the configured accounts, persists them, and mediates token
// refresh so at most one refresh is ever in flight per account.
type Store struct {
	path string
	auth *antigravity.AntigravityAuth

	mu       sync.RWMutex
	accounts []*Account

	sf singleflight.Group
}

// NewStore creates a Store backed by the JSON snapshot at path.
func NewStore(path string, auth *antigravity.AntigravityAuth) *Store {
	return &Store{path: path, auth: auth}
}

type snapshot struct {
	Accounts []*Account `json:"accounts"`
}

// Load reads the account snapshot from disk.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("account store: read %s: %w", s.path, err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("account store: parse %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.accounts = snap.Accounts
	s.mu.Unlock()
	return nil
}

// Save writes the current account state back to disk.
func (s *Store) Save() error {
	s.mu.RLock()
	snap := snapshot{Accounts: s.accounts}
	s.mu.RUnlock()
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("account store: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("account store: create dir %s: %w", dir, err)
		}
	}
	return os.WriteFile(s.path, out, 0o600)
}

// Accounts returns every configured account, valid or not.
func (s *Store) Accounts() []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Account, len(s.accounts))
	copy(out, s.accounts)
	return out
}

// Add registers a new account and persists the snapshot.
func (s *Store) Add(acc *Account) error {
	s.mu.Lock()
	s.accounts = append(s.accounts, acc)
	s.mu.Unlock()
	return s.Save()
}

// IsAllRateLimited reports whether every non-invalid account is currently
// rate limited for model.
func (s *Store) IsAllRateLimited(model string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	any := false
	for _, acc := range s.accounts {
		if acc.Invalid {
			continue
		}
		any = true
		if !acc.IsRateLimited(model) {
			return false
		}
	}
	return any
}

// MinWaitMs returns the shortest remaining rate-limit wait, in milliseconds,
// across every non-invalid account for model.
func (s *Store) MinWaitMs(model string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var min int64 = -1
	for _, acc := range s.accounts {
		if acc.Invalid {
			continue
		}
		w := acc.WaitMs(model)
		if w <= 0 {
			return 0
		}
		if min < 0 || w < min {
			min = w
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

// GetAccessToken returns a valid access token for acc, refreshing it first
// if it is missing or within RefreshBuffer of expiry. Concurrent callers for
// the same account share a single in-flight refresh.
func (s *Store) GetAccessToken(ctx context.Context, acc *Account) (string, error) {
	if !acc.needsRefresh() {
		return acc.snapshotAccessToken(), nil
	}
	if delay := acc.backoffDelay(); delay > 0 {
		if time.Since(acc.LastFailureAt) < delay {
			return "", fmt.Errorf("account store: %s in backoff for %s more", acc.Email, delay-time.Since(acc.LastFailureAt))
		}
	}
	v, err, _ := s.sf.Do(acc.Email, func() (interface{}, error) {
		return s.refresh(ctx, acc)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) refresh(ctx context.Context, acc *Account) (string, error) {
	resp, err := s.auth.RefreshAccessToken(ctx, acc.RefreshToken)
	if err != nil {
		if refreshErr, ok := err.(*antigravity.RefreshError); ok && refreshErr.IsInvalidGrant() {
			acc.MarkInvalid()
			log.Errorf("account store: %s: invalid_grant, marking account invalid", acc.Email)
			_ = s.Save()
			return "", err
		}
		acc.recordFailure()
		return "", err
	}
	acc.recordSuccess(resp.AccessToken, resp.ExpiresIn, "")
	if resp.RefreshToken != "" {
		acc.lock()
		acc.RefreshToken = resp.RefreshToken
		acc.unlock()
	}
	_ = s.Save()
	return resp.AccessToken, nil
}

// StartBackgroundRefresh periodically proactively refreshes every account
// whose token is nearing expiry, so requests rarely block on a refresh.
func (s *Store) StartBackgroundRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, acc := range s.Accounts() {
					acc.ClearExpiredRateLimits()
					if acc.Invalid || !acc.needsRefresh() {
						continue
					}
					if _, err := s.GetAccessToken(ctx, acc); err != nil {
						log.Debugf("account store: background refresh for %s failed: %v", acc.Email, err)
					}
				}
			}
		}
	}()
}

// Label returns a short identifier for logging, masking most of the email.
func (a *Account) Label() string {
	if idx := strings.Index(a.Email, "@"); idx > 1 {
		return a.Email[:2] + "***" + a.Email[idx:]
	}
	return "***"
}
