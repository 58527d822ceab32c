package upstream

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

const (
	minRetryDelay     = 1 * time.Second
	maxRetryDelay     = 24 * time.Hour
	defaultRetryDelay = 60 * time.Second
)

// ParseRetryDelay works out how long to wait before retrying a 429
// response, checking sources in priority order: the Retry-After header
// (seconds or an HTTP-date), the body's error.details[*].retryDelay
// duration string, the body's error.metadata.quotaResetTime ISO-8601
// timestamp, and finally a 60s default. The result is always clamped to
// [1s, 24h] regardless of which source produced it.
func ParseRetryDelay(header http.Header, body []byte, now time.Time) time.Duration {
	if d, ok := retryDelayFromHeader(header, now); ok {
		return clampRetryDelay(d)
	}
	if d, ok := retryDelayFromDetails(body); ok {
		return clampRetryDelay(d)
	}
	if d, ok := retryDelayFromQuotaResetTime(body, now); ok {
		return clampRetryDelay(d)
	}
	return clampRetryDelay(defaultRetryDelay)
}

func clampRetryDelay(d time.Duration) time.Duration {
	if d < minRetryDelay {
		return minRetryDelay
	}
	if d > maxRetryDelay {
		return maxRetryDelay
	}
	return d
}

func retryDelayFromHeader(header http.Header, now time.Time) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(raw); err == nil {
		return when.Sub(now), true
	}
	return 0, false
}

func retryDelayFromDetails(body []byte) (time.Duration, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}
	root := gjson.ParseBytes(body)
	details := root.Get("error.details")
	if !details.Exists() {
		details = root.Get("0.error.details")
	}
	if !details.IsArray() {
		return 0, false
	}
	var found time.Duration
	hasFound := false
	details.ForEach(func(_, detail gjson.Result) bool {
		detailType := detail.Get("@type").String()
		if detailType != "" && detailType != "type.googleapis.com/google.rpc.RetryInfo" {
			return true
		}
		raw := detail.Get("retryDelay").String()
		if raw == "" {
			return true
		}
		if d, err := time.ParseDuration(raw); err == nil {
			found = d
			hasFound = true
			return false
		}
		return true
	})
	return found, hasFound
}

func retryDelayFromQuotaResetTime(body []byte, now time.Time) (time.Duration, bool) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return 0, false
	}
	raw := gjson.GetBytes(body, "error.metadata.quotaResetTime").String()
	if raw == "" {
		return 0, false
	}
	when, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, false
	}
	return when.Sub(now), true
}
