package upstream

import (
	"net/http"
	"testing"
	"time"
)

func TestParseRetryDelayFromHeaderSeconds(t *testing.T) {
	header := http.Header{"Retry-After": []string{"30"}}
	d := ParseRetryDelay(header, nil, time.Now())
	if d != 30*time.Second {
		t.Fatalf("expected a 30s delay from the Retry-After header, got %s", d)
	}
}

func TestParseRetryDelayFromHeaderHTTPDate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	when := now.Add(45 * time.Second)
	header := http.Header{"Retry-After": []string{when.Format(http.TimeFormat)}}
	d := ParseRetryDelay(header, nil, now)
	if d != 45*time.Second {
		t.Fatalf("expected a 45s delay from the Retry-After HTTP-date, got %s", d)
	}
}

func TestParseRetryDelayFallsBackToDetailsWithoutHeader(t *testing.T) {
	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"12s"}]}}`)
	d := ParseRetryDelay(nil, body, time.Now())
	if d != 12*time.Second {
		t.Fatalf("expected a 12s delay from error.details, got %s", d)
	}
}

func TestParseRetryDelayFallsBackToQuotaResetTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resetAt := now.Add(5 * time.Minute)
	body := []byte(`{"error":{"metadata":{"quotaResetTime":"` + resetAt.Format(time.RFC3339) + `"}}}`)
	d := ParseRetryDelay(nil, body, now)
	if d != 5*time.Minute {
		t.Fatalf("expected a 5m delay from error.metadata.quotaResetTime, got %s", d)
	}
}

func TestParseRetryDelayDefaultsTo60sWithNoHint(t *testing.T) {
	d := ParseRetryDelay(nil, nil, time.Now())
	if d != defaultRetryDelay {
		t.Fatalf("expected the 60s default, got %s", d)
	}
}

func TestParseRetryDelayHeaderTakesPriorityOverBody(t *testing.T) {
	header := http.Header{"Retry-After": []string{"5"}}
	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"99s"}]}}`)
	d := ParseRetryDelay(header, body, time.Now())
	if d != 5*time.Second {
		t.Fatalf("expected the header to win over error.details, got %s", d)
	}
}

func TestParseRetryDelayDetailsTakePriorityOverQuotaResetTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	body := []byte(`{"error":{
		"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"7s"}],
		"metadata":{"quotaResetTime":"` + now.Add(time.Hour).Format(time.RFC3339) + `"}
	}}`)
	d := ParseRetryDelay(nil, body, now)
	if d != 7*time.Second {
		t.Fatalf("expected error.details to win over quotaResetTime, got %s", d)
	}
}

func TestParseRetryDelayClampsBelowMinimum(t *testing.T) {
	header := http.Header{"Retry-After": []string{"0"}}
	d := ParseRetryDelay(header, nil, time.Now())
	if d != minRetryDelay {
		t.Fatalf("expected the result to be clamped up to the 1s floor, got %s", d)
	}
}

func TestParseRetryDelayClampsAboveMaximum(t *testing.T) {
	header := http.Header{"Retry-After": []string{"999999999"}}
	d := ParseRetryDelay(header, nil, time.Now())
	if d != maxRetryDelay {
		t.Fatalf("expected the result to be clamped down to the 24h ceiling, got %s", d)
	}
}
