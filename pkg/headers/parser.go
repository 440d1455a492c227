// Package headers parses wearable-provider response headers for retry and
// quota signals.
package headers

import (
	"net/http"
	"strconv"
	"time"
)

// RetryAfter extracts the Retry-After delay from a 429 response. Both the
// delay-seconds and HTTP-date forms are handled. When the header is absent
// or unparseable, fallback is returned so callers always wait a sane amount.
func RetryAfter(h http.Header, fallback time.Duration) time.Duration {
	val := h.Get("Retry-After")
	if val == "" {
		return fallback
	}

	if secs, err := strconv.ParseInt(val, 10, 64); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs) * time.Second
	}

	if at, err := http.ParseTime(val); err == nil {
		d := time.Until(at)
		if d < 0 {
			return 0
		}
		return d
	}

	return fallback
}

// QuotaSnapshot holds provider-reported quota counters from response
// headers. Negative values mean the header was absent.
type QuotaSnapshot struct {
	LimitMinute     int64
	RemainingMinute int64
	LimitDay        int64
	RemainingDay    int64
}

// ParseQuota extracts quota counters from the provider's rate-limit headers.
//
//	X-RateLimit-Limit: 100
//	X-RateLimit-Remaining: 87
//	X-RateLimit-Daily-Limit: 10000
//	X-RateLimit-Daily-Remaining: 9213
func ParseQuota(h http.Header) QuotaSnapshot {
	return QuotaSnapshot{
		LimitMinute:     parseIntHeader(h, "X-RateLimit-Limit"),
		RemainingMinute: parseIntHeader(h, "X-RateLimit-Remaining"),
		LimitDay:        parseIntHeader(h, "X-RateLimit-Daily-Limit"),
		RemainingDay:    parseIntHeader(h, "X-RateLimit-Daily-Remaining"),
	}
}

// HasQuota reports whether any counter was present.
func (q QuotaSnapshot) HasQuota() bool {
	return q.LimitMinute >= 0 || q.RemainingMinute >= 0 || q.LimitDay >= 0 || q.RemainingDay >= 0
}

func parseIntHeader(h http.Header, key string) int64 {
	val := h.Get(key)
	if val == "" {
		return -1
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return -1
	}
	return n
}
