package ratelimit

import (
	"strconv"
	"time"
)

// ThrottledFromHeader builds the reactive throttle signal for an upstream
// 429. The header is the raw Retry-After value in seconds; when absent or
// unparseable the fallback duration applies.
func ThrottledFromHeader(svc Service, header string, fallback time.Duration) *ThrottledError {
	retry := fallback
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
			retry = time.Duration(secs) * time.Second
		}
	}
	return &ThrottledError{Service: svc, RetryAfter: retry}
}
