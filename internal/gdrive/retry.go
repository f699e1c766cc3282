package gdrive

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
)

const (
	retryMaxAttempts  = 5
	retryBaseDelay    = 1 * time.Second
	retryMaxDelay     = 30 * time.Second
	requestInterval   = 100 * time.Millisecond
	requestBurstLimit = 1
)

var driveLimiter = rate.NewLimiter(rate.Every(requestInterval), requestBurstLimit)

// doDriveRequest runs fn with rate limiting and bounded exponential backoff.
// Retry-After headers are honored when larger than the computed backoff.
func doDriveRequest[T any](ctx context.Context, operation string, fn func() (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		if err := driveLimiter.Wait(ctx); err != nil {
			return zero, err
		}

		value, err := fn()
		if err == nil {
			return value, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		retry, retryAfter := shouldRetry(err)
		if !retry || attempt == retryMaxAttempts {
			return zero, err
		}

		wait := backoff
		if retryAfter > wait {
			wait = retryAfter
		}
		if wait <= 0 {
			wait = retryBaseDelay
		}

		log.Warn().
			Err(err).
			Str("operation", operation).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Drive request failed; retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, retryMaxDelay)
	}

	return zero, lastErr
}

func shouldRetry(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false, 0
	}

	// Subscription quota errors are surfaced, not retried; the channel
	// manager skips the file and picks it up on a later cycle.
	if IsSubscriptionRateLimit(err) {
		return false, 0
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		retryAfter := retryAfterDuration(apiErr.Header)
		if isRetryableStatus(apiErr.Code) || isRetryableReason(apiErr.Errors) {
			return true, retryAfter
		}
		return false, 0
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true, 0
	}

	return false, 0
}

func retryAfterDuration(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}
	return 0
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func isRetryableReason(items []googleapi.ErrorItem) bool {
	for _, item := range items {
		switch strings.ToLower(strings.TrimSpace(item.Reason)) {
		case "ratelimitexceeded",
			"userratelimitexceeded",
			"quotaexceeded",
			"dailylimitexceeded",
			"backenderror",
			"internalerror":
			return true
		}
	}
	return false
}
