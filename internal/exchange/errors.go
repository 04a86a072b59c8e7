// Package exchange implements typed operations over the upstream exchange
// REST surface: endpoint selection with success-rate ranking, HMAC request
// signing for private endpoints, and the error-taxonomy classification
// that drives the rate governor's recovery policy.
package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed error taxonomy for upstream failures. Classification
// drives retry/recovery policy; callers must match on Kind, never on
// message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindRateLimit
	KindNetwork
	KindAuth
	KindServer
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "RATE_LIMIT"
	case KindNetwork:
		return "NETWORK"
	case KindAuth:
		return "AUTH"
	case KindServer:
		return "SERVER"
	case KindValidation:
		return "VALIDATION"
	default:
		return "UNKNOWN"
	}
}

// APIError is the typed error result returned by every client operation.
type APIError struct {
	Kind           Kind
	HTTPStatus     int
	UpstreamCode   int
	Message        string
	RetryAfterSecs int
	Cause          error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error [%s] status=%d code=%d: %s", e.Kind, e.HTTPStatus, e.UpstreamCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Cause }

// rateLimitCodes are the upstream error codes documented as rate-limit
// signals, in addition to HTTP 429.
var rateLimitCodes = map[int]bool{
	100001: true,
	100413: true,
	109400: true,
	100410: true,
}

// Classify maps an HTTP status, upstream numeric code, and response body
// onto the closed error taxonomy. String matching against the remote
// payload happens only here, at the boundary.
func Classify(httpStatus, upstreamCode int, body string, netErr error) Kind {
	lower := strings.ToLower(body)

	switch {
	case httpStatus == 429, rateLimitCodes[upstreamCode], strings.Contains(lower, "rate limit"):
		return KindRateLimit
	case httpStatus == 401, httpStatus == 403, upstreamCode == 100403, strings.Contains(lower, "invalid signature"):
		return KindAuth
	case httpStatus >= 500, upstreamCode == 100500:
		return KindServer
	case httpStatus == 400, upstreamCode == 100400:
		return KindValidation
	}

	if netErr != nil {
		msg := netErr.Error()
		for _, sym := range []string{"ETIMEDOUT", "ECONNRESET", "ECONNREFUSED", "ENOTFOUND", "timeout"} {
			if strings.Contains(msg, sym) {
				return KindNetwork
			}
		}
		return KindUnknown
	}

	return KindUnknown
}

// Retryable reports whether a Kind should be retried at the call site, and
// how many attempts are allowed: 3 for market-data operations, 5 for
// account operations.
func Retryable(k Kind, isAccountCategory bool) (retry bool, maxAttempts int) {
	switch k {
	case KindNetwork, KindServer, KindUnknown:
		if isAccountCategory {
			return true, 5
		}
		return true, 3
	default:
		return false, 0
	}
}

// IsRateLimit is a convenience predicate used by the orchestrator to decide
// whether to abort a refresh and trigger governor recovery.
func IsRateLimit(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == KindRateLimit {
		return apiErr, true
	}
	return nil, false
}
