package jobutil

import (
	"errors"
	"net/http"
	"strings"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/sony/gobreaker/v2"
	"google.golang.org/genai"
)

// Kind is the failure category of a job attempt.
type Kind string

const (
	// KindNotFound covers a missing photo, analysis asset reference, or asset bytes.
	KindNotFound Kind = "NOT_FOUND"
	// KindRateLimited is transient: the job goes back to pending with a backoff.
	KindRateLimited Kind = "RATE_LIMITED"
	// KindProviderError is any other failure; the attempt is marked failed.
	KindProviderError Kind = "PROVIDER_ERROR"
)

// RateLimitedMessage is the error recorded on a job deferred for rate limiting.
const RateLimitedMessage = "rate_limited"

var (
	// ErrNotFound marks a lookup that found nothing.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited marks a provider call rejected for rate limiting,
	// including calls short-circuited by an open circuit breaker.
	ErrRateLimited = errors.New("rate limited")
)

// ProviderError marks a failure returned by an AI provider call. Only
// these are matched on their message text.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *ProviderError) Unwrap() error { return e.Err }

// FromProvider wraps err from the provider operation op. A nil err stays nil.
func FromProvider(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Op: op, Err: err}
}

// throttleCodes are AWS error codes that signal request throttling.
var throttleCodes = map[string]bool{
	"ThrottlingException":                    true,
	"TooManyRequestsException":               true,
	"ProvisionedThroughputExceededException": true,
	"RequestLimitExceeded":                   true,
	"SlowDown":                               true,
}

// Classify returns the failure category for err. A nil error has no category
// and returns the empty Kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case IsRateLimited(err):
		return KindRateLimited
	default:
		return KindProviderError
	}
}

// IsRateLimited reports whether err looks like a provider rate limit:
// an HTTP 429 from Gemini or AWS, an AWS throttling error code, an open
// circuit breaker, or a ProviderError whose message mentions "429" or
// "rate limit". Store and asset errors are never matched on text since
// their messages carry IDs.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr.Code == http.StatusTooManyRequests {
		return true
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests {
		return true
	}

	var smithyErr smithy.APIError
	if errors.As(err, &smithyErr) && throttleCodes[smithyErr.ErrorCode()] {
		return true
	}

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		return false
	}
	msg := strings.ToLower(provErr.Err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}
