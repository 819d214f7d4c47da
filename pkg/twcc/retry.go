package twcc

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

// RetryableStatusCodes are retried until the attempt budget is spent.
var RetryableStatusCodes = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type ExponentialBackoff struct {
	// BaseDuration is the wait before the first retry.
	BaseDuration time.Duration

	// BaseDuration is multiplied by Multiplier for every further retry.
	Multiplier float64

	// Jitter adds up to Jitter * BaseDuration of random wait.
	Jitter float64

	// MaxDuration caps a single wait, including one requested by Retry-After.
	MaxDuration time.Duration
}

// Duration returns the wait before retry number attempt, counting from 0.
func (e ExponentialBackoff) Duration(attempt int) time.Duration {
	multiplier := e.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	wait := float64(e.BaseDuration) * math.Pow(multiplier, float64(attempt))
	if e.Jitter > 0 {
		wait += rand.Float64() * e.Jitter * float64(e.BaseDuration)
	}
	if e.MaxDuration > 0 && wait > float64(e.MaxDuration) {
		return e.MaxDuration
	}
	return time.Duration(wait)
}

func (e ExponentialBackoff) backoff(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds >= 0 {
			wait := time.Duration(seconds) * time.Second
			if e.MaxDuration > 0 && wait > e.MaxDuration {
				wait = e.MaxDuration
			}
			return wait
		}
	}
	return e.Duration(attemptNum)
}

type RetryPolicy struct {
	// MaxAttempts counts the first request, so 5 means up to 4 retries.
	MaxAttempts int
	Backoff     ExponentialBackoff
	StatusCodes []int

	// RequestTimeout bounds each attempt, not the whole retry sequence.
	RequestTimeout time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Backoff: ExponentialBackoff{
			BaseDuration: 2 * time.Second,
			Multiplier:   2,
			MaxDuration:  2 * time.Minute,
		},
		StatusCodes:    RetryableStatusCodes,
		RequestTimeout: time.Minute,
	}
}

type retrier struct {
	policy RetryPolicy
	log    logr.Logger
}

func (r retrier) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		if retry {
			r.log.Info("request failed, retrying", "error", err.Error())
		}
		return retry, checkErr
	}
	for _, code := range r.policy.StatusCodes {
		if resp.StatusCode == code {
			r.log.Info("retryable status, retrying", "status", resp.StatusCode)
			return true, nil
		}
	}
	return false, nil
}

// giveUp hands the last response back when the budget ran out on a retryable
// status, so the caller reports the status itself.
func giveUp(resp *http.Response, err error, numTries int) (*http.Response, error) {
	if err == nil && resp != nil {
		return resp, nil
	}
	if resp != nil {
		resp.Body.Close()
	}
	return nil, fmt.Errorf("giving up after %d attempt(s): %w", numTries, err)
}

// NewRetryTransport decorates next with the retry policy. A nil next uses
// http.DefaultTransport.
func NewRetryTransport(next http.RoundTripper, policy RetryPolicy, log logr.Logger) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	retries := policy.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}

	r := retrier{policy: policy, log: log.WithName("retry")}
	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{
		Transport: next,
		Timeout:   policy.RequestTimeout,
	}
	client.RetryMax = retries
	client.RetryWaitMin = policy.Backoff.BaseDuration
	client.RetryWaitMax = policy.Backoff.MaxDuration
	client.CheckRetry = r.checkRetry
	client.Backoff = policy.Backoff.backoff
	client.ErrorHandler = giveUp
	client.Logger = leveledLogger{log: r.log}

	return &retryablehttp.RoundTripper{Client: client}
}

// NewHTTPClient returns an http.Client whose transport retries per policy.
func NewHTTPClient(policy RetryPolicy, log logr.Logger) *http.Client {
	return &http.Client{Transport: NewRetryTransport(nil, policy, log)}
}

// leveledLogger adapts logr to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log logr.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.Error(nil, msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.V(1).Info(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Info(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = leveledLogger{}
