package githubclt

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"go.uber.org/zap"

	"github.com/simplesurance/prsync/internal/logfields"
)

const (
	retryAttempts  = 3
	retryDelay     = time.Second
	retryMaxDelay  = 30 * time.Second
	retryMaxJitter = 500 * time.Millisecond

	maxRequestSize = 1024 * 1024
)

// RetryTransport is a http.RoundTripper that retries requests that failed
// with a rate-limit or server error response, using exponential backoff with
// jitter.
// After the last attempt the failed response is returned to the caller.
type RetryTransport struct {
	Base     http.RoundTripper
	Attempts uint
	Delay    time.Duration

	logger *zap.Logger
}

func NewRetryTransport(base http.RoundTripper) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &RetryTransport{
		Base:     base,
		Attempts: retryAttempts,
		Delay:    retryDelay,
		logger:   zap.L().Named(loggerName).Named("retry_transport"),
	}
}

// retryableStatusError indicates a response that should be retried.
type retryableStatusError struct {
	StatusCode int
}

func (e *retryableStatusError) Error() string {
	return http.StatusText(e.StatusCode)
}

func isRetryableResponse(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode < 600) {
		return true
	}

	// GitHub returns 403 when the rate limit is exceeded
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-Ratelimit-Remaining") == "0"
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(io.LimitReader(req.Body, maxRequestSize))
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
	}

	var resp *http.Response
	var lastErr error
	var tryCnt uint

	err := retry.Do(
		func() error {
			tryCnt++

			if bodyBytes != nil {
				req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			}

			var err error
			resp, err = t.Base.RoundTrip(req) //nolint:bodyclose // returned to the caller
			if err != nil {
				lastErr = err
				return err
			}

			if !isRetryableResponse(resp) || tryCnt >= t.Attempts {
				lastErr = nil
				return nil
			}

			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			t.logger.Info(
				"http request failed, retrying",
				logfields.Event("github_http_request_retry_scheduled"),
				zap.String("method", req.Method),
				zap.String("url", req.URL.String()),
				zap.Int("status_code", resp.StatusCode),
				zap.Uint("try_count", tryCnt),
			)

			lastErr = &retryableStatusError{StatusCode: resp.StatusCode}
			return lastErr
		},
		retry.Context(req.Context()),
		retry.Attempts(t.Attempts),
		retry.Delay(t.Delay),
		retry.MaxDelay(retryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.MaxJitter(retryMaxJitter),
		retry.RetryIf(func(err error) bool {
			var statusErr *retryableStatusError
			return errors.As(err, &statusErr)
		}),
	)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, ctxErr
		}

		if lastErr != nil {
			return nil, lastErr
		}

		return nil, err
	}

	return resp, nil
}
