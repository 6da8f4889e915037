package matrix

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MatrixError is a non-2xx response from the homeserver. Use errors.As to
// inspect it.
type MatrixError struct {
	Code       string
	Message    string
	StatusCode int
	// RetryAfter is the server's requested wait, zero when none was given.
	RetryAfter time.Duration
}

func (e *MatrixError) Error() string {
	code := e.Code
	if code == "" {
		code = "HTTP"
	}
	return fmt.Sprintf("matrix: %s (%d): %s", code, e.StatusCode, e.Message)
}

// Error codes the client acts on.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeNotFound      = "M_NOT_FOUND"
)

const maxRetryAfter = 2 * time.Minute

// IsMatrixError reports whether err is a *MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// RetryAfter returns the capped server-requested wait carried by err, or 0.
func RetryAfter(err error) time.Duration {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return capRetryAfter(matrixErr.RetryAfter)
	}
	return 0
}

type errorPayload struct {
	ErrCode      string `json:"errcode"`
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retry_after_ms"`
}

// newMatrixError builds the error for a non-2xx response.
func newMatrixError(resp *Response) *MatrixError {
	e := &MatrixError{StatusCode: resp.StatusCode}

	var payload errorPayload
	if err := json.Unmarshal(resp.Body, &payload); err == nil {
		e.Code = payload.ErrCode
		e.Message = payload.Error
		if payload.RetryAfterMs > 0 {
			e.RetryAfter = time.Duration(payload.RetryAfterMs) * time.Millisecond
		}
	}
	if e.Message == "" {
		e.Message = truncate(strings.TrimSpace(string(resp.Body)), 200)
		if e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
	}
	if e.RetryAfter == 0 && resp.Header != nil {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}

func capRetryAfter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
