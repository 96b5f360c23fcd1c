package goAuthClient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode/utf8"
)

var (
	// ErrAuthExpired is returned when the session ended because a refresh
	// failed or was impossible, or a replayed request was refused again. It
	// wraps the cause.
	ErrAuthExpired = errors.New("authentication expired")
	// ErrNotAuthenticated is returned by operations that need a signed-in user.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrInvalidCredentials is returned by Login for a refused email/password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned by Login when the server reports a lockout.
	ErrAccountLocked = errors.New("account locked")
	// ErrStorageUnavailable wraps token store failures.
	ErrStorageUnavailable = errors.New("token storage unavailable")
	// ErrSessionClosed is returned after Session.Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidRequest is returned for requests that cannot be sent at all.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrResponseTooLarge is returned when a buffered success body exceeds
	// Config.MaxResponseBytes. Stream the response to read it whole.
	ErrResponseTooLarge = errors.New("response too large")
)

// ClientError is a 4xx response other than a 401 handled by refresh.
type ClientError struct {
	Op         string
	StatusCode int
	Message    string
	RequestID  string
	Body       []byte
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("%s: client error %d: %s", e.Op, e.StatusCode, e.Message)
}

// ServerError is a 5xx response.
type ServerError struct {
	Op         string
	StatusCode int
	Message    string
	RequestID  string
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: server error %d: %s", e.Op, e.StatusCode, e.Message)
}

// NetworkError means no HTTP response was received (connection failure,
// DNS, TLS, per-attempt timeout).
type NetworkError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: network timeout: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not
// a *ClientError or *ServerError.
func StatusCode(err error) int {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsRetryable reports whether err is worth trying again later: network
// failures and 5xx responses.
func IsRetryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var se *ServerError
	return errors.As(err, &se)
}

// Message extracts the server-provided message from err, or err.Error().
func Message(err error) string {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Message
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func classifyStatus(op string, status int, body []byte, requestID string) error {
	msg := serverMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	if status >= 500 {
		return &ServerError{Op: op, StatusCode: status, Message: msg, RequestID: requestID, Body: body}
	}
	return &ClientError{Op: op, StatusCode: status, Message: msg, RequestID: requestID, Body: body}
}

// serverMessage reads the error text from a JSON body, trying the keys the
// backend uses in order. Non-JSON bodies are returned trimmed.
func serverMessage(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return truncate(trimmed, 512)
	}
	for _, key := range []string{"detail", "message", "error"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
		// FastAPI validation errors put a list under "detail".
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(raw, &items); err == nil && len(items) > 0 && items[0].Msg != "" {
			return items[0].Msg
		}
	}
	return ""
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
