package retry

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"
)

// Class is the retry classification of an error.
type Class int

const (
	Fatal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

var retryableMarkers = []string{
	"429",
	"rate limited",
	"server error",
	"timeout",
	"network",
	"connection",
}

var serverStatus = regexp.MustCompile(`\b5\d\d\b`)

// Classify decides whether err is worth another attempt. Matching is a
// case-insensitive substring search over the error message.
func Classify(err error) Class {
	if err == nil {
		return Fatal
	}
	var se *StatusError
	if errors.As(err, &se) {
		return Retryable
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMarkers {
		if strings.Contains(msg, m) {
			return Retryable
		}
	}
	if serverStatus.MatchString(msg) && (strings.Contains(msg, "error") || strings.Contains(msg, "server")) {
		return Retryable
	}
	return Fatal
}

// StatusError is the failure synthesised from a result carrying a 429 or 5xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	if e.Code == http.StatusTooManyRequests {
		return "429 rate limited"
	}
	return fmt.Sprintf("server error: status %d", e.Code)
}

type statusCoder interface {
	StatusCode() int
}

type statuser interface {
	Status() int
}

// CheckStatus converts a result exposing a 429 or >=500 status into a
// *StatusError. Results without a numeric status yield nil.
func CheckStatus(result any) error {
	if result == nil {
		return nil
	}
	if rv := reflect.ValueOf(result); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil
	}

	var code int
	switch r := result.(type) {
	case *http.Response:
		code = r.StatusCode
	case statusCoder:
		code = r.StatusCode()
	case statuser:
		code = r.Status()
	default:
		return nil
	}

	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return &StatusError{Code: code}
	}
	return nil
}
