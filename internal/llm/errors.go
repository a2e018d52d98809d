package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingKey means BYOK mode is selected but no API key could be read.
var ErrMissingKey = errors.New("no API key configured")

// RequestFailure means no response was obtained: the relay was unreachable,
// the call timed out, or the circuit breaker rejected it.
type RequestFailure struct {
	Err error
}

func (e *RequestFailure) Error() string {
	return fmt.Sprintf("llm: request failed: %v", e.Err)
}

func (e *RequestFailure) Unwrap() error { return e.Err }

// UserMessage returns a message suitable for the end user.
func (e *RequestFailure) UserMessage() string {
	switch {
	case errors.Is(e.Err, ErrCircuitOpen):
		return "The AI service is temporarily unavailable. Please try again in a moment."
	case errors.Is(e.Err, ErrMissingKey):
		return "No API key is set. Add your key in settings or switch to managed mode."
	}
	return "Could not reach the AI service. Check your connection and try again."
}

// UpstreamFailure is a non-2xx status from the relay or the provider behind it.
// Body holds the raw response body.
type UpstreamFailure struct {
	StatusCode int
	Body       string
}

func (e *UpstreamFailure) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("llm: upstream returned status %d: %s", e.StatusCode, body)
}

// UserMessage returns a message suitable for the end user.
func (e *UpstreamFailure) UserMessage() string {
	switch {
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return "The AI service rejected the API key. Check your key in settings."
	case e.StatusCode == http.StatusTooManyRequests:
		return "The AI service is busy. Please wait a moment and try again."
	case e.StatusCode >= 500:
		return fmt.Sprintf("The AI service had a problem (HTTP %d). Please try again.", e.StatusCode)
	default:
		return fmt.Sprintf("The AI service returned an error (HTTP %d).", e.StatusCode)
	}
}

// MalformedResponse means a response arrived but did not have the expected shape.
type MalformedResponse struct {
	Err error
}

func (e *MalformedResponse) Error() string {
	return fmt.Sprintf("llm: malformed response: %v", e.Err)
}

func (e *MalformedResponse) Unwrap() error { return e.Err }

// UserMessage returns a message suitable for the end user.
func (e *MalformedResponse) UserMessage() string {
	return "The AI service returned a response that could not be read. Please try again."
}

// UserMessage returns the user-facing message carried by err, or a generic
// one when err is not an llm failure.
func UserMessage(err error) string {
	var um interface{ UserMessage() string }
	if errors.As(err, &um) {
		return um.UserMessage()
	}
	return "Something went wrong. Please try again."
}
