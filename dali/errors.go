package dali

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// status errors
var (
	ErrUnauthorized       = errors.New("Unauthorized.")
	ErrForbidden          = errors.New("Forbidden.")
	ErrUnprocessable      = errors.New("Unprocessable.")
	ErrBadRequest         = errors.New("Bad request.")
	ErrUnfound            = errors.New("Not found.")
	ErrUnexpectedResponse = errors.New("Unexpected response.")
)

// domain errors
var (
	ErrAlreadyCheckedOut = errors.New("Equipment is already checked out.")
	ErrNotCheckedOut     = errors.New("Equipment is not checked out.")
	ErrAlreadyCreated    = errors.New("Already created.")
	ErrSignInRequired    = errors.New("A signed in member is required.")
	ErrAdminRequired     = errors.New("An admin member is required.")
	ErrMissingServerUrl  = errors.New("Server url missing. Set server_url in the config.")
	ErrClosed            = errors.New("Closed.")
)

// the request or response body could not be parsed as json
type InvalidJsonError struct {
	Text string
	Err  error
}

func (self *InvalidJsonError) Error() string {
	return fmt.Sprintf("Invalid json: %s (%s)", self.Err, abbreviate(self.Text, 256))
}

func (self *InvalidJsonError) Unwrap() error {
	return self.Err
}

// any other transport or status failure
type UnknownError struct {
	// -1 when no response was received
	StatusCode int
	Text       string
	Err        error
}

func (self *UnknownError) Error() string {
	if self.Err != nil {
		return fmt.Sprintf("Unknown error (%d): %s", self.StatusCode, self.Err)
	}
	return fmt.Sprintf("Unknown error (%d): %s", self.StatusCode, abbreviate(strings.TrimSpace(self.Text), 256))
}

func (self *UnknownError) Unwrap() error {
	return self.Err
}

func statusError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusNotFound:
		return ErrUnfound
	default:
		return &UnknownError{
			StatusCode: statusCode,
			Text:       string(body),
		}
	}
}

func abbreviate(text string, n int) string {
	if len(text) <= n {
		return text
	}
	return text[:n] + "..."
}
