package particle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// InvalidCredentialsMessage is the error_description the cloud returns when
// the credentials (or the token behind them) are rejected.
const InvalidCredentialsMessage = "User credentials are invalid"

// ErrPublishFailed matches any *APIError raised by PublishEvent.
var ErrPublishFailed = errors.New("publish failed")

const (
	opPublish      = "publish"
	opLogin        = "login"
	opListDevices  = "list devices"
	opGetVariable  = "get variable"
	opCallFunction = "call function"
)

// LoginError means the cloud rejected the credentials. Callers may refresh
// the session and try again.
type LoginError struct {
	Op         string
	StatusCode int
}

func (e *LoginError) Error() string {
	return InvalidCredentialsMessage
}

// APIError is a transport or API level failure. StatusCode is 0 when the
// request never got a response.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("particle %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("particle %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	return target == ErrPublishFailed && e.Op == opPublish
}

type apiResponse struct {
	OK               *bool  `json:"ok"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// responseError turns an unsuccessful response into a *LoginError or an
// *APIError. The message prefers error_description, then error, then the
// raw body.
func responseError(op string, status int, body []byte) error {
	var r apiResponse
	_ = json.Unmarshal(body, &r)

	if r.ErrorDescription == InvalidCredentialsMessage {
		return &LoginError{Op: op, StatusCode: status}
	}

	msg := r.ErrorDescription
	if msg == "" {
		msg = r.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = "empty response"
	}
	return &APIError{Op: op, StatusCode: status, Message: msg}
}

func transportError(op string, err error) error {
	return &APIError{Op: op, Message: err.Error(), Err: err}
}
