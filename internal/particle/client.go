// Package particle is a small client for the Particle Cloud API: password
// login, device listing and event publishing.
package particle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL = "https://api.particle.io"

	// MaxEventDataLen is the largest data field the cloud accepts.
	MaxEventDataLen = 255

	tokenPath   = "/oauth/token"
	devicesPath = "/v1/devices"
	eventsPath  = "/v1/devices/events"
	// {device} and {name} are escaped by resty.
	devicePath = "/v1/devices/{device}/{name}"

	// OAuth client used by the password grant.
	oauthClientID     = "particle"
	oauthClientSecret = "particle"
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	AccessToken string
	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration
}

// Client talks to the Particle Cloud on behalf of one access token. It never
// retries; retry policy belongs to the caller. A Client is not mutated after
// construction: Login and WithAccessToken return new values.
type Client struct {
	http  *resty.Client
	token string
	now   func() time.Time
}

// Event is one publish request.
type Event struct {
	Name    string
	Data    string
	Private bool
}

// PublishResult is the cloud's acknowledgement of an event.
type PublishResult struct {
	OK bool
}

// Credentials is the outcome of a password login.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Expired reports whether the access token is past its expiry at t. A zero
// ExpiresAt never expires.
func (c Credentials) Expired(t time.Time) bool {
	return !c.ExpiresAt.IsZero() && !t.Before(c.ExpiresAt)
}

// Device is one entry of the device list.
type Device struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Platform  int    `json:"platform_id"`
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json")
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	return &Client{
		http:  httpClient,
		token: opts.AccessToken,
		now:   time.Now,
	}
}

// AccessToken returns the token the client authenticates with.
func (c *Client) AccessToken() string {
	return c.token
}

// WithAccessToken returns a client sharing the transport but using token.
func (c *Client) WithAccessToken(token string) *Client {
	return &Client{
		http:  c.http,
		token: token,
		now:   c.now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Login exchanges a username and password for a new access token and returns
// a client bound to it. The receiver is left untouched.
func (c *Client) Login(ctx context.Context, username, password string) (*Client, Credentials, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(oauthClientID, oauthClientSecret).
		SetFormData(map[string]string{
			"grant_type": "password",
			"username":   username,
			"password":   password,
		}).
		Post(tokenPath)
	if err != nil {
		return nil, Credentials{}, transportError(opLogin, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, Credentials{}, responseError(opLogin, resp.StatusCode(), resp.Body())
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body(), &tr); err != nil {
		return nil, Credentials{}, &APIError{Op: opLogin, StatusCode: resp.StatusCode(), Message: fmt.Sprintf("decode token response: %v", err), Err: err}
	}
	if tr.AccessToken == "" {
		return nil, Credentials{}, &APIError{Op: opLogin, StatusCode: resp.StatusCode(), Message: "response carries no access_token"}
	}

	creds := Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		creds.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return c.WithAccessToken(tr.AccessToken), creds, nil
}

// ListDevices returns the devices the token has access to. The gateway uses
// it to validate a token before publishing.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		Get(devicesPath)
	if err != nil {
		return nil, transportError(opListDevices, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, responseError(opListDevices, resp.StatusCode(), resp.Body())
	}

	var devices []Device
	if err := json.Unmarshal(resp.Body(), &devices); err != nil {
		return nil, &APIError{Op: opListDevices, StatusCode: resp.StatusCode(), Message: fmt.Sprintf("decode devices: %v", err), Err: err}
	}
	return devices, nil
}

// Variable is the value a device exposes under Name. Result is kept raw
// because devices expose ints, doubles and strings.
type Variable struct {
	Name   string          `json:"name"`
	Result json.RawMessage `json:"result"`
}

// GetVariable reads a variable exposed by a device.
func (c *Client) GetVariable(ctx context.Context, deviceID, name string) (Variable, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		SetPathParams(map[string]string{"device": deviceID, "name": name}).
		Get(devicePath)
	if err != nil {
		return Variable{}, transportError(opGetVariable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Variable{}, responseError(opGetVariable, resp.StatusCode(), resp.Body())
	}

	var v Variable
	if err := json.Unmarshal(resp.Body(), &v); err != nil {
		return Variable{}, &APIError{Op: opGetVariable, StatusCode: resp.StatusCode(), Message: fmt.Sprintf("decode variable: %v", err), Err: err}
	}
	return v, nil
}

// CallFunction invokes a function exposed by a device with arg and returns
// the function's integer result. With raw set the argument is sent
// unparsed (format=raw).
func (c *Client) CallFunction(ctx context.Context, deviceID, name, arg string, raw bool) (int, error) {
	form := map[string]string{"arg": arg}
	if raw {
		form["format"] = "raw"
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		SetPathParams(map[string]string{"device": deviceID, "name": name}).
		SetFormData(form).
		Post(devicePath)
	if err != nil {
		return 0, transportError(opCallFunction, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return 0, responseError(opCallFunction, resp.StatusCode(), resp.Body())
	}

	var r struct {
		ReturnValue *int `json:"return_value"`
	}
	if err := json.Unmarshal(resp.Body(), &r); err != nil || r.ReturnValue == nil {
		return 0, &APIError{Op: opCallFunction, StatusCode: resp.StatusCode(), Message: "response carries no return_value", Err: err}
	}
	return *r.ReturnValue, nil
}

// PublishEvent submits ev. Success requires a 200 response carrying
// "ok": true. Rejected credentials come back as *LoginError, everything else
// as an *APIError matching ErrPublishFailed.
func (c *Client) PublishEvent(ctx context.Context, ev Event) (PublishResult, error) {
	if strings.TrimSpace(ev.Name) == "" {
		return PublishResult{}, &APIError{Op: opPublish, Message: "event name is required"}
	}
	if len(ev.Data) > MaxEventDataLen {
		return PublishResult{}, &APIError{Op: opPublish, Message: fmt.Sprintf("event data is %d characters, limit %d", len(ev.Data), MaxEventDataLen)}
	}

	form := map[string]string{
		"name":    ev.Name,
		"private": "false",
	}
	if ev.Private {
		form["private"] = "true"
	}
	if ev.Data != "" {
		form["data"] = ev.Data
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.token).
		SetFormData(form).
		Post(eventsPath)
	if err != nil {
		return PublishResult{}, transportError(opPublish, err)
	}

	if resp.StatusCode() == http.StatusOK {
		var r apiResponse
		if err := json.Unmarshal(resp.Body(), &r); err == nil && r.OK != nil && *r.OK {
			return PublishResult{OK: true}, nil
		}
	}
	return PublishResult{}, responseError(opPublish, resp.StatusCode(), resp.Body())
}
