// Package client is the Go client for the uplinkd control API. The CLI
// is its only in-repo consumer, but the shapes here are the public
// contract of the daemon.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Status mirrors the daemon's connectivity snapshot.
type Status struct {
	Mode       string `json:"mode"`
	SSID       string `json:"ssid,omitempty"`
	IP         string `json:"ip,omitempty"`
	VerifiedAt string `json:"verifiedAt,omitempty"`
	LastError  string `json:"lastError,omitempty"`
}

// Network is one scan result.
type Network struct {
	SSID           string `json:"ssid"`
	SignalStrength int    `json:"signalStrength"`
}

// Event is one journaled transition.
type Event struct {
	ID         string `json:"id"`
	Target     string `json:"target"`
	Attempts   int    `json:"attempts"`
	StartedAt  string `json:"startedAt"`
	FinishedAt string `json:"finishedAt"`
	Outcome    string `json:"outcome"`
	Reason     string `json:"reason,omitempty"`
}

// APIError is a daemon-reported failure: the envelope's code and message,
// plus whatever status payload accompanied it.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Status     *Status
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Option tweaks the client.
type Option func(*Client)

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client talks to one daemon.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New builds a client for the daemon at baseURL, e.g. "http://192.168.4.1:9090".
func New(baseURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		base: base,
		// Connect blocks until the daemon's retry ceiling resolves;
		// give it headroom beyond the worst case.
		http: &http.Client{Timeout: 4 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Status fetches the current connectivity snapshot.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.call(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

// Scan lists visible networks, strongest first.
func (c *Client) Scan(ctx context.Context) ([]Network, error) {
	var out struct {
		Networks []Network `json:"networks"`
	}
	if err := c.call(ctx, http.MethodGet, "/scan", nil, &out); err != nil {
		return nil, err
	}
	return out.Networks, nil
}

// Connect asks the daemon to join ssid and blocks until the transition
// resolves. On failure the returned *APIError carries the daemon's final
// status (normally AP mode after fallback).
func (c *Client) Connect(ctx context.Context, ssid, password string) (Status, error) {
	body := map[string]string{"ssid": ssid, "password": password}
	var out Status
	err := c.call(ctx, http.MethodPost, "/connect", body, &out)
	return out, err
}

// Disconnect returns the device to setup (AP) mode.
func (c *Client) Disconnect(ctx context.Context) (Status, error) {
	var out Status
	err := c.call(ctx, http.MethodGet, "/disconnect", nil, &out)
	return out, err
}

// Events fetches the recent transition journal, newest first.
func (c *Client) Events(ctx context.Context) ([]Event, error) {
	var out struct {
		Transitions []Event `json:"transitions"`
	}
	if err := c.call(ctx, http.MethodGet, "/events", nil, &out); err != nil {
		return nil, err
	}
	return out.Transitions, nil
}

type envelope struct {
	Result  string          `json:"result"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response (http %d): %w", resp.StatusCode, err)
	}

	if env.Result != "ok" {
		apiErr := &APIError{HTTPStatus: resp.StatusCode, Code: env.Code, Message: env.Message}
		if len(env.Data) > 0 {
			var st Status
			if err := json.Unmarshal(env.Data, &st); err == nil {
				apiErr.Status = &st
			}
		}
		return apiErr
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
