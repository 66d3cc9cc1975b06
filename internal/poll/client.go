package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/greese/imaginary-home-sub000/internal/command"
	"github.com/greese/imaginary-home-sub000/internal/signature"
)

// DeviceState is one device snapshot within a state push.
type DeviceState struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	State json.RawMessage `json:"state"`
}

// PendingCommand is the wire shape of one fetched cloud command.
type PendingCommand struct {
	ID             string          `json:"id"`
	GroupID        string          `json:"groupId"`
	DeviceIDs      []string        `json:"deviceIds"`
	Payload        json.RawMessage `json:"payload"`
	TimeoutSeconds int             `json:"timeoutSeconds"`
}

// ResultPayload is the wire shape of one reported execution outcome.
type ResultPayload struct {
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
}

// Client talks to one cloud service on behalf of one relay.
//
// Every request carries the signed envelope headers. After an
// authentication failure the client re-exchanges its bearer token and
// retries the request exactly once before surfacing the error.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	http    *http.Client
	baseURL string
	relayID string
	secret  string
	logger  Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a cloud client with a pooled transport.
func NewClient(baseURL, relayID, secret string, timeout time.Duration, logger Logger) *Client {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		baseURL: baseURL,
		relayID: relayID,
		secret:  secret,
		logger:  logger,
	}
}

// RelayID returns the relay identity this client signs as.
func (c *Client) RelayID() string { return c.relayID }

// credentials snapshots the signing credentials under the lock.
func (c *Client) credentials() signature.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return signature.Credentials{APIKey: c.relayID, Secret: c.secret, Token: c.token}
}

// ExchangeToken performs the bearer token exchange.
//
// The exchange itself is signed without the token element, so it works for
// a relay that never held a token or lost it.
func (c *Client) ExchangeToken(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/token", nil)
	if err != nil {
		return fmt.Errorf("poll: building token request: %w", err)
	}
	signature.Sign(req, signature.Credentials{APIKey: c.relayID, Secret: c.secret})

	resp, err := c.http.Do(req)
	if err != nil {
		return &command.CommunicationError{Op: "token exchange", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &command.CommunicationError{
			Op:         "token exchange",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status"),
		}
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return &command.CommunicationError{Op: "token exchange", Err: err}
	}

	c.mu.Lock()
	c.token = body.Token
	c.mu.Unlock()

	c.logger.Debug("bearer token exchanged", "relay_id", c.relayID)
	return nil
}

// PushState uploads a full device-state snapshot and returns the
// pending-command indicator from the response.
func (c *Client) PushState(ctx context.Context, devices []DeviceState) (bool, error) {
	body := map[string]any{
		"action": "update",
		"relay":  map[string]any{"devices": devices},
	}
	resp, err := c.do(ctx, http.MethodPut, "/relay/"+c.relayID, body)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	return hasCommands(resp), nil
}

// Probe issues the cheap pending-command existence check.
func (c *Client) Probe(ctx context.Context) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, "/relay/"+c.relayID+"/commands", nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	return hasCommands(resp), nil
}

// FetchCommands retrieves every waiting command, transitioning each to SENT
// on the cloud side.
func (c *Client) FetchCommands(ctx context.Context) ([]PendingCommand, error) {
	resp, err := c.do(ctx, http.MethodGet, "/relay/"+c.relayID+"/commands", nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	var commands []PendingCommand
	if err := json.NewDecoder(resp.Body).Decode(&commands); err != nil {
		return nil, &command.CommunicationError{Op: "command fetch", Err: err}
	}
	return commands, nil
}

// PostResults reports execution outcomes for fetched commands.
func (c *Client) PostResults(ctx context.Context, results []ResultPayload) error {
	resp, err := c.do(ctx, http.MethodPost, "/relay/"+c.relayID+"/results", results)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// do executes one signed request, re-authenticating and retrying exactly
// once on an authentication failure. Any non-2xx response surfaces as a
// CommunicationError carrying the status code.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("poll: encoding request body: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.logger.Info("authentication failed, re-exchanging token",
			"method", method,
			"path", path,
		)
		if err := c.ExchangeToken(ctx); err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, method, path, payload)
		if err != nil {
			return nil, err
		}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		status := resp.StatusCode
		drain(resp)
		return nil, &command.CommunicationError{
			Op:         method + " " + path,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected status"),
		}
	}
	return resp, nil
}

// send builds, signs, and executes a single request attempt.
func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("poll: building request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	signature.Sign(req, c.credentials())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &command.CommunicationError{Op: method + " " + path, Err: err}
	}
	return resp, nil
}

// hasCommands reads the pending-command indicator header.
func hasCommands(resp *http.Response) bool {
	v, err := strconv.ParseBool(resp.Header.Get(signature.HeaderHasCommands))
	return err == nil && v
}

// drain discards and closes a response body so the connection is reused.
func drain(resp *http.Response) {
	//nolint:errcheck // Best-effort drain before close
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
