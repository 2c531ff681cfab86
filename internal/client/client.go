// Package client is a thin HTTP client for the clanledger API, used by
// the smoke binary and suitable for bots or scripts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clanledger.org/internal/claims"
	"clanledger.org/internal/entries"
)

// APIError is a non-2xx response decoded from the wire.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
	RequestID  string `json:"request_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Client talks to one clanledger instance.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// WithToken returns a copy of the client sending the bearer token.
func (c *Client) WithToken(token string) *Client {
	clone := *c
	clone.token = token
	return &clone
}

// SignIn performs the break-glass root sign-in and returns a client
// carrying the issued token.
func (c *Client) SignIn(ctx context.Context, externalID, secret string) (*Client, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"external_id": externalID, "secret": secret}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/token", nil, body, &resp); err != nil {
		return nil, err
	}
	return c.WithToken(resp.Token), nil
}

// SubmitClaim posts a new claim.
func (c *Client) SubmitClaim(ctx context.Context, resource string, quantities [3]int, proofRef string) (claims.Claim, error) {
	var claim claims.Claim
	body := map[string]any{
		"resource":   resource,
		"quantities": quantities,
		"proof_ref":  proofRef,
	}
	err := c.do(ctx, http.MethodPost, "/v1/claims", nil, body, &claim)
	return claim, err
}

// GetClaim loads one claim.
func (c *Client) GetClaim(ctx context.Context, id string) (claims.Claim, error) {
	var claim claims.Claim
	err := c.do(ctx, http.MethodGet, "/v1/claims/"+url.PathEscape(id), nil, nil, &claim)
	return claim, err
}

// ListClaims returns claims, optionally filtered by status.
func (c *Client) ListClaims(ctx context.Context, status string) ([]claims.Claim, error) {
	var resp struct {
		Items []claims.Claim `json:"items"`
	}
	query := url.Values{}
	if status != "" {
		query.Set("status", status)
	}
	err := c.do(ctx, http.MethodGet, "/v1/claims", query, nil, &resp)
	return resp.Items, err
}

// DecideClaim approves or rejects a pending claim and returns the
// updated claim plus any fan-out entries.
func (c *Client) DecideClaim(ctx context.Context, id, outcome, note string) (claims.Claim, []entries.Entry, error) {
	var resp struct {
		Claim   claims.Claim    `json:"claim"`
		Entries []entries.Entry `json:"entries"`
	}
	body := map[string]string{"outcome": outcome, "note": note}
	err := c.do(ctx, http.MethodPost, "/v1/claims/"+url.PathEscape(id)+"/decision", nil, body, &resp)
	return resp.Claim, resp.Entries, err
}

// ListEntries returns ledger entries for one submitter.
func (c *Client) ListEntries(ctx context.Context, submitterID string) ([]entries.Entry, error) {
	var resp struct {
		Items []entries.Entry `json:"items"`
	}
	query := url.Values{}
	if submitterID != "" {
		query.Set("submitter_id", submitterID)
	}
	err := c.do(ctx, http.MethodGet, "/v1/entries", query, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, dst any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
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

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if dst == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
