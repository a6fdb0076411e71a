package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/carlmjohnson/requests"

	"github.com/screenlink/screenlink/internal/auth"
)

// maxErrorBodyBytes caps how much of an error response is kept as diagnostic
// text.
const maxErrorBodyBytes = 4 * 1024

// Client talks to the relay and access-control service. Safe for concurrent
// use.
type Client struct {
	baseURL string
	creds   auth.Source
	http    *http.Client
}

func NewClient(baseURL string, creds auth.Source, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		creds:   creds,
		http:    httpClient,
	}
}

// builder starts a request with the bearer credential and the status
// validator applied. Returns an AuthError immediately when no credential is
// available, without issuing the request.
func (c *Client) builder(path string) (*requests.Builder, error) {
	token, err := c.creds.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", &AuthError{Status: http.StatusUnauthorized}, err)
	}
	rb := requests.
		URL(c.baseURL).
		Path(path).
		Bearer(token).
		ContentType("application/json").
		Client(c.http).
		AddValidator(checkStatus)
	return rb, nil
}

// checkStatus replaces the library's default validator so non-2xx responses
// map onto the client's error taxonomy, keeping the body as diagnostics.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return &ServerError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
