// Package transport fetches suggest responses and sends deletion requests over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bastiangx/omnisuggest/internal/logger"
	"github.com/bastiangx/omnisuggest/pkg/suggest"
)

const (
	DefaultTimeout      = 2 * time.Second
	DefaultUserAgent    = "omnisuggest/0.1"
	DefaultMaxBodyBytes = 512 << 10

	sessionParam       = "psi"
	prefetchQueryParam = "pfq"
	prefetchTypeParam  = "qha"
)

var (
	// ErrStatus is returned for responses outside the 2xx range.
	ErrStatus = errors.New("transport: unexpected status")
	// ErrBodyTooLarge is returned when a response exceeds the body cap.
	ErrBodyTooLarge = errors.New("transport: response body too large")
)

// Options configure a Client.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
}

// DefaultOptions returns the settings used when the config leaves them out.
func DefaultOptions() Options {
	return Options{
		Timeout:      DefaultTimeout,
		UserAgent:    DefaultUserAgent,
		MaxBodyBytes: DefaultMaxBodyBytes,
	}
}

// Client implements suggest.Transport and suggest.Deleter.
type Client struct {
	httpClient   *http.Client
	userAgent    string
	maxBodyBytes int64
	logger       *log.Logger
}

// NewClient creates a client. Zero fields of opts take their defaults.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		userAgent:    opts.UserAgent,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       logger.New("transport"),
	}
}

// FetchSuggestions requests req.URL with the session token and prefetch hint
// added as query parameters and returns the raw body.
func (c *Client) FetchSuggestions(ctx context.Context, req suggest.FetchRequest) ([]byte, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid suggest url: %w", err)
	}
	q := u.Query()
	if req.SessionToken != "" {
		q.Set(sessionParam, req.SessionToken)
	}
	if req.PrefetchQuery != "" {
		q.Set(prefetchQueryParam, req.PrefetchQuery)
		q.Set(prefetchTypeParam, strconv.Itoa(req.PrefetchType))
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build suggest request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := c.readBody(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debugf("Fetched %d bytes for '%s'", len(body), req.Query)
	return body, nil
}

// DeleteSuggestion sends a deletion request. Any 2xx response is a success.
func (c *Client) DeleteSuggestion(ctx context.Context, deletionURL string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, deletionURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build deletion request: %w", err)
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodyBytes))
	return nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s from %s", ErrStatus, resp.Status, req.URL.Host)
	}
	return resp, nil
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, c.maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, c.maxBodyBytes)
	}
	return body, nil
}
