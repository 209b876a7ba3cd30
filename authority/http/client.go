package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/omalloc/chunksync/api/defined/v1/chunk"
	"github.com/omalloc/chunksync/contrib/log"
	"github.com/omalloc/chunksync/internal/constants"
)

var (
	_ chunk.Authority = (*Client)(nil)
	_ chunk.Counter   = (*Client)(nil)
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.Code)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.hc = hc
	}
}

// WithTimeout sets the timeout of every request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.hc.Timeout = d
	}
}

// Client talks to a chunk authority over HTTP.
type Client struct {
	base string
	hc   *http.Client
	log  *log.Helper
}

// NewClient returns a Client for endpoint, e.g. http://127.0.0.1:9000.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		base: strings.TrimRight(endpoint, "/"),
		hc: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 32,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: log.NewHelper(log.With(log.GetLogger(), "module", "authority/http")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the base URL.
func (c *Client) Endpoint() (string, error) {
	return c.base, nil
}

// FetchPage implements chunk.Authority.
func (c *Client) FetchPage(ctx context.Context, offset, count int) ([]*chunk.Chunk, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("count", strconv.Itoa(count))

	var resp PageResponse
	if err := c.do(ctx, http.MethodGet, PathPage+"?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// FetchKeys implements chunk.Authority.
func (c *Client) FetchKeys(ctx context.Context, keys []string) ([]*chunk.Chunk, error) {
	var resp KeysResponse
	if err := c.do(ctx, http.MethodPost, PathKeys, KeysRequest{Keys: keys}, &resp); err != nil {
		return nil, err
	}
	return resp.Chunks, nil
}

// Count implements chunk.Counter.
func (c *Client) Count(ctx context.Context) (int, error) {
	var resp CountResponse
	if err := c.do(ctx, http.MethodGet, PathCount, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Total, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	rid := uuid.NewString()
	req.Header.Set(constants.RequestIDKey, rid)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{Method: method, URL: req.URL.Path, Code: resp.StatusCode}
		var er ErrorResponse
		if raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)); len(raw) > 0 {
			if json.Unmarshal(raw, &er) == nil {
				serr.Msg = er.Error
			}
		}
		c.log.Debugf("request %s %s failed: %v", rid, path, serr)
		return serr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
