// Package backend is the HTTP boundary to the agent service. The client
// treats the service as opaque: it issues the four outbound requests and
// decodes their responses, nothing more.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/user/deepchat/internal/types"
)

// Config holds connection settings for the agent service.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client implements types.Backend over plain HTTP.
type Client struct {
	config     *Config
	httpClient *http.Client
	// streamClient carries no timeout: streams are bounded by context,
	// not by a fixed deadline.
	streamClient *http.Client
}

// New creates a Client with the given configuration.
func New(config *Config) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		config:       config,
		httpClient:   &http.Client{Timeout: timeout},
		streamClient: &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}

// OpenStream initiates a streaming turn and returns the raw event stream
// body. The caller owns closing it; cancelling ctx also releases the
// connection.
func (c *Client) OpenStream(ctx context.Context, req *types.StreamRequest) (io.ReadCloser, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/agent/stream", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}
	return resp.Body, nil
}

// JobStatus fetches the current snapshot for a background job.
func (c *Client) JobStatus(ctx context.Context, id types.TrackingID) (*types.Snapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/jobs/"+url.PathEscape(string(id)), nil)
	if err != nil {
		return nil, err
	}
	var snap types.Snapshot
	if err := c.doJSON(req, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// RetryJob requests a new run of the job's action set under a fresh
// tracking id.
func (c *Client) RetryJob(ctx context.Context, id types.TrackingID) (*types.RetryResponse, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/jobs/"+url.PathEscape(string(id))+"/retry", nil)
	if err != nil {
		return nil, err
	}
	var out types.RetryResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History fetches one page of persisted messages for the session, newest
// last. before is an exclusive upper bound on the persisted numeric id;
// 0 means latest.
func (c *Client) History(ctx context.Context, sessionID types.SessionID, before int64, limit int) (*types.HistoryPage, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/sessions/" + url.PathEscape(string(sessionID)) + "/messages"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var page types.HistoryPage
	if err := c.doJSON(req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}
