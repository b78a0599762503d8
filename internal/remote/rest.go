package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nibble-app/nibblesync/internal/record"
)

// Config holds settings for the REST reference client
type Config struct {
	BaseURL string        `toml:"base_url"`
	Token   string        `toml:"token"`
	Timeout time.Duration `toml:"timeout"`
}

// DefaultConfig returns REST client defaults
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8420",
		Timeout: 10 * time.Second,
	}
}

// restClient implements Client against a plain JSON-over-HTTP record
// service. It is a reference implementation of the abstract contract,
// not a mandated vendor shape.
type restClient struct {
	client  *http.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewREST creates a Client talking to a REST record service
func NewREST(config Config, logger *slog.Logger) Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &restClient{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  logger,
	}
}

// Wire types

type wireResult struct {
	RecordID     string         `json:"record_id"`
	Status       string         `json:"status"` // saved | conflict | failed
	NewTag       string         `json:"new_tag,omitempty"`
	ServerRecord *record.Record `json:"server_record,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// Records stay raw so one bad record cannot poison the page; each is
// decoded individually in FetchChanges.
type wireChangePage struct {
	Records    []json.RawMessage `json:"records"`
	DeletedIDs []string          `json:"deleted_ids"`
	NextToken  string            `json:"next_token"`
	HasMore    bool              `json:"has_more"`
}

type wireBatchResponse struct {
	Results []wireResult `json:"results"`
}

// FetchChanges implements Client.FetchChanges
func (c *restClient) FetchChanges(ctx context.Context, scope, sinceToken string) (*ChangePage, error) {
	path := fmt.Sprintf("/v1/scopes/%s/changes", url.PathEscape(scope))
	if sinceToken != "" {
		path += "?since=" + url.QueryEscape(sinceToken)
	}

	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var page wireChangePage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("remote: decode change page: %w", err)
	}

	records := make([]*record.Record, 0, len(page.Records))
	for _, raw := range page.Records {
		rec, err := record.Decode(raw)
		if err != nil {
			// A malformed record must not cost us the rest of the page
			c.logger.Warn("skipping undecodable record in change page",
				"scope", scope,
				"error", err)
			continue
		}
		records = append(records, rec)
	}

	return &ChangePage{
		Records:    records,
		DeletedIDs: page.DeletedIDs,
		NextToken:  page.NextToken,
		HasMore:    page.HasMore,
	}, nil
}

// SaveBatch implements Client.SaveBatch
func (c *restClient) SaveBatch(ctx context.Context, records []*record.Record) ([]Result, error) {
	payload := struct {
		Records []*record.Record `json:"records"`
	}{Records: records}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/records:batchSave", payload)
	if err != nil {
		return nil, err
	}

	return decodeResults(body)
}

// DeleteBatch implements Client.DeleteBatch
func (c *restClient) DeleteBatch(ctx context.Context, scope string, ids []string) ([]Result, error) {
	payload := struct {
		Scope string   `json:"scope"`
		IDs   []string `json:"ids"`
	}{Scope: scope, IDs: ids}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/records:batchDelete", payload)
	if err != nil {
		return nil, err
	}

	return decodeResults(body)
}

// Subscribe implements Client.Subscribe
func (c *restClient) Subscribe(ctx context.Context, scope string) error {
	path := fmt.Sprintf("/v1/scopes/%s/subscriptions", url.PathEscape(scope))
	_, err := c.doRequest(ctx, http.MethodPost, path, struct{}{})
	return err
}

func decodeResults(body []byte) ([]Result, error) {
	var resp wireBatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("remote: decode batch response: %w", err)
	}

	results := make([]Result, 0, len(resp.Results))
	for _, w := range resp.Results {
		r := Result{RecordID: w.RecordID, NewTag: w.NewTag, ServerRecord: w.ServerRecord}

		switch w.Status {
		case "saved":
			r.Status = StatusSaved
		case "conflict":
			r.Status = StatusConflict
		case "failed":
			r.Status = StatusFailed
			r.Err = fmt.Errorf("remote: %s", w.Error)
		default:
			r.Status = StatusFailed
			r.Err = fmt.Errorf("remote: unknown result status %q", w.Status)
		}

		results = append(results, r)
	}

	return results, nil
}

func (c *restClient) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("remote: encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("remote: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// Connection failures and timeouts both read as "no
		// connectivity" to the retry policy
		return nil, fmt.Errorf("%w: %v", ErrOffline, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if err := statusToError(resp.StatusCode); err != nil {
		c.logger.Debug("remote request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode)
		return nil, err
	}

	return body, nil
}

// statusToError maps HTTP status codes onto the error taxonomy
func statusToError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status == http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	case status == http.StatusGone:
		return ErrScopeDeleted
	case status >= 500:
		return ErrUnavailable
	default:
		return fmt.Errorf("remote: unexpected status %d", status)
	}
}
