// Package airtable is a thin adapter over Airtable's record-oriented REST
// API: paginated listing plus batched create/update/delete with the
// provider's 10-records-per-request cap enforced here so callers never
// think about chunking.
package airtable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the hosted API endpoint.
	DefaultBaseURL = "https://api.airtable.com/v0"
	// PageSize is the fixed page size used when listing records.
	PageSize = 100
	// BatchLimit is the provider's cap on records per create/update/delete
	// request.
	BatchLimit = 10
)

// Config holds the credentials and target base for a client.
type Config struct {
	BaseURL string // defaults to DefaultBaseURL
	BaseID  string // e.g. "appXXXXXXXXXXXXXX"
	Token   string // personal access token, sent as a bearer header
}

// Client talks to one Airtable base.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// NewClient validates the configuration and returns a client. Missing
// credentials are a configuration error surfaced here, before any work is
// attempted.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("airtable token must be provided")
	}
	if cfg.BaseID == "" {
		return nil, fmt.Errorf("airtable base id must be provided")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/") + "/" + cfg.BaseID,
		token:      cfg.Token,
		logger:     logger,
	}, nil
}

// Record is one remote row.
type Record struct {
	ID          string         `json:"id,omitempty"`
	Fields      map[string]any `json:"fields"`
	CreatedTime string         `json:"createdTime,omitempty"`
}

// DeletedRecord acknowledges one deleted row.
type DeletedRecord struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ListOptions narrows a listing request.
type ListOptions struct {
	View            string
	FilterByFormula string
	Fields          []string
}

// APIError is any non-success HTTP response, carrying the status code and
// response body so callers can decide whether the failure is retryable.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("airtable returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is the remote saying the addressed record
// no longer exists (deleted out-of-band). Push treats this as recoverable:
// the update payload is reinterpreted as a create.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.StatusCode == http.StatusNotFound {
		return true
	}
	return strings.Contains(apiErr.Body, "NOT_FOUND") ||
		strings.Contains(apiErr.Body, "Record not found")
}

type recordsResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

type deleteResponse struct {
	Records []DeletedRecord `json:"records"`
}

// ListAll fetches every row of a table, following the offset cursor until
// the server stops returning one.
func (c *Client) ListAll(ctx context.Context, table string, opts ListOptions) ([]Record, error) {
	var all []Record
	offset := ""
	for {
		q := url.Values{}
		q.Set("pageSize", fmt.Sprintf("%d", PageSize))
		if opts.View != "" {
			q.Set("view", opts.View)
		}
		if opts.FilterByFormula != "" {
			q.Set("filterByFormula", opts.FilterByFormula)
		}
		for _, f := range opts.Fields {
			q.Add("fields[]", f)
		}
		if offset != "" {
			q.Set("offset", offset)
		}

		var page recordsResponse
		if err := c.do(ctx, http.MethodGet, table, q, nil, &page); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", table, err)
		}
		all = append(all, page.Records...)
		if page.Offset == "" {
			return all, nil
		}
		offset = page.Offset
	}
}

// CreateMany creates records in chunks of at most BatchLimit, concatenating
// results in chunk order.
func (c *Client) CreateMany(ctx context.Context, table string, fields []map[string]any, typecast bool) ([]Record, error) {
	var created []Record
	for start := 0; start < len(fields); start += BatchLimit {
		end := min(start+BatchLimit, len(fields))
		chunk := fields[start:end]

		records := make([]Record, len(chunk))
		for i, f := range chunk {
			records[i] = Record{Fields: f}
		}
		body := map[string]any{"records": records}
		if typecast {
			body["typecast"] = true
		}

		var resp recordsResponse
		if err := c.do(ctx, http.MethodPost, table, nil, body, &resp); err != nil {
			return created, fmt.Errorf("failed to create records in %s: %w", table, err)
		}
		created = append(created, resp.Records...)
	}
	return created, nil
}

// UpdateMany patches records (each carrying its own remote id) in chunks of
// at most BatchLimit.
func (c *Client) UpdateMany(ctx context.Context, table string, records []Record, typecast bool) ([]Record, error) {
	var updated []Record
	for start := 0; start < len(records); start += BatchLimit {
		end := min(start+BatchLimit, len(records))
		body := map[string]any{"records": records[start:end]}
		if typecast {
			body["typecast"] = true
		}

		var resp recordsResponse
		if err := c.do(ctx, http.MethodPatch, table, nil, body, &resp); err != nil {
			return updated, fmt.Errorf("failed to update records in %s: %w", table, err)
		}
		updated = append(updated, resp.Records...)
	}
	return updated, nil
}

// DeleteMany deletes ids in chunks of at most BatchLimit, concatenating
// acknowledgements.
func (c *Client) DeleteMany(ctx context.Context, table string, ids []string) ([]DeletedRecord, error) {
	var deleted []DeletedRecord
	for start := 0; start < len(ids); start += BatchLimit {
		end := min(start+BatchLimit, len(ids))
		q := url.Values{}
		for _, id := range ids[start:end] {
			q.Add("records[]", id)
		}

		var resp deleteResponse
		if err := c.do(ctx, http.MethodDelete, table, q, nil, &resp); err != nil {
			return deleted, fmt.Errorf("failed to delete records in %s: %w", table, err)
		}
		deleted = append(deleted, resp.Records...)
	}
	return deleted, nil
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, body any, out any) error {
	u := c.baseURL + "/" + url.PathEscape(table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
