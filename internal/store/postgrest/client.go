// Package postgrest implements store.Store over the Supabase/PostgREST table API.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/dbsmedya/gobackfill/internal/config"
	"github.com/dbsmedya/gobackfill/internal/logger"
	"github.com/dbsmedya/gobackfill/internal/sqlutil"
	"github.com/dbsmedya/gobackfill/internal/store"
)

// APIError is a request PostgREST rejected.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details string
	Hint    string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "postgrest: HTTP %d", e.Status)
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Details != "" {
		b.WriteString(" (" + e.Details + ")")
	}
	return b.String()
}

// Client talks to {URL}/rest/v1.
type Client struct {
	base   string
	apiKey string
	schema string
	http   *retryablehttp.Client
}

var _ store.Store = (*Client)(nil)

// New creates a client from configuration. log may be nil.
func New(cfg config.PostgRESTConfig, log *logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgrest url is required")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid postgrest url %q", cfg.URL)
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.CheckRetry = checkRetry
	if cfg.TimeoutSeconds > 0 {
		rc.HTTPClient.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if log != nil {
		rc.Logger = leveledLogger{log}
	} else {
		rc.Logger = nil
	}

	return &Client{
		base:   strings.TrimRight(cfg.URL, "/") + "/rest/v1/",
		apiKey: cfg.APIKey,
		schema: cfg.Schema,
		http:   rc,
	}, nil
}

// pageSize is the number of rows requested per page of an unlimited Select.
var pageSize = 1000

// Select issues GET /{table} with select, eq filters, order and limit.
// Without a limit the table is read page by page, since PostgREST caps
// every response at its max-rows setting without reporting an error.
func (c *Client) Select(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	params := url.Values{}
	if len(q.Columns) > 0 {
		params.Set("select", strings.Join(q.Columns, ","))
	}
	for _, eq := range q.Where {
		params.Add(eq.Column, "eq."+store.String(eq.Value))
	}
	for _, col := range q.NotNull {
		params.Add(col, "not.is.null")
	}
	if q.OrderBy != "" {
		params.Set("order", q.OrderBy+".asc")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
		rows, _, err := c.selectPage(ctx, table, params, "")
		return rows, err
	}

	var rows []store.Record
	for {
		params.Set("offset", strconv.Itoa(len(rows)))
		params.Set("limit", strconv.Itoa(pageSize))
		page, total, err := c.selectPage(ctx, table, params, "count=exact")
		if err != nil {
			return nil, err
		}
		rows = append(rows, page...)
		switch {
		case len(page) == 0:
			return rows, nil
		case total >= 0 && len(rows) >= total:
			return rows, nil
		case total < 0 && len(page) < pageSize:
			return rows, nil
		}
	}
}

// selectPage runs one GET and returns its rows with the total from
// Content-Range, or -1 when the server did not count.
func (c *Client) selectPage(ctx context.Context, table string, params url.Values, prefer string) ([]store.Record, int, error) {
	body, header, err := c.do(ctx, http.MethodGet, table, params, nil, prefer)
	if err != nil {
		return nil, 0, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []store.Record
	if err := dec.Decode(&rows); err != nil {
		return nil, 0, fmt.Errorf("decode %s rows: %w", table, err)
	}
	return rows, contentRangeTotal(header.Get("Content-Range")), nil
}

// contentRangeTotal parses the total of "0-999/5000"; "*" or garbage yields -1.
func contentRangeTotal(v string) int {
	i := strings.LastIndexByte(v, '/')
	if i < 0 {
		return -1
	}
	n, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return -1
	}
	return n
}

// Insert issues POST /{table}.
func (c *Client) Insert(ctx context.Context, table string, rec store.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", table, err)
	}
	_, _, err = c.do(ctx, http.MethodPost, table, nil, payload, "return=minimal")
	return err
}

// Update issues PATCH /{table}?col=eq.v and counts the returned representation.
func (c *Client) Update(ctx context.Context, table string, fields store.Record, where store.Eq) (int64, error) {
	if len(fields) == 0 {
		return 0, fmt.Errorf("update %s: no fields", table)
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("encode %s fields: %w", table, err)
	}
	params := url.Values{}
	params.Set(where.Column, "eq."+store.String(where.Value))

	body, _, err := c.do(ctx, http.MethodPatch, table, params, payload, "return=representation")
	if err != nil {
		return 0, err
	}
	affected := gjson.GetBytes(body, "#").Int()
	if affected == 0 {
		return 0, store.ErrNoRowsAffected
	}
	return affected, nil
}

func (c *Client) do(ctx context.Context, method, table string, params url.Values, payload []byte, prefer string) ([]byte, http.Header, error) {
	if !sqlutil.IsValidIdentifier(table) {
		return nil, nil, &sqlutil.InvalidIdentifierError{Name: table}
	}
	endpoint := c.base + table
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var raw interface{}
	if payload != nil {
		raw = payload
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("build %s %s request: %w", method, table, err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if c.schema != "" {
		req.Header.Set("Accept-Profile", c.schema)
		req.Header.Set("Content-Profile", c.schema)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, table, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s %s response: %w", method, table, err)
	}
	if resp.StatusCode >= 300 {
		return nil, nil, parseAPIError(resp.StatusCode, body)
	}
	return body, resp.Header, nil
}

// checkRetry is the default policy except that an insert answered with a
// status is never resent: the row may already be committed.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.Request != nil && resp.Request.Method == http.MethodPost {
		return false, ctx.Err()
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}
	if !gjson.ValidBytes(body) {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}
	res := gjson.ParseBytes(body)
	apiErr.Code = res.Get("code").String()
	apiErr.Message = res.Get("message").String()
	apiErr.Details = res.Get("details").String()
	apiErr.Hint = res.Get("hint").String()
	return apiErr
}

// leveledLogger adapts logger.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	log *logger.Logger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.log.Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.log.Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.log.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.log.Debugw(msg, kv...) }
