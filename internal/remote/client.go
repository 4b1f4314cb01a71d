package remote

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
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tildaslashalef/obrasync/internal/item"
	"github.com/tildaslashalef/obrasync/internal/loggy"
	"github.com/tildaslashalef/obrasync/internal/ulid"
)

// ClientConfig configures the REST client
type ClientConfig struct {
	BaseURL       string
	AnonKey       string
	Token         string
	Table         string
	PublicBaseURL string
	Timeout       time.Duration
}

// Client is a REST client for a PostgREST-style table endpoint and its object storage
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     *loggy.Logger
	now        func() time.Time

	mu    sync.RWMutex
	token string
}

// NewClient creates a new REST client
func NewClient(cfg ClientConfig, logger *loggy.Logger) *Client {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = cfg.BaseURL
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger,
		now:    time.Now,
		token:  cfg.Token,
	}
}

// SetToken replaces the session token
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// TokenExpiry returns the expiry of a JWT session token without verifying its signature.
// The second result is false for tokens that are not JWTs or carry no expiry.
func TokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

func (c *Client) checkSession() error {
	token := c.currentToken()
	if token == "" {
		return nil
	}
	if exp, ok := TokenExpiry(token); ok && !exp.After(c.now()) {
		return ErrSessionExpired
	}
	return nil
}

// InsertRecord inserts a row and returns the id assigned by the server
func (c *Client) InsertRecord(ctx context.Context, payload Payload) (item.ItemID, error) {
	query := url.Values{"select": {"id"}}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.tablePath(), query, payload, &rows); err != nil {
		return item.ItemID{}, fmt.Errorf("inserting record: %w", err)
	}
	if len(rows) == 0 || rows[0].ID == "" {
		return item.ItemID{}, fmt.Errorf("inserting record: server returned no id")
	}
	return item.Remote(rows[0].ID), nil
}

// UpdateRecord updates the row with the given id
func (c *Client) UpdateRecord(ctx context.Context, id item.ItemID, payload Payload) error {
	query := url.Values{
		"id":     {"eq." + id.String()},
		"select": {"id"},
	}

	var rows []struct {
		ID string `json:"id"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, c.tablePath(), query, payload, &rows); err != nil {
		return fmt.Errorf("updating record %s: %w", id, err)
	}
	if len(rows) == 0 {
		return ErrNotFound
	}
	return nil
}

// FetchRecordByID returns the row with the given id
func (c *Client) FetchRecordByID(ctx context.Context, id item.ItemID) (*item.Record, error) {
	query := url.Values{
		"id":     {"eq." + id.String()},
		"select": {"*"},
		"limit":  {"1"},
	}
	return c.fetchOne(ctx, query)
}

// FetchRecordByNaturalKey returns the most recent row for a site and crew
func (c *Client) FetchRecordByNaturalKey(ctx context.Context, siteID, crew string) (*item.Record, error) {
	query := url.Values{
		"obra":   {"eq." + siteID},
		"equipe": {"eq." + crew},
		"select": {"*"},
		"order":  {"created_at.desc"},
		"limit":  {"1"},
	}
	return c.fetchOne(ctx, query)
}

// ListRecords returns the most recent rows, optionally restricted to one crew
func (c *Client) ListRecords(ctx context.Context, crew string, limit int) ([]item.Record, error) {
	query := url.Values{
		"select": {"*"},
		"order":  {"created_at.desc"},
	}
	if crew != "" {
		query.Set("equipe", "eq."+crew)
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var rows []item.Record
	if err := c.doJSON(ctx, http.MethodGet, c.tablePath(), query, nil, &rows); err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return rows, nil
}

func (c *Client) fetchOne(ctx context.Context, query url.Values) (*item.Record, error) {
	var rows []item.Record
	if err := c.doJSON(ctx, http.MethodGet, c.tablePath(), query, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching record: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// UploadObject stores body under bucket/key and returns its public URL
func (c *Client) UploadObject(ctx context.Context, bucket, key string, body io.Reader, contentType string) (string, error) {
	if err := c.checkSession(); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.cfg.BaseURL, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")

	resp, err := c.send(req)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	return c.PublicURL(bucket, key), nil
}

// PublicURL returns the public URL of an object
func (c *Client) PublicURL(bucket, key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.cfg.PublicBaseURL, bucket, key)
}

func (c *Client) tablePath() string {
	return "/rest/v1/" + c.cfg.Table
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.AnonKey != "" {
		req.Header.Set("apikey", c.cfg.AnonKey)
	}
	bearer := c.currentToken()
	if bearer == "" {
		bearer = c.cfg.AnonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("X-Request-Id", ulid.RequestID())
}

// doJSON sends a JSON request and decodes a JSON response into out
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	if err := c.checkSession(); err != nil {
		return err
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	endpoint := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// send executes the request and turns non-2xx responses into *APIError
func (c *Client) send(req *http.Request) (*http.Response, error) {
	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("Request failed", "method", req.Method, "url", req.URL.Path, "error", err)
		return nil, fmt.Errorf("executing request: %w", err)
	}

	c.logger.Debug("Request completed",
		"method", req.Method,
		"url", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-Id"),
		"duration", c.now().Sub(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var decoded struct {
		APIError
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &decoded); err == nil {
		apiErr.Message = decoded.Message
		apiErr.Code = decoded.Code
		apiErr.Details = decoded.Details
		apiErr.Hint = decoded.Hint
		if apiErr.Code == "" {
			apiErr.Code = decoded.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = resp.Status
	}
	return nil, apiErr
}
