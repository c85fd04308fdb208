// Package pocketbase is a REST client for a PocketBase-style record store. It serves
// both greenhouse records and the OAuth2 handshake of the users collection.
package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/greenhouse/internal/auth"
	"github.com/MarcoPoloResearchLab/greenhouse/internal/greenhouses"
	"go.uber.org/zap"
)

const (
	usersCollection = "users"
	defaultPerPage  = 200
	defaultTimeout  = 10 * time.Second
	maxErrorBody    = 64 << 10
)

var errMissingBaseURL = errors.New("pocketbase: base url is required")

var (
	_ greenhouses.RecordStore = (*Client)(nil)
	_ auth.IdentityProvider   = (*Client)(nil)
)

// APIError is a non-2xx response from the record store.
type APIError struct {
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pocketbase: status %d", e.Status)
	}
	return fmt.Sprintf("pocketbase: status %d: %s", e.Status, e.Message)
}

// StatusCode exposes the HTTP status to callers that only know the interface.
func (e *APIError) StatusCode() int {
	return e.Status
}

// Is maps 404 responses to greenhouses.ErrRecordNotFound.
func (e *APIError) Is(target error) bool {
	return target == greenhouses.ErrRecordNotFound && e.Status == http.StatusNotFound
}

// Config describes the dependencies of a Client.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	PerPage    int
	Logger     *zap.Logger
}

// Client talks to the record store over its REST API. Requests carry the token of
// the session attached to the context.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	perPage    int
	logger     *zap.Logger
}

// NewClient validates the configuration.
func NewClient(cfg Config) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if trimmed == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(trimmed)
	if err != nil || baseURL.Scheme == "" || baseURL.Host == "" {
		return nil, fmt.Errorf("pocketbase: invalid base url %q", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	perPage := cfg.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, perPage: perPage, logger: logger}, nil
}

type recordPage struct {
	Page       int                  `json:"page"`
	PerPage    int                  `json:"perPage"`
	TotalItems int                  `json:"totalItems"`
	TotalPages int                  `json:"totalPages"`
	Items      []greenhouses.Record `json:"items"`
}

// List fetches every page of the collection.
func (c *Client) List(ctx context.Context, collection string, sort string) ([]greenhouses.Record, error) {
	records := make([]greenhouses.Record, 0)
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("perPage", strconv.Itoa(c.perPage))
		if sort != "" {
			query.Set("sort", sort)
		}
		var result recordPage
		if err := c.do(ctx, http.MethodGet, recordsPath(collection), query, nil, &result); err != nil {
			return nil, err
		}
		records = append(records, result.Items...)
		if page >= result.TotalPages || len(result.Items) == 0 {
			return records, nil
		}
	}
}

// Get fetches one record.
func (c *Client) Get(ctx context.Context, collection string, id string) (greenhouses.Record, error) {
	var record greenhouses.Record
	err := c.do(ctx, http.MethodGet, recordPath(collection, id), nil, nil, &record)
	return record, err
}

// Create inserts a record.
func (c *Client) Create(ctx context.Context, collection string, fields greenhouses.RecordFields) (greenhouses.Record, error) {
	var record greenhouses.Record
	err := c.do(ctx, http.MethodPost, recordsPath(collection), nil, fields, &record)
	return record, err
}

// Update patches a record.
func (c *Client) Update(ctx context.Context, collection string, id string, patch greenhouses.RecordPatch) (greenhouses.Record, error) {
	var record greenhouses.Record
	err := c.do(ctx, http.MethodPatch, recordPath(collection, id), nil, patch, &record)
	return record, err
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, collection string, id string) error {
	return c.do(ctx, http.MethodDelete, recordPath(collection, id), nil, nil, nil)
}

type authMethodsWire struct {
	OAuth2 *struct {
		Enabled   bool                 `json:"enabled"`
		Providers []auth.OAuthProvider `json:"providers"`
	} `json:"oauth2"`
	AuthProviders []auth.OAuthProvider `json:"authProviders"`
}

// ListAuthMethods returns the OAuth2 providers of the users collection. Both the
// current and the legacy response shapes are accepted.
func (c *Client) ListAuthMethods(ctx context.Context) (auth.AuthMethods, error) {
	var wire authMethodsWire
	if err := c.do(ctx, http.MethodGet, collectionPath(usersCollection, "auth-methods"), nil, nil, &wire); err != nil {
		return auth.AuthMethods{}, err
	}
	providers := wire.AuthProviders
	if wire.OAuth2 != nil {
		providers = wire.OAuth2.Providers
	}
	if providers == nil {
		providers = []auth.OAuthProvider{}
	}
	return auth.AuthMethods{Providers: providers}, nil
}

type oauth2Request struct {
	Provider     string `json:"provider"`
	Code         string `json:"code"`
	CodeVerifier string `json:"codeVerifier"`
	RedirectURL  string `json:"redirectURL"`
}

type oauth2Response struct {
	Token  string          `json:"token"`
	Record auth.UserRecord `json:"record"`
}

// AuthWithOAuth2Code exchanges an authorization code for a users-collection token.
func (c *Client) AuthWithOAuth2Code(ctx context.Context, provider, code, codeVerifier, redirectURI string) (auth.AuthResult, error) {
	var response oauth2Response
	request := oauth2Request{Provider: provider, Code: code, CodeVerifier: codeVerifier, RedirectURL: redirectURI}
	if err := c.do(ctx, http.MethodPost, collectionPath(usersCollection, "auth-with-oauth2"), nil, request, &response); err != nil {
		return auth.AuthResult{}, err
	}
	if strings.TrimSpace(response.Token) == "" {
		return auth.AuthResult{}, errors.New("pocketbase: auth response carried no token")
	}
	return auth.AuthResult{Token: response.Token, Record: response.Record}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token := auth.TokenFromContext(ctx); token != "" {
		request.Header.Set("Authorization", token)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("record store request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return decodeAPIError(response)
	}
	if out == nil || response.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("pocketbase: decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{}
	payload, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, apiErr)
	}
	apiErr.Status = response.StatusCode
	return apiErr
}

func collectionPath(collection string, parts ...string) string {
	segments := append([]string{"api", "collections", url.PathEscape(collection)}, parts...)
	return strings.Join(segments, "/")
}

func recordsPath(collection string) string {
	return collectionPath(collection, "records")
}

func recordPath(collection, id string) string {
	return collectionPath(collection, "records", url.PathEscape(id))
}
