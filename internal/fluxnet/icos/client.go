// Package icos provides a client for the ICOS Carbon Portal.
package icos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fluxpull/fluxpull/internal/fluxnet"
	"github.com/fluxpull/fluxpull/internal/provider/resilience"
)

const (
	// DefaultAuthURL is the base URL of the ICOS authentication service.
	DefaultAuthURL = "https://cpauth.icos-cp.eu"

	// DefaultMetaURL is the base URL of the metadata service (SPARQL endpoint).
	DefaultMetaURL = "https://meta.icos-cp.eu"

	// DefaultDataURL is the base URL of the data service.
	DefaultDataURL = "https://data.icos-cp.eu"

	// ProviderName identifies this provider.
	ProviderName = "icos"

	// CookieName is the session cookie carrying the auth token.
	CookieName = "cpauthToken"

	sparqlResultsJSON = "application/sparql-results+json"
)

// ErrUnexpectedStatus is returned for non-success responses without a more specific meaning.
var ErrUnexpectedStatus = errors.New("unexpected status")

// ClientConfig holds configuration for the ICOS client.
type ClientConfig struct {
	AuthURL string
	MetaURL string
	DataURL string

	// HTTPClient is the HTTP client to use.
	// If nil, a single-attempt resilient client is created.
	HTTPClient HTTPDoer

	// Timeout for individual API requests (default: 60s).
	Timeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	Logger zerolog.Logger
}

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is an ICOS Carbon Portal client.
type Client struct {
	authURL    string
	metaURL    string
	dataURL    string
	userAgent  string
	httpClient HTTPDoer
	logger     zerolog.Logger

	token string
}

// NewClient creates a new ICOS client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 60 * time.Second
		}
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.Timeout = timeout
		rc.Logger = cfg.Logger
		httpClient = resilience.NewClient(rc)
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "fluxpull"
	}

	return &Client{
		authURL:    baseURL(cfg.AuthURL, DefaultAuthURL),
		metaURL:    baseURL(cfg.MetaURL, DefaultMetaURL),
		dataURL:    baseURL(cfg.DataURL, DefaultDataURL),
		userAgent:  userAgent,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

func baseURL(v, fallback string) string {
	if v == "" {
		v = fallback
	}
	return strings.TrimSuffix(v, "/")
}

// NormalizeToken strips whitespace and an optional "cpauthToken=" prefix.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	return strings.TrimPrefix(token, CookieName+"=")
}

type whoamiResponse struct {
	Email string `json:"email"`
}

// Authenticate validates the token against the auth service and keeps it for
// subsequent requests.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	token = NormalizeToken(token)
	if token == "" {
		return fmt.Errorf("%w: empty token", fluxnet.ErrAuthentication)
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.authURL+"/whoami", http.NoBody)
	if err != nil {
		return err
	}
	req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whoami: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "whoami"); err != nil {
		return err
	}

	var who whoamiResponse
	if err := json.NewDecoder(resp.Body).Decode(&who); err != nil {
		return fmt.Errorf("decode whoami response: %w", err)
	}
	if who.Email == "" {
		return fmt.Errorf("%w: token not recognised", fluxnet.ErrAuthentication)
	}

	c.token = token
	c.logger.Debug().Str("user", who.Email).Msg("authenticated with carbon portal")
	return nil
}

// GetStation looks up a station by its code, e.g. "ES-LM1".
func (c *Client) GetStation(ctx context.Context, code string) (*fluxnet.Station, error) {
	result, err := c.query(ctx, buildStationQuery(code))
	if err != nil {
		return nil, fmt.Errorf("station query: %w", err)
	}
	if len(result.Results.Bindings) == 0 {
		return nil, fmt.Errorf("%w: %s", fluxnet.ErrStationNotFound, code)
	}
	return toStation(result.Results.Bindings[0]), nil
}

// StationProducts lists the latest versions of the data objects acquired at the station.
func (c *Client) StationProducts(ctx context.Context, station *fluxnet.Station) (fluxnet.ProductListing, error) {
	q, err := buildProductsQuery(station.URI)
	if err != nil {
		return nil, fmt.Errorf("station %s: %w", station.ID, err)
	}

	result, err := c.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("products query: %w", err)
	}

	listing := make(fluxnet.ProductListing, 0, len(result.Results.Bindings))
	for _, b := range result.Results.Bindings {
		listing = append(listing, toProduct(b))
	}

	c.logger.Debug().
		Str("station", station.ID).
		Int("products", len(listing)).
		Strs("labels", listing.Labels()).
		Msg("station products listed")

	return listing, nil
}

// FetchObject downloads a tabular data object as CSV.
func (c *Client) FetchObject(ctx context.Context, uri string) (*fluxnet.Table, error) {
	hash, err := ObjectHash(uri)
	if err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodGet, c.dataURL+"/csv/"+hash, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch object: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", fluxnet.ErrObjectNotFound, uri)
	}
	if err := checkStatus(resp, "data object"); err != nil {
		return nil, err
	}

	table, err := fluxnet.ReadCSV(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse object %s: %w", hash, err)
	}
	return table, nil
}

// ObjectHash returns the last path segment of a data object URI,
// e.g. "https://meta.icos-cp.eu/objects/abc" -> "abc".
func ObjectHash(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse object uri: %w", err)
	}
	hash := path.Base(strings.TrimSuffix(u.Path, "/"))
	if hash == "" || hash == "." || hash == "/" {
		return "", fmt.Errorf("object uri %q has no identifier", uri)
	}
	return hash, nil
}

func (c *Client) query(ctx context.Context, q string) (*sparqlResponse, error) {
	form := url.Values{"query": {q}}
	req, err := c.newRequest(ctx, http.MethodPost, c.metaURL+"/sparql", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", sparqlResultsJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, "sparql"); err != nil {
		return nil, err
	}

	var result sparqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode sparql response: %w", err)
	}
	return &result, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: c.token})
	}
	return req, nil
}

func checkStatus(resp *http.Response, what string) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", fluxnet.ErrAuthentication, what, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w %d from %s: %s", ErrUnexpectedStatus, resp.StatusCode, what, strings.TrimSpace(string(snippet)))
	}
}
