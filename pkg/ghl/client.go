// Package ghl provides a typed, rate-limited client for the LeadConnector
// (GoHighLevel) REST API.
package ghl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/vertex-labs/crmsync/internal/ratelimit"
	"github.com/vertex-labs/crmsync/internal/resilience"
)

// Client defines the CRM operations used by the reconciliation pipeline.
type Client interface {
	// CreateContact creates a contact and returns its id. When the API
	// rejects the create as a duplicate but reports the existing contact's
	// id, that id is returned with duplicate=true (idempotent create).
	CreateContact(ctx context.Context, payload ContactPayload) (id string, duplicate bool, err error)
	UpdateContact(ctx context.Context, id string, payload ContactPayload) error
	SearchContacts(ctx context.Context, req SearchRequest) (*SearchPage, error)
	CreateNote(ctx context.Context, contactID, userID, body string) error
	CreateOpportunity(ctx context.Context, payload OpportunityPayload) (string, error)
}

// Config holds the API endpoint and credentials.
type Config struct {
	BaseURL    string
	Token      string
	LocationID string
	APIVersion string
	UserAgent  string
	Timeout    time.Duration
}

// ClientOption configures the client.
type ClientOption func(*httpClient)

// WithSmoothing adds a steady per-second limiter under the burst limiter.
// A burst equal to the integer portion of rps is allowed.
func WithSmoothing(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.smooth = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetryConfig overrides the default retry budget.
func WithRetryConfig(cfg resilience.RetryConfig) ClientOption {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	cfg    Config
	http   *http.Client
	burst  *ratelimit.Limiter
	smooth *rate.Limiter
	quota  *ratelimit.State
	retry  resilience.RetryConfig
}

// NewClient creates a CRM client. Every request passes through the burst
// limiter before it is issued, and quota telemetry from every response is
// captured into state.
func NewClient(cfg Config, burst *ratelimit.Limiter, state *ratelimit.State, opts ...ClientOption) Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2021-07-28"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "crmsync/1.0"
	}
	c := &httpClient{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			// The API never legitimately redirects; a redirect means an
			// intermediary answered and the body must not be parsed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		burst: burst,
		quota: state,
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiResponse struct {
	status int
	body   []byte
}

func (r *apiResponse) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do issues one API call through the limiter stack and retry executor.
// Transient statuses (429, 5xx) and HTML-shaped responses are surfaced as
// retryable errors; everything else is returned to the typed caller.
func (c *httpClient) do(ctx context.Context, method, path string, payload any) (*apiResponse, error) {
	url := c.cfg.BaseURL + path

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, eris.Wrap(err, "ghl: marshal payload")
		}
	}

	retryCfg := c.retry
	if retryCfg.OnRetry == nil {
		retryCfg.OnRetry = resilience.RetryLogger("ghl", method+" "+path)
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*apiResponse, error) {
		return c.doOnce(ctx, method, url, body)
	})
}

func (c *httpClient) doOnce(ctx context.Context, method, url string, body []byte) (*apiResponse, error) {
	if err := c.burst.Acquire(ctx); err != nil {
		return nil, eris.Wrap(err, "ghl: burst limiter")
	}
	if c.smooth != nil {
		if err := c.smooth.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ghl: rate limiter")
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", c.cfg.APIVersion)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ghl: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	c.quota.Capture(resp.Header)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "ghl: read body"), resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); strings.Contains(ct, "text/html") {
		excerpt := string(raw)
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return nil, &resilience.HTMLResponseError{StatusCode: resp.StatusCode, Excerpt: excerpt}
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, &resilience.TransientError{
			Err:        eris.Errorf("ghl: http %d from %s", resp.StatusCode, url),
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}

	return &apiResponse{status: resp.StatusCode, body: raw}, nil
}

// parseRetryAfter reads a Retry-After header in seconds. A 429 without the
// header still gets a 2 second floor.
func parseRetryAfter(h http.Header) time.Duration {
	if v, err := strconv.Atoi(h.Get("Retry-After")); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return 2 * time.Second
}

var (
	duplicateRe  = regexp.MustCompile(`(?i)duplicated contacts`)
	badCountryRe = regexp.MustCompile(`(?i)country must be valid`)
)

func (c *httpClient) CreateContact(ctx context.Context, payload ContactPayload) (string, bool, error) {
	id, dup, err := c.createContact(ctx, payload)
	if err != nil && badCountryRe.MatchString(err.Error()) && payload.Country != "US" {
		// One sanctioned 4xx retry: the warehouse holds free-text country
		// values the API rejects; force the default and try once more.
		payload.Country = "US"
		return c.createContact(ctx, payload)
	}
	return id, dup, err
}

func (c *httpClient) createContact(ctx context.Context, payload ContactPayload) (string, bool, error) {
	resp, err := c.do(ctx, http.MethodPost, "/contacts/", payload)
	if err != nil {
		return "", false, err
	}

	if !resp.ok() {
		var apiErr apiError
		_ = json.Unmarshal(resp.body, &apiErr)
		msg := apiErr.messageString()
		if resp.status == http.StatusBadRequest && duplicateRe.MatchString(msg) {
			if apiErr.Meta.ContactID != "" {
				return apiErr.Meta.ContactID, true, nil
			}
			return "", false, &resilience.DuplicateError{Message: msg}
		}
		return "", false, eris.Errorf("ghl: create contact failed %d: %s", resp.status, bodyExcerpt(resp.body))
	}

	var env contactEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil || env.Contact.ID == "" {
		return "", false, eris.Errorf("ghl: create contact missing id: %s", bodyExcerpt(resp.body))
	}
	return env.Contact.ID, false, nil
}

func (c *httpClient) UpdateContact(ctx context.Context, id string, payload ContactPayload) error {
	// The update endpoint rejects locationId in the body.
	payload.LocationID = ""
	resp, err := c.do(ctx, http.MethodPut, "/contacts/"+id, payload)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return eris.Errorf("ghl: update contact %s failed %d: %s", id, resp.status, bodyExcerpt(resp.body))
	}
	return nil
}

func (c *httpClient) SearchContacts(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	resp, err := c.do(ctx, http.MethodPost, "/contacts/search", req)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, eris.Errorf("ghl: contact search failed %d: %s", resp.status, bodyExcerpt(resp.body))
	}

	var page SearchPage
	if err := json.Unmarshal(resp.body, &page); err != nil {
		return nil, eris.Wrap(err, "ghl: decode search page")
	}
	return &page, nil
}

func (c *httpClient) CreateNote(ctx context.Context, contactID, userID, body string) error {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/contacts/%s/notes/", contactID), notePayload{
		UserID: userID,
		Body:   body,
	})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return eris.Errorf("ghl: create note for %s failed %d: %s", contactID, resp.status, bodyExcerpt(resp.body))
	}

	var env noteEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil || env.Note.ID == "" {
		return eris.Errorf("ghl: create note missing id: %s", bodyExcerpt(resp.body))
	}
	return nil
}

func (c *httpClient) CreateOpportunity(ctx context.Context, payload OpportunityPayload) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/opportunities/", payload)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", eris.Errorf("ghl: create opportunity failed %d: %s", resp.status, bodyExcerpt(resp.body))
	}

	var env opportunityEnvelope
	if err := json.Unmarshal(resp.body, &env); err != nil || env.Opportunity.ID == "" {
		return "", eris.Errorf("ghl: create opportunity missing id: %s", bodyExcerpt(resp.body))
	}
	return env.Opportunity.ID, nil
}

func bodyExcerpt(b []byte) string {
	s := strings.Join(strings.Fields(string(b)), " ")
	if len(s) > 180 {
		s = s[:180] + "…"
	}
	return s
}
