/*
Copyright 2024 The nightly.link authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultAPIURL is the base URL of the GitHub REST API.
const DefaultAPIURL = "https://api.github.com"

const (
	acceptHeader = "application/vnd.github+json"
	apiVersion   = "2022-11-28"
	userAgent    = "nightly.link"
	maxBodyBytes = 10 << 20
	defaultRetry = 3
	retryWaitMin = 1 * time.Second
	retryWaitMax = 15 * time.Second
)

var (
	// ErrNotFound signals a 404 response from the API.
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized signals a 401 or 403 response from the API. Callers
	// holding a cached credential typically react by forcing a refresh.
	ErrUnauthorized = errors.New("credential rejected")
)

// APIError is the error returned for non-2xx API responses. It carries
// the status code and the message GitHub put in the error payload.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error implements error.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (status %d)", e.URL, e.Message, e.StatusCode)
}

// Is maps status codes onto the package's sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// Response is a decoded API response: the raw JSON body plus the
// pagination cursor surfaced from the Link header, if any.
type Response struct {
	StatusCode int
	Body       []byte
	NextPage   string
}

// Transport issues authenticated JSON requests against the GitHub API.
// Connection failures and 5xx responses are retried with backoff; all
// other failures surface unchanged to the caller.
type Transport struct {
	client  *retryablehttp.Client
	noRedir *http.Client
	baseURL string
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithBaseURL overrides the API base URL, e.g. for GitHub Enterprise or
// a test server.
func WithBaseURL(baseURL string) TransportOption {
	return func(t *Transport) {
		t.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithRetries sets the maximum number of transport-level retries.
func WithRetries(retries int) TransportOption {
	return func(t *Transport) {
		t.client.RetryMax = retries
	}
}

// WithLogger routes transport retry errors to the given logger.
func WithLogger(log logr.Logger) TransportOption {
	return func(t *Transport) {
		t.client.Logger = newErrorLogger(log)
	}
}

// NewTransport configures the retryable http client used for API calls.
func NewTransport(opts ...TransportOption) *Transport {
	httpClient := retryablehttp.NewClient()
	httpClient.RetryWaitMin = retryWaitMin
	httpClient.RetryWaitMax = retryWaitMax
	httpClient.RetryMax = defaultRetry
	httpClient.Logger = nil
	// Hand the final response back when retries are exhausted, so a
	// persistent 5xx still surfaces as an APIError with its status.
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	t := &Transport{
		client:  httpClient,
		baseURL: DefaultAPIURL,
		noRedir: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get issues a GET request. The locator may be a path relative to the
// base URL or an absolute URL as surfaced by a pagination cursor; query
// may be nil.
func (t *Transport) Get(ctx context.Context, locator string, query url.Values, cred Credential) (*Response, error) {
	u, err := t.resolve(locator, query)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req.Header, cred)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", u, err)
	}
	return readResponse(resp, u)
}

// Post issues a POST request with a JSON body.
func (t *Transport) Post(ctx context.Context, locator string, body any, cred Credential) (*Response, error) {
	u, err := t.resolve(locator, nil)
	if err != nil {
		return nil, err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req.Header, cred)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", u, err)
	}
	return readResponse(resp, u)
}

// Location issues a GET request without following redirects and returns
// the Location header of the redirect response. GitHub serves artifact
// downloads as a redirect to a short-lived signed URL.
func (t *Transport) Location(ctx context.Context, locator string, cred Credential) (string, error) {
	u, err := t.resolve(locator, nil)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	setHeaders(req.Header, cred)

	resp, err := t.noRedir.Do(req)
	if err != nil {
		return "", fmt.Errorf("request to %s failed: %w", u, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return "", apiError(resp.StatusCode, body, u)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", fmt.Errorf("redirect from %s carries no location", u)
	}
	return location, nil
}

func (t *Transport) resolve(locator string, query url.Values) (string, error) {
	u := locator
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		if !strings.HasPrefix(u, "/") {
			u = "/" + u
		}
		u = t.baseURL + u
	}
	if len(query) > 0 {
		parsed, err := url.Parse(u)
		if err != nil {
			return "", fmt.Errorf("invalid request URL %q: %w", u, err)
		}
		q := parsed.Query()
		for k, vs := range query {
			q[k] = vs
		}
		parsed.RawQuery = q.Encode()
		u = parsed.String()
	}
	return u, nil
}

func setHeaders(h http.Header, cred Credential) {
	h.Set("Accept", acceptHeader)
	h.Set("X-GitHub-Api-Version", apiVersion)
	h.Set("User-Agent", userAgent)
	if cred != nil {
		h.Set("Authorization", cred.HeaderValue())
	}
}

func readResponse(resp *http.Response, u string) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", u, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(resp.StatusCode, body, u)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		NextPage:   nextPageLink(resp.Header),
	}, nil
}

func apiError(statusCode int, body []byte, u string) *APIError {
	apiErr := &APIError{StatusCode: statusCode, URL: u}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Message = payload.Message
	}
	return apiErr
}

// nextPageLink extracts the rel="next" cursor from a Link header.
// Absence of a next link is the pagination terminal condition.
func nextPageLink(h http.Header) string {
	for _, header := range h.Values("Link") {
		for _, link := range strings.Split(header, ",") {
			segments := strings.Split(strings.TrimSpace(link), ";")
			if len(segments) < 2 {
				continue
			}
			u := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(u, "<") || !strings.HasSuffix(u, ">") {
				continue
			}
			for _, segment := range segments[1:] {
				if strings.TrimSpace(segment) == `rel="next"` {
					return strings.Trim(u, "<>")
				}
			}
		}
	}
	return ""
}
