package caldav

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 30 * time.Second
	minTLSVersion  = tls.VersionTLS12

	// requestsPerSecond bounds how hard one transport hammers a single
	// server. Sync cycles are sequential, so a small burst is enough.
	requestsPerSecond = 8
	requestBurst      = 16
)

// Transport issues authenticated WebDAV/CalDAV HTTP methods against one
// server and returns raw response bodies. It knows nothing about XML
// semantics; decoding is the Decoder's job.
type Transport struct {
	base       *url.URL
	username   string
	password   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTransport creates a transport for the given server base URL.
func NewTransport(baseURL, username, password string) (*Transport, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrConnectionFailed)
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", ErrConnectionFailed, baseURL)
	}

	httpClient := &http.Client{
		Timeout: defaultTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: minTLSVersion,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}

	return &Transport{
		base:       base,
		username:   username,
		password:   password,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst),
	}, nil
}

// Resolve turns an href from a server response into an absolute URL.
// Hrefs may be server-relative, root-relative or absolute.
func (t *Transport) Resolve(href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return t.base.ResolveReference(ref).String()
}

// Propfind issues a PROPFIND with the given depth (0 or 1) and XML body.
func (t *Transport) Propfind(ctx context.Context, href string, depth int, body string) ([]byte, error) {
	return t.doXML(ctx, "PROPFIND", href, depth, body)
}

// Report issues a REPORT with Depth 1 and the given XML body.
func (t *Transport) Report(ctx context.Context, href string, body string) ([]byte, error) {
	return t.doXML(ctx, "REPORT", href, 1, body)
}

// Get fetches a single resource, returning its body and etag.
func (t *Transport) Get(ctx context.Context, href string) ([]byte, string, error) {
	req, err := t.newRequest(ctx, http.MethodGet, href, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Accept", "text/calendar")

	resp, err := t.do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return nil, "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: failed to read response: %w", ErrConnectionFailed, err)
	}
	return body, trimETag(resp.Header.Get("ETag")), nil
}

// Put uploads a calendar object. ifMatch and ifNoneMatch set the matching
// precondition headers; pass "*" as ifNoneMatch for create-only semantics.
// The returned etag may be empty when the server does not echo one.
func (t *Transport) Put(ctx context.Context, href, data, ifMatch, ifNoneMatch string) (string, error) {
	req, err := t.newRequest(ctx, http.MethodPut, href, strings.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	if ifMatch != "" {
		req.Header.Set("If-Match", quoteETag(ifMatch))
	}
	if ifNoneMatch != "" {
		req.Header.Set("If-None-Match", ifNoneMatch)
	}

	resp, err := t.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return "", err
	}
	return trimETag(resp.Header.Get("ETag")), nil
}

// Delete removes a calendar object. A 404 counts as success: the resource
// is gone either way.
func (t *Transport) Delete(ctx context.Context, href, ifMatch string) error {
	req, err := t.newRequest(ctx, http.MethodDelete, href, nil)
	if err != nil {
		return err
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", quoteETag(ifMatch))
	}

	resp, err := t.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return statusError(resp.StatusCode)
}

func (t *Transport) doXML(ctx context.Context, method, href string, depth int, body string) ([]byte, error) {
	req, err := t.newRequest(ctx, method, href, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("Depth", fmt.Sprintf("%d", depth))

	resp, err := t.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrConnectionFailed, err)
	}
	return raw, nil
}

func (t *Transport) newRequest(ctx context.Context, method, href string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.Resolve(href), body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrConnectionFailed, err)
	}
	req.SetBasicAuth(t.username, t.password)
	return req, nil
}

func (t *Transport) do(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return resp, nil
}

// statusError maps HTTP status codes to the error taxonomy. Server-side 5xx
// responses count as transient connection failures.
func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthFailed, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, code)
	case code == http.StatusPreconditionFailed:
		return fmt.Errorf("%w: status %d", ErrPreconditionFailed, code)
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrConnectionFailed, code)
	case code >= 200 && code < 300:
		return nil
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrInvalidResponse, code)
	}
}

// trimETag strips the surrounding quotes servers put on etag values so that
// comparisons are uniform no matter where the etag came from.
func trimETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	return strings.Trim(etag, `"`)
}

func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) {
		return etag
	}
	return `"` + etag + `"`
}
