// Package fetch performs the HTTP work every typed document is built
// on: one GET per document, optional basic auth, and the standard
// battery of warn-only response checks.
//
// HTTP-level anomalies (bad status, wrong content type, problem
// detail) degrade to warnings on the report and the body is still
// returned, because the client's job is to enumerate every
// conformance problem in one pass. Only a transport-level failure to
// reach the host is an error.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NYPL-Simplified/self-test-client/internal/report"
	"github.com/NYPL-Simplified/self-test-client/pkg/opds"
)

// maxBodyBytes caps how much of a response is read. Real acquisition
// feeds top out around a few hundred kilobytes.
const maxBodyBytes = 8 << 20

// Credentials are HTTP basic-auth credentials. They are attached to
// the authentication document after construction and copied into each
// child document; nothing mutates them afterwards.
type Credentials struct {
	Username string
	Password string
}

// Client executes requests and routes the per-response checks to the
// report. One Client is shared by every document in a run.
type Client struct {
	httpClient *http.Client
	reporter   *report.Reporter
	logger     *zap.Logger
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the operational logger. The conformance transcript
// always goes through the reporter; the logger carries timings and
// transport detail.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithoutRedirects stops the client at the first redirect so a
// Location header can be inspected. Every other consumer keeps the
// transport's default redirect handling.
func WithoutRedirects() Option {
	return func(c *Client) {
		c.httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
}

// New creates a Client reporting to r.
func New(r *report.Reporter, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		reporter:   r,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Reporter returns the report sink this client writes to.
func (c *Client) Reporter() *report.Reporter { return c.reporter }

// Document describes one fetchable resource: where it lives, what to
// call it on the report, which credentials to present, and which
// content type to expect back.
type Document struct {
	URL         string
	Name        string
	Credentials *Credentials
	ExpectType  string

	client      *Client
	fetched     bool
	body        []byte
	contentType string
}

// Document builds a document handle. Nothing is fetched until Body is
// called.
func (c *Client) Document(url, name string, creds *Credentials, expectType string) *Document {
	return &Document{URL: url, Name: name, Credentials: creds, ExpectType: expectType, client: c}
}

// Body returns the document's raw body, fetching it on first call and
// memoizing it after. A document is fetched at most once; repeated
// calls return the cached bytes without touching the network. The
// returned error is non-nil only for transport-level failures, which
// are fatal to the run.
func (d *Document) Body(ctx context.Context) ([]byte, error) {
	if d.fetched {
		return d.body, nil
	}
	body, contentType, err := d.client.get(ctx, d)
	if err != nil {
		return nil, err
	}
	d.body = body
	d.contentType = contentType
	d.fetched = true
	return d.body, nil
}

// ContentType returns the Content-Type header of the fetched response,
// or "" before the first Body call.
func (d *Document) ContentType() string { return d.contentType }

// get is the single GET behind every document: no retries, default
// redirect handling, warn-only response checks.
func (c *Client) get(ctx context.Context, d *Document) (body []byte, contentType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request for %s: %w", d.Name, err)
	}
	if d.Credentials != nil {
		req.SetBasicAuth(d.Credentials.Username, d.Credentials.Password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s from %s: %w", d.Name, d.URL, err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read %s body: %w", d.Name, err)
	}
	contentType = resp.Header.Get("Content-Type")

	c.logger.Debug("fetched document",
		zap.String("name", d.Name),
		zap.String("url", d.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)

	r := c.reporter
	r.Printf("Retrieved %s from %s", d.Name, d.URL)
	if resp.StatusCode/100 != 2 {
		r.Warnf("Status code was %d.", resp.StatusCode)
	}
	if contentType == opds.TypeProblemDetail {
		r.Warnf("Got a problem detail document: %q", body)
	}
	if d.ExpectType != "" && (contentType == "" || !strings.HasPrefix(contentType, d.ExpectType)) {
		r.Warnf("Expected content type %s, got %s", d.ExpectType, contentType)
	}
	r.Printf(" %d bytes, %s", len(body), contentType)
	r.EchoBody(contentType, body)

	return body, contentType, nil
}

// Post sends a body and returns the response status and payload. It is
// used for the vendor-id sign-in round trip, which is the one write
// this client ever performs. Response checks are the caller's concern.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build sign-in request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("read sign-in response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// RedirectLocation performs a GET against url and returns the response
// status and Location header, discarding the body. It only makes sense
// on a Client built WithoutRedirects; the OAuth intermediary check
// uses it to capture the URL a server bounces patrons to.
func (c *Client) RedirectLocation(ctx context.Context, url string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, "", fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return resp.StatusCode, resp.Header.Get("Location"), nil
}
