package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/microq/uworker/pkg/log"
)

const (
	// DefaultRetries is the retry budget for transport failures.
	DefaultRetries = 200

	// maxBackoff caps the exponential backoff schedule.
	maxBackoff = 300 * time.Second
)

// Credentials holds the basic-auth pair used to acquire a token.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Client talks to the coordinator's job API. It acquires a bearer token
// lazily, renews it once on 401, and retries transport failures up to
// the configured budget. Application-level error responses are never
// retried.
type Client struct {
	uri       string
	http      *retryablehttp.Client
	creds     *Credentials
	token     string
	retries   int
	retryWait time.Duration // 0 means the exponential schedule
	logger    zerolog.Logger
}

type options struct {
	creds     *Credentials
	credsFile string
	retries   int
	retryWait time.Duration
	httpBase  *http.Client
	logger    *zerolog.Logger
}

// Option configures a Client.
type Option func(*options)

// WithCredentials sets the username/password used for token acquisition.
func WithCredentials(username, password string) Option {
	return func(o *options) {
		o.creds = &Credentials{Username: username, Password: password}
	}
}

// WithCredentialsFile loads credentials from a JSON file
// {"username": ..., "password": ...}. Explicit credentials win when
// both are supplied.
func WithCredentialsFile(path string) Option {
	return func(o *options) { o.credsFile = path }
}

// WithRetries sets the transport retry budget.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

// WithRetryWait sets a fixed delay between retries instead of the
// exponential schedule.
func WithRetryWait(d time.Duration) Option {
	return func(o *options) { o.retryWait = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpBase = hc }
}

// WithLogger overrides the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// New creates a coordinator client for the given API root.
func New(apiroot string, opts ...Option) (*Client, error) {
	o := options{retries: DefaultRetries}
	for _, opt := range opts {
		opt(&o)
	}

	creds := o.creds
	if creds == nil && o.credsFile != "" {
		loaded, err := loadCredentialsFile(o.credsFile)
		if err != nil {
			return nil, err
		}
		creds = loaded
	}

	logger := log.WithComponent("client")
	if o.logger != nil {
		logger = *o.logger
	}

	c := &Client{
		uri:       strings.TrimRight(apiroot, "/"),
		creds:     creds,
		retries:   o.retries,
		retryWait: o.retryWait,
		logger:    logger,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultClient()
	if o.httpBase != nil {
		rc.HTTPClient = o.httpBase
	}
	rc.Logger = nil
	rc.RetryMax = o.retries
	// Only transport-level failures are retried. Any HTTP response,
	// including an error response, breaks the retry loop.
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return err != nil, nil
	}
	rc.Backoff = func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		if c.retryWait > 0 {
			return c.retryWait
		}
		return backoffDelay(attemptNum)
	}
	c.http = rc

	return c, nil
}

// backoffDelay returns the delay before retry attempt n of the default
// schedule: min(3^n, 300) seconds.
func backoffDelay(n int) time.Duration {
	d := time.Second
	for i := 0; i < n; i++ {
		d *= 3
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func loadCredentialsFile(path string) (*Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}
	return &creds, nil
}

// ProjectURL returns the project-scoped API root, validating the
// project name first.
func (c *Client) ProjectURL(project string) (string, error) {
	if !ValidateProjectName(project) {
		return "", fmt.Errorf("%w: %q", ErrInvalidProjectName, project)
	}
	return c.uri + "/v4/" + project, nil
}

// GetJobList requests the job list for a project and returns the raw
// JSON document.
func (c *Client) GetJobList(ctx context.Context, project string) (json.RawMessage, error) {
	base, err := c.ProjectURL(project)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(ctx, http.MethodGet, base+"/jobs", nil, nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// FetchJob requests an unprocessed job. An empty project fetches across
// all projects. A 404 response means no job is available and yields
// (nil, nil).
func (c *Client) FetchJob(ctx context.Context, jobType, project string) (*Job, error) {
	var fetchURL string
	if project != "" {
		base, err := c.ProjectURL(project)
		if err != nil {
			return nil, err
		}
		fetchURL = base + "/jobs/fetch"
	} else {
		fetchURL = c.uri + "/v4/projects/jobs/fetch"
	}
	if jobType != "" {
		fetchURL += "?" + url.Values{"type": {jobType}}.Encode()
	}

	resp, err := c.call(ctx, http.MethodGet, fetchURL, nil, nil, true)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	var payload jobPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode job descriptor: %w", err)
	}
	return &Job{payload: payload, api: c}, nil
}

// ClaimJob claims a job on behalf of a worker via its claim URL.
func (c *Client) ClaimJob(ctx context.Context, claimURL, workerName string) error {
	body := struct {
		Worker string `json:"Worker"`
	}{Worker: workerName}
	return c.put(ctx, claimURL, body)
}

// UpdateOutput sends collected job output to the coordinator.
func (c *Client) UpdateOutput(ctx context.Context, outputURL, output string) error {
	body := struct {
		Output string `json:"Output"`
	}{Output: output}
	return c.put(ctx, outputURL, body)
}

// UpdateStatus advances the coordinator-side job state. processingTime
// is in seconds and may be nil.
func (c *Client) UpdateStatus(ctx context.Context, statusURL string, status Status, processingTime *float64) error {
	body := struct {
		Status         Status   `json:"Status"`
		ProcessingTime *float64 `json:"ProcessingTime"`
	}{Status: status, ProcessingTime: processingTime}
	return c.put(ctx, statusURL, body)
}

func (c *Client) put(ctx context.Context, callURL string, body any) error {
	resp, err := c.call(ctx, http.MethodPut, callURL, body, nil, true)
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// basicAuth carries an explicit basic-auth pair for a single call,
// bypassing token auth (used for the /token endpoint itself).
type basicAuth struct {
	user, pass string
}

// call issues one API call. With auth == nil the cached bearer token is
// used (acquired first if absent). On a 401 with renewToken set, the
// token is discarded, re-acquired and the call re-issued exactly once.
func (c *Client) call(ctx context.Context, method, callURL string, body any, auth *basicAuth, renewToken bool) (*http.Response, error) {
	if auth == nil {
		token, err := c.bearer(ctx)
		if err != nil {
			return nil, err
		}
		auth = &basicAuth{user: token}
	}

	var req *retryablehttp.Request
	var err error
	if body != nil {
		payload, merr := json.Marshal(body)
		if merr != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", merr)
		}
		req, err = retryablehttp.NewRequestWithContext(ctx, method, callURL, payload)
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = retryablehttp.NewRequestWithContext(ctx, method, callURL, nil)
	}
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(auth.user, auth.pass)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{URL: callURL, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized && renewToken {
		drain(resp)
		c.token = ""
		if err := c.renewToken(ctx); err != nil {
			return nil, err
		}
		return c.call(ctx, method, callURL, body, nil, false)
	}

	if resp.StatusCode >= 300 {
		reason := http.StatusText(resp.StatusCode)
		drain(resp)
		return nil, &APIError{StatusCode: resp.StatusCode, Reason: reason}
	}
	return resp, nil
}

// bearer returns the cached token, acquiring one first if needed.
func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", ErrNoCredentials
	}
	if c.token == "" {
		if err := c.renewToken(ctx); err != nil {
			return "", err
		}
	}
	return c.token, nil
}

// renewToken acquires a fresh bearer token from the /token endpoint
// using basic auth from the configured credentials.
func (c *Client) renewToken(ctx context.Context) error {
	if c.creds == nil {
		return ErrNoCredentials
	}
	auth := &basicAuth{user: c.creds.Username, pass: c.creds.Password}
	resp, err := c.call(ctx, http.MethodGet, c.uri+"/token", nil, auth, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}
	c.token = payload.Token
	c.logger.Debug().Msg("acquired api token")
	return nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
