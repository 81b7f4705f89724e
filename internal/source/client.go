// Package source talks to GitHub on behalf of the deployment engine. Every
// call returns a normalized Response or a *failure.Error whose Kind tells
// auth, rate-limit, not-found and transport failures apart.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-github/v68/github"
	"github.com/zulandar/gitdeploy/internal/failure"
	"github.com/zulandar/gitdeploy/internal/metrics"
	"golang.org/x/oauth2"
)

// RateLimitLowWater is the remaining-quota level below which a warning is
// logged.
const RateLimitLowWater = 10

// PageSize is the listing page size for search and account listings.
const PageSize = 30

// CredentialProvider supplies the API token. An empty token means
// unauthenticated, public-only access.
type CredentialProvider interface {
	GetToken() string
}

// StaticToken is a CredentialProvider with a fixed token.
type StaticToken string

// GetToken returns the token.
func (t StaticToken) GetToken() string { return string(t) }

// Options configures a Client.
type Options struct {
	Credentials CredentialProvider
	// APIURL overrides the REST endpoint, e.g. a GitHub Enterprise
	// https://ghe.example.com/api/v3/.
	APIURL string
	// ArchiveURL is the host serving public archive downloads.
	ArchiveURL string
	// Timeout bounds every API call. Defaults to 30s.
	Timeout time.Duration
	// HTTPClient is the base client; its transport is wrapped for auth.
	HTTPClient *http.Client
	Log        logr.Logger
	Metrics    *metrics.Metrics
}

// Client is the GitHub source client.
type Client struct {
	gh            *github.Client
	authenticated bool
	archiveBase   string
	timeout       time.Duration
	log           logr.Logger
	metrics       *metrics.Metrics
}

// New builds a Client. With a non-empty token every API request carries
// it as a bearer credential.
func New(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ArchiveURL == "" {
		opts.ArchiveURL = "https://github.com"
	}
	base := &http.Client{}
	if opts.HTTPClient != nil {
		copied := *opts.HTTPClient
		base = &copied
	}

	token := ""
	if opts.Credentials != nil {
		token = opts.Credentials.GetToken()
	}
	httpClient := base
	if token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	httpClient.Timeout = opts.Timeout

	gh := github.NewClient(httpClient)
	if opts.APIURL != "" {
		u, err := url.Parse(strings.TrimRight(opts.APIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("source: parse api url %q: %w", opts.APIURL, err)
		}
		gh.BaseURL = u
	}

	return &Client{
		gh:            gh,
		authenticated: token != "",
		archiveBase:   strings.TrimRight(opts.ArchiveURL, "/"),
		timeout:       opts.Timeout,
		log:           opts.Log.WithName("source"),
		metrics:       opts.Metrics,
	}, nil
}

// Authenticated reports whether the client carries a token.
func (c *Client) Authenticated() bool { return c.authenticated }

// Response is the normalized result of one API call.
type Response[T any] struct {
	Data    T
	Headers map[string]string // lower-cased header name -> first value
}

func newResponse[T any](data T, resp *github.Response) *Response[T] {
	r := &Response[T]{Data: data, Headers: map[string]string{}}
	if resp != nil && resp.Response != nil {
		for k, v := range resp.Header {
			if len(v) > 0 {
				r.Headers[strings.ToLower(k)] = v[0]
			}
		}
	}
	return r
}

// call bounds ctx by the client timeout.
func (c *Client) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// observe records quota headers and classifies err.
func (c *Client) observe(op string, resp *github.Response, err error) error {
	if resp != nil && resp.Response != nil && resp.Header.Get("X-RateLimit-Remaining") != "" {
		remaining, perr := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
		if perr == nil {
			c.metrics.SetRateLimitRemaining(remaining)
			if remaining < RateLimitLowWater {
				c.log.Info("GitHub API rate limit running low", "op", op, "remaining", remaining,
					"reset", resp.Rate.Reset.Time.Format(time.RFC3339))
			}
		}
	}
	if err == nil {
		return nil
	}
	return c.classify(op, resp, err)
}

func (c *Client) classify(op string, resp *github.Response, err error) error {
	var (
		rle   *github.RateLimitError
		abuse *github.AbuseRateLimitError
		er    *github.ErrorResponse
	)
	switch {
	case errors.As(err, &rle):
		return &failure.Error{Kind: failure.RateLimited, Op: op, Err: err,
			Message: fmt.Sprintf("rate limit exceeded, resets at %s", rle.Rate.Reset.Time.Format(time.RFC3339))}
	case errors.As(err, &abuse):
		return &failure.Error{Kind: failure.RateLimited, Op: op, Err: err, Message: "secondary rate limit triggered"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &failure.Error{Kind: failure.Transport, Op: op, Err: err, Message: "request timed out or was cancelled"}
	case errors.As(err, &er) && er.Response != nil:
		return c.statusError(op, er.Response.StatusCode, err)
	}
	if resp != nil && resp.Response != nil && resp.StatusCode >= 400 {
		return c.statusError(op, resp.StatusCode, err)
	}
	return &failure.Error{Kind: failure.Transport, Op: op, Err: err, Message: "request failed"}
}

func (c *Client) statusError(op string, status int, err error) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if c.authenticated {
			return &failure.Error{Kind: failure.AuthInsufficient, Op: op, Err: err,
				Message: "token rejected or lacks permission"}
		}
		return &failure.Error{Kind: failure.AuthRequired, Op: op, Err: err,
			Message: "authentication required; configure a GitHub token"}
	case http.StatusNotFound, http.StatusUnprocessableEntity, http.StatusConflict:
		msg := "not found"
		if !c.authenticated {
			msg = "not found (private repositories need a GitHub token)"
		}
		return &failure.Error{Kind: failure.NotFound, Op: op, Err: err, Message: msg}
	}
	return &failure.Error{Kind: failure.Transport, Op: op, Err: err, Message: fmt.Sprintf("unexpected status %d", status)}
}
