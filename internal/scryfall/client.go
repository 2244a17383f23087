// Package scryfall is a client for the Scryfall card-data API.
package scryfall

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultBaseURL   = "https://api.scryfall.com"
	defaultUserAgent = "deckhand/1.0"
	defaultTimeout   = 15 * time.Second
)

// HTTPDoer is an interface for making HTTP requests.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Pacer books a rate-limit slot before a follow-up request.
type Pacer interface {
	Pace(ctx context.Context) error
}

// Client is a Scryfall API client. The first request of a lookup is assumed
// to be paced by the caller; fallback requests are paced through the Pacer.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient HTTPDoer
	pacer      Pacer
	breaker    *gobreaker.CircuitBreaker
}

// NewClient creates a new Scryfall API client.
func NewClient(opts ...Option) *Client {
	client := &Client{
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c HTTPDoer) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithBaseURL sets a custom base URL for the API.
func WithBaseURL(base string) Option {
	return func(client *Client) {
		if base != "" {
			client.baseURL = strings.TrimSuffix(base, "/")
		}
	}
}

// WithUserAgent sets the client-identifying User-Agent header.
func WithUserAgent(ua string) Option {
	return func(client *Client) {
		if ua != "" {
			client.userAgent = ua
		}
	}
}

// WithPacer sets the pacer used before fallback requests.
func WithPacer(p Pacer) Option {
	return func(client *Client) {
		client.pacer = p
	}
}

// WithBreaker routes every request through a circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(client *Client) {
		client.breaker = cb
	}
}

// SetPacer replaces the pacer after construction. The scheduler that paces
// requests is usually created after the client.
func (c *Client) SetPacer(p Pacer) {
	c.pacer = p
}
