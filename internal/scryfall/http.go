package scryfall

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/errors"
	"github.com/sony/gobreaker"
)

// getCard performs one GET and maps the response onto the error taxonomy.
func (c *Client) getCard(ctx context.Context, endpoint, query string) (*card.Card, error) {
	if c.breaker == nil {
		return c.doCardRequest(ctx, endpoint, query)
	}

	v, err := c.breaker.Execute(func() (any, error) {
		return c.doCardRequest(ctx, endpoint, query)
	})
	switch {
	case stdErrors.Is(err, gobreaker.ErrOpenState):
		return nil, errors.NewFatalError("card service circuit is open", 0, err)
	case stdErrors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, errors.NewRateLimitError("card service circuit is half-open")
	case err != nil:
		return nil, err
	}
	return v.(*card.Card), nil
}

func (c *Client) doCardRequest(ctx context.Context, endpoint, query string) (*card.Card, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.NewFatalError("failed to build request", 0, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.NewNotFoundError(query)
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		return nil, errors.NewRateLimitErrorWithRetry("card service rate limit exceeded", retryAfter)
	case resp.StatusCode >= 500:
		return nil, errors.NewServiceError(resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, errors.NewFatalError(
			fmt.Sprintf("unexpected response for %s: %s", query, readSnippet(resp.Body)),
			resp.StatusCode, nil)
	}

	var result card.Card
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		if stdErrors.Is(err, io.ErrUnexpectedEOF) {
			// Connection dropped mid-body
			return nil, err
		}
		return nil, errors.NewFatalError("malformed card response", resp.StatusCode, err)
	}
	if result.ID == "" || result.Name == "" {
		return nil, errors.NewFatalError("card response is missing id or name", resp.StatusCode, nil)
	}

	return &result, nil
}

func readSnippet(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(body))
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Unparseable or past values yield zero.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
