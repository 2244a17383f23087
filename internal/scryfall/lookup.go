package scryfall

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/lepinkainen/deckhand/internal/card"
	"github.com/lepinkainen/deckhand/internal/errors"
)

// step is one request of the fallback cascade.
type step struct {
	desc     string
	endpoint string
}

// Fetch resolves a record to its canonical card. It tries the most specific
// lookup first and falls back on a 404: the normalized printing, the printing
// with the collector number exactly as given, the name within the set, and
// finally the name alone. The first step that finds a card wins. Any error
// other than not-found ends the cascade and is returned.
func (c *Client) Fetch(ctx context.Context, rec card.Record) (*card.Card, error) {
	steps := c.plan(rec)
	if len(steps) == 0 {
		return nil, errors.NewFatalError("record has neither a name nor a printing", 0, nil)
	}

	for i, s := range steps {
		if i > 0 {
			if err := c.pace(ctx); err != nil {
				return nil, err
			}
			slog.Debug("Falling back to less specific lookup", "record", rec.DisplayName(), "lookup", s.desc)
		}

		result, err := c.getCard(ctx, s.endpoint, s.desc)
		if err == nil {
			return result, nil
		}
		if !errors.IsNotFoundError(err) {
			return nil, err
		}
	}

	return nil, errors.NewNotFoundError(rec.DisplayName())
}

// CardByPrinting fetches a specific printing.
func (c *Client) CardByPrinting(ctx context.Context, set, number string) (*card.Card, error) {
	return c.getCard(ctx, c.printingURL(set, number), set+"/"+number)
}

// CardByName fetches a card by exact name, optionally within a set.
func (c *Client) CardByName(ctx context.Context, name, set string) (*card.Card, error) {
	return c.getCard(ctx, c.namedURL(name, set), name)
}

func (c *Client) plan(rec card.Record) []step {
	var steps []step
	name := strings.TrimSpace(rec.Name)
	set := card.NormalizeSetCode(rec.SetCode)

	if rec.HasPrinting() {
		rawNumber := strings.TrimSpace(rec.CollectorNumber)
		number := card.NormalizeCollectorNumber(rawNumber)
		steps = append(steps, step{desc: set + "/" + number, endpoint: c.printingURL(set, number)})
		if rawNumber != number {
			steps = append(steps, step{desc: set + "/" + rawNumber, endpoint: c.printingURL(set, rawNumber)})
		}
	}

	if name != "" {
		if set != "" {
			steps = append(steps, step{desc: name + " (" + set + ")", endpoint: c.namedURL(name, set)})
		}
		steps = append(steps, step{desc: name, endpoint: c.namedURL(name, "")})
	}

	return steps
}

func (c *Client) printingURL(set, number string) string {
	return c.baseURL + "/cards/" + url.PathEscape(set) + "/" + url.PathEscape(number)
}

func (c *Client) namedURL(name, set string) string {
	params := url.Values{}
	params.Set("exact", name)
	if set != "" {
		params.Set("set", set)
	}
	return c.baseURL + "/cards/named?" + params.Encode()
}

func (c *Client) pace(ctx context.Context) error {
	if c.pacer == nil {
		return ctx.Err()
	}
	return c.pacer.Pace(ctx)
}
