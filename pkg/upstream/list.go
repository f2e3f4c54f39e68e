package upstream

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tidwall/gjson"

	"github.com/Sternrassler/rowstream/pkg/protocol"
	"github.com/Sternrassler/rowstream/pkg/record"
)

// maxListPages guards against next links that loop.
const maxListPages = 1000

// ListItems resolves the list named by req into item references.
// Pages are followed through "next" until MaxListItems refs are known.
func (c *Client) ListItems(ctx context.Context, req *protocol.Request) (*record.Listing, error) {
	u, err := c.resolve("/" + url.PathEscape(req.AuthorUser) + "/list/" + url.PathEscape(req.ListName) + "/")
	if err != nil {
		return nil, err
	}

	listing := &record.Listing{}
	seen := make(map[string]bool)

	for page := 0; u != nil; page++ {
		if page >= maxListPages || seen[u.String()] {
			return nil, fmt.Errorf("%w: list pagination loops at %s", ErrMalformedDocument, u)
		}
		seen[u.String()] = true

		body, err := c.get(ctx, "list", u)
		if err != nil {
			return nil, err
		}

		next, err := c.parseListPage(body, listing, page == 0)
		if err != nil {
			return nil, fmt.Errorf("list page %s: %w", u, err)
		}

		if len(listing.Refs) >= c.config.MaxListItems {
			listing.Truncated = next != nil
			c.logger.Debug().
				Str("list", req.ListName).
				Int("refs", len(listing.Refs)).
				Msg("List item cap reached, not following further pages")
			break
		}
		u = next
	}

	c.logger.Debug().
		Str("author", req.AuthorUser).
		Str("list", req.ListName).
		Int("items", len(listing.Refs)).
		Bool("ranked", listing.Ranked).
		Bool("truncated", listing.Truncated).
		Msg("Resolved list")

	return listing, nil
}

// parseListPage appends the page's refs to listing and returns the next
// page, or nil on the last one.
func (c *Client) parseListPage(body []byte, listing *record.Listing, first bool) (*url.URL, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedDocument)
	}

	doc := gjson.ParseBytes(body)
	items := doc.Get("items")
	if !items.IsArray() {
		return nil, fmt.Errorf("%w: items is not an array", ErrMalformedDocument)
	}
	if first {
		listing.Ranked = doc.Get("ranked").Bool()
	}

	var parseErr error
	items.ForEach(func(_, ref gjson.Result) bool {
		if ref.Type != gjson.String || ref.Str == "" {
			parseErr = fmt.Errorf("%w: item reference %s", ErrMalformedDocument, ref.Raw)
			return false
		}
		abs, err := c.resolve(ref.Str)
		if err != nil {
			parseErr = err
			return false
		}
		listing.Refs = append(listing.Refs, abs.String())
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	next := doc.Get("next")
	if next.Type != gjson.String || next.Str == "" {
		return nil, nil
	}
	return c.resolve(next.Str)
}
