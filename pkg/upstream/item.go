package upstream

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/Sternrassler/rowstream/pkg/pipeline"
	"github.com/Sternrassler/rowstream/pkg/record"
)

// ValueSeparator joins the entries of a multi-valued attribute.
const ValueSeparator = "; "

// RowFetcher returns a fetcher that turns item documents into rows with
// the given attribute columns. An empty fields slice yields Title and Year only.
func (c *Client) RowFetcher(fields []string) pipeline.RowFetcher {
	return pipeline.FetchFunc(func(ctx context.Context, item record.Item) (record.Row, error) {
		u, err := c.resolve(item.SourceRef)
		if err != nil {
			return nil, err
		}

		body, err := c.get(ctx, "item", u)
		if err != nil {
			return nil, err
		}

		row, err := parseItem(body, item, fields)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", u, err)
		}
		return row, nil
	})
}

// parseItem reads {"title", "year", "attributes": {...}} into a row.
func parseItem(body []byte, item record.Item, fields []string) (record.Row, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformedDocument)
	}

	doc := gjson.ParseBytes(body)
	title := doc.Get("title")
	if title.Type != gjson.String {
		return nil, fmt.Errorf("%w: missing title", ErrMalformedDocument)
	}

	var year string
	if y := doc.Get("year"); y.Exists() && y.Type != gjson.Null {
		year = y.String()
	}

	attrs := doc.Get("attributes")
	values := make([]string, len(fields))
	for i, field := range fields {
		values[i] = attributeValue(attrs.Get(gjson.Escape(field)))
	}

	return record.NewRow(item, title.Str, year, values), nil
}

// attributeValue flattens a string or array attribute into one cell.
// Missing attributes become an empty cell.
func attributeValue(v gjson.Result) string {
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	if !v.IsArray() {
		return v.String()
	}
	parts := make([]string, 0, len(v.Array()))
	for _, elem := range v.Array() {
		parts = append(parts, elem.String())
	}
	return strings.Join(parts, ValueSeparator)
}
