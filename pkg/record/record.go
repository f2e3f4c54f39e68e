// Package record defines the units of work flowing through the pipeline:
// items to fetch and the rows they become.
package record

import (
	"errors"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrNotFound indicates an upstream source that does not exist.
var ErrNotFound = errors.New("source not found")

// Item is one source record to fetch, identified by its position in the list.
type Item struct {
	// Index is the stable sequence index, 0..N-1
	Index int

	// SourceRef locates the record upstream (a URL)
	SourceRef string

	// Ranked is shared by every item of a request
	Ranked bool
}

// Rank returns the 1-based list position used in the rank column.
func (it Item) Rank() int {
	return it.Index + 1
}

// Listing is an upstream list resolved into item references.
type Listing struct {
	Refs   []string
	Ranked bool

	// Truncated is set when paging stopped early, so len(Refs) is only a
	// lower bound on the list size.
	Truncated bool
}

// Items tags every reference with its index.
func (l *Listing) Items() []Item {
	items := make([]Item, len(l.Refs))
	for i, ref := range l.Refs {
		items[i] = Item{Index: i, SourceRef: ref, Ranked: l.Ranked}
	}
	return items
}

// Row is the transformed output for one item, cells in column order.
type Row []string

// Line renders the row as one CSV line without a trailing newline.
// Numeric cells are written bare, every other cell is quoted.
func (r Row) Line() string {
	var sb strings.Builder
	for i, cell := range r {
		if i > 0 {
			sb.WriteByte(',')
		}
		if isNumeric(cell) {
			sb.WriteString(cell)
			continue
		}
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(cell, `"`, `""`))
		sb.WriteByte('"')
	}
	return sb.String()
}

// isNumeric accepts plain decimals only; ParseFloat would also take "Inf" or "NaN".
func isNumeric(cell string) bool {
	digits, dot := 0, false
	for i, c := range cell {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && !dot:
			dot = true
		case c == '-' && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}

// NewRow builds the row for item from its fetched values.
func NewRow(item Item, title, year string, values []string) Row {
	row := make(Row, 0, len(values)+3)
	if item.Ranked {
		row = append(row, strconv.Itoa(item.Rank()))
	}
	row = append(row, title, year)
	return append(row, values...)
}

// ColumnName turns a field name into its header column: dashes become
// spaces and every word is capitalised ("assistant-director" becomes
// "Assistant Director").
func ColumnName(field string) string {
	// Casers keep state between calls and must not be shared.
	return cases.Title(language.English).String(strings.ReplaceAll(field, "-", " "))
}

// Header returns the header line for the requested fields.
func Header(fields []string, ranked bool) string {
	cols := make([]string, 0, len(fields)+3)
	if ranked {
		cols = append(cols, "Rank")
	}
	cols = append(cols, "Title", "Year")
	for _, f := range fields {
		cols = append(cols, ColumnName(f))
	}
	return strings.Join(cols, ",")
}
