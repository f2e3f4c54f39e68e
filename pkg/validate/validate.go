// Package validate gates a request before any upstream work is dispatched.
package validate

import (
	"errors"
	"fmt"
)

const (
	// DefaultMaxItems is the item ceiling per request.
	DefaultMaxItems = 10000

	// NoFields is the sentinel field list asking for title and year only.
	NoFields = "none"
)

// DefaultFields is the field whitelist.
var DefaultFields = []string{
	"director",
	"assistant-director",
	"producer",
	"executive-producer",
	"writer",
	"original-writer",
	"casting",
	"editor",
	"cinematography",
	"composer",
	"sound",
	"costume-design",
	"makeup",
	"visual-effects",
	"cast",
	"studio",
	"country",
	"language",
	"genre",
	"theme",
	"runtime",
	"watches",
	"likes",
	"avg-rating",
}

var (
	// ErrInvalidField matches every *InvalidFieldError
	ErrInvalidField = errors.New("invalid field")

	// ErrTooManyItems matches every *TooManyItemsError
	ErrTooManyItems = errors.New("too many items")
)

// InvalidFieldError names the first requested field outside the whitelist.
type InvalidFieldError struct {
	Name string
}

// Error implements the error interface.
func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid field: %s", e.Name)
}

// Is reports whether target is ErrInvalidField.
func (e *InvalidFieldError) Is(target error) bool {
	return target == ErrInvalidField
}

// TooManyItemsError reports an item count over the ceiling. When AtLeast is
// set the list was only read partway and Count is a lower bound.
type TooManyItemsError struct {
	Count   int
	Max     int
	AtLeast bool
}

// Error implements the error interface.
func (e *TooManyItemsError) Error() string {
	if e.AtLeast {
		return fmt.Sprintf("too many items: more than %d exceeds the limit of %d", e.Count, e.Max)
	}
	return fmt.Sprintf("too many items: %d exceeds the limit of %d", e.Count, e.Max)
}

// Is reports whether target is ErrTooManyItems.
func (e *TooManyItemsError) Is(target error) bool {
	return target == ErrTooManyItems
}

// Validator checks field names against a whitelist and counts against a ceiling.
// It is immutable and safe for concurrent use.
type Validator struct {
	allowed  map[string]struct{}
	maxItems int
}

// New creates a validator. A nil whitelist uses DefaultFields, a non-positive
// ceiling uses DefaultMaxItems.
func New(allowed []string, maxItems int) *Validator {
	if allowed == nil {
		allowed = DefaultFields
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	set := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
	}

	return &Validator{
		allowed:  set,
		maxItems: maxItems,
	}
}

// MaxItems returns the ceiling.
func (v *Validator) MaxItems() int {
	return v.maxItems
}

// Fields normalizes the requested field names. A list led by "none" becomes
// empty; otherwise the first name outside the whitelist fails validation.
// Names are case-sensitive.
func (v *Validator) Fields(raw []string) ([]string, error) {
	if len(raw) > 0 && raw[0] == NoFields {
		return []string{}, nil
	}

	fields := make([]string, 0, len(raw))
	for _, name := range raw {
		if _, ok := v.allowed[name]; !ok {
			return nil, &InvalidFieldError{Name: name}
		}
		fields = append(fields, name)
	}
	return fields, nil
}

// Count enforces the item ceiling. A truncated count is a lower bound and
// is reported as such.
func (v *Validator) Count(n int, truncated bool) error {
	if n > v.maxItems {
		return &TooManyItemsError{Count: n, Max: v.maxItems, AtLeast: truncated}
	}
	return nil
}
