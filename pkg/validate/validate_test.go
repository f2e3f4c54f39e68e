package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestValidator_Fields(t *testing.T) {
	v := New(nil, 0)

	tests := []struct {
		name      string
		raw       []string
		want      []string
		wantField string
	}{
		{name: "none sentinel", raw: []string{"none"}, want: []string{}},
		{name: "none sentinel ignores the rest", raw: []string{"none", "bingus"}, want: []string{}},
		{name: "empty list", raw: nil, want: []string{}},
		{name: "valid fields keep order", raw: []string{"genre", "director"}, want: []string{"genre", "director"}},
		{name: "unknown field", raw: []string{"director", "bingus"}, wantField: "bingus"},
		{name: "first offender wins", raw: []string{"foo", "bar"}, wantField: "foo"},
		{name: "case sensitive", raw: []string{"Director"}, wantField: "Director"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Fields(tt.raw)

			if tt.wantField != "" {
				var fieldErr *InvalidFieldError
				if !errors.As(err, &fieldErr) {
					t.Fatalf("Fields() error = %v, want *InvalidFieldError", err)
				}
				if fieldErr.Name != tt.wantField {
					t.Errorf("InvalidFieldError.Name = %q, want %q", fieldErr.Name, tt.wantField)
				}
				if !errors.Is(err, ErrInvalidField) {
					t.Error("error should match ErrInvalidField")
				}
				if !strings.Contains(err.Error(), tt.wantField) {
					t.Errorf("error %q should mention %q", err, tt.wantField)
				}
				return
			}

			if err != nil {
				t.Fatalf("Fields() error = %v", err)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") || got == nil {
				t.Errorf("Fields() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestValidator_Count(t *testing.T) {
	v := New(nil, DefaultMaxItems)

	if err := v.Count(10000, false); err != nil {
		t.Errorf("Count(10000) error = %v, want nil", err)
	}

	err := v.Count(10001, false)
	if !errors.Is(err, ErrTooManyItems) {
		t.Fatalf("Count(10001) error = %v, want ErrTooManyItems", err)
	}
	var tooMany *TooManyItemsError
	if !errors.As(err, &tooMany) || tooMany.Count != 10001 || tooMany.Max != 10000 {
		t.Errorf("TooManyItemsError = %+v", tooMany)
	}
}

func TestValidator_Count_Truncated(t *testing.T) {
	v := New(nil, 5)

	// A truncated count at or under the ceiling still passes.
	if err := v.Count(5, true); err != nil {
		t.Errorf("Count(5, true) error = %v, want nil", err)
	}

	err := v.Count(8, true)
	var tooMany *TooManyItemsError
	if !errors.As(err, &tooMany) || !tooMany.AtLeast {
		t.Fatalf("Count(8, true) error = %v, want a lower-bound TooManyItemsError", err)
	}
	if want := "too many items: more than 8 exceeds the limit of 5"; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	if got := v.Count(8, false).Error(); got != "too many items: 8 exceeds the limit of 5" {
		t.Errorf("exact count Error() = %q", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	v := New(nil, -1)
	if v.MaxItems() != DefaultMaxItems {
		t.Errorf("MaxItems() = %d, want %d", v.MaxItems(), DefaultMaxItems)
	}
	for _, f := range DefaultFields {
		if _, err := v.Fields([]string{f}); err != nil {
			t.Errorf("default field %q rejected: %v", f, err)
		}
	}
}
