package validation

import (
	"errors"
	"testing"
)

func TestParseCoordinates_Valid(t *testing.T) {
	lat, lng, err := ParseCoordinates("41.3851", " 2.1734 ")
	if err != nil {
		t.Fatalf("ParseCoordinates() error = %v", err)
	}
	if lat != 41.3851 || lng != 2.1734 {
		t.Errorf("ParseCoordinates() = (%v, %v), want (41.3851, 2.1734)", lat, lng)
	}
}

func TestParseCoordinates_Bounds(t *testing.T) {
	tests := []struct {
		lat, lng string
	}{
		{"90", "180"},
		{"-90", "-180"},
		{"0", "0"},
	}
	for _, tc := range tests {
		if _, _, err := ParseCoordinates(tc.lat, tc.lng); err != nil {
			t.Errorf("ParseCoordinates(%q, %q) error = %v, want nil", tc.lat, tc.lng, err)
		}
	}
}

func TestParseCoordinates_Errors(t *testing.T) {
	tests := []struct {
		name    string
		lat     string
		lng     string
		wantErr error
	}{
		{"both missing", "", "", ErrMissingParameter},
		{"lat missing", "", "2.17", ErrMissingParameter},
		{"lng blank", "41.38", "   ", ErrMissingParameter},
		{"lat not a number", "abc", "2.17", ErrInvalidParameter},
		{"lng not a number", "41.38", "2,17", ErrInvalidParameter},
		{"nan", "NaN", "2.17", ErrInvalidParameter},
		{"inf", "41.38", "Inf", ErrInvalidParameter},
		{"lat out of range", "91", "2.17", ErrInvalidCoordinate},
		{"lng out of range", "41.38", "-180.5", ErrInvalidCoordinate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := ParseCoordinates(tc.lat, tc.lng)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseRadius(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		max  int
		want int
	}{
		{"blank uses default", "", 0, 1000},
		{"explicit", "500", 0, 500},
		{"trimmed", " 750 ", 0, 750},
		{"not a number", "far", 0, 1000},
		{"fractional", "1500.5", 0, 1000},
		{"zero kept", "0", 0, 0},
		{"negative kept", "-20", 0, -20},
		{"negative not clamped", "-20", 10000, -20},
		{"clamped", "50000", 10000, 10000},
		{"under max", "2000", 10000, 2000},
		{"no max", "50000", 0, 50000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ParseRadius(tc.raw, 1000, tc.max); got != tc.want {
				t.Errorf("ParseRadius(%q) = %d, want %d", tc.raw, got, tc.want)
			}
		})
	}
}
