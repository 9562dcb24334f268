package domain

import (
	"errors"
	"testing"
)

func TestParseMinor(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "10", want: 1000},
		{in: "10.5", want: 1050},
		{in: "5.50", want: 550},
		{in: "0.07", want: 7},
		{in: "1.234", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMinor(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrPriceInvalid) {
					t.Fatalf("expected ErrPriceInvalid, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseMinor(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(3650); got != "36.50" {
		t.Fatalf("got %q", got)
	}
	if got := FormatMinor(-5); got != "-0.05" {
		t.Fatalf("got %q", got)
	}
}
