package models

import (
	"testing"
	"time"
)

func TestFormatTime(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2025, 6, 1, 13, 30, 45, 123456789, loc)

	got := FormatTime(ts)
	want := "2025-06-01T12:30:45.123Z"
	if got != want {
		t.Errorf("FormatTime() = %q, want %q", got, want)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{
			name: "wire format",
			in:   "2025-06-01T12:30:45.123Z",
			want: time.Date(2025, 6, 1, 12, 30, 45, 123000000, time.UTC),
		},
		{
			name: "rfc3339 with offset",
			in:   "2025-06-01T13:30:45+01:00",
			want: time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC),
		},
		{
			name: "naive treated as UTC",
			in:   "2025-06-01T12:30:45",
			want: time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC),
		},
		{
			name:    "garbage",
			in:      "last tuesday",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTime() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 500000000, time.UTC)
	parsed, err := ParseTime(FormatTime(ts))
	if err != nil {
		t.Fatalf("round trip parse error: %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("round trip = %v, want %v", parsed, ts)
	}
}
