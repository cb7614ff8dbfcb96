package when

import (
	"testing"
	"time"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%s): %v", name, err)
	}
	return loc
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	loc := mustZone(t, "Europe/Amsterdam")
	now := time.Date(2025, 1, 1, 20, 0, 0, 0, loc)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "future today", raw: "21:15", want: time.Date(2025, 1, 1, 21, 15, 0, 0, loc)},
		{name: "passed rolls to tomorrow", raw: "18:30", want: time.Date(2025, 1, 2, 18, 30, 0, 0, loc)},
		{name: "exact now rolls to tomorrow", raw: "20:00", want: time.Date(2025, 1, 2, 20, 0, 0, 0, loc)},
		{name: "single digit hour", raw: "9:05", want: time.Date(2025, 1, 2, 9, 5, 0, 0, loc)},
		{name: "surrounding whitespace", raw: "  21:15 ", want: time.Date(2025, 1, 1, 21, 15, 0, 0, loc)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.raw, now)
			if !ok {
				t.Fatalf("Parse(%q) did not match", tt.raw)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	t.Parallel()
	loc := mustZone(t, "Europe/Amsterdam")
	now := time.Date(2025, 1, 1, 20, 0, 0, 0, loc)

	got, ok := Parse("2025-10-14 09:00", now)
	if !ok {
		t.Fatal("expected match")
	}
	want := time.Date(2025, 10, 14, 9, 0, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got.Location() != loc {
		t.Fatalf("location = %v, want %v", got.Location(), loc)
	}
}

func TestParseRelative(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		raw  string
		want time.Time
	}{
		{raw: "in 45m", want: now.Add(45 * time.Minute)},
		{raw: "in 10 min", want: now.Add(10 * time.Minute)},
		{raw: "in 2h", want: now.Add(2 * time.Hour)},
		{raw: "in 3hr", want: now.Add(3 * time.Hour)},
		{raw: "in 1d", want: now.AddDate(0, 0, 1)},
		{raw: "IN 5M", want: now.Add(5 * time.Minute)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := Parse(tt.raw, now)
			if !ok {
				t.Fatalf("Parse(%q) did not match", tt.raw)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Parse(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseNoMatch(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC)

	for _, raw := range []string{
		"",
		"tomorrow",
		"2025-02-30 10:00", // no such day
		"2025-13-01 10:00", // no such month
		"25:00",
		"12:70",
		"in 5w",
		"in m",
		"18.30",
	} {
		if _, ok := Parse(raw, now); ok {
			t.Errorf("Parse(%q) matched, want no match", raw)
		}
	}
}
