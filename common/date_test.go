package common

import (
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 15, 12, 30, 0, 0, time.UTC)

func TestParseDateUtc(t *testing.T) {
	tests := []struct {
		input    string
		endOfDay bool
		expect   time.Time
	}{
		{"2024-05-01", false, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{"2024-05-01", true, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		{"3d", false, testNow.AddDate(0, 0, -3)},
		{"2w", false, testNow.AddDate(0, 0, -14)},
		{"3d", true, testNow.AddDate(0, 0, -3)},
		{"2024-05-01T06:30:00", false, time.Date(2024, 5, 1, 6, 30, 0, 0, time.UTC)},
		{"2024-05-01T06:30:00+02:00", false, time.Date(2024, 5, 1, 4, 30, 0, 0, time.UTC)},
	}
	for _, test := range tests {
		got, err := ParseDateUtc(testNow, test.input, test.endOfDay)
		if err != nil {
			t.Fatalf("%s: %v", test.input, err)
		}
		if !got.Equal(test.expect) {
			t.Fatalf("%s: expected %s, got %s", test.input, test.expect, got)
		}
	}

	for _, bad := range []string{"", "yesterday", "2024-5-1", "d", "05-01-2024"} {
		if _, err := ParseDateUtc(testNow, bad, false); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestTimeRange(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 5, d, 0, 0, 0, 0, time.UTC) }

	if _, err := NewTimeRange(day(2), day(1)); err == nil {
		t.Fatal("expected error for inverted range")
	}
	r, err := NewTimeRange(day(1), day(3))
	if err != nil {
		t.Fatal(err)
	}
	if r.IsZeroLength() || !At(day(1)).IsZeroLength() {
		t.Fatal("zero-length detection wrong")
	}
	if !r.Contains(day(1)) || r.Contains(day(3)) {
		t.Fatal("half-open containment wrong")
	}

	other := TimeRange{Start: day(2), End: day(5)}
	if !r.Overlaps(other) || !other.Overlaps(r) {
		t.Fatal("overlapping ranges not detected")
	}
	if r.Overlaps(TimeRange{Start: day(3), End: day(4)}) {
		t.Fatal("ranges sharing only an endpoint must not overlap")
	}
	got := r.Intersect(other)
	if !got.Start.Equal(day(2)) || !got.End.Equal(day(3)) {
		t.Fatalf("unexpected intersection %s", got)
	}
	empty := r.Intersect(TimeRange{Start: day(4), End: day(5)})
	if !empty.IsZeroLength() {
		t.Fatalf("disjoint intersection must be empty, got %s", empty)
	}
}
