package series

import (
	"math"
	"slices"
	"testing"
	"time"
)

func TestTimeSeriesGrid(t *testing.T) {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	ts := NewTimeSeries("readrate", start, end, time.Hour, []string{"ost0"})

	ds := ts.Dataset()
	if len(ds.Timestamps) != 24 {
		t.Fatal(len(ds.Timestamps))
	}
	if !ds.IsMissing(0, 0) || !math.IsNaN(ds.Values[0][0]) {
		t.Fatal("fresh grid cells must be missing")
	}

	if !ts.Insert(start.Add(3*time.Hour).Unix(), "ost0", 17, nil) {
		t.Fatal("insert inside grid failed")
	}
	if ts.Insert(end.Unix(), "ost0", 1, nil) {
		t.Fatal("insert past the grid must be rejected")
	}
	// A sample not aligned to the timestep lands in its enclosing step.
	if !ts.Insert(start.Add(3*time.Hour+17*time.Minute).Unix(), "ost1", 4, nil) {
		t.Fatal("insert failed")
	}

	ds = ts.Dataset()
	if !slices.Equal(ds.Columns, []string{"ost0", "ost1"}) {
		t.Fatal(ds.Columns)
	}
	if ds.Values[3][0] != 17 || ds.IsMissing(3, 0) {
		t.Fatal(ds.Values[3])
	}
	if ds.Values[3][1] != 4 {
		t.Fatal(ds.Values[3])
	}
	// The late column is backfilled as missing in earlier rows.
	if !ds.IsMissing(0, 1) {
		t.Fatal("backfilled column must be missing")
	}
}

func TestTimeSeriesReduce(t *testing.T) {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	ts := NewTimeSeries("x", start, start.Add(time.Hour), time.Minute, nil)

	at := start.Add(5 * time.Minute).Unix()
	ts.Insert(at, "a", 10, nil)
	// Reducer applies only when a valid sample is already present.
	ts.Insert(at, "a", 7, func(old, new float64) float64 { return max(old, new) })
	ds := ts.Dataset()
	if ds.Values[5][0] != 10 {
		t.Fatal(ds.Values[5])
	}
	// Without a reducer the last write wins.
	ts.Insert(at, "a", 3, nil)
	if ts.Dataset().Values[5][0] != 3 {
		t.Fatal("last write should win without a reducer")
	}
}

func TestTimeSeriesDeltas(t *testing.T) {
	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	ts := NewTimeSeries("x", start, start.Add(5*time.Minute), time.Minute, nil)

	for i, v := range []float64{100, 150, 130, 160} {
		ts.Insert(start.Add(time.Duration(i)*time.Minute).Unix(), "a", v, nil)
	}
	// Row 4 has no sample.
	ts.ConvertToDeltas()

	ds := ts.Dataset()
	if len(ds.Timestamps) != 4 {
		t.Fatal("delta conversion must drop the last row")
	}
	if ds.Values[0][0] != 50 || ds.Values[2][0] != 30 {
		t.Fatal(ds.Values)
	}
	// 150 -> 130 is a counter reset, masked rather than negative.
	if !ds.IsMissing(1, 0) {
		t.Fatal("negative delta must be masked")
	}
	// The delta ending in the sampleless row is likewise masked.
	if !ds.IsMissing(3, 0) {
		t.Fatal("delta with a missing endpoint must be masked")
	}
}
