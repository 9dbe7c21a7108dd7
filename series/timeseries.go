// An in-memory mutable time-series grid, used by archivers to accumulate incoming samples before
// they are written out as a period-file dataset.  The grid has a fixed timestamp index computed
// from start, end and timestep at creation; columns can be added as new entities appear.  Cells
// start out missing (NaN value, mask set) and become valid when a sample is inserted - a missing
// cell is never conflated with a zero sample.

package series

import (
	"math"
	"slices"
	"time"

	"iostitch/db/periodfile"
)

type TimeSeries struct {
	name       string
	timestamps []int64
	timestep   int64
	columns    []string
	colIndex   map[string]int
	values     [][]float64
	missing    [][]bool
}

func NewTimeSeries(name string, start, end time.Time, timestep time.Duration, columns []string) *TimeSeries {
	step := int64(timestep / time.Second)
	if step <= 0 {
		step = 1
	}
	t0 := start.Unix() / step * step
	timestamps := make([]int64, 0)
	for t := t0; t < end.Unix(); t += step {
		timestamps = append(timestamps, t)
	}
	ts := &TimeSeries{
		name:       name,
		timestamps: timestamps,
		timestep:   step,
		colIndex:   make(map[string]int),
		values:     make([][]float64, len(timestamps)),
		missing:    make([][]bool, len(timestamps)),
	}
	for _, c := range columns {
		ts.AddColumn(c)
	}
	return ts
}

func (ts *TimeSeries) Name() string {
	return ts.name
}

func (ts *TimeSeries) Columns() []string {
	return slices.Clone(ts.columns)
}

// AddColumn appends a column for the entity if it is not present and returns its index.
func (ts *TimeSeries) AddColumn(name string) int {
	if ix, found := ts.colIndex[name]; found {
		return ix
	}
	ix := len(ts.columns)
	ts.columns = append(ts.columns, name)
	ts.colIndex[name] = ix
	for i := range ts.values {
		ts.values[i] = append(ts.values[i], math.NaN())
		ts.missing[i] = append(ts.missing[i], true)
	}
	return ix
}

// rowFor maps a timestamp onto its grid row, or -1 if it falls outside the grid.
func (ts *TimeSeries) rowFor(t int64) int {
	if len(ts.timestamps) == 0 || t < ts.timestamps[0] {
		return -1
	}
	row := int((t - ts.timestamps[0]) / ts.timestep)
	if row >= len(ts.timestamps) {
		return -1
	}
	return row
}

// Insert stores value at (t, column), creating the column on demand.  If the cell already holds a
// valid sample and reduce is non-nil, the stored value becomes reduce(old, value); with a nil
// reduce the new value wins.  Returns false if t is outside the grid.
func (ts *TimeSeries) Insert(t int64, column string, value float64, reduce func(old, new float64) float64) bool {
	row := ts.rowFor(t)
	if row < 0 {
		return false
	}
	col := ts.AddColumn(column)
	if !ts.missing[row][col] && reduce != nil {
		value = reduce(ts.values[row][col], value)
	}
	ts.values[row][col] = value
	ts.missing[row][col] = false
	return true
}

// ConvertToDeltas replaces each row with the difference to the following row and drops the last
// row, turning monotonic counter samples into per-step traffic.  A delta is valid only when both
// endpoints are; a negative delta means the counter reset and is masked rather than reported as
// negative traffic.
func (ts *TimeSeries) ConvertToDeltas() {
	if len(ts.timestamps) == 0 {
		return
	}
	last := len(ts.timestamps) - 1
	for row := 0; row < last; row++ {
		for col := range ts.columns {
			delta := ts.values[row+1][col] - ts.values[row][col]
			if ts.missing[row][col] || ts.missing[row+1][col] || delta < 0 {
				ts.values[row][col] = math.NaN()
				ts.missing[row][col] = true
			} else {
				ts.values[row][col] = delta
			}
		}
	}
	ts.timestamps = ts.timestamps[:last]
	ts.values = ts.values[:last]
	ts.missing = ts.missing[:last]
}

// Dataset freezes the grid into a period-file dataset.  The mask is always emitted: an archiver
// that saw no sample for a cell must record it as missing, not as zero.
func (ts *TimeSeries) Dataset() *periodfile.Dataset {
	values := make([][]float64, len(ts.values))
	missing := make([][]bool, len(ts.missing))
	for i := range ts.values {
		values[i] = slices.Clone(ts.values[i])
		missing[i] = slices.Clone(ts.missing[i])
	}
	return &periodfile.Dataset{
		Name:       ts.name,
		Timestamps: slices.Clone(ts.timestamps),
		Columns:    slices.Clone(ts.columns),
		Values:     values,
		Missing:    missing,
	}
}
