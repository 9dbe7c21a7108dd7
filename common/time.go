package common

import (
	"errors"
	"fmt"
	"time"
)

// TimeRange is a half-open interval of time: Start is inclusive, End is exclusive.  A range with
// End equal to Start is "zero-length" and still denotes a point in time; a range with End before
// Start is invalid and cannot be constructed through NewTimeRange.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func NewTimeRange(start, end time.Time) (TimeRange, error) {
	if end.Before(start) {
		return TimeRange{}, errors.New("Time range end precedes start")
	}
	return TimeRange{Start: start, End: end}, nil
}

// At returns the zero-length range denoting the point t.
func At(t time.Time) TimeRange {
	return TimeRange{Start: t, End: t}
}

func (r TimeRange) IsZeroLength() bool {
	return !r.End.After(r.Start)
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Overlaps is true if the two half-open ranges share at least one instant.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Intersect clips r to other.  The result may be empty (Start == End) if the ranges are disjoint.
func (r TimeRange) Intersect(other TimeRange) TimeRange {
	start := r.Start
	if other.Start.After(start) {
		start = other.Start
	}
	end := r.End
	if other.End.Before(end) {
		end = other.End
	}
	if end.Before(start) {
		end = start
	}
	return TimeRange{Start: start, End: end}
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
