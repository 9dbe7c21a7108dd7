// Cross-file time-series assembly.
//
// A query names a metric and a time range; the assembler turns that into the ordered set of
// per-period candidate files, reads each period, trims each period's rows to the query window, and
// concatenates the slices into one chronologically ordered result.  Periods whose files cannot be
// located are recorded as gaps - the assembler reports missing data, it never fabricates it.
//
// Periods are independent, so they are read by a small pool of workers; results are joined back by
// period index so that the output never depends on completion order and a sequential run produces
// a bit-identical result.

package series

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"iostitch/common"
	"iostitch/datepath"
	"iostitch/db/periodfile"
	"iostitch/errs"
)

// Metric describes one queryable series: where its period files live and which dataset within
// them holds the data.  Loaded from site configuration; immutable thereafter.
type Metric struct {
	Dataset  string
	Template *datepath.Template
}

// Gap is a time subrange for which no data could be produced, with the reason.
type Gap struct {
	Range  common.TimeRange
	Reason string
}

// Assembled is the result of a series query: one ascending timestamp index (Unix seconds), entity
// columns unioned across periods in first-seen order, and the value matrix with its missing-data
// mask.  A cell is missing (mask true, value NaN) when its period file flagged it, or when the
// entity had no column in that period's file.  Whole periods that produced no rows at all are
// listed in Gaps and contribute no rows.  Built fresh per query, never persisted.
type Assembled struct {
	Metric     string
	Selector   string
	Range      common.TimeRange
	Timestamps []int64
	Columns    []string
	Values     [][]float64
	Missing    [][]bool
	Gaps       []Gap
}

type Assembler struct {
	// MT: Immutable after initialization
	resolver *datepath.Resolver
	metrics  map[string]Metric
	workers  int
}

func NewAssembler(resolver *datepath.Resolver, metrics map[string]Metric) *Assembler {
	return &Assembler{
		resolver: resolver,
		metrics:  metrics,
		workers:  runtime.NumCPU(),
	}
}

// SetWorkers bounds the per-query read pool; n < 1 forces sequential reads.  Parallelism is an
// optimization only, the result is identical either way.
func (a *Assembler) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	a.workers = n
}

type periodOutcome struct {
	ds  *periodfile.Dataset
	err error // nil, ErrFileAbsent, ErrDatasetAbsent, CorruptDataError or cancellation
}

// readPeriod tries the period's candidate paths in template order and returns the first that
// exists and opens; only a file that is absent moves on to the next candidate.
func readPeriod(ctx context.Context, group datepath.PathGroup, dataset string) periodOutcome {
	var last error
	for _, path := range group.Paths {
		ds, err := periodfile.ReadDataset(ctx, path, dataset)
		if err == nil {
			return periodOutcome{ds: ds}
		}
		last = err
		if !errors.Is(err, errs.ErrFileAbsent) {
			break
		}
	}
	return periodOutcome{err: last}
}

// Query assembles the named metric over rng.  Under the default mode, missing periods and corrupt
// period files degrade to gaps; under strict mode any gap aborts with IncompleteDataError and
// corrupt data aborts with the CorruptDataError itself.  Configuration errors and cancellation
// always propagate.
func (a *Assembler) Query(
	ctx context.Context,
	metric string,
	selector string,
	rng common.TimeRange,
	strict bool,
) (*Assembled, error) {
	m, found := a.metrics[metric]
	if !found {
		return nil, errs.Configuration("no template registered for metric %q", metric)
	}
	dataset := m.Dataset
	if dataset == "" {
		dataset = metric
	}

	groups, err := a.resolver.Resolve(m.Template, selector, rng)
	if err != nil {
		return nil, err
	}

	outcomes := a.readAll(ctx, groups, dataset)
	for _, out := range outcomes {
		if out.err != nil && errors.Is(out.err, errs.ErrCancelled) {
			return nil, out.err
		}
	}

	result := &Assembled{
		Metric:   metric,
		Selector: selector,
		Range:    rng,
		Gaps:     make([]Gap, 0),
	}
	colIndex := make(map[string]int)

	for i, out := range outcomes {
		subrange := groups[i].Period.Intersect(rng)
		if rng.IsZeroLength() {
			subrange = groups[i].Period
		}
		if out.err != nil {
			if errs.IsCorrupt(out.err) && strict {
				return nil, out.err
			}
			result.Gaps = append(result.Gaps, Gap{Range: subrange, Reason: gapReason(out.err)})
			continue
		}
		appendPeriod(result, colIndex, out.ds, subrange)
	}

	if strict && len(result.Gaps) > 0 {
		return nil, errs.Incomplete("%d missing subranges in %s, first %s (%s)",
			len(result.Gaps), rng, result.Gaps[0].Range, result.Gaps[0].Reason)
	}
	return result, nil
}

func gapReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrFileAbsent):
		return "period file absent"
	case errors.Is(err, errs.ErrDatasetAbsent):
		return "dataset absent"
	default:
		return err.Error()
	}
}

// readAll reads every period, joining results back in period order.
func (a *Assembler) readAll(
	ctx context.Context,
	groups []datepath.PathGroup,
	dataset string,
) []periodOutcome {
	outcomes := make([]periodOutcome, len(groups))
	workers := min(a.workers, len(groups))
	if workers <= 1 {
		for i, g := range groups {
			outcomes[i] = readPeriod(ctx, g, dataset)
		}
		return outcomes
	}
	jobs := make(chan int, len(groups))
	for i := range groups {
		jobs <- i
	}
	close(jobs)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = readPeriod(ctx, groups[i], dataset)
			}
		}()
	}
	wg.Wait()
	return outcomes
}

// appendPeriod trims ds to subrange and appends its rows, growing the column union as new entity
// labels appear.  Entities unseen in this period get NaN + mask for its rows.
func appendPeriod(
	result *Assembled,
	colIndex map[string]int,
	ds *periodfile.Dataset,
	subrange common.TimeRange,
) {
	// Map this period's columns into the union, extending it as needed.
	target := make([]int, len(ds.Columns))
	for j, label := range ds.Columns {
		ix, found := colIndex[label]
		if !found {
			ix = len(result.Columns)
			colIndex[label] = ix
			result.Columns = append(result.Columns, label)
			// Retrofit NaN onto rows already emitted.
			for r := range result.Values {
				result.Values[r] = append(result.Values[r], math.NaN())
				result.Missing[r] = append(result.Missing[r], true)
			}
		}
		target[j] = ix
	}

	lo := subrange.Start.Unix()
	hi := subrange.End.Unix()
	for row := 0; row < ds.Rows(); row++ {
		t := ds.Timestamps[row]
		if t < lo || t >= hi {
			continue
		}
		width := len(result.Columns)
		values := make([]float64, width)
		missing := make([]bool, width)
		for k := range values {
			values[k] = math.NaN()
			missing[k] = true
		}
		for j, ix := range target {
			if ds.IsMissing(row, j) {
				continue
			}
			values[ix] = ds.Values[row][j]
			missing[ix] = false
		}
		result.Timestamps = append(result.Timestamps, t)
		result.Values = append(result.Values, values)
		result.Missing = append(result.Missing, missing)
	}
}

// String summarizes the result for logs.
func (r *Assembled) String() string {
	return fmt.Sprintf("%s/%s %s: %d rows x %d columns, %d gaps",
		r.Metric, r.Selector, r.Range, len(r.Timestamps), len(r.Columns), len(r.Gaps))
}
