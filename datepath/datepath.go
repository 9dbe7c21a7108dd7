// Time-indexed path resolution.
//
// Monitoring data are scattered across per-period files (normally one file per calendar day) whose
// locations are described by site-defined templates with strftime-style placeholders.  A template
// is a recursive value: a literal pattern, an ordered list of alternative patterns to try for the
// same period, or a mapping from a selector key (a logical file system name, say) to another
// template.  Resolving a template against a time range yields, per period, the ordered group of
// candidate paths that may hold that period's data.
//
// Template validity is checked at first use, not at load time: whether a template is well formed
// can depend on which selector key is requested.

package datepath

import (
	"iter"
	"os"
	"time"

	"github.com/lestrrat-go/strftime"

	"iostitch/common"
	"iostitch/errs"
)

// Template is a tagged variant: exactly one of pattern, alts, keyed is set.  Construct with
// Literal, Alternatives, or Keyed; the zero Template is invalid.
type Template struct {
	pattern string
	alts    []*Template
	keyed   map[string]*Template
}

func Literal(pattern string) *Template {
	return &Template{pattern: pattern}
}

func Alternatives(alts ...*Template) *Template {
	return &Template{alts: alts}
}

func Keyed(m map[string]*Template) *Template {
	return &Template{keyed: m}
}

// InOrder: expansion of an Alternatives template preserves try order, and the caller is expected
// to use the first candidate that exists and opens cleanly.
func (t *Template) expand(selector string) ([]*strftime.Strftime, error) {
	switch {
	case t == nil:
		return nil, errs.Configuration("nil template")
	case t.pattern != "":
		f, err := strftime.New(t.pattern)
		if err != nil {
			return nil, errs.Configuration("bad template pattern %q: %v", t.pattern, err)
		}
		return []*strftime.Strftime{f}, nil
	case t.alts != nil:
		var fs []*strftime.Strftime
		for _, alt := range t.alts {
			sub, err := alt.expand(selector)
			if err != nil {
				return nil, err
			}
			fs = append(fs, sub...)
		}
		return fs, nil
	case t.keyed != nil:
		if selector == "" {
			return nil, errs.Configuration("keyed template requires a selector")
		}
		sub, found := t.keyed[selector]
		if !found {
			return nil, errs.Configuration("no template entry for selector %q", selector)
		}
		return sub.expand(selector)
	default:
		return nil, errs.Configuration("empty template")
	}
}

// PathGroup is the candidate paths for one period, in try order, along with the period itself.
type PathGroup struct {
	Period common.TimeRange
	Paths  []string
}

// Resolver formats templates with one fixed time zone.  Templates embed human-readable dates, so
// a site must pick a single zone and stick to it or files will be missed around midnight.
type Resolver struct {
	// MT: Immutable after initialization
	loc    *time.Location
	period time.Duration
}

// Daily is the default period length.
const Daily = 24 * time.Hour

func NewResolver(loc *time.Location) *Resolver {
	return NewResolverWithPeriod(loc, Daily)
}

// NewResolverWithPeriod allows sub-day period files (eg hourly containers).  period must evenly
// divide a day or be a whole multiple of a day.
func NewResolverWithPeriod(loc *time.Location, period time.Duration) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	if period <= 0 {
		period = Daily
	}
	return &Resolver{loc: loc, period: period}
}

func (r *Resolver) Location() *time.Location {
	return r.loc
}

// PeriodStart returns the start of the period containing t, in the resolver's zone.
func (r *Resolver) PeriodStart(t time.Time) time.Time {
	t = t.In(r.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.loc)
	if r.period >= Daily {
		return midnight
	}
	return midnight.Add(t.Sub(midnight) / r.period * r.period)
}

func (r *Resolver) nextPeriod(p time.Time) time.Time {
	if r.period >= Daily {
		// AddDate rather than Add so that DST transitions in zoned installations keep periods
		// aligned to civil midnight.
		return p.AddDate(0, 0, int(r.period/Daily))
	}
	return p.Add(r.period)
}

// periods yields the start of every period intersecting rng, ascending.  A zero-length range
// yields the one period containing rng.Start.  The sequence is finite and restartable.
func (r *Resolver) periods(rng common.TimeRange) iter.Seq[time.Time] {
	first := r.PeriodStart(rng.Start)
	return func(yield func(time.Time) bool) {
		for p := first; p.Before(rng.End) || p.Equal(first); p = r.nextPeriod(p) {
			if !yield(p) {
				return
			}
		}
	}
}

// Sequence returns a restartable sequence of per-period candidate path groups spanning rng, in
// strictly ascending time order.  Template problems surface here, before any period is visited.
func (r *Resolver) Sequence(
	tmpl *Template,
	selector string,
	rng common.TimeRange,
) (iter.Seq[PathGroup], error) {
	patterns, err := tmpl.expand(selector)
	if err != nil {
		return nil, err
	}
	return func(yield func(PathGroup) bool) {
		for p := range r.periods(rng) {
			paths := make([]string, len(patterns))
			for i, pat := range patterns {
				paths[i] = pat.FormatString(p)
			}
			g := PathGroup{
				Period: common.TimeRange{Start: p, End: r.nextPeriod(p)},
				Paths:  paths,
			}
			if !yield(g) {
				return
			}
		}
	}, nil
}

// Resolve is Sequence collected into a slice.
func (r *Resolver) Resolve(
	tmpl *Template,
	selector string,
	rng common.TimeRange,
) ([]PathGroup, error) {
	seq, err := r.Sequence(tmpl, selector, rng)
	if err != nil {
		return nil, err
	}
	groups := make([]PathGroup, 0)
	for g := range seq {
		groups = append(groups, g)
	}
	return groups, nil
}

// ResolveAt returns the candidate paths for the single period containing t, in try order.
func (r *Resolver) ResolveAt(tmpl *Template, selector string, t time.Time) ([]string, error) {
	groups, err := r.Resolve(tmpl, selector, common.At(t))
	if err != nil {
		return nil, err
	}
	return groups[0].Paths, nil
}

// Existing resolves rng and keeps, per period, the first candidate that exists on disk.  Periods
// with no existing candidate are skipped.  This is the convenience used by providers that just
// want "the files for these days"; the series assembler instead keeps the full groups so that it
// can account for missing periods.
func (r *Resolver) Existing(
	tmpl *Template,
	selector string,
	rng common.TimeRange,
) ([]string, error) {
	seq, err := r.Sequence(tmpl, selector, rng)
	if err != nil {
		return nil, err
	}
	found := make([]string, 0)
	for g := range seq {
		for _, path := range g.Paths {
			if _, err := os.Stat(path); err == nil {
				found = append(found, path)
				break
			}
		}
	}
	return found, nil
}
