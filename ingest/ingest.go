// `iostitch ingest` - Kafka consumer that turns a stream of metric samples into period files.
//
// Collectors publish one JSON object per sample:
//
//	{"metric": "ostreads", "host": "oss-101", "time": "2024-05-01T12:00:00Z", "value": 1234.5}
//
// with an optional "selector" field for metrics whose template is keyed.  Samples are binned
// onto the metric's time grid, one column per host, and the accumulated grids are merged into
// the period files that the query side reads.  The consumer keeps running across bad messages;
// only broker-level failures end the run.

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"iostitch/common"
	"iostitch/config"
	"iostitch/datepath"
	"iostitch/db/periodfile"
	"iostitch/errs"
	"iostitch/series"
)

const (
	consumerGroup   = "iostitch-ingest"
	defaultTimestep = 60 * time.Second
)

type sample struct {
	Metric   string  `json:"metric"`
	Host     string  `json:"host"`
	Time     string  `json:"time"`
	Value    float64 `json:"value"`
	Selector string  `json:"selector,omitempty"`
}

// Accumulator bins samples onto per-period time grids and writes them out as period files.  One
// grid is kept open per (metric, selector, period); Flush merges every open grid into its file
// and empties the accumulator.  Not goroutine-safe, the consumer loop is single-threaded.
type Accumulator struct {
	resolver *datepath.Resolver
	metrics  map[string]config.MetricConfig
	compress bool
	open     map[string]*openGrid
}

type openGrid struct {
	path   string
	grid   *series.TimeSeries
	deltas bool // convert to per-step deltas at flush time
	frozen bool // deltas already applied by a failed flush that is being retried
}

func NewAccumulator(
	resolver *datepath.Resolver,
	metrics map[string]config.MetricConfig,
	compress bool,
) *Accumulator {
	return &Accumulator{
		resolver: resolver,
		metrics:  metrics,
		compress: compress,
		open:     make(map[string]*openGrid),
	}
}

// Add parses one sample message and records it on the grid for its period.  Unknown metrics and
// malformed messages are errors; the caller decides whether to drop or abort.
func (a *Accumulator) Add(data []byte) error {
	var s sample
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("Malformed sample: %w", err)
	}
	mc, found := a.metrics[s.Metric]
	if !found {
		return fmt.Errorf("Sample for unconfigured metric %q", s.Metric)
	}
	when, err := time.Parse(time.RFC3339, s.Time)
	if err != nil {
		return fmt.Errorf("Malformed sample time %q: %w", s.Time, err)
	}

	key := s.Metric + "\x00" + s.Selector + "\x00" + a.resolver.PeriodStart(when).UTC().Format(time.RFC3339)
	og, found := a.open[key]
	if !found {
		groups, err := a.resolver.Resolve(mc.Template.Template(), s.Selector, common.At(when))
		if err != nil {
			return err
		}
		g := groups[0]
		timestep := defaultTimestep
		if mc.TimestepSeconds > 0 {
			timestep = time.Duration(mc.TimestepSeconds) * time.Second
		}
		og = &openGrid{
			// New files go to the first candidate path; the alternatives exist for reading
			// legacy layouts.
			path:   g.Paths[0],
			grid:   series.NewTimeSeries(mc.Dataset, g.Period.Start, g.Period.End, timestep, nil),
			deltas: mc.Deltas,
		}
		a.open[key] = og
	}
	og.grid.Insert(when.Unix(), s.Host, s.Value, nil)
	return nil
}

// Flush writes every open grid into its period file and empties the accumulator.  An existing
// file's other datasets are carried over; a dataset with the same name is replaced wholesale,
// which makes reingestion of a period idempotent.
func (a *Accumulator) Flush(ctx context.Context) error {
	var firstErr error
	for key, og := range a.open {
		if err := a.flushOne(ctx, og); err != nil {
			common.Log.Warnf("flush %s: %v", og.path, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(a.open, key)
	}
	return firstErr
}

func (a *Accumulator) flushOne(ctx context.Context, og *openGrid) error {
	if og.deltas && !og.frozen {
		og.grid.ConvertToDeltas()
		og.frozen = true
	}
	fresh := og.grid.Dataset()
	datasets := []*periodfile.Dataset{fresh}
	names, err := periodfile.List(ctx, og.path)
	switch {
	case err == nil:
		for _, name := range names {
			if name == fresh.Name {
				continue
			}
			ds, err := periodfile.ReadDataset(ctx, og.path, name)
			if err != nil {
				return err
			}
			datasets = append(datasets, ds)
		}
	case errors.Is(err, errs.ErrFileAbsent):
		// First write for this period.
	default:
		return err
	}
	return periodfile.Write(og.path, datasets, a.compress)
}

// Pending returns the number of open grids, for the consumer's progress logging.
func (a *Accumulator) Pending() int {
	return len(a.open)
}

// Run consumes the configured topics until ctx is cancelled, flushing accumulated grids after
// every poll.  Per-message failures are logged and dropped; only client-level failures return.
func Run(ctx context.Context, cfg *config.Config) error {
	if cfg.Kafka.Broker == "" || len(cfg.Kafka.Topics) == 0 {
		return errs.Configuration("ingest requires kafka.broker and kafka.topics in the site configuration")
	}
	resolver := datepath.NewResolver(cfg.Location())
	acc := NewAccumulator(resolver, cfg.Metrics, true)

	cl, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Kafka.Broker),
		kgo.ConsumerGroup(consumerGroup),
		kgo.ConsumeTopics(cfg.Kafka.Topics...),
	)
	if err != nil {
		return fmt.Errorf("Failed to create kafka client: %w", err)
	}
	defer cl.Close()
	common.Log.Infof("consuming %v from %s", cfg.Kafka.Topics, cfg.Kafka.Broker)

	for {
		fetches := cl.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			// Write out what we have before going down.
			if err := acc.Flush(context.Background()); err != nil {
				common.Log.Warnf("final flush: %v", err)
			}
			return errs.Cancellation(context.Canceled)
		}
		if ferrs := fetches.Errors(); len(ferrs) > 0 {
			// Retriable errors are handled inside the client; what reaches us is worth seeing
			// but rarely fatal.
			common.Log.Warnf("fetch errors: %v", ferrs)
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()
			if err := acc.Add(record.Value); err != nil {
				common.Log.Infof("dropping sample on %s: %v", record.Topic, err)
			}
		}
		if acc.Pending() > 0 {
			common.Log.Debugf("flushing %d grids", acc.Pending())
		}
		if err := acc.Flush(ctx); err != nil {
			common.Log.Warnf("flush: %v", err)
		}
		if err := cl.CommitUncommittedOffsets(ctx); err != nil {
			common.Log.Warnf("commit failed: %v", err)
		}
	}
}
