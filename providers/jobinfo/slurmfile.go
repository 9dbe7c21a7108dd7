// File-backed jobinfo provider.  Accounting records are dumped once per day into files located by
// a site template; each file holds pipe-separated lines
//
//	JobID|Start|End|NodeList
//
// with one line per job or job step (1234, 1234.batch, 1234.0, ...).  Times are on the form
// 2006-01-02T15:04:05 in the site zone, or the literal "Unknown" for steps still running when the
// dump was taken.  Node lists are comma-separated.

package jobinfo

import (
	"bufio"
	"context"
	"os"
	"slices"
	"strings"
	"time"

	"iostitch/common"
	"iostitch/datepath"
	"iostitch/providers"
)

const acctTimeFormat = "2006-01-02T15:04:05"

type FileProvider struct {
	// MT: Immutable after initialization
	resolver *datepath.Resolver
	template *datepath.Template
	lookback time.Duration
}

var _ = providers.Provider((*FileProvider)(nil))

func NewFileProvider(
	resolver *datepath.Resolver,
	template *datepath.Template,
	lookback time.Duration,
) *FileProvider {
	return &FileProvider{resolver: resolver, template: template, lookback: lookback}
}

func (p *FileProvider) Resolve(ctx context.Context, req providers.Request) (any, error) {
	jobid, err := jobidOf(req)
	if err != nil {
		return nil, err
	}
	ref, err := referenceTime(req)
	if err != nil {
		return nil, err
	}
	// A job referenced at time T may have started up to lookback earlier and its records are
	// dumped at end of day, so search [T-lookback, T+1d).
	rng := common.TimeRange{Start: ref.Add(-p.lookback), End: ref.AddDate(0, 0, 1)}
	files, err := p.resolver.Existing(p.template, "", rng)
	if err != nil {
		return nil, err
	}

	var info Info
	info.JobID = jobid
	for _, fn := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.scanFile(fn, jobid, &info); err != nil {
			return nil, err
		}
	}
	if info.empty() {
		return nil, noRecord(jobid)
	}
	slices.Sort(info.Nodes)
	return &info, nil
}

// scanFile folds all records for jobid (the job and its steps) in the file into info.  Lines that
// don't parse are dropped with a log message rather than failing the lookup; accounting dumps
// routinely contain noise.
func (p *FileProvider) scanFile(filename, jobid string, info *Info) error {
	input, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer input.Close()

	dropped := 0
	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Split(line, "|")
		if len(fields) < 4 {
			dropped++
			continue
		}
		id := fields[0]
		if id != jobid && !strings.HasPrefix(id, jobid+".") {
			continue
		}
		start, startErr := p.parseTime(fields[1])
		end, endErr := p.parseTime(fields[2])
		if startErr != nil && endErr != nil {
			dropped++
			continue
		}
		info.merge(start, end, strings.Split(fields[3], ","))
	}
	if dropped > 0 {
		common.Log.Infof("%s: %d undecodable accounting lines dropped", filename, dropped)
	}
	return scanner.Err()
}

// parseTime maps "Unknown" (a running step) to the zero time.
func (p *FileProvider) parseTime(s string) (time.Time, error) {
	if s == "" || s == "Unknown" || s == "None" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(acctTimeFormat, s, p.resolver.Location())
}
