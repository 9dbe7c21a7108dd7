// The jobinfo capability: job id -> earliest start, latest end, and the set of nodes used.
//
// Two providers are shipped.  The file provider scans per-day workload-manager accounting dumps
// located through a site template; the db provider asks a jobs database through the caching
// connector.  Sites order them as they see fit.

package jobinfo

import (
	"fmt"
	"slices"
	"time"

	"iostitch/errs"
	"iostitch/providers"
)

const Capability = "jobinfo"

// Info is the capability's result value.
type Info struct {
	JobID string    `json:"jobid"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Nodes []string  `json:"nodes"`
}

// RequestFor builds the capability request for a job id, optionally with a reference time that
// narrows the file search window.
func RequestFor(jobid string, at time.Time) providers.Request {
	req := providers.Request{"jobid": jobid}
	if !at.IsZero() {
		req["time"] = at.UTC().Format(time.RFC3339)
	}
	return req
}

func jobidOf(req providers.Request) (string, error) {
	jobid := req["jobid"]
	if jobid == "" {
		return "", fmt.Errorf("jobinfo request carries no jobid")
	}
	return jobid, nil
}

func referenceTime(req providers.Request) (time.Time, error) {
	if s := req["time"]; s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad time in jobinfo request: %v", err)
		}
		return t, nil
	}
	return time.Now().UTC(), nil
}

// merge folds one accounting record into the accumulated Info: earliest start, latest end, node
// union.  Zero times (still-running steps) do not move the bounds.
func (info *Info) merge(start, end time.Time, nodes []string) {
	if !start.IsZero() && (info.Start.IsZero() || start.Before(info.Start)) {
		info.Start = start
	}
	if !end.IsZero() && end.After(info.End) {
		info.End = end
	}
	for _, n := range nodes {
		if n != "" && !slices.Contains(info.Nodes, n) {
			info.Nodes = append(info.Nodes, n)
		}
	}
}

func (info *Info) empty() bool {
	return info.Start.IsZero() && info.End.IsZero() && len(info.Nodes) == 0
}

func noRecord(jobid string) error {
	return fmt.Errorf("%w: no record of job %s", errs.ErrNoData, jobid)
}
