// The lfsstatus capability: (filesystem, time) -> fullness.
//
// The file provider reads per-day file-system status dumps (df output captured by a cron job)
// located by a site template.  Each file holds whitespace-separated lines
//
//	<filesystem> <total-kib> <used-kib>
//
// one line per file system; unrecognized lines are ignored.  The file for the period containing
// the requested time answers the query; if that file names no such file system the provider
// reports no-data and the chain moves on.

package lfsstatus

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"iostitch/datepath"
	"iostitch/errs"
	"iostitch/providers"
)

const Capability = "lfsstatus"

// Status is the capability's result value.
type Status struct {
	Filesystem string `json:"filesystem"`
	TotalKiB   int64  `json:"total_kib"`
	UsedKiB    int64  `json:"used_kib"`
}

// Fullness is the used fraction in [0, 1].
func (s *Status) Fullness() float64 {
	if s.TotalKiB <= 0 {
		return 0
	}
	return float64(s.UsedKiB) / float64(s.TotalKiB)
}

// RequestFor builds the capability request for a file system at a point in time.
func RequestFor(filesystem string, at time.Time) providers.Request {
	req := providers.Request{"filesystem": filesystem}
	if !at.IsZero() {
		req["time"] = at.UTC().Format(time.RFC3339)
	}
	return req
}

type FileProvider struct {
	// MT: Immutable after initialization
	resolver *datepath.Resolver
	template *datepath.Template
}

var _ = providers.Provider((*FileProvider)(nil))

func NewFileProvider(resolver *datepath.Resolver, template *datepath.Template) *FileProvider {
	return &FileProvider{resolver: resolver, template: template}
}

func (p *FileProvider) Resolve(ctx context.Context, req providers.Request) (any, error) {
	fsname := req["filesystem"]
	if fsname == "" {
		return nil, fmt.Errorf("lfsstatus request carries no filesystem")
	}
	at := time.Now().UTC()
	if s := req["time"]; s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("bad time in lfsstatus request: %v", err)
		}
		at = t
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	paths, err := p.resolver.ResolveAt(p.template, "", at)
	if err != nil {
		return nil, err
	}
	for _, fn := range paths {
		status, err := scanStatusFile(fn, fsname)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if status != nil {
			return status, nil
		}
		// The day's file exists but names no such file system; per match-first semantics we do
		// not go looking in lower-priority locations.
		break
	}
	return nil, fmt.Errorf("%w: no status for %s on %s",
		errs.ErrNoData, fsname, at.Format("2006-01-02"))
}

func scanStatusFile(filename, fsname string) (*Status, error) {
	input, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer input.Close()

	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 || fields[0] != fsname {
			continue
		}
		total, err1 := strconv.ParseInt(fields[1], 10, 64)
		used, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		return &Status{Filesystem: fsname, TotalKiB: total, UsedKiB: used}, nil
	}
	return nil, scanner.Err()
}
