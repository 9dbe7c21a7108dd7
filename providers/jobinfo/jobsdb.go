// Database-backed jobinfo provider, reading a jobs summary table through the caching connector.
// With an exported cache file this provider runs fully offline.

package jobinfo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"iostitch/cachingdb"
	"iostitch/providers"
)

const jobQuery = `
SELECT start_time, end_time, nodelist
FROM job_summary
WHERE jobid = $1`

type DbProvider struct {
	// MT: Immutable after initialization
	db *cachingdb.DB
}

var _ = providers.Provider((*DbProvider)(nil))

func NewDbProvider(db *cachingdb.DB) *DbProvider {
	return &DbProvider{db: db}
}

func (p *DbProvider) Resolve(ctx context.Context, req providers.Request) (any, error) {
	jobid, err := jobidOf(req)
	if err != nil {
		return nil, err
	}
	res, err := p.db.Get(ctx, jobQuery, jobid)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, noRecord(jobid)
	}

	var info Info
	info.JobID = jobid
	for _, row := range res.Rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("malformed job_summary row for job %s", jobid)
		}
		start, err := asEpoch(row[0])
		if err != nil {
			return nil, err
		}
		end, err := asEpoch(row[1])
		if err != nil {
			return nil, err
		}
		nodes, _ := row[2].(string)
		info.merge(start, end, strings.Split(nodes, ","))
	}
	if info.empty() {
		return nil, noRecord(jobid)
	}
	return &info, nil
}

// asEpoch accepts the value shapes the connector normalizes to: Unix seconds or an RFC3339
// string.  NULL (a running job) is the zero time.
func asEpoch(v any) (time.Time, error) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, nil
	case int64:
		return time.Unix(x, 0).UTC(), nil
	case float64:
		return time.Unix(int64(x), 0).UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, x)
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T in job_summary", v)
	}
}
