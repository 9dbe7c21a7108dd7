// Database-backed lfsstatus provider, reading the nearest capacity snapshot at or before the
// requested time from an fs_capacity table through the caching connector.

package lfsstatus

import (
	"context"
	"fmt"
	"time"

	"iostitch/cachingdb"
	"iostitch/errs"
	"iostitch/providers"
)

const capacityQuery = `
SELECT total_kib, used_kib
FROM fs_capacity
WHERE filesystem = $1 AND snapshot_time <= $2
ORDER BY snapshot_time DESC
LIMIT 1`

type DbProvider struct {
	// MT: Immutable after initialization
	db *cachingdb.DB
}

var _ = providers.Provider((*DbProvider)(nil))

func NewDbProvider(db *cachingdb.DB) *DbProvider {
	return &DbProvider{db: db}
}

func (p *DbProvider) Resolve(ctx context.Context, req providers.Request) (any, error) {
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

	res, err := p.db.Get(ctx, capacityQuery, fsname, at.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("%w: no capacity snapshot for %s at %s",
			errs.ErrNoData, fsname, at.Format("2006-01-02"))
	}
	row := res.Rows[0]
	if len(row) < 2 {
		return nil, fmt.Errorf("malformed fs_capacity row for %s", fsname)
	}
	total, err := asKiB(row[0])
	if err != nil {
		return nil, err
	}
	used, err := asKiB(row[1])
	if err != nil {
		return nil, err
	}
	return &Status{Filesystem: fsname, TotalKiB: total, UsedKiB: used}, nil
}

func asKiB(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		return int64(x), nil
	default:
		return 0, fmt.Errorf("unexpected capacity type %T in fs_capacity", v)
	}
}
