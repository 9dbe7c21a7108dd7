package lfsstatus

import (
	"context"
	"errors"
	"testing"
	"time"

	"iostitch/cachingdb"
	"iostitch/errs"
)

// capacityRemote serves the fs_capacity query from a canned table.
type capacityRemote struct {
	rows [][]any
}

func (f *capacityRemote) Query(_ context.Context, _ string, args []any) (*cachingdb.Result, error) {
	if len(args) == 2 && args[0] == "cscratch" {
		return &cachingdb.Result{
			Columns: []string{"total_kib", "used_kib"},
			Rows:    f.rows,
		}, nil
	}
	return &cachingdb.Result{Columns: []string{"total_kib", "used_kib"}}, nil
}

func (f *capacityRemote) Close(_ context.Context) error { return nil }

func TestDbProvider(t *testing.T) {
	remote := &capacityRemote{rows: [][]any{{int64(1000), int64(250)}}}
	p := NewDbProvider(cachingdb.New(remote))
	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	v, err := p.Resolve(context.Background(), RequestFor("cscratch", at))
	if err != nil {
		t.Fatal(err)
	}
	status := v.(*Status)
	if status.TotalKiB != 1000 || status.UsedKiB != 250 || status.Fullness() != 0.25 {
		t.Fatal(status)
	}

	// No snapshot for the file system: benign no-data.
	_, err = p.Resolve(context.Background(), RequestFor("nosuch", at))
	if !errors.Is(err, errs.ErrNoData) {
		t.Fatal(err)
	}
}
