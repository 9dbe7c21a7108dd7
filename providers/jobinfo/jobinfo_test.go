package jobinfo

import (
	"context"
	"errors"
	"os"
	"path"
	"slices"
	"testing"
	"time"

	"iostitch/cachingdb"
	"iostitch/datepath"
	"iostitch/errs"
	"iostitch/providers"
)

func writeAcct(t *testing.T, dir, day, content string) {
	t.Helper()
	if err := os.WriteFile(path.Join(dir, day+".acct"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func fileProvider(t *testing.T, dir string) *FileProvider {
	t.Helper()
	return NewFileProvider(
		datepath.NewResolver(time.UTC),
		datepath.Literal(path.Join(dir, "%Y-%m-%d.acct")),
		3*24*time.Hour,
	)
}

func TestFileProviderAggregatesSteps(t *testing.T) {
	dir := t.TempDir()
	// The job spans midnight: records of it appear in two consecutive dumps.
	writeAcct(t, dir, "2024-03-10",
		"100|2024-03-10T22:00:00|Unknown|nid01,nid02\n"+
			"100.batch|2024-03-10T22:00:01|Unknown|nid01\n"+
			"101|2024-03-10T09:00:00|2024-03-10T10:00:00|nid09\n")
	writeAcct(t, dir, "2024-03-11",
		"100|2024-03-10T22:00:00|2024-03-11T03:30:00|nid01,nid02\n"+
			"100.0|2024-03-10T22:05:00|2024-03-11T03:29:00|nid03\n"+
			"this line is noise\n")

	p := fileProvider(t, dir)
	at := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	v, err := p.Resolve(context.Background(), RequestFor("100", at))
	if err != nil {
		t.Fatal(err)
	}
	info := v.(*Info)
	if !info.Start.Equal(time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)) {
		t.Fatal(info.Start)
	}
	if !info.End.Equal(time.Date(2024, 3, 11, 3, 30, 0, 0, time.UTC)) {
		t.Fatal(info.End)
	}
	if !slices.Equal(info.Nodes, []string{"nid01", "nid02", "nid03"}) {
		t.Fatal(info.Nodes)
	}
}

func TestFileProviderJobPrefixIsExact(t *testing.T) {
	dir := t.TempDir()
	// Job 10 must not match records of job 100.
	writeAcct(t, dir, "2024-03-10",
		"100|2024-03-10T22:00:00|2024-03-10T23:00:00|nid01\n")

	p := fileProvider(t, dir)
	at := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
	_, err := p.Resolve(context.Background(), RequestFor("10", at))
	if !errors.Is(err, errs.ErrNoData) {
		t.Fatal(err)
	}
}

func TestFileProviderNoFiles(t *testing.T) {
	p := fileProvider(t, t.TempDir())
	_, err := p.Resolve(context.Background(), RequestFor("1", time.Now()))
	if !errors.Is(err, errs.ErrNoData) {
		t.Fatal(err)
	}
}

func TestFileProviderBadRequest(t *testing.T) {
	p := fileProvider(t, t.TempDir())
	_, err := p.Resolve(context.Background(), providers.Request{})
	if err == nil || errors.Is(err, errs.ErrNoData) {
		t.Fatal(err)
	}
}

// dbRemote serves the job_summary query from a canned table.
type dbRemote struct {
	rows [][]any
}

func (f *dbRemote) Query(_ context.Context, _ string, args []any) (*cachingdb.Result, error) {
	if len(args) == 1 && args[0] == "100" {
		return &cachingdb.Result{
			Columns: []string{"start_time", "end_time", "nodelist"},
			Rows:    f.rows,
		}, nil
	}
	return &cachingdb.Result{Columns: []string{"start_time", "end_time", "nodelist"}}, nil
}

func (f *dbRemote) Close(_ context.Context) error { return nil }

func TestDbProvider(t *testing.T) {
	start := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	remote := &dbRemote{rows: [][]any{{start.Unix(), end.Unix(), "nid01,nid02"}}}
	p := NewDbProvider(cachingdb.New(remote))

	v, err := p.Resolve(context.Background(), RequestFor("100", time.Time{}))
	if err != nil {
		t.Fatal(err)
	}
	info := v.(*Info)
	if !info.Start.Equal(start) || !info.End.Equal(end) {
		t.Fatal(info)
	}
	if !slices.Equal(info.Nodes, []string{"nid01", "nid02"}) {
		t.Fatal(info.Nodes)
	}

	_, err = p.Resolve(context.Background(), RequestFor("999", time.Time{}))
	if !errors.Is(err, errs.ErrNoData) {
		t.Fatal(err)
	}
}

// The end-to-end property: a chain over both providers falls back from an empty file store to the
// database, and reports which provider answered.
func TestChainOverProviders(t *testing.T) {
	start := time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)
	remote := &dbRemote{rows: [][]any{{start.Unix(), start.Add(time.Hour).Unix(), "nid01"}}}

	r := providers.NewRegistry()
	r.Register(Capability, "slurmfile", fileProvider(t, t.TempDir()))
	r.Register(Capability, "jobsdb", NewDbProvider(cachingdb.New(remote)))

	res, _, err := r.ChainResolve(
		context.Background(), Capability, []string{"slurmfile", "jobsdb"}, RequestFor("100", start))
	if err != nil {
		t.Fatal(err)
	}
	if res.Provider != "jobsdb" {
		t.Fatal(res.Provider)
	}
	if res.Value.(*Info).Nodes[0] != "nid01" {
		t.Fatal(res.Value)
	}
}
