package cachingdb

import (
	"context"
	"errors"
	"path"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iostitch/errs"
)

// fakeRemote counts queries and serves canned results.
type fakeRemote struct {
	mu      sync.Mutex
	calls   int
	results map[string]*Result
	err     error
}

func (f *fakeRemote) Query(_ context.Context, sql string, args []any) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls += 1
	if f.err != nil {
		return nil, f.err
	}
	if res, found := f.results[cacheKey(sql, args)]; found {
		return res, nil
	}
	return &Result{Columns: []string{"x"}, Rows: [][]any{}}, nil
}

func (f *fakeRemote) Close(_ context.Context) error {
	return nil
}

func jobRow() *Result {
	return &Result{
		Columns: []string{"start", "end", "nodelist"},
		Rows:    [][]any{{int64(1500000000), int64(1500003600), "nid0[1-4]"}},
	}
}

func TestGetCachesRemoteResults(t *testing.T) {
	ctx := context.Background()
	sql := "SELECT start, \"end\", nodelist FROM jobs WHERE jobid = $1"
	remote := &fakeRemote{results: map[string]*Result{cacheKey(sql, []any{"123"}): jobRow()}}
	db := New(remote)

	first, err := db.Get(ctx, sql, "123")
	require.NoError(t, err)
	assert.Equal(t, HitRemote, db.LastHit())
	assert.Equal(t, 1, remote.calls)

	second, err := db.Get(ctx, sql, "123")
	require.NoError(t, err)
	assert.Equal(t, HitCache, db.LastHit())
	assert.Equal(t, 1, remote.calls, "cached query must not touch the remote")
	assert.Equal(t, first, second)

	// Whitespace differences canonicalize to the same entry.
	_, err = db.Get(ctx, "SELECT start, \"end\",   nodelist\n FROM jobs WHERE jobid = $1", "123")
	require.NoError(t, err)
	assert.Equal(t, 1, remote.calls)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	sql := "SELECT * FROM jobs WHERE jobid = $1"
	remote := &fakeRemote{results: map[string]*Result{cacheKey(sql, []any{"7"}): jobRow()}}
	db := New(remote)

	want, err := db.Get(ctx, sql, "7")
	require.NoError(t, err)

	fn := path.Join(t.TempDir(), "jobs.cache")
	require.NoError(t, db.ExportCache(fn))

	// An offline connector over the exported file answers identically, without a remote.
	offline, err := Open(fn)
	require.NoError(t, err)
	got, err := offline.Get(ctx, sql, "7")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, HitCache, offline.LastHit())

	// Uncached queries against the offline connector are benign no-data, not fatal.
	_, err = offline.Get(ctx, sql, "8")
	assert.ErrorIs(t, err, errs.ErrNoData)
}

func TestRemoteFaultPropagates(t *testing.T) {
	remote := &fakeRemote{err: errors.New("connection refused")}
	db := New(remote)
	_, err := db.Get(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrNoData)
}

func TestNormalization(t *testing.T) {
	assert.Equal(t, int64(7), normalize(int32(7)))
	assert.Equal(t, int64(7), normalize(uint64(7)))
	assert.Equal(t, float64(1.5), normalize(float32(1.5)))
	assert.Equal(t, "x", normalize("x"))
	assert.Nil(t, normalize(nil))
}

func TestConcurrentGets(t *testing.T) {
	ctx := context.Background()
	sql := "SELECT * FROM jobs WHERE jobid = $1"
	remote := &fakeRemote{results: map[string]*Result{cacheKey(sql, []any{"7"}): jobRow()}}
	db := New(remote)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.Get(ctx, sql, "7")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestCancelledGet(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	db := New(&fakeRemote{})
	_, err := db.Get(ctx, "SELECT 1")
	assert.ErrorIs(t, err, errs.ErrCancelled)
}
