// A caching connector for a remote relational store holding immutable monitoring records.
//
// Every query result is cached under a canonicalized form of the query, and the accumulated cache
// can be exported to (and reimported from) a portable local file.  A connector loaded from such a
// file answers entirely offline, which is what makes provider tests reproducible and lets
// restricted-access data be shared as a file instead of database credentials.  Queries against
// the cache and against the remote are indistinguishable to callers except for latency.
//
// Cache entries are derived data, never authoritative, so concurrent writes are last-writer-wins.

package cachingdb

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"iostitch/errs"
)

// Result is a fully materialized, normalized result set.  Values are restricted to nil, bool,
// int64, float64, string and []byte so that a cache file round-trips losslessly.
type Result struct {
	Columns []string `cbor:"columns"`
	Rows    [][]any  `cbor:"rows"`
}

// Remote performs one query against the backing store.  Implemented by the pgx connection in this
// package; tests substitute their own.
type Remote interface {
	Query(ctx context.Context, sql string, args []any) (*Result, error)
	Close(ctx context.Context) error
}

// Hit reports where the last Get was answered from.
type Hit int

const (
	HitNone Hit = iota
	HitCache
	HitRemote
)

type DB struct {
	mu      sync.Mutex
	remote  Remote // nil when running offline
	cache   map[string]*Result
	lastHit Hit
}

// New wraps a remote connection with an empty cache.  remote may be nil for a cache-only
// connector that is populated through ImportCache.
func New(remote Remote) *DB {
	return &DB{remote: remote, cache: make(map[string]*Result)}
}

// Open creates an offline connector backed only by a previously exported cache file.
func Open(cacheFile string) (*DB, error) {
	db := New(nil)
	if err := db.ImportCache(cacheFile); err != nil {
		return nil, err
	}
	return db, nil
}

// cacheKey canonicalizes a query: whitespace runs in the SQL collapse to single spaces and the
// arguments are appended in printed form, so equal queries hit the same entry regardless of
// formatting.
func cacheKey(sql string, args []any) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(strings.Fields(sql), " "))
	for _, a := range args {
		sb.WriteByte(0)
		fmt.Fprintf(&sb, "%v", a)
	}
	return sb.String()
}

// Get answers the query from the cache if possible, otherwise from the remote, caching the
// normalized result.  An offline connector answers errs.ErrNoData for uncached queries -
// indistinguishable to chain logic from a backend with no record.
func (db *DB) Get(ctx context.Context, sql string, args ...any) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Cancellation(err)
	}
	key := cacheKey(sql, args)

	db.mu.Lock()
	if res, found := db.cache[key]; found {
		db.lastHit = HitCache
		db.mu.Unlock()
		return res, nil
	}
	remote := db.remote
	db.mu.Unlock()

	if remote == nil {
		return nil, fmt.Errorf("%w: query not in offline cache", errs.ErrNoData)
	}
	res, err := remote.Query(ctx, sql, args)
	if err != nil {
		return nil, errs.Cancellation(err)
	}
	res = normalizeResult(res)

	db.mu.Lock()
	db.cache[key] = res
	db.lastHit = HitRemote
	db.mu.Unlock()
	return res, nil
}

// LastHit reports whether the most recent Get was served from cache or remote.
func (db *DB) LastHit() Hit {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.lastHit
}

// normalizeResult maps driver-specific value types onto the portable set.
func normalizeResult(res *Result) *Result {
	for _, row := range res.Rows {
		for i, v := range row {
			row[i] = normalize(v)
		}
	}
	return res
}

func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, []byte:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint64:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// MT: Constant after initialization; thread-safe
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	if err != nil {
		panic(err)
	}
	// Integers decode as int64 so that a reimported cache compares equal to the original.
	decMode, err = cbor.DecOptions{IntDec: cbor.IntDecConvertSigned}.DecMode()
	if err != nil {
		panic(err)
	}
}

type cacheRepr struct {
	Version int                `cbor:"version"`
	Entries map[string]*Result `cbor:"entries"`
}

const cacheVersion = 1

// ExportCache writes the entire accumulated cache to a portable file, atomically.
func (db *DB) ExportCache(destination string) error {
	db.mu.Lock()
	repr := cacheRepr{Version: cacheVersion, Entries: make(map[string]*Result, len(db.cache))}
	for k, v := range db.cache {
		repr.Entries[k] = v
	}
	db.mu.Unlock()

	encoded, err := encMode.Marshal(&repr)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(path.Dir(destination), ".cache-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(encoded); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, destination)
}

// ImportCache merges entries from a previously exported cache file into this connector's cache.
// Imported entries win over existing ones with the same key.
func (db *DB) ImportCache(source string) error {
	raw, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	var repr cacheRepr
	if err := decMode.Unmarshal(raw, &repr); err != nil {
		return errs.Corrupt(source, "not a cache file: %v", err)
	}
	if repr.Version != cacheVersion {
		return errs.Corrupt(source, "unsupported cache version %d", repr.Version)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for k, v := range repr.Entries {
		db.cache[k] = v
	}
	return nil
}

// Close releases the remote connection, if any.  The cache remains usable.
func (db *DB) Close(ctx context.Context) error {
	db.mu.Lock()
	remote := db.remote
	db.remote = nil
	db.mu.Unlock()
	if remote != nil {
		return remote.Close(ctx)
	}
	return nil
}
