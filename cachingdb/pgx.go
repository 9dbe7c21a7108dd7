// pgx-backed Remote.  A single connection guarded by a mutex is plenty here: provider chains run
// sequentially and the cache absorbs repeats, so contention on the connection is negligible.

package cachingdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

type pgxRemote struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

var _ = Remote((*pgxRemote)(nil))

// Connect dials the database at databaseURI and returns a caching connector over it.
func Connect(ctx context.Context, databaseURI string) (*DB, error) {
	conn, err := pgx.Connect(ctx, databaseURI)
	if err != nil {
		return nil, fmt.Errorf("Unable to connect to database: %w", err)
	}
	return New(&pgxRemote{conn: conn}), nil
}

func (r *pgxRemote) Query(ctx context.Context, sql string, args []any) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}
	res := &Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *pgxRemote) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.Close(ctx)
}
