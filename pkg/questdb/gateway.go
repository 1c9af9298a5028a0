package questdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/megware/xbatctld/pkg/log"
	"github.com/megware/xbatctld/pkg/metrics"
)

const (
	// ConcurrentQueryLimit bounds parallel queries so the store's connection
	// slots are never exhausted by one analytical burst.
	ConcurrentQueryLimit = 64

	// concurrentTablePurgeLimit bounds parallel table rebuilds during purge;
	// each rebuild copies a whole table and is memory-hungry on the server.
	concurrentTablePurgeLimit = 3
)

// JobSource lists the job ids the document store currently knows. Purge
// treats everything else found in the metric tables as orphaned.
type JobSource interface {
	ListJobIDs(ctx context.Context) ([]int64, error)
}

// queryExecutor is the slice of pgxpool.Pool the gateway uses.
type queryExecutor interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// Result is one query's decoded row set. Rows are keyed by column name, in
// the shape the REST aggregation paths consume.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// Gateway executes analytical queries against the time-series store over
// the Postgres wire protocol.
type Gateway struct {
	pool queryExecutor
	jobs JobSource

	sem     *semaphore.Weighted
	purgeMu sync.Mutex

	log zerolog.Logger
}

func newGateway(pool queryExecutor, jobs JobSource) *Gateway {
	return &Gateway{
		pool: pool,
		jobs: jobs,
		sem:  semaphore.NewWeighted(ConcurrentQueryLimit),
		log:  log.WithComponent("questdb"),
	}
}

// New creates the gateway for the given DSN. No connection is made here;
// the pool connects lazily on first use.
func New(ctx context.Context, dsn string, jobs JobSource) (*Gateway, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time-series DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return newGateway(pool, jobs), nil
}

// Ping verifies connectivity.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.pool.Ping(ctx)
}

// Close releases the connection pool.
func (g *Gateway) Close() {
	g.pool.Close()
}

// ExecuteQuery runs a single query. See ExecuteQueries for error semantics.
func (g *Gateway) ExecuteQuery(ctx context.Context, query string) Result {
	return g.ExecuteQueries(ctx, []string{query})[0]
}

// ExecuteQueries fans the batch out under the query semaphore and returns
// results positionally. A query that fails yields an empty result and a log
// entry; telemetry readers handle missing data rather than errors.
func (g *Gateway) ExecuteQueries(ctx context.Context, queries []string) []Result {
	results := make([]Result, len(queries))

	var wg sync.WaitGroup
	for i, query := range queries {
		wg.Add(1)
		go func(i int, query string) {
			defer wg.Done()
			if err := g.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer g.sem.Release(1)
			results[i] = g.execute(ctx, query)
		}(i, query)
	}
	wg.Wait()

	return results
}

func (g *Gateway) execute(ctx context.Context, query string) Result {
	timer := metrics.NewTimer()

	rows, err := g.pool.Query(ctx, query)
	if err != nil {
		metrics.QuestQueriesTotal.WithLabelValues("error").Inc()
		g.log.Error().Err(err).Str("sql", truncate(query, 512)).Msg("Query failed")
		return Result{}
	}

	result, err := collectRows(rows)
	if err != nil {
		metrics.QuestQueriesTotal.WithLabelValues("error").Inc()
		g.log.Error().Err(err).Str("sql", truncate(query, 512)).Msg("Could not read result")
		return Result{}
	}

	metrics.QuestQueriesTotal.WithLabelValues("ok").Inc()
	metrics.QuestQueryDuration.Observe(timer.Duration().Seconds())
	return result
}

func collectRows(rows pgx.Rows) (Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.Name
	}

	result := Result{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Result{}, err
		}
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}
	return result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
