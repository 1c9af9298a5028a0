package questdb

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Purge removes measurement rows whose job no longer exists in the document
// store. The store cannot delete rows in place, so every affected table is
// rebuilt: surviving rows are copied into a partitioned backup table, the
// original is dropped and the backup renamed into its place.
//
// A non-blocking in-process lock makes a concurrent call a no-op. Purge must
// not run while jobs are actively writing; scheduling it is the operator's
// responsibility.
func (g *Gateway) Purge(ctx context.Context) error {
	if !g.purgeMu.TryLock() {
		g.log.Info().Msg("Purge already in progress, skipping request")
		return nil
	}
	defer g.purgeMu.Unlock()

	g.log.Info().Msg("Purging time-series store of deleted jobs")

	tables := g.tables(ctx)
	if len(tables) == 0 {
		return nil
	}

	queries := make([]string, len(tables))
	for i, table := range tables {
		queries[i] = "SELECT DISTINCT jobId FROM " + table
	}
	results := g.ExecuteQueries(ctx, queries)

	tableIDs := make(map[string][]int64, len(tables))
	for i, table := range tables {
		tableIDs[table] = jobIDValues(results[i])
	}

	metricIDs := unionIDs(tableIDs)
	if len(metricIDs) == 0 {
		g.log.Info().Msg("No jobs found in time-series store")
		return nil
	}

	registered, err := g.jobs.ListJobIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list document store jobs: %w", err)
	}

	orphans := difference(metricIDs, registered)
	if len(orphans) == 0 {
		g.log.Info().Msg("No orphaned jobs to delete")
		return nil
	}

	g.log.Info().Int("count", len(orphans)).Ints64("job_ids", orphans).
		Msg("Deleting orphaned jobs")

	start := time.Now()
	affected := affectedTables(tableIDs, orphans)

	sem := semaphore.NewWeighted(concurrentTablePurgeLimit)
	var wg sync.WaitGroup
	for _, table := range affected {
		wg.Add(1)
		go func(table string) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			g.purgeTable(ctx, table, orphans)
		}(table)
	}
	wg.Wait()

	g.log.Info().Int("count", len(orphans)).Int("tables", len(affected)).
		Dur("elapsed", time.Since(start)).Msg("Purge finished")
	return nil
}

// purgeTable rebuilds one table without the orphaned rows.
func (g *Gateway) purgeTable(ctx context.Context, table string, orphans []int64) {
	g.ExecuteQuery(ctx, purgeTableQuery(table, orphans))
	g.ExecuteQuery(ctx, "DROP TABLE "+table)
	g.ExecuteQuery(ctx, fmt.Sprintf("RENAME TABLE %s_backup TO %s", table, table))
}

func purgeTableQuery(table string, orphans []int64) string {
	ids := make([]string, len(orphans))
	for i, id := range orphans {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf(
		"CREATE TABLE %s_backup AS (SELECT * FROM %s WHERE jobId NOT IN (%s)) TIMESTAMP(timestamp) PARTITION BY DAY",
		table, table, strings.Join(ids, ", "))
}

// jobIDValues extracts job ids from a SELECT DISTINCT result. jobId is a
// symbol column, so values usually arrive as strings.
func jobIDValues(result Result) []int64 {
	var ids []int64
	for _, row := range result.Rows {
		if id, ok := asJobID(row["jobId"]); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func asJobID(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return id, true
	default:
		return 0, false
	}
}

func unionIDs(tableIDs map[string][]int64) []int64 {
	seen := make(map[int64]struct{})
	for _, ids := range tableIDs {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}
	union := make([]int64, 0, len(seen))
	for id := range seen {
		union = append(union, id)
	}
	sort.Slice(union, func(i, j int) bool { return union[i] < union[j] })
	return union
}

// difference returns the ids in a that are not in b, ascending.
func difference(a, b []int64) []int64 {
	drop := make(map[int64]struct{}, len(b))
	for _, id := range b {
		drop[id] = struct{}{}
	}
	var diff []int64
	for _, id := range a {
		if _, ok := drop[id]; !ok {
			diff = append(diff, id)
		}
	}
	sort.Slice(diff, func(i, j int) bool { return diff[i] < diff[j] })
	return diff
}

// affectedTables returns the tables holding at least one orphan, ascending
// for deterministic scheduling.
func affectedTables(tableIDs map[string][]int64, orphans []int64) []string {
	drop := make(map[int64]struct{}, len(orphans))
	for _, id := range orphans {
		drop[id] = struct{}{}
	}

	var affected []string
	for table, ids := range tableIDs {
		for _, id := range ids {
			if _, ok := drop[id]; ok {
				affected = append(affected, table)
				break
			}
		}
	}
	sort.Strings(affected)
	return affected
}
