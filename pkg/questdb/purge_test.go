package questdb

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedShowTables(db *fakeDB, tables ...string) {
	values := make([][]any, len(tables))
	for i, table := range tables {
		values[i] = []any{table}
	}
	db.on("SHOW TABLES", []string{"table_name"}, values...)
}

func seedDistinctJobIDs(db *fakeDB, table string, ids ...string) {
	values := make([][]any, len(ids))
	for i, id := range ids {
		values[i] = []any{id}
	}
	db.on("SELECT DISTINCT jobId FROM "+table, []string{"jobId"}, values...)
}

// tableStatements filters the executed rebuild statements for one table,
// preserving order.
func tableStatements(db *fakeDB, table string) []string {
	var statements []string
	for _, sql := range db.executed() {
		switch {
		case strings.HasPrefix(sql, "CREATE TABLE "+table+"_backup AS"),
			sql == "DROP TABLE "+table,
			sql == fmt.Sprintf("RENAME TABLE %s_backup TO %s", table, table):
			statements = append(statements, sql)
		}
	}
	return statements
}

func TestPurgeRemovesOrphans(t *testing.T) {
	db := newFakeDB()
	seedShowTables(db, "cpu", "mem")
	seedDistinctJobIDs(db, "cpu", "1", "2")
	seedDistinctJobIDs(db, "mem", "3", "4")
	g := newTestGateway(db, &fakeJobSource{ids: []int64{1, 3}})

	require.NoError(t, g.Purge(context.Background()))

	for _, table := range []string{"cpu", "mem"} {
		statements := tableStatements(db, table)
		require.Len(t, statements, 3, "table %s", table)
		assert.Equal(t, fmt.Sprintf(
			"CREATE TABLE %s_backup AS (SELECT * FROM %s WHERE jobId NOT IN (2, 4)) TIMESTAMP(timestamp) PARTITION BY DAY",
			table, table), statements[0])
		assert.Equal(t, "DROP TABLE "+table, statements[1])
		assert.Equal(t, fmt.Sprintf("RENAME TABLE %s_backup TO %s", table, table), statements[2])
	}
}

func TestPurgeSkipsCleanTables(t *testing.T) {
	db := newFakeDB()
	seedShowTables(db, "cpu", "disk")
	seedDistinctJobIDs(db, "cpu", "1", "2")
	seedDistinctJobIDs(db, "disk", "1")
	g := newTestGateway(db, &fakeJobSource{ids: []int64{1}})

	require.NoError(t, g.Purge(context.Background()))

	assert.Len(t, tableStatements(db, "cpu"), 3)
	assert.Empty(t, tableStatements(db, "disk"), "table without orphans must not be rebuilt")
}

func TestPurgeNoOrphans(t *testing.T) {
	db := newFakeDB()
	seedShowTables(db, "cpu")
	seedDistinctJobIDs(db, "cpu", "1", "2")
	g := newTestGateway(db, &fakeJobSource{ids: []int64{1, 2, 3}})

	require.NoError(t, g.Purge(context.Background()))

	for _, sql := range db.executed() {
		assert.NotContains(t, sql, "CREATE TABLE")
		assert.NotContains(t, sql, "DROP TABLE")
	}
}

func TestPurgeEmptyMetricsStore(t *testing.T) {
	db := newFakeDB()
	seedShowTables(db, "cpu")
	seedDistinctJobIDs(db, "cpu")
	g := newTestGateway(db, &fakeJobSource{ids: []int64{1}})

	require.NoError(t, g.Purge(context.Background()))
	assert.Equal(t, []string{"SHOW TABLES", "SELECT DISTINCT jobId FROM cpu"}, db.executed())
}

func TestPurgeStoreFailure(t *testing.T) {
	db := newFakeDB()
	seedShowTables(db, "cpu")
	seedDistinctJobIDs(db, "cpu", "1", "2")
	g := newTestGateway(db, &fakeJobSource{err: fmt.Errorf("primary unreachable")})

	assert.Error(t, g.Purge(context.Background()))
}

func TestPurgeConcurrentCallIsNoOp(t *testing.T) {
	db := newFakeDB()
	g := newTestGateway(db, &fakeJobSource{})

	g.purgeMu.Lock()
	defer g.purgeMu.Unlock()

	require.NoError(t, g.Purge(context.Background()))
	assert.Empty(t, db.executed())
}

func TestPurgeTableQuery(t *testing.T) {
	assert.Equal(t,
		"CREATE TABLE cpu_backup AS (SELECT * FROM cpu WHERE jobId NOT IN (2, 4)) TIMESTAMP(timestamp) PARTITION BY DAY",
		purgeTableQuery("cpu", []int64{2, 4}))
}

func TestJobIDValues(t *testing.T) {
	result := Result{
		Columns: []string{"jobId"},
		Rows: []map[string]any{
			{"jobId": "101"},
			{"jobId": int64(102)},
			{"jobId": "not-a-number"},
			{"jobId": float64(103)},
		},
	}
	assert.Equal(t, []int64{101, 102, 103}, jobIDValues(result))
}

func TestUnionAndDifference(t *testing.T) {
	union := unionIDs(map[string][]int64{
		"cpu": {1, 2},
		"mem": {2, 3, 4},
	})
	assert.Equal(t, []int64{1, 2, 3, 4}, union)

	assert.Equal(t, []int64{2, 4}, difference(union, []int64{1, 3}))
	assert.Empty(t, difference(union, union))
}

func TestAffectedTables(t *testing.T) {
	tableIDs := map[string][]int64{
		"mem":  {3, 4},
		"cpu":  {1, 2},
		"disk": {1},
	}
	assert.Equal(t, []string{"cpu", "mem"}, affectedTables(tableIDs, []int64{2, 4}))
	assert.Empty(t, affectedTables(tableIDs, []int64{99}))
}
