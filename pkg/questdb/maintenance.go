package questdb

import (
	"context"
	"fmt"
)

// indexedColumns are the symbol columns every metric table should carry an
// index on. Tables are auto-created by the line protocol without any.
var indexedColumns = []string{"jobId", "node", "level"}

// Maintenance adds missing symbol indexes and resumes suspended write-ahead
// logs. Run once at startup; all failures are logged, none are fatal.
func (g *Gateway) Maintenance(ctx context.Context) {
	tables := g.tables(ctx)
	if len(tables) == 0 {
		return
	}

	columns := g.ExecuteQueries(ctx, showColumnsQueries(tables))
	indexing := indexingQueries(tables, columns)
	if len(indexing) > 0 {
		g.ExecuteQueries(ctx, indexing)
		g.log.Info().Int("count", len(indexing)).Msg("Added missing symbol indexes")
	}

	suspended := suspendedTables(g.ExecuteQuery(ctx, "wal_tables()"))
	if len(suspended) > 0 {
		g.log.Warn().Strs("tables", suspended).Msg("Suspended WAL detected")
		g.ExecuteQueries(ctx, resumeWALQueries(suspended))
		g.log.Info().Int("count", len(suspended)).Msg("Resumed WAL")
	}
}

// tables lists the metric tables.
func (g *Gateway) tables(ctx context.Context) []string {
	return tableNames(g.ExecuteQuery(ctx, "SHOW TABLES"))
}

// tableNames reads a SHOW TABLES result, tolerating the column label drift
// between server versions (table_name on current ones, table on older).
func tableNames(result Result) []string {
	if len(result.Rows) == 0 {
		return nil
	}
	label := "table_name"
	if _, ok := result.Rows[0][label]; !ok {
		label = "table"
	}

	names := make([]string, 0, len(result.Rows))
	for _, row := range result.Rows {
		if name, ok := row[label].(string); ok && name != "" {
			names = append(names, name)
		}
	}
	return names
}

func showColumnsQueries(tables []string) []string {
	queries := make([]string, len(tables))
	for i, table := range tables {
		queries[i] = "SHOW COLUMNS FROM " + table
	}
	return queries
}

// indexingQueries returns one ALTER statement per unindexed symbol column of
// interest. columns holds one SHOW COLUMNS result per table, positionally.
func indexingQueries(tables []string, columns []Result) []string {
	var queries []string
	for i, table := range tables {
		if i >= len(columns) {
			break
		}
		for _, row := range columns[i].Rows {
			name, _ := row["column"].(string)
			colType, _ := row["type"].(string)
			indexed, _ := row["indexed"].(bool)
			if !indexed && colType == "SYMBOL" && isIndexedColumn(name) {
				queries = append(queries,
					fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s ADD INDEX", table, name))
			}
		}
	}
	return queries
}

func isIndexedColumn(name string) bool {
	for _, column := range indexedColumns {
		if column == name {
			return true
		}
	}
	return false
}

// suspendedTables reads a wal_tables() result. WAL ends up suspended after
// a server crash or a full disk; writes stall until it is resumed.
func suspendedTables(result Result) []string {
	var names []string
	for _, row := range result.Rows {
		suspended, _ := row["suspended"].(bool)
		name, _ := row["name"].(string)
		if suspended && name != "" {
			names = append(names, name)
		}
	}
	return names
}

func resumeWALQueries(tables []string) []string {
	queries := make([]string, len(tables))
	for i, table := range tables {
		queries[i] = fmt.Sprintf("ALTER TABLE %s RESUME WAL", table)
	}
	return queries
}
