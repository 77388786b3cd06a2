package repo

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The copy tables key on different party columns, so the statements are built
// per table. Cross-check every column the repository references against the
// DDL that actually creates the tables, so a drift between the two fails here
// instead of at runtime with an undefined-column error.
func TestCopyStatementsMatchSchema(t *testing.T) {
	ddlPath := filepath.Join("..", "..", "shared", "db", "migrations", "0002_order_copies.sql")
	ddl, err := os.ReadFile(ddlPath)
	require.NoError(t, err)

	cases := []struct {
		table     string
		keyColumn string
	}{
		{table: "vendor_orders", keyColumn: "vendor_id"},
		{table: "customer_orders", keyColumn: "customer_id"},
	}

	for _, tc := range cases {
		t.Run(tc.table, func(t *testing.T) {
			schemaCols := tableColumns(t, string(ddl), tc.table)
			require.NotEmpty(t, schemaCols)
			assert.Contains(t, schemaCols, tc.keyColumn)

			for _, col := range upsertColumns(t, upsertCopySQL(tc.table, tc.keyColumn)) {
				assert.Contains(t, schemaCols, col,
					"upsert for %s references a column the schema does not create", tc.table)
			}
			for _, col := range selectColumns(t, listCopiesSQL(tc.table, tc.keyColumn)) {
				assert.Contains(t, schemaCols, col,
					"list query for %s references a column the schema does not create", tc.table)
			}
		})
	}
}

// tableColumns extracts the column names of one CREATE TABLE block.
func tableColumns(t *testing.T, ddl, table string) map[string]bool {
	t.Helper()

	re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + table + `\s*\((.*?)\n\);`)
	m := re.FindStringSubmatch(ddl)
	require.NotNil(t, m, "no CREATE TABLE block for %s", table)

	cols := make(map[string]bool)
	for _, line := range strings.Split(m[1], "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || strings.EqualFold(fields[0], "PRIMARY") {
			continue
		}
		cols[fields[0]] = true
	}
	return cols
}

// upsertColumns collects every column the upsert statement references: the
// insert list, the conflict target, and the SET targets.
func upsertColumns(t *testing.T, query string) []string {
	t.Helper()

	var cols []string
	insertList := regexp.MustCompile(`(?s)INSERT INTO \w+ \((.*?)\)`).FindStringSubmatch(query)
	require.NotNil(t, insertList)
	for _, col := range strings.Split(insertList[1], ",") {
		cols = append(cols, strings.TrimSpace(col))
	}

	conflict := regexp.MustCompile(`ON CONFLICT \(([^)]+)\)`).FindStringSubmatch(query)
	require.NotNil(t, conflict)
	for _, col := range strings.Split(conflict[1], ",") {
		cols = append(cols, strings.TrimSpace(col))
	}

	for _, m := range regexp.MustCompile(`(?m)^\s*(\w+)\s*=`).FindAllStringSubmatch(query, -1) {
		cols = append(cols, m[1])
	}
	return cols
}

// selectColumns collects the projection and the WHERE key of the list query.
func selectColumns(t *testing.T, query string) []string {
	t.Helper()

	var cols []string
	projection := regexp.MustCompile(`(?s)SELECT (.*?) FROM`).FindStringSubmatch(query)
	require.NotNil(t, projection)
	for _, col := range strings.Split(projection[1], ",") {
		cols = append(cols, strings.TrimSpace(col))
	}

	where := regexp.MustCompile(`WHERE (\w+) =`).FindStringSubmatch(query)
	require.NotNil(t, where)
	cols = append(cols, where[1])
	return cols
}
