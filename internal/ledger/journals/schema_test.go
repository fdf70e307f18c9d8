package journals

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readSchema(t *testing.T) string {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("..", "..", "..", "scripts", "schema.sql"))
	require.NoError(t, err)
	return string(raw)
}

func tableBlock(t *testing.T, schema, table string) string {
	t.Helper()
	re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + table + ` \((.*?)\n\);`)
	match := re.FindStringSubmatch(schema)
	require.Len(t, match, 2, "table %s missing from schema.sql", table)
	return match[1]
}

func columnLine(t *testing.T, block, column string) string {
	t.Helper()
	re := regexp.MustCompile(`(?m)^\s*` + column + `\s+.*$`)
	line := re.FindString(block)
	require.NotEmpty(t, line, "column %s missing from table definition", column)
	return line
}

func TestSchemaDefinesEntryAndLineColumns(t *testing.T) {
	schema := readSchema(t)
	entries := tableBlock(t, schema, "journal_entries")
	for _, column := range []string{
		"entry_no", "entry_date", "source_type", "source_id", "idempotency_key",
		"status", "reversal_of_id", "posted_at", "posted_by", "created_at", "updated_at",
	} {
		columnLine(t, entries, column)
	}
	lines := tableBlock(t, schema, "journal_lines")
	for _, column := range []string{
		"entry_id", "account_id", "party_id", "branch_id", "debit", "credit", "memo", "created_at",
	} {
		columnLine(t, lines, column)
	}
}

// InsertEntry maps a zero actor to SQL NULL; an explicit NULL bypasses
// column defaults, so posted_by must accept it.
func TestSchemaPostedByNullable(t *testing.T) {
	entries := tableBlock(t, readSchema(t), "journal_entries")
	assert.NotContains(t, columnLine(t, entries, "posted_by"), "NOT NULL")
}

// Reads must tolerate the NULL that a zero actor writes.
func TestEntryColumnsCoalescePostedBy(t *testing.T) {
	assert.Contains(t, entryColumns, "COALESCE(posted_by, 0)")
}
