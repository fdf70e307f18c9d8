package accounts

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

// ListActive gates startup through LoadChart, so the shipped DDL must carry
// every column it selects.
func TestSchemaDefinesAccountColumns(t *testing.T) {
	schema := readSchema(t)
	re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS finance_accounts \((.*?)\n\);`)
	match := re.FindStringSubmatch(schema)
	require.Len(t, match, 2, "finance_accounts missing from schema.sql")
	block := match[1]

	for _, column := range []string{
		"code", "name", "account_type", "sub_type", "is_contra", "currency",
		"is_active", "created_at", "updated_at",
	} {
		line := regexp.MustCompile(`(?m)^\s*` + column + `\s+.*$`)
		assert.NotEmpty(t, line.FindString(block), "column %s missing from finance_accounts", column)
	}

	// The seed must target the same column name.
	assert.Contains(t, schema, "INSERT INTO finance_accounts (code, name, account_type, sub_type)")
}

// The seed rows must cover every code LoadChart requires, or the binary can
// never pass its startup validation against a fresh database.
func TestSchemaSeedsRequiredCodes(t *testing.T) {
	schema := readSchema(t)
	for _, code := range RequiredCodes() {
		assert.Contains(t, schema, "'"+string(code)+"'", "required code %s missing from seed", code)
	}
}
