package storage

import (
	"io/fs"
	"regexp"
	"strings"
	"testing"

	"github.com/zhanserikAmangeldi/apex-be/editor-service/internal/migration"
)

func schemaDDL(t *testing.T) string {
	t.Helper()
	data, err := fs.ReadFile(migration.Files, "migrations/000001_init.up.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	return string(data)
}

func tableColumns(t *testing.T, ddl, table string) map[string]bool {
	t.Helper()
	re := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS ` + table + `\s*\((.*?)\);`)
	m := re.FindStringSubmatch(ddl)
	if m == nil {
		t.Fatalf("table %s not found in schema", table)
	}
	cols := make(map[string]bool)
	for _, line := range strings.Split(m[1], "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) == 0 {
			continue
		}
		name := strings.ToLower(fields[0])
		switch name {
		case "primary", "check", "constraint", "unique", "foreign":
			continue
		}
		cols[name] = true
	}
	return cols
}

func insertColumns(t *testing.T, query string) []string {
	t.Helper()
	open := strings.Index(query, "(")
	end := strings.Index(query, ")")
	if open < 0 || end < open {
		t.Fatalf("no column list in %q", query)
	}
	var out []string
	for _, c := range strings.Split(query[open+1:end], ",") {
		out = append(out, strings.ToLower(strings.TrimSpace(c)))
	}
	return out
}

func placeholderCount(query string) int {
	seen := make(map[string]bool)
	for _, p := range regexp.MustCompile(`\$\d+`).FindAllString(query, -1) {
		seen[p] = true
	}
	return len(seen)
}

// The id columns carry no database default, so every insert has to bind the
// caller-assigned UUID itself.
func TestCreateStatementsBindCallerIDs(t *testing.T) {
	ddl := schemaDDL(t)
	cases := []struct {
		name, query, table string
	}{
		{"document", insertDocumentSQL, "documents"},
		{"vault", insertVaultSQL, "vaults"},
		{"attachment", insertAttachmentSQL, "attachments"},
	}
	for _, tc := range cases {
		cols := insertColumns(t, tc.query)
		if len(cols) == 0 || cols[0] != "id" {
			t.Errorf("%s insert does not bind id: %v", tc.name, cols)
		}
		if n := placeholderCount(tc.query); n != len(cols) {
			t.Errorf("%s insert binds %d placeholders for %d columns", tc.name, n, len(cols))
		}
		schema := tableColumns(t, ddl, tc.table)
		for _, col := range cols {
			if !schema[col] {
				t.Errorf("%s insert references column %q missing from schema", tc.name, col)
			}
		}
	}
}

func TestInlineSnapshotStatementMatchesSchema(t *testing.T) {
	cols := tableColumns(t, schemaDDL(t), "crdt_snapshots")
	for _, want := range []string{"document_id", "snapshot", "created_at", "updated_at"} {
		if !cols[want] {
			t.Errorf("crdt_snapshots schema missing column %q", want)
		}
	}
	for _, ref := range insertColumns(t, upsertInlineSnapshotSQL) {
		if !cols[ref] {
			t.Errorf("snapshot upsert references column %q missing from schema", ref)
		}
	}
	if !strings.Contains(upsertInlineSnapshotSQL, "updated_at = NOW()") {
		t.Error("snapshot upsert does not refresh updated_at")
	}
}

func TestSnapshotFormBoundary(t *testing.T) {
	const limit = 5 * 1024 * 1024
	if got := snapshotForm(limit, limit); got != StorageInline {
		t.Fatalf("at-limit snapshot routed to %q, want inline", got)
	}
	if got := snapshotForm(limit+1, limit); got != StorageBlob {
		t.Fatalf("over-limit snapshot routed to %q, want blob", got)
	}
	if got := snapshotForm(0, limit); got != StorageInline {
		t.Fatalf("empty snapshot routed to %q, want inline", got)
	}
}
