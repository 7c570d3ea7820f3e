package database

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMigrationFileHelpers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"000002_stats.up.sql", "000001_documents.up.sql", "000001_documents.down.sql", "README.md"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("--"), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	files := listMigrationFiles(dir)
	if len(files) != 2 || files[0] != "000001_documents.up.sql" {
		t.Fatalf("files = %v", files)
	}
	if got := countApplied(files, 0, 2); got != 2 {
		t.Fatalf("countApplied(0,2) = %d", got)
	}
	if got := countApplied(files, 1, 1); got != 0 {
		t.Fatalf("countApplied(1,1) = %d", got)
	}
	if got := selectApplied(files, 1, 2); len(got) != 1 || got[0] != "000002_stats.up.sql" {
		t.Fatalf("selectApplied = %v", got)
	}
	if v := parseVersion("garbage.sql"); v != 0 {
		t.Fatalf("parseVersion(garbage) = %d", v)
	}
}
