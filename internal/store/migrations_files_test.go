package store

import (
	"os"
	"path/filepath"
	"testing"
)

const migrationsDir = "../../db/migrations"

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	byVersion := map[string]map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("unexpected file in migrations dir: %s", entry.Name())
		}
		version, direction := match[1], match[2]
		if byVersion[version] == nil {
			byVersion[version] = map[string]bool{}
		}
		if byVersion[version][direction] {
			t.Fatalf("duplicate %s migration file for version %s", direction, version)
		}
		byVersion[version][direction] = true
	}

	if len(byVersion) == 0 {
		t.Fatal("no migrations discovered")
	}
	for version, dirs := range byVersion {
		if !dirs["up"] || !dirs["down"] {
			t.Fatalf("version %s must include both up and down files", version)
		}
	}
}

func TestListMigrationsOrdersByName(t *testing.T) {
	ups, err := listMigrations(os.DirFS(migrationsDir), "up")
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	for i := 1; i < len(ups); i++ {
		if ups[i-1].Name >= ups[i].Name {
			t.Fatalf("migrations out of order: %s before %s", ups[i-1].Name, ups[i].Name)
		}
	}
	if filepath.Ext(ups[0].Name) != ".sql" {
		t.Fatalf("unexpected migration name %s", ups[0].Name)
	}
}
