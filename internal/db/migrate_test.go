package db

import (
	"context"
	"testing"
	"testing/fstest"
	"time"
)

func TestMigrate_Idempotent(t *testing.T) {
	conn := openTempDB(t)

	if err := Migrate(context.Background(), conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 applied migrations, got %d", n)
	}
}

func TestMigrateFS_RejectsDuplicateVersions(t *testing.T) {
	conn := openTempDB(t)
	fsys := fstest.MapFS{
		"0007_a.sql": {Data: []byte("SELECT 1;")},
		"007_b.sql":  {Data: []byte("SELECT 1;")},
	}
	if err := MigrateFS(context.Background(), conn, fsys); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestParseVersion(t *testing.T) {
	cases := map[string]int{"0001_init.sql": 1, "0010_x.sql": 10, "0000_zero.sql": 0}
	for name, want := range cases {
		got, err := parseVersion(name)
		if err != nil {
			t.Errorf("parseVersion(%q): %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("parseVersion(%q): expected %d, got %d", name, want, got)
		}
	}
	if _, err := parseVersion("init.sql"); err == nil {
		t.Error("expected error for name without version prefix")
	}
}

func TestSeedDev_OnlySeedsEmptyLedger(t *testing.T) {
	conn := openTempDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	n, err := SeedDev(ctx, conn, SeedDevOptions{Inside: 2, Now: now})
	if err != nil {
		t.Fatalf("SeedDev: %v", err)
	}
	if n != 7 {
		t.Errorf("expected 7 seeded rows, got %d", n)
	}

	var inside int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM access_records WHERE status = 0`).Scan(&inside); err != nil {
		t.Fatalf("count: %v", err)
	}
	if inside != 2 {
		t.Errorf("expected 2 inside, got %d", inside)
	}

	again, err := SeedDev(ctx, conn, SeedDevOptions{Now: now})
	if err != nil {
		t.Fatalf("second SeedDev: %v", err)
	}
	if again != 0 {
		t.Errorf("expected no rows on second seed, got %d", again)
	}
}
