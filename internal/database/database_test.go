package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(&Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	db := openTestDB(t)

	if err := db.Health(context.Background()); err != nil {
		t.Errorf("Health() error = %v", err)
	}
}

func TestOpenBadPath(t *testing.T) {
	_, err := Open(&Config{Path: string([]byte{0}) + "/impossible/test.db"})
	if err == nil {
		t.Fatal("Open() expected error for invalid path")
	}
}

func TestTransactionCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (?)", "hello")
		return err
	})
	if err != nil {
		t.Fatalf("Transaction() error = %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	wantErr := errors.New("boom")
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (?)", "hello"); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Transaction() error = %v, want %v", err, wantErr)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d after rollback, want 0", count)
	}
}

func TestMigratorRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db)
	if err := m.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// All core tables exist
	tables := []string{"cameras", "zones", "analytics_samples", "alerts", "zone_events", "movements"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after migration: %v", table, err)
		}
	}

	// Running again is a no-op
	if err := m.Run(ctx); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	status, err := m.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if len(status) == 0 {
		t.Fatal("GetStatus() returned no migrations")
	}
	for _, mig := range status {
		if mig.AppliedAt.IsZero() {
			t.Errorf("migration %d (%s) not applied", mig.Version, mig.Name)
		}
	}
}

func TestMovementsUniqueConstraint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := NewMigrator(db).Run(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	insert := `INSERT INTO movements (id, entry_camera, entry_track, entry_ts, exit_camera, exit_track, exit_ts,
		similarity, confidence, duration_s, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := db.Exec(insert, "m1", "cam_a", 1, 1000, "cam_b", 2, 2000, 0.8, "medium", 1.0, 0, 0); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := db.Exec(insert, "m2", "cam_a", 1, 1500, "cam_b", 2, 2500, 0.9, "high", 1.0, 0, 0); err == nil {
		t.Error("expected unique constraint violation on duplicate camera/track pair")
	}
}
