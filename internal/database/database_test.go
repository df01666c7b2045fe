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
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen(t *testing.T) {
	db := openTestDB(t)

	if err := db.Health(context.Background()); err != nil {
		t.Errorf("Health check failed: %v", err)
	}
	if db.Path() == "" {
		t.Error("Path should not be empty")
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")

	db, err := Open(&Config{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("Failed to open database in nested directory: %v", err)
	}
	db.Close()
}

func TestTransactionCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec("CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (1)")
		return err
	})
	if err != nil {
		t.Fatalf("Transaction failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 row, got %d", count)
	}
}

func TestTransactionRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.Exec("CREATE TABLE t (v INTEGER)"); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	boom := errors.New("boom")
	err := db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM t").Scan(&count); err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected rollback, got %d rows", count)
	}
}
