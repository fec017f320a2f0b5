package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	err = db.WithTx(context.Background(), func(tx *TxWrap) error {
		tx.Exec(`CREATE TABLE kv (name varchar(50) PRIMARY KEY, value varchar(200) NOT NULL, num int NOT NULL DEFAULT 0)`)
		return tx.Err
	})
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	return db
}

func TestWithTxCommit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`INSERT INTO kv (name, value) VALUES (?, ?)`, "greeting", "hello")
		return tx.Err
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	val, err := WithTxRtn(ctx, db, func(tx *TxWrap) (string, error) {
		return tx.GetString(`SELECT value FROM kv WHERE name = ?`, "greeting"), nil
	})
	if err != nil || val != "hello" {
		t.Fatalf("expected hello, got %q (err %v)", val, err)
	}
}

func TestWithTxRollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	sentinel := fmt.Errorf("boom")
	err := db.WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`INSERT INTO kv (name, value) VALUES (?, ?)`, "doomed", "x")
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected sentinel error, got %v", err)
	}
	exists, _ := WithTxRtn(ctx, db, func(tx *TxWrap) (bool, error) {
		return tx.Exists(`SELECT name FROM kv WHERE name = ?`, "doomed"), nil
	})
	if exists {
		t.Fatalf("expected insert rolled back")
	}
}

func TestWithTxNesting(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`INSERT INTO kv (name, value) VALUES (?, ?)`, "outer", "1")
		// nested call joins the same transaction and sees its writes
		return db.WithTx(tx.Context(), func(inner *TxWrap) error {
			if inner != tx {
				return fmt.Errorf("expected nested call to reuse outer tx")
			}
			if !inner.Exists(`SELECT name FROM kv WHERE name = ?`, "outer") {
				return fmt.Errorf("nested tx cannot see outer write")
			}
			inner.Exec(`INSERT INTO kv (name, value) VALUES (?, ?)`, "inner", "2")
			return inner.Err
		})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	count, _ := WithTxRtn(ctx, db, func(tx *TxWrap) (int, error) {
		return tx.GetInt(`SELECT count(*) FROM kv`), nil
	})
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

func TestTxErrShortCircuits(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`INSERT INTO bad_table (name) VALUES (?)`, "x")
		// after the error, later helpers are no-ops and preserve the error
		tx.Exec(`INSERT INTO kv (name, value) VALUES (?, ?)`, "after", "x")
		if got := tx.GetString(`SELECT value FROM kv WHERE name = ?`, "after"); got != "" {
			t.Errorf("expected empty result after error, got %q", got)
		}
		return tx.Err
	})
	if err == nil {
		t.Fatalf("expected error from bad table")
	}
	exists, _ := WithTxRtn(ctx, db, func(tx *TxWrap) (bool, error) {
		return tx.Exists(`SELECT name FROM kv WHERE name = ?`, "after"), nil
	})
	if exists {
		t.Fatalf("expected whole tx rolled back after error")
	}
}

func TestNamedExecBinding(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *TxWrap) error {
		tx.NamedExec(`INSERT INTO kv (name, value, num) VALUES (:name,:value,:num)`, map[string]any{
			"name":  "bound",
			"value": "it's :quoted",
			"num":   7,
		})
		return tx.Err
	})
	if err != nil {
		t.Fatalf("named exec: %v", err)
	}
	val, num, err := WithTxRtn3(ctx, db, func(tx *TxWrap) (string, int, error) {
		return tx.GetString(`SELECT value FROM kv WHERE name = ?`, "bound"),
			tx.GetInt(`SELECT num FROM kv WHERE name = ?`, "bound"), nil
	})
	if err != nil || val != "it's :quoted" || num != 7 {
		t.Fatalf("expected bound row, got %q/%d (err %v)", val, num, err)
	}
}

func TestSelectHelpers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *TxWrap) error {
		for i := 1; i <= 3; i++ {
			tx.Exec(`INSERT INTO kv (name, value, num) VALUES (?, ?, ?)`, fmt.Sprintf("k%d", i), "v", i)
		}
		return tx.Err
	})
	if err != nil {
		t.Fatalf("seeding: %v", err)
	}
	names, nums, err := WithTxRtn3(ctx, db, func(tx *TxWrap) ([]string, []int64, error) {
		return tx.SelectStrings(`SELECT name FROM kv ORDER BY num`),
			tx.SelectInts(`SELECT num FROM kv ORDER BY num`), nil
	})
	if err != nil {
		t.Fatalf("selecting: %v", err)
	}
	if len(names) != 3 || names[0] != "k1" || names[2] != "k3" {
		t.Fatalf("unexpected names %v", names)
	}
	if len(nums) != 3 || nums[0] != 1 || nums[2] != 3 {
		t.Fatalf("unexpected nums %v", nums)
	}
	m, _ := WithTxRtn(ctx, db, func(tx *TxWrap) (map[string]any, error) {
		return tx.GetMap(`SELECT * FROM kv WHERE name = ?`, "k2"), nil
	})
	if m["name"] != "k2" {
		t.Fatalf("unexpected map %v", m)
	}
}

func TestRunMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	defer db.Close()
	ctx := context.Background()
	migs := []Migration{
		{Version: 1, Name: "init", SQL: `CREATE TABLE t1 (id int PRIMARY KEY);`},
		{Version: 2, Name: "add-t2", SQL: `CREATE TABLE t2 (id int PRIMARY KEY);`},
	}
	if err := db.RunMigrations(ctx, migs); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	// second run is a no-op
	if err := db.RunMigrations(ctx, migs); err != nil {
		t.Fatalf("migrations rerun: %v", err)
	}
	count, _ := WithTxRtn(ctx, db, func(tx *TxWrap) (int, error) {
		return tx.GetInt(`SELECT count(*) FROM schema_migrations`), nil
	})
	if count != 2 {
		t.Fatalf("expected 2 applied migrations, got %d", count)
	}
}
