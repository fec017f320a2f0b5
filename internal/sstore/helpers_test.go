package sstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/tribixbite/waveterm/internal/bus"
	"github.com/tribixbite/waveterm/internal/store"
)

func TestMain(m *testing.M) {
	// the wave home dir resolves once per process, so pin it to a temp dir
	// before any test touches scbase
	homeDir, err := os.MkdirTemp("", "wavesrv-test-home-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot create test home dir: %v\n", err)
		os.Exit(1)
	}
	viper.Set("home", homeDir)
	code := m.Run()
	os.RemoveAll(homeDir)
	os.Exit(code)
}

func setupTestDB(t *testing.T) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "wavesrv-test.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := db.RunMigrations(context.Background(), migrations); err != nil {
		db.Close()
		t.Fatalf("running migrations: %v", err)
	}
	old := resetDBForTest(db)
	t.Cleanup(func() {
		resetDBForTest(old)
		db.Close()
	})
}

// makeTestSession creates a session (with its first screen) and returns
// both ids.
func makeTestSession(t *testing.T, ctx context.Context, name string) (string, string) {
	t.Helper()
	update, err := InsertSessionWithName(ctx, name, true)
	if err != nil {
		t.Fatalf("inserting session: %v", err)
	}
	sessions := bus.GetUpdateItems[SessionType](update)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session update, got %d", len(sessions))
	}
	screens := bus.GetUpdateItems[ScreenType](update)
	if len(screens) != 1 {
		t.Fatalf("expected 1 screen update, got %d", len(screens))
	}
	return sessions[0].SessionId, screens[0].ScreenId
}

func makeTestCmd(screenId string, lineId string, status string) *CmdType {
	return &CmdType{
		ScreenId: screenId,
		LineId:   lineId,
		CmdStr:   "echo hello",
		Status:   status,
		TermOpts: TermOpts{Rows: 24, Cols: 80},
	}
}
