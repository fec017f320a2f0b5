// Package sstore is the relational core of wavesrv: clients, sessions,
// screens, lines, cmds, remotes, shell-state storage, pty output files, and
// the persistent update log. All writes run through the single-writer
// transaction wrapper in internal/store.
package sstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tribixbite/waveterm/internal/store"
)

const (
	ShareModeLocal = "local"
	ShareModeWeb   = "web"
)

const (
	ConnectModeStartup = "startup"
	ConnectModeAuto    = "auto"
	ConnectModeManual  = "manual"
)

const (
	CmdStatusRunning  = "running"
	CmdStatusDetached = "detached"
	CmdStatusError    = "error"
	CmdStatusDone     = "done"
	CmdStatusHangup   = "hangup"
	CmdStatusUnknown  = "unknown"
)

const (
	SSHConfigSrcTypeManual = "waveterm-manual"
	SSHConfigSrcTypeImport = "sshconfig-import"
)

const (
	ShellTypePrefDetect = "detect"
)

const (
	DefaultSessionName = "default"
	DefaultScreenName  = "s1"
	LocalRemoteAlias   = "local"
	SudoRemoteAlias    = "sudo"
)

const DefaultCwd = "~"

const (
	CmdRendererOpenAI = "openai"

	OpenAIRoleUser      = "user"
	OpenAIRoleAssistant = "assistant"
)

var globalDBLock = &sync.Mutex{}
var globalDB *store.Database

// InitDB opens the main database and applies migrations.
func InitDB(ctx context.Context, dbPath string) error {
	globalDBLock.Lock()
	defer globalDBLock.Unlock()
	if globalDB != nil {
		return fmt.Errorf("sstore already initialized")
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	if err := db.RunMigrations(ctx, migrations); err != nil {
		db.Close()
		return err
	}
	globalDB = db
	return nil
}

func CloseDB() error {
	globalDBLock.Lock()
	defer globalDBLock.Unlock()
	if globalDB == nil {
		return nil
	}
	err := globalDB.Close()
	globalDB = nil
	return err
}

// GetDB returns the main database handle.
func GetDB() *store.Database {
	globalDBLock.Lock()
	defer globalDBLock.Unlock()
	if globalDB == nil {
		panic("sstore not initialized")
	}
	return globalDB
}

// resetDBForTest swaps in a test database (tests only).
func resetDBForTest(db *store.Database) *store.Database {
	globalDBLock.Lock()
	defer globalDBLock.Unlock()
	old := globalDB
	globalDB = db
	return old
}

// WithTx runs fn in a write transaction on the main database.
func WithTx(ctx context.Context, fn func(tx *store.TxWrap) error) error {
	return GetDB().WithTx(ctx, fn)
}

func WithTxRtn[RT any](ctx context.Context, fn func(tx *store.TxWrap) (RT, error)) (RT, error) {
	return store.WithTxRtn(ctx, GetDB(), fn)
}

func WithTxRtn3[RT1 any, RT2 any](ctx context.Context, fn func(tx *store.TxWrap) (RT1, RT2, error)) (RT1, RT2, error) {
	return store.WithTxRtn3(ctx, GetDB(), fn)
}

// TxWrap re-exported for call sites.
type TxWrap = store.TxWrap

// validateSessionScreen checks that the screen belongs to the session.
func validateSessionScreen(tx *TxWrap, sessionId string, screenId string) error {
	if screenId == "" {
		if !tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ?`, sessionId) {
			return fmt.Errorf("no session found")
		}
		return nil
	}
	if !tx.Exists(`SELECT screenid FROM screen WHERE sessionid = ? AND screenid = ?`, sessionId, screenId) {
		return fmt.Errorf("no screen found")
	}
	return nil
}

// GetNextId returns the id after curId in ids, treating the list as
// circular. Empty list returns ""; a missing curId returns the first id.
func GetNextId(ids []string, curId string) string {
	if len(ids) == 0 {
		return ""
	}
	for idx, id := range ids {
		if id == curId {
			return ids[(idx+1)%len(ids)]
		}
	}
	return ids[0]
}

// reorderStrs moves movedId to newIdx (1-indexed) and compacts the rest in
// order. Returns the ids paired with their new indexes.
type strIdx struct {
	Id  string
	Idx int64
}

func reorderStrs(ids []string, movedId string, newIdx int64) []strIdx {
	rtn := make([]strIdx, 0, len(ids))
	var curIdx int64 = 1
	for _, id := range ids {
		if id == movedId {
			continue
		}
		if curIdx == newIdx {
			rtn = append(rtn, strIdx{Id: movedId, Idx: curIdx})
			curIdx++
		}
		rtn = append(rtn, strIdx{Id: id, Idx: curIdx})
		curIdx++
	}
	if curIdx <= newIdx {
		rtn = append(rtn, strIdx{Id: movedId, Idx: curIdx})
	}
	return rtn
}
