package sstore

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tribixbite/waveterm/internal/store"
)

// Persistent update-log entry types. The log survives restarts so remote
// viewers can catch up on anything written while no writer was draining.
const (
	UpdateType_ScreenNew          = "screen:new"
	UpdateType_ScreenDel          = "screen:del"
	UpdateType_ScreenName         = "screen:sharename"
	UpdateType_ScreenSelectedLine = "screen:selectedline"
	UpdateType_LineNew            = "line:new"
	UpdateType_LineDel            = "line:del"
	UpdateType_LineRenderer       = "line:renderer"
	UpdateType_LineContentHeight  = "line:contentheight"
	UpdateType_LineState          = "line:state"
	UpdateType_CmdStatus          = "cmd:status"
	UpdateType_CmdTermOpts        = "cmd:termopts"
	UpdateType_CmdExitCode        = "cmd:exitcode"
	UpdateType_CmdDurationMs      = "cmd:durationms"
	UpdateType_CmdRtnState        = "cmd:rtnstate"
	UpdateType_PtyPos             = "pty:pos"
)

type ScreenUpdateType struct {
	UpdateId   int64  `json:"updateid"`
	ScreenId   string `json:"screenid"`
	LineId     string `json:"lineid"`
	UpdateType string `json:"updatetype"`
	UpdateTs   int64  `json:"updatets"`
}

func (su *ScreenUpdateType) ToMap() map[string]any {
	return map[string]any{
		"updateid":   su.UpdateId,
		"screenid":   su.ScreenId,
		"lineid":     su.LineId,
		"updatetype": su.UpdateType,
		"updatets":   su.UpdateTs,
	}
}

func (su *ScreenUpdateType) FromMap(m map[string]any) bool {
	store.QuickSetInt64(&su.UpdateId, m, "updateid")
	store.QuickSetStr(&su.ScreenId, m, "screenid")
	store.QuickSetStr(&su.LineId, m, "lineid")
	store.QuickSetStr(&su.UpdateType, m, "updatetype")
	store.QuickSetInt64(&su.UpdateTs, m, "updatets")
	return su.UpdateType != ""
}

// IsWebShare reports whether the screen is currently shared to the web.
// Every update-log insert is gated on this so local screens never grow
// the log.
func IsWebShare(tx *TxWrap, screenId string) bool {
	return tx.Exists(`SELECT screenid FROM screen WHERE screenid = ? AND sharemode = ?`, screenId, ShareModeWeb)
}

// insertScreenLineUpdate appends a line-scoped entry to the update log.
// line:new and line:del supersede any pending entries for the line; other
// types coalesce (a pending entry of the same type absorbs the new one).
// line:new also records the line's pty position so the viewer gets the
// output it already has.
func insertScreenLineUpdate(tx *TxWrap, screenId string, lineId string, updateType string) {
	if screenId == "" || lineId == "" {
		log.Printf("[sstore] invalid screen-update, screenid or lineid empty (type %s)", updateType)
		return
	}
	if updateType == UpdateType_LineNew || updateType == UpdateType_LineDel {
		tx.Exec(`DELETE FROM screenupdate WHERE screenid = ? AND lineid = ?`, screenId, lineId)
	} else {
		if tx.Exists(`SELECT updateid FROM screenupdate WHERE screenid = ? AND lineid = ? AND updatetype = ?`, screenId, lineId, updateType) {
			return
		}
	}
	nowTs := time.Now().UnixMilli()
	tx.Exec(`INSERT INTO screenupdate (screenid, lineid, updatetype, updatets) VALUES (?, ?, ?, ?)`,
		screenId, lineId, updateType, nowTs)
	if updateType == UpdateType_LineNew {
		tx.Exec(`INSERT INTO screenupdate (screenid, lineid, updatetype, updatets) VALUES (?, ?, ?, ?)`,
			screenId, lineId, UpdateType_PtyPos, nowTs)
	}
	NotifyUpdateWriter()
}

// insertScreenUpdate appends a screen-scoped entry (no line).
func insertScreenUpdate(tx *TxWrap, screenId string, updateType string) {
	if screenId == "" {
		log.Printf("[sstore] invalid screen-update, screenid empty (type %s)", updateType)
		return
	}
	tx.Exec(`INSERT INTO screenupdate (screenid, lineid, updatetype, updatets) VALUES (?, '', ?, ?)`,
		screenId, updateType, time.Now().UnixMilli())
	NotifyUpdateWriter()
}

// handleScreenDelUpdate collapses a screen's pending entries into a single
// screen:del and drops the viewer pty positions.
func handleScreenDelUpdate(tx *TxWrap, screenId string) {
	tx.Exec(`DELETE FROM screenupdate WHERE screenid = ?`, screenId)
	tx.Exec(`DELETE FROM webptypos WHERE screenid = ?`, screenId)
	tx.Exec(`INSERT INTO screenupdate (screenid, lineid, updatetype, updatets) VALUES (?, '', ?, ?)`,
		screenId, UpdateType_ScreenDel, time.Now().UnixMilli())
	NotifyUpdateWriter()
}

// insertScreenNewUpdate seeds the log for a newly shared screen: the
// screen itself plus every visible line and its pty position.
func insertScreenNewUpdate(tx *TxWrap, screenId string) {
	nowTs := time.Now().UnixMilli()
	tx.Exec(`INSERT INTO screenupdate (screenid, lineid, updatetype, updatets) VALUES (?, '', ?, ?)`,
		screenId, UpdateType_ScreenNew, nowTs)
	tx.Exec(`INSERT INTO screenupdate (screenid, lineid, updatetype, updatets)
             SELECT screenid, lineid, ?, ? FROM line WHERE screenid = ? AND NOT archived ORDER BY linenum`,
		UpdateType_LineNew, nowTs, screenId)
	tx.Exec(`INSERT INTO screenupdate (screenid, lineid, updatetype, updatets)
             SELECT screenid, lineid, ?, ? FROM line WHERE screenid = ? AND NOT archived ORDER BY linenum`,
		UpdateType_PtyPos, nowTs, screenId)
	NotifyUpdateWriter()
}

// MaybeInsertPtyPosUpdate records that a line has new pty output; repeated
// output before the writer drains coalesces into one entry. No-op for
// screens that are not web-shared.
func MaybeInsertPtyPosUpdate(ctx context.Context, screenId string, lineId string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		if !IsWebShare(tx, screenId) {
			return nil
		}
		insertScreenLineUpdate(tx, screenId, lineId, UpdateType_PtyPos)
		return tx.Err
	})
}

func GetScreenUpdates(ctx context.Context, maxNum int) ([]*ScreenUpdateType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*ScreenUpdateType, error) {
		query := `SELECT * FROM screenupdate ORDER BY updateid LIMIT ?`
		return store.SelectMapsGen[ScreenUpdateType](tx, query, maxNum), nil
	})
}

func CountScreenUpdates(ctx context.Context) (int, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (int, error) {
		return tx.GetInt(`SELECT count(*) FROM screenupdate`), nil
	})
}

func RemoveScreenUpdate(ctx context.Context, updateId int64) error {
	if updateId < 0 {
		return nil
	}
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`DELETE FROM screenupdate WHERE updateid = ?`, updateId)
		return tx.Err
	})
}

func RemoveScreenUpdates(ctx context.Context, updateIds []int64) error {
	if len(updateIds) == 0 {
		return nil
	}
	return WithTx(ctx, func(tx *TxWrap) error {
		for _, updateId := range updateIds {
			tx.Exec(`DELETE FROM screenupdate WHERE updateid = ?`, updateId)
		}
		return tx.Err
	})
}

// Dispatcher delivers one drained update-log entry to its destination.
type Dispatcher interface {
	DispatchScreenUpdate(ctx context.Context, su *ScreenUpdateType) error
}

const updateWriterBatchSize = 100

var updateWriterLock = &sync.Mutex{}
var updateWriterCVar = sync.NewCond(updateWriterLock)
var updateWriterRunning bool
var updateWriterNumPending int
var updateWriterStop bool

// NotifyUpdateWriter wakes the update writer. Signaling happens on a
// separate goroutine so callers inside a DB transaction never block.
func NotifyUpdateWriter() {
	go func() {
		updateWriterLock.Lock()
		defer updateWriterLock.Unlock()
		updateWriterNumPending++
		updateWriterCVar.Signal()
	}()
}

func updateWriterWait() bool {
	updateWriterLock.Lock()
	defer updateWriterLock.Unlock()
	for updateWriterNumPending == 0 && !updateWriterStop {
		updateWriterCVar.Wait()
	}
	updateWriterNumPending = 0
	return !updateWriterStop
}

// StopUpdateWriter signals the writer loop to exit after its current
// batch.
func StopUpdateWriter() {
	updateWriterLock.Lock()
	defer updateWriterLock.Unlock()
	updateWriterStop = true
	updateWriterCVar.Broadcast()
}

// RunUpdateWriter drains the persistent update log into the dispatcher,
// blocking until StopUpdateWriter. Entries are removed only after a
// successful dispatch; dispatch errors back off and retry.
func RunUpdateWriter(dispatcher Dispatcher) {
	updateWriterLock.Lock()
	if updateWriterRunning {
		updateWriterLock.Unlock()
		log.Printf("[sstore] update writer already running")
		return
	}
	updateWriterRunning = true
	updateWriterLock.Unlock()
	defer func() {
		updateWriterLock.Lock()
		updateWriterRunning = false
		updateWriterLock.Unlock()
	}()
	log.Printf("[sstore] update writer started")
	errBackoff := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(0),
	)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		updates, err := GetScreenUpdates(ctx, updateWriterBatchSize)
		cancel()
		if err != nil {
			log.Printf("[sstore] update writer error reading updates: %v", err)
			time.Sleep(errBackoff.NextBackOff())
			continue
		}
		if len(updates) == 0 {
			errBackoff.Reset()
			if !updateWriterWait() {
				return
			}
			continue
		}
		var doneIds []int64
		for _, su := range updates {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := dispatcher.DispatchScreenUpdate(ctx, su)
			cancel()
			if err != nil {
				log.Printf("[sstore] update writer dispatch error (type %s): %v", su.UpdateType, err)
				break
			}
			doneIds = append(doneIds, su.UpdateId)
		}
		if len(doneIds) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			removeErr := RemoveScreenUpdates(ctx, doneIds)
			cancel()
			if removeErr != nil {
				log.Printf("[sstore] update writer error removing updates: %v", removeErr)
			}
		}
		if len(doneIds) < len(updates) {
			time.Sleep(errBackoff.NextBackOff())
		} else {
			errBackoff.Reset()
		}
	}
}
