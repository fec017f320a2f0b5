package sstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tribixbite/waveterm/internal/bus"
	"github.com/tribixbite/waveterm/internal/scbase"
	"github.com/tribixbite/waveterm/internal/store"
)

type SessionType struct {
	SessionId      string `json:"sessionid"`
	Name           string `json:"name"`
	SessionIdx     int64  `json:"sessionidx"`
	ActiveScreenId string `json:"activescreenid"`
	ShareMode      string `json:"sharemode"`
	NotifyNum      int64  `json:"notifynum"`
	Archived       bool   `json:"archived,omitempty"`
	ArchivedTs     int64  `json:"archivedts,omitempty"`

	// only for updates
	Remotes []*RemoteInstance `json:"remotes,omitempty"`
	Full    bool              `json:"full,omitempty"`
	Remove  bool              `json:"remove,omitempty"`
}

func (SessionType) GetType() string {
	return "session"
}

func (s *SessionType) ToMap() map[string]any {
	return map[string]any{
		"sessionid":      s.SessionId,
		"name":           s.Name,
		"sessionidx":     s.SessionIdx,
		"activescreenid": s.ActiveScreenId,
		"sharemode":      s.ShareMode,
		"notifynum":      s.NotifyNum,
		"archived":       s.Archived,
		"archivedts":     s.ArchivedTs,
	}
}

func (s *SessionType) FromMap(m map[string]any) bool {
	store.QuickSetStr(&s.SessionId, m, "sessionid")
	store.QuickSetStr(&s.Name, m, "name")
	store.QuickSetInt64(&s.SessionIdx, m, "sessionidx")
	store.QuickSetStr(&s.ActiveScreenId, m, "activescreenid")
	store.QuickSetStr(&s.ShareMode, m, "sharemode")
	store.QuickSetInt64(&s.NotifyNum, m, "notifynum")
	store.QuickSetBool(&s.Archived, m, "archived")
	store.QuickSetInt64(&s.ArchivedTs, m, "archivedts")
	return s.SessionId != ""
}

type SessionTombstoneType struct {
	SessionId string `json:"sessionid"`
	Name      string `json:"name"`
	DeletedTs int64  `json:"deletedts"`
}

func (SessionTombstoneType) GetType() string {
	return "sessiontombstone"
}

// ActiveSessionIdUpdate tells clients the active session changed.
type ActiveSessionIdUpdate string

func (ActiveSessionIdUpdate) GetType() string {
	return "activesessionid"
}

type SessionDiskSizeType struct {
	NumFiles   int    `json:"numfiles"`
	TotalSize  int64  `json:"totalsize"`
	ErrorCount int    `json:"errorcount"`
	Location   string `json:"location"`
}

type SessionStatsType struct {
	SessionId          string              `json:"sessionid"`
	NumScreens         int                 `json:"numscreens"`
	NumArchivedScreens int                 `json:"numarchivedscreens"`
	NumLines           int                 `json:"numlines"`
	NumCmds            int                 `json:"numcmds"`
	DiskStats          SessionDiskSizeType `json:"diskstats"`
}

func GetBareSessions(ctx context.Context) ([]*SessionType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*SessionType, error) {
		query := `SELECT * FROM session ORDER BY archived, sessionidx, archivedts`
		return store.SelectMapsGen[SessionType](tx, query), nil
	})
}

func GetBareSessionById(ctx context.Context, sessionId string) (*SessionType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*SessionType, error) {
		query := `SELECT * FROM session WHERE sessionid = ?`
		return store.GetMapGen[SessionType](tx, query, sessionId), nil
	})
}

// GetSessionById returns the session with its remote instances attached.
func GetSessionById(ctx context.Context, sessionId string) (*SessionType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*SessionType, error) {
		session := store.GetMapGen[SessionType](tx, `SELECT * FROM session WHERE sessionid = ?`, sessionId)
		if session == nil {
			return nil, nil
		}
		query := `SELECT * FROM remote_instance WHERE sessionid = ?`
		session.Remotes = store.SelectMapsGen[RemoteInstance](tx, query, sessionId)
		session.Full = true
		return session, nil
	})
}

func GetSessionByName(ctx context.Context, name string) (*SessionType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*SessionType, error) {
		sessionId := tx.GetString(`SELECT sessionid FROM session WHERE name = ?`, name)
		if sessionId == "" {
			return nil, nil
		}
		return GetSessionById(tx.Context(), sessionId)
	})
}

func GetAllSessionIds(ctx context.Context) ([]string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]string, error) {
		return tx.SelectStrings(`SELECT sessionid FROM session ORDER BY sessionidx`), nil
	})
}

func GetSessionCount(ctx context.Context) (int, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (int, error) {
		return tx.GetInt(`SELECT count(*) FROM session WHERE NOT archived`), nil
	})
}

func GetFirstSessionId(ctx context.Context) (string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (string, error) {
		ids := tx.SelectStrings(`SELECT sessionid FROM session WHERE NOT archived ORDER BY sessionidx`)
		if len(ids) == 0 {
			return "", nil
		}
		return ids[0], nil
	})
}

// InsertSessionWithName creates a session plus its first screen. An empty
// name picks the next free "workspace-%d"; a colliding name gets a "-2"
// style suffix. When activate is set the new session becomes active.
func InsertSessionWithName(ctx context.Context, sessionName string, activate bool) (*bus.ModelUpdatePacketType, error) {
	newSessionId := scbase.GenWaveUUID()
	update := bus.MakeUpdatePacket()
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		names := tx.SelectStrings(`SELECT name FROM session`)
		sessionName = store.FmtUniqueName(sessionName, "workspace-%d", len(names)+1, names)
		maxSessionIdx := tx.GetInt64(`SELECT COALESCE(max(sessionidx), 0) FROM session`)
		query := `INSERT INTO session (sessionid, name, activescreenid, sessionidx, notifynum, archived, archivedts, sharemode)
                               VALUES (?,         ?,    '',             ?,          0,         0,        0,          ?)`
		tx.Exec(query, newSessionId, sessionName, maxSessionIdx+1, ShareModeLocal)
		screenUpdate, err := InsertScreen(tx.Context(), newSessionId, "", true)
		if err != nil {
			return err
		}
		// only take the screen item; the session row is added once below
		for _, newScreen := range bus.GetUpdateItems[ScreenType](screenUpdate) {
			update.AddUpdate(newScreen)
		}
		if activate {
			tx.Exec(`UPDATE client SET activesessionid = ?`, newSessionId)
		}
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	session, err := GetSessionById(ctx, newSessionId)
	if err != nil {
		return nil, err
	}
	update.AddUpdate(*session)
	if activate {
		update.AddUpdate(ActiveSessionIdUpdate(newSessionId))
	}
	return update, nil
}

func SetSessionName(ctx context.Context, sessionId string, name string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ?`, sessionId) {
			return fmt.Errorf("session does not exist")
		}
		if name != "" {
			dupSessionId := tx.GetString(`SELECT sessionid FROM session WHERE name = ?`, name)
			if dupSessionId == sessionId {
				return nil
			}
			if dupSessionId != "" {
				return fmt.Errorf("cannot change session name, %q already exists", name)
			}
		}
		tx.Exec(`UPDATE session SET name = ? WHERE sessionid = ?`, name, sessionId)
		return tx.Err
	})
}

func SetSessionNotifyNum(ctx context.Context, sessionId string, notifyNum int64) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE session SET notifynum = ? WHERE sessionid = ?`, notifyNum, sessionId)
		return tx.Err
	})
}

// ArchiveSession hides the session from normal listings. The active session
// is repointed when the archived one was active.
func ArchiveSession(ctx context.Context, sessionId string) (*bus.ModelUpdatePacketType, error) {
	if sessionId == "" {
		return nil, fmt.Errorf("invalid blank sessionid")
	}
	var newActiveSessionId string
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ?`, sessionId) {
			return fmt.Errorf("session does not exist")
		}
		if tx.GetBool(`SELECT archived FROM session WHERE sessionid = ?`, sessionId) {
			return nil
		}
		tx.Exec(`UPDATE session SET archived = 1, archivedts = ? WHERE sessionid = ?`, time.Now().UnixMilli(), sessionId)
		newActiveSessionId = fixActiveSessionId(tx)
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	update := bus.MakeUpdatePacket()
	bareSession, _ := GetBareSessionById(ctx, sessionId)
	if bareSession != nil {
		update.AddUpdate(*bareSession)
	}
	if newActiveSessionId != "" {
		update.AddUpdate(ActiveSessionIdUpdate(newActiveSessionId))
	}
	return update, nil
}

func UnArchiveSession(ctx context.Context, sessionId string, activate bool) (*bus.ModelUpdatePacketType, error) {
	if sessionId == "" {
		return nil, fmt.Errorf("invalid blank sessionid")
	}
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ?`, sessionId) {
			return fmt.Errorf("session does not exist")
		}
		tx.Exec(`UPDATE session SET archived = 0, archivedts = 0 WHERE sessionid = ?`, sessionId)
		if activate {
			tx.Exec(`UPDATE client SET activesessionid = ?`, sessionId)
		}
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	update := bus.MakeUpdatePacket()
	bareSession, _ := GetBareSessionById(ctx, sessionId)
	if bareSession != nil {
		update.AddUpdate(*bareSession)
	}
	if activate {
		update.AddUpdate(ActiveSessionIdUpdate(sessionId))
	}
	return update, nil
}

// DeleteSession removes the session, all of its screens, and its remote
// instances, leaving a tombstone behind.
func DeleteSession(ctx context.Context, sessionId string) (*bus.ModelUpdatePacketType, error) {
	if sessionId == "" {
		return nil, fmt.Errorf("invalid blank sessionid")
	}
	var newActiveSessionId string
	var tombstone SessionTombstoneType
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		bareSession := store.GetMapGen[SessionType](tx, `SELECT * FROM session WHERE sessionid = ?`, sessionId)
		if bareSession == nil {
			return fmt.Errorf("session does not exist")
		}
		screenIds := tx.SelectStrings(`SELECT screenid FROM screen WHERE sessionid = ?`, sessionId)
		for _, screenId := range screenIds {
			if _, err := DeleteScreen(tx.Context(), screenId, true); err != nil {
				return fmt.Errorf("deleting screen %s: %w", screenId, err)
			}
		}
		tx.Exec(`DELETE FROM session WHERE sessionid = ?`, sessionId)
		tx.Exec(`DELETE FROM remote_instance WHERE sessionid = ?`, sessionId)
		tombstone = SessionTombstoneType{
			SessionId: sessionId,
			Name:      bareSession.Name,
			DeletedTs: time.Now().UnixMilli(),
		}
		tx.NamedExec(`INSERT INTO session_tombstone (sessionid, name, deletedts) VALUES (:sessionid,:name,:deletedts)`,
			map[string]any{"sessionid": tombstone.SessionId, "name": tombstone.Name, "deletedts": tombstone.DeletedTs})
		newActiveSessionId = fixActiveSessionId(tx)
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	update := bus.MakeUpdatePacket()
	update.AddUpdate(SessionType{SessionId: sessionId, Remove: true})
	update.AddUpdate(tombstone)
	if newActiveSessionId != "" {
		update.AddUpdate(ActiveSessionIdUpdate(newActiveSessionId))
	}
	return update, nil
}

// fixActiveSessionId repoints the client's active session to the first
// unarchived session when the current one is gone or archived. Returns the
// new active session id, or "" when no change was needed.
func fixActiveSessionId(tx *TxWrap) string {
	curActiveSessionId := tx.GetString(`SELECT activesessionid FROM client`)
	if curActiveSessionId != "" {
		if tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ? AND NOT archived`, curActiveSessionId) {
			return ""
		}
	}
	ids := tx.SelectStrings(`SELECT sessionid FROM session WHERE NOT archived ORDER BY sessionidx`)
	newActiveSessionId := ""
	if len(ids) > 0 {
		newActiveSessionId = ids[0]
	}
	tx.Exec(`UPDATE client SET activesessionid = ?`, newActiveSessionId)
	return newActiveSessionId
}

func GetSessionTombstones(ctx context.Context) ([]*SessionTombstoneType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*SessionTombstoneType, error) {
		var rtn []*SessionTombstoneType
		for _, m := range tx.SelectMaps(`SELECT * FROM session_tombstone ORDER BY deletedts DESC`) {
			ts := &SessionTombstoneType{}
			store.QuickSetStr(&ts.SessionId, m, "sessionid")
			store.QuickSetStr(&ts.Name, m, "name")
			store.QuickSetInt64(&ts.DeletedTs, m, "deletedts")
			rtn = append(rtn, ts)
		}
		return rtn, nil
	})
}

// SessionDiskSize sums the pty files under the session's screen dirs.
func SessionDiskSize(sessionId string) (SessionDiskSizeType, error) {
	screenIds, err := GetScreenIdsForSession(context.Background(), sessionId)
	if err != nil {
		return SessionDiskSizeType{}, err
	}
	rtn := SessionDiskSizeType{Location: scbase.GetScreensDir()}
	for _, screenId := range screenIds {
		dirSize := directorySize(filepath.Join(scbase.GetScreensDir(), screenId))
		rtn.NumFiles += dirSize.NumFiles
		rtn.TotalSize += dirSize.TotalSize
		rtn.ErrorCount += dirSize.ErrorCount
	}
	return rtn, nil
}

// FullSessionDiskSize scans every screen dir and groups sizes by session.
func FullSessionDiskSize(ctx context.Context) (map[string]SessionDiskSizeType, error) {
	screenToSession, err := WithTxRtn(ctx, func(tx *TxWrap) (map[string]string, error) {
		rtn := make(map[string]string)
		for _, m := range tx.SelectMaps(`SELECT screenid, sessionid FROM screen`) {
			var screenId, sessionId string
			store.QuickSetStr(&screenId, m, "screenid")
			store.QuickSetStr(&sessionId, m, "sessionid")
			rtn[screenId] = sessionId
		}
		return rtn, nil
	})
	if err != nil {
		return nil, err
	}
	rtn := make(map[string]SessionDiskSizeType)
	for screenId, sessionId := range screenToSession {
		dirSize := directorySize(filepath.Join(scbase.GetScreensDir(), screenId))
		agg := rtn[sessionId]
		agg.Location = scbase.GetScreensDir()
		agg.NumFiles += dirSize.NumFiles
		agg.TotalSize += dirSize.TotalSize
		agg.ErrorCount += dirSize.ErrorCount
		rtn[sessionId] = agg
	}
	return rtn, nil
}

// directorySize sums the direct (non-recursive) files in dirName. A missing
// dir counts as empty.
func directorySize(dirName string) SessionDiskSizeType {
	rtn := SessionDiskSizeType{Location: dirName}
	entries, err := os.ReadDir(dirName)
	if err != nil {
		if !os.IsNotExist(err) {
			rtn.ErrorCount++
		}
		return rtn
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			rtn.ErrorCount++
			continue
		}
		rtn.NumFiles++
		rtn.TotalSize += info.Size()
	}
	return rtn
}

func GetSessionStats(ctx context.Context, sessionId string) (*SessionStatsType, error) {
	rtn := &SessionStatsType{SessionId: sessionId}
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ?`, sessionId) {
			return fmt.Errorf("session does not exist")
		}
		rtn.NumScreens = tx.GetInt(`SELECT count(*) FROM screen WHERE sessionid = ? AND NOT archived`, sessionId)
		rtn.NumArchivedScreens = tx.GetInt(`SELECT count(*) FROM screen WHERE sessionid = ? AND archived`, sessionId)
		rtn.NumLines = tx.GetInt(`SELECT count(*) FROM line WHERE screenid IN (SELECT screenid FROM screen WHERE sessionid = ?)`, sessionId)
		rtn.NumCmds = tx.GetInt(`SELECT count(*) FROM cmd WHERE screenid IN (SELECT screenid FROM screen WHERE sessionid = ?)`, sessionId)
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	diskSize, err := SessionDiskSize(sessionId)
	if err != nil {
		return nil, err
	}
	rtn.DiskStats = diskSize
	return rtn, nil
}
