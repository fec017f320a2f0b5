package sstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tribixbite/waveterm/internal/bus"
	"github.com/tribixbite/waveterm/internal/scbase"
	"github.com/tribixbite/waveterm/internal/store"
)

const ScreenFocusInput = "input"

type ScreenOptsType struct {
	TabColor string `json:"tabcolor,omitempty"`
	TabIcon  string `json:"tabicon,omitempty"`
	PTerm    string `json:"pterm,omitempty"`
}

type ScreenSidebarOptsType struct {
	Open  bool   `json:"open,omitempty"`
	Width string `json:"width,omitempty"`

	// sidebarlineid isn't stored in the DB, it is set by the frontend
	SidebarLineId string `json:"sidebarlineid,omitempty"`
}

type ScreenViewOptsType struct {
	Sidebar *ScreenSidebarOptsType `json:"sidebar,omitempty"`
}

type ScreenAnchorType struct {
	AnchorLine   int64 `json:"anchorline,omitempty"`
	AnchorOffset int64 `json:"anchoroffset,omitempty"`
}

type ScreenWebShareOpts struct {
	ShareName string `json:"sharename"`
	ViewKey   string `json:"viewkey"`
}

// RemotePtrType identifies a remote binding: the remote itself, an optional
// owner (for shared sessions), and an optional instance name.
type RemotePtrType struct {
	OwnerId  string `json:"ownerid"`
	RemoteId string `json:"remoteid"`
	Name     string `json:"name"`
}

func (r RemotePtrType) IsValid() bool {
	return r.RemoteId != ""
}

type ScreenType struct {
	ScreenId      string              `json:"screenid"`
	SessionId     string              `json:"sessionid"`
	Name          string              `json:"name"`
	ScreenIdx     int64               `json:"screenidx"`
	ShareMode     string              `json:"sharemode"`
	WebShareOpts  *ScreenWebShareOpts `json:"webshareopts,omitempty"`
	Archived      bool                `json:"archived,omitempty"`
	ArchivedTs    int64               `json:"archivedts,omitempty"`
	ScreenOpts    ScreenOptsType      `json:"screenopts"`
	ScreenViewOpts ScreenViewOptsType `json:"screenviewopts"`
	OwnerId       string              `json:"ownerid"`
	SelectedLine  int64               `json:"selectedline"`
	Anchor        ScreenAnchorType    `json:"anchor"`
	FocusType     string              `json:"focustype"`
	CurRemote     RemotePtrType       `json:"curremote"`
	NextLineNum   int64               `json:"nextlinenum"`

	// only for updates
	Full   bool `json:"full,omitempty"`
	Remove bool `json:"remove,omitempty"`
}

func (ScreenType) GetType() string {
	return "screen"
}

func (s *ScreenType) ToMap() map[string]any {
	return map[string]any{
		"screenid":         s.ScreenId,
		"sessionid":        s.SessionId,
		"name":             s.Name,
		"screenidx":        s.ScreenIdx,
		"sharemode":        s.ShareMode,
		"webshareopts":     store.QuickNullableJson(s.WebShareOpts),
		"archived":         s.Archived,
		"archivedts":       s.ArchivedTs,
		"screenopts":       store.QuickJson(s.ScreenOpts),
		"screenviewopts":   store.QuickJson(s.ScreenViewOpts),
		"ownerid":          s.OwnerId,
		"selectedline":     s.SelectedLine,
		"anchor":           store.QuickJson(s.Anchor),
		"focustype":        s.FocusType,
		"curremoteownerid": s.CurRemote.OwnerId,
		"curremoteid":      s.CurRemote.RemoteId,
		"curremotename":    s.CurRemote.Name,
		"nextlinenum":      s.NextLineNum,
	}
}

func (s *ScreenType) FromMap(m map[string]any) bool {
	store.QuickSetStr(&s.ScreenId, m, "screenid")
	store.QuickSetStr(&s.SessionId, m, "sessionid")
	store.QuickSetStr(&s.Name, m, "name")
	store.QuickSetInt64(&s.ScreenIdx, m, "screenidx")
	store.QuickSetStr(&s.ShareMode, m, "sharemode")
	store.QuickSetNullableJson(&s.WebShareOpts, m, "webshareopts")
	store.QuickSetBool(&s.Archived, m, "archived")
	store.QuickSetInt64(&s.ArchivedTs, m, "archivedts")
	store.QuickSetJson(&s.ScreenOpts, m, "screenopts")
	store.QuickSetJson(&s.ScreenViewOpts, m, "screenviewopts")
	store.QuickSetStr(&s.OwnerId, m, "ownerid")
	store.QuickSetInt64(&s.SelectedLine, m, "selectedline")
	store.QuickSetJson(&s.Anchor, m, "anchor")
	store.QuickSetStr(&s.FocusType, m, "focustype")
	store.QuickSetStr(&s.CurRemote.OwnerId, m, "curremoteownerid")
	store.QuickSetStr(&s.CurRemote.RemoteId, m, "curremoteid")
	store.QuickSetStr(&s.CurRemote.Name, m, "curremotename")
	store.QuickSetInt64(&s.NextLineNum, m, "nextlinenum")
	return s.ScreenId != ""
}

type ScreenTombstoneType struct {
	ScreenId   string         `json:"screenid"`
	SessionId  string         `json:"sessionid"`
	Name       string         `json:"name"`
	DeletedTs  int64          `json:"deletedts"`
	ScreenOpts ScreenOptsType `json:"screenopts"`
}

func (ScreenTombstoneType) GetType() string {
	return "screentombstone"
}

func GetScreenById(ctx context.Context, screenId string) (*ScreenType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*ScreenType, error) {
		query := `SELECT * FROM screen WHERE screenid = ?`
		return store.GetMapGen[ScreenType](tx, query, screenId), nil
	})
}

func GetSessionScreens(ctx context.Context, sessionId string) ([]*ScreenType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*ScreenType, error) {
		query := `SELECT * FROM screen WHERE sessionid = ? ORDER BY archived, screenidx, archivedts`
		return store.SelectMapsGen[ScreenType](tx, query, sessionId), nil
	})
}

func GetAllScreens(ctx context.Context) ([]*ScreenType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*ScreenType, error) {
		query := `SELECT * FROM screen ORDER BY archived, screenidx, archivedts`
		return store.SelectMapsGen[ScreenType](tx, query), nil
	})
}

// GetScreenIdsForSession lists a session's unarchived screens in tab order.
func GetScreenIdsForSession(ctx context.Context, sessionId string) ([]string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]string, error) {
		return tx.SelectStrings(`SELECT screenid FROM screen WHERE sessionid = ? AND NOT archived ORDER BY screenidx`, sessionId), nil
	})
}

// InsertScreen creates a screen in the session. An empty name picks the
// next free "s%d". When activate is set the screen becomes the session's
// active screen.
func InsertScreen(ctx context.Context, sessionId string, origScreenName string, activate bool) (*bus.ModelUpdatePacketType, error) {
	newScreenId := scbase.GenWaveUUID()
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ? AND NOT archived`, sessionId) {
			return fmt.Errorf("cannot create screen, no session found (or session archived)")
		}
		localRemoteId := tx.GetString(`SELECT remoteid FROM remote WHERE remotealias = ?`, LocalRemoteAlias)
		if localRemoteId == "" {
			localRemoteId = tx.GetString(`SELECT remoteid FROM remote WHERE local AND NOT archived ORDER BY remoteidx LIMIT 1`)
		}
		maxScreenIdx := tx.GetInt64(`SELECT COALESCE(max(screenidx), 0) FROM screen WHERE sessionid = ? AND NOT archived`, sessionId)
		screenNames := tx.SelectStrings(`SELECT name FROM screen WHERE sessionid = ? AND NOT archived`, sessionId)
		screenName := store.FmtUniqueName(origScreenName, "s%d", len(screenNames)+1, screenNames)
		newScreen := &ScreenType{
			SessionId:   sessionId,
			ScreenId:    newScreenId,
			Name:        screenName,
			ScreenIdx:   maxScreenIdx + 1,
			ShareMode:   ShareModeLocal,
			ScreenOpts:  ScreenOptsType{},
			OwnerId:     "",
			SelectedLine: 0,
			Anchor:      ScreenAnchorType{},
			FocusType:   ScreenFocusInput,
			CurRemote:   RemotePtrType{RemoteId: localRemoteId},
			NextLineNum: 1,
		}
		query := `INSERT INTO screen
            ( screenid, sessionid, name, screenidx, sharemode, webshareopts, archived, archivedts, screenopts, screenviewopts, ownerid, selectedline, anchor, focustype, curremoteownerid, curremoteid, curremotename, nextlinenum)
     VALUES (:screenid,:sessionid,:name,:screenidx,:sharemode,:webshareopts,:archived,:archivedts,:screenopts,:screenviewopts,:ownerid,:selectedline,:anchor,:focustype,:curremoteownerid,:curremoteid,:curremotename,:nextlinenum)`
		tx.NamedExec(query, newScreen.ToMap())
		if activate {
			tx.Exec(`UPDATE session SET activescreenid = ? WHERE sessionid = ?`, newScreenId, sessionId)
		}
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	newScreen, err := GetScreenById(ctx, newScreenId)
	if err != nil {
		return nil, err
	}
	update := bus.MakeUpdatePacket()
	update.AddUpdate(*newScreen)
	if activate {
		bareSession, _ := GetBareSessionById(ctx, sessionId)
		if bareSession != nil {
			update.AddUpdate(*bareSession)
		}
	}
	return update, nil
}

var screenEditCols = map[string]bool{
	"name": true, "screenopts": true, "screenviewopts": true,
	"selectedline": true, "anchor": true, "focustype": true,
	"curremoteownerid": true, "curremoteid": true, "curremotename": true,
}

// UpdateScreen applies an allow-listed edit map to a screen row and returns
// the updated screen. "sharename" edits the web-share options instead of a
// column and requires the screen to be web-shared; selectedline changes on
// a shared screen are mirrored into the update log.
func UpdateScreen(ctx context.Context, screenId string, editMap map[string]any) (*ScreenType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*ScreenType, error) {
		if !tx.Exists(`SELECT screenid FROM screen WHERE screenid = ?`, screenId) {
			return nil, fmt.Errorf("screen not found")
		}
		for col, val := range editMap {
			if col == "sharename" {
				if !IsWebShare(tx, screenId) {
					return nil, fmt.Errorf("cannot set sharename, screen is not web-shared")
				}
				tx.Exec(`UPDATE screen SET webshareopts = json_set(webshareopts, '$.sharename', ?) WHERE screenid = ?`, val, screenId)
				insertScreenUpdate(tx, screenId, UpdateType_ScreenName)
				continue
			}
			if !screenEditCols[col] {
				return nil, fmt.Errorf("invalid screen edit field %q", col)
			}
			tx.Exec(fmt.Sprintf(`UPDATE screen SET %s = ? WHERE screenid = ?`, col), val, screenId)
			if col == "selectedline" && IsWebShare(tx, screenId) {
				insertScreenUpdate(tx, screenId, UpdateType_ScreenSelectedLine)
			}
		}
		if tx.Err != nil {
			return nil, tx.Err
		}
		return store.GetMapGen[ScreenType](tx, `SELECT * FROM screen WHERE screenid = ?`, screenId), nil
	})
}

// SetScreenIdx moves the screen to a 1-indexed tab position, compacting the
// other unarchived screens around it.
func SetScreenIdx(ctx context.Context, sessionId string, screenId string, newIdx int64) error {
	if newIdx <= 0 {
		return fmt.Errorf("invalid screenidx %d", newIdx)
	}
	return WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT screenid FROM screen WHERE sessionid = ? AND screenid = ? AND NOT archived`, sessionId, screenId) {
			return fmt.Errorf("screen not found")
		}
		ids := tx.SelectStrings(`SELECT screenid FROM screen WHERE sessionid = ? AND NOT archived ORDER BY screenidx`, sessionId)
		for _, si := range reorderStrs(ids, screenId, newIdx) {
			tx.Exec(`UPDATE screen SET screenidx = ? WHERE screenid = ?`, si.Idx, si.Id)
		}
		return tx.Err
	})
}

// ArchiveScreen hides the screen from the tab bar. The last unarchived
// screen in a session cannot be archived.
func ArchiveScreen(ctx context.Context, sessionId string, screenId string) (bus.UpdatePacket, error) {
	var isActive bool
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT screenid FROM screen WHERE sessionid = ? AND screenid = ?`, sessionId, screenId) {
			return fmt.Errorf("cannot archive screen (not found)")
		}
		if IsWebShare(tx, screenId) {
			return fmt.Errorf("cannot archive screen while web-sharing.  stop web-sharing before trying to archive.")
		}
		if tx.GetBool(`SELECT archived FROM screen WHERE sessionid = ? AND screenid = ?`, sessionId, screenId) {
			return nil
		}
		numScreens := tx.GetInt(`SELECT count(*) FROM screen WHERE sessionid = ? AND NOT archived`, sessionId)
		if numScreens <= 1 {
			return fmt.Errorf("cannot archive the last screen in a session")
		}
		tx.Exec(`UPDATE screen SET archived = 1, archivedts = ?, screenidx = 0 WHERE sessionid = ? AND screenid = ?`, time.Now().UnixMilli(), sessionId, screenId)
		isActive = tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ? AND activescreenid = ?`, sessionId, screenId)
		if isActive {
			fixActiveScreenId(tx, sessionId)
		}
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	update := bus.MakeUpdatePacket()
	newScreen, _ := GetScreenById(ctx, screenId)
	if newScreen != nil {
		update.AddUpdate(*newScreen)
	}
	if isActive {
		bareSession, _ := GetBareSessionById(ctx, sessionId)
		if bareSession != nil {
			update.AddUpdate(*bareSession)
		}
	}
	return update, nil
}

func UnArchiveScreen(ctx context.Context, sessionId string, screenId string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT screenid FROM screen WHERE sessionid = ? AND screenid = ? AND archived`, sessionId, screenId) {
			return fmt.Errorf("cannot unarchive screen (not found or not archived)")
		}
		maxScreenIdx := tx.GetInt64(`SELECT COALESCE(max(screenidx), 0) FROM screen WHERE sessionid = ? AND NOT archived`, sessionId)
		tx.Exec(`UPDATE screen SET archived = 0, archivedts = 0, screenidx = ? WHERE sessionid = ? AND screenid = ?`, maxScreenIdx+1, sessionId, screenId)
		return tx.Err
	})
}

// ScreenWebShareStart turns on web-sharing for a local screen and seeds
// the update log with the screen's current contents.
func ScreenWebShareStart(ctx context.Context, screenId string, shareOpts ScreenWebShareOpts) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		shareMode := tx.GetString(`SELECT sharemode FROM screen WHERE screenid = ?`, screenId)
		if shareMode == "" {
			return fmt.Errorf("screen does not exist")
		}
		if shareMode == ShareModeWeb {
			return fmt.Errorf("screen is already shared to web")
		}
		if shareMode != ShareModeLocal {
			return fmt.Errorf("screen cannot be shared, invalid current share mode %q (must be local)", shareMode)
		}
		tx.Exec(`UPDATE screen SET sharemode = ?, webshareopts = ? WHERE screenid = ?`,
			ShareModeWeb, store.QuickJson(shareOpts), screenId)
		insertScreenNewUpdate(tx, screenId)
		return tx.Err
	})
}

// ScreenWebShareStop turns off web-sharing, collapsing the screen's
// pending updates into a single screen:del for the remote side.
func ScreenWebShareStop(ctx context.Context, screenId string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		shareMode := tx.GetString(`SELECT sharemode FROM screen WHERE screenid = ?`, screenId)
		if shareMode == "" {
			return fmt.Errorf("screen does not exist")
		}
		if shareMode != ShareModeWeb {
			return fmt.Errorf("screen is not currently shared to the web")
		}
		tx.Exec(`UPDATE screen SET sharemode = ?, webshareopts = ? WHERE screenid = ?`, ShareModeLocal, "null", screenId)
		handleScreenDelUpdate(tx, screenId)
		return tx.Err
	})
}

// DeleteScreen removes the screen with its lines, cmds, update log entries,
// and pty files, leaving a tombstone. sessionDel skips the last-screen
// check and the session fixups (the whole session is going away).
func DeleteScreen(ctx context.Context, screenId string, sessionDel bool) (*bus.ModelUpdatePacketType, error) {
	var sessionId string
	var tombstone ScreenTombstoneType
	var isActive bool
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		screen := store.GetMapGen[ScreenType](tx, `SELECT * FROM screen WHERE screenid = ?`, screenId)
		if screen == nil {
			return fmt.Errorf("cannot delete screen (not found)")
		}
		sessionId = screen.SessionId
		if !sessionDel {
			numScreens := tx.GetInt(`SELECT count(*) FROM screen WHERE sessionid = ? AND NOT archived`, sessionId)
			if !screen.Archived && numScreens <= 1 {
				return fmt.Errorf("cannot delete the last screen in a session")
			}
			isActive = tx.Exists(`SELECT sessionid FROM session WHERE sessionid = ? AND activescreenid = ?`, sessionId, screenId)
			if isActive {
				screenIds := tx.SelectStrings(`SELECT screenid FROM screen WHERE sessionid = ? AND NOT archived ORDER BY screenidx`, sessionId)
				nextId := GetNextId(screenIds, screenId)
				tx.Exec(`UPDATE session SET activescreenid = ? WHERE sessionid = ?`, nextId, sessionId)
			}
		}
		webSharing := IsWebShare(tx, screenId)
		tx.Exec(`DELETE FROM screen WHERE screenid = ?`, screenId)
		tx.Exec(`DELETE FROM line WHERE screenid = ?`, screenId)
		tx.Exec(`DELETE FROM cmd WHERE screenid = ?`, screenId)
		if webSharing {
			handleScreenDelUpdate(tx, screenId)
		} else {
			tx.Exec(`DELETE FROM screenupdate WHERE screenid = ?`, screenId)
		}
		tx.Exec(`DELETE FROM webptypos WHERE screenid = ?`, screenId)
		tx.Exec(`UPDATE history SET lineid = '', linenum = 0 WHERE screenid = ?`, screenId)
		tombstone = ScreenTombstoneType{
			ScreenId:   screenId,
			SessionId:  sessionId,
			Name:       screen.Name,
			DeletedTs:  time.Now().UnixMilli(),
			ScreenOpts: screen.ScreenOpts,
		}
		tx.NamedExec(`INSERT INTO screen_tombstone (screenid, sessionid, name, deletedts, screenopts) VALUES (:screenid,:sessionid,:name,:deletedts,:screenopts)`,
			map[string]any{
				"screenid":   tombstone.ScreenId,
				"sessionid":  tombstone.SessionId,
				"name":       tombstone.Name,
				"deletedts":  tombstone.DeletedTs,
				"screenopts": store.QuickJson(tombstone.ScreenOpts),
			})
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	ScreenMemDelete(screenId)
	GoDeleteScreenDirs(screenId)
	update := bus.MakeUpdatePacket()
	update.AddUpdate(ScreenType{SessionId: sessionId, ScreenId: screenId, Remove: true})
	update.AddUpdate(tombstone)
	if isActive {
		bareSession, _ := GetBareSessionById(ctx, sessionId)
		if bareSession != nil {
			update.AddUpdate(*bareSession)
		}
	}
	return update, nil
}

// fixActiveScreenId repoints the session's active screen when the current
// one is gone or archived, advancing past it in tab order.
func fixActiveScreenId(tx *TxWrap, sessionId string) {
	curActiveScreenId := tx.GetString(`SELECT activescreenid FROM session WHERE sessionid = ?`, sessionId)
	if curActiveScreenId != "" {
		if tx.Exists(`SELECT screenid FROM screen WHERE sessionid = ? AND screenid = ? AND NOT archived`, sessionId, curActiveScreenId) {
			return
		}
	}
	ids := tx.SelectStrings(`SELECT screenid FROM screen WHERE sessionid = ? AND NOT archived ORDER BY screenidx`, sessionId)
	tx.Exec(`UPDATE session SET activescreenid = ? WHERE sessionid = ?`, GetNextId(ids, curActiveScreenId), sessionId)
}

// fixupScreenSelectedLine moves the screen's selected line to the closest
// visible (unarchived) line when the current selection is gone, and clears
// the anchor so the frontend recomputes it.
func fixupScreenSelectedLine(tx *TxWrap, screenId string) {
	selectedLine := tx.GetInt64(`SELECT selectedline FROM screen WHERE screenid = ?`, screenId)
	if selectedLine <= 0 {
		return
	}
	if tx.Exists(`SELECT lineid FROM line WHERE screenid = ? AND linenum = ? AND NOT archived`, screenId, selectedLine) {
		return
	}
	newSelectedLine := tx.GetInt64(`SELECT COALESCE(max(linenum), 0) FROM line WHERE screenid = ? AND linenum < ? AND NOT archived`, screenId, selectedLine)
	if newSelectedLine == 0 {
		newSelectedLine = tx.GetInt64(`SELECT COALESCE(min(linenum), 0) FROM line WHERE screenid = ? AND linenum > ? AND NOT archived`, screenId, selectedLine)
	}
	tx.Exec(`UPDATE screen SET selectedline = ?, anchor = ? WHERE screenid = ?`,
		newSelectedLine, store.QuickJson(ScreenAnchorType{AnchorLine: newSelectedLine}), screenId)
}

// FixupScreenSelectedLine runs the selected-line fixup and returns the
// updated screen.
func FixupScreenSelectedLine(ctx context.Context, screenId string) (*ScreenType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*ScreenType, error) {
		if !tx.Exists(`SELECT screenid FROM screen WHERE screenid = ?`, screenId) {
			return nil, fmt.Errorf("screen not found")
		}
		fixupScreenSelectedLine(tx, screenId)
		if tx.Err != nil {
			return nil, tx.Err
		}
		return store.GetMapGen[ScreenType](tx, `SELECT * FROM screen WHERE screenid = ?`, screenId), nil
	})
}

// GetScreenSelectedLineId maps the screen's selected line number to its
// line id ("" when nothing is selected).
func GetScreenSelectedLineId(ctx context.Context, screenId string) (string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (string, error) {
		selectedLine := tx.GetInt64(`SELECT selectedline FROM screen WHERE screenid = ?`, screenId)
		if selectedLine <= 0 {
			return "", nil
		}
		return tx.GetString(`SELECT lineid FROM line WHERE screenid = ? AND linenum = ?`, screenId, selectedLine), nil
	})
}

// ArchiveScreenLines archives every visible line in the screen and fixes
// the selection.
func ArchiveScreenLines(ctx context.Context, screenId string) (*bus.ModelUpdatePacketType, error) {
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT screenid FROM screen WHERE screenid = ?`, screenId) {
			return fmt.Errorf("screen not found")
		}
		tx.Exec(`UPDATE line SET archived = 1 WHERE screenid = ? AND NOT archived`, screenId)
		fixupScreenSelectedLine(tx, screenId)
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	screenLines, err := GetScreenLinesById(ctx, screenId)
	if err != nil {
		return nil, err
	}
	update := bus.MakeUpdatePacket()
	update.AddUpdate(*screenLines)
	return update, nil
}

// DeleteScreenLines removes every line in the screen whose command is not
// running, along with the matching cmds and pty files.
func DeleteScreenLines(ctx context.Context, screenId string) (*bus.ModelUpdatePacketType, error) {
	var lineIds []string
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT screenid FROM screen WHERE screenid = ?`, screenId) {
			return fmt.Errorf("screen not found")
		}
		lineIds = tx.SelectStrings(`SELECT lineid FROM line
             WHERE screenid = ?
               AND lineid NOT IN (SELECT lineid FROM cmd WHERE screenid = ? AND status IN (?, ?))`,
			screenId, screenId, CmdStatusRunning, CmdStatusDetached)
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	return DeleteLinesByIds(ctx, screenId, lineIds)
}

// cleanScreenCmds deletes cmds that have lost their line, plus their pty
// files. Runs after line deletions.
func cleanScreenCmds(ctx context.Context, screenId string) error {
	var removedCmds []string
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		removedCmds = tx.SelectStrings(`SELECT lineid FROM cmd WHERE screenid = ? AND lineid NOT IN (SELECT lineid FROM line WHERE screenid = ?)`, screenId, screenId)
		tx.Exec(`DELETE FROM cmd WHERE screenid = ? AND lineid NOT IN (SELECT lineid FROM line WHERE screenid = ?)`, screenId, screenId)
		return tx.Err
	})
	if txErr != nil {
		return txErr
	}
	for _, lineId := range removedCmds {
		if err := DeletePtyOutFile(ctx, screenId, lineId); err != nil {
			log.Printf("[sstore] error removing pty file %s/%s: %v", screenId, lineId, err)
		}
	}
	return nil
}
