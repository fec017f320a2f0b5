package sstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tribixbite/waveterm/internal/bus"
	"github.com/tribixbite/waveterm/internal/scbase"
	"github.com/tribixbite/waveterm/internal/store"
)

const (
	LineTypeCmd    = "cmd"
	LineTypeText   = "text"
	LineTypeOpenAI = "openai"
)

const LineNoHeight = -1

// MaxLineStateSize bounds the marshaled linestate payload.
const MaxLineStateSize = 4 * 1024

type LineType struct {
	ScreenId      string         `json:"screenid"`
	LineId        string         `json:"lineid"`
	UserId        string         `json:"userid"`
	Ts            int64          `json:"ts"`
	LineNum       int64          `json:"linenum"`
	LineNumTemp   bool           `json:"linenumtemp,omitempty"`
	LineLocal     bool           `json:"linelocal"`
	LineType      string         `json:"linetype"`
	LineState     map[string]any `json:"linestate"`
	Text          string         `json:"text,omitempty"`
	Renderer      string         `json:"renderer,omitempty"`
	Ephemeral     bool           `json:"ephemeral,omitempty"`
	ContentHeight int64          `json:"contentheight,omitempty"`
	Star          bool           `json:"star,omitempty"`
	Archived      bool           `json:"archived,omitempty"`

	// only for updates
	Remove bool `json:"remove,omitempty"`
}

func (LineType) GetType() string {
	return "line"
}

func (l *LineType) ToMap() map[string]any {
	return map[string]any{
		"screenid":      l.ScreenId,
		"lineid":        l.LineId,
		"userid":        l.UserId,
		"ts":            l.Ts,
		"linenum":       l.LineNum,
		"linenumtemp":   l.LineNumTemp,
		"linelocal":     l.LineLocal,
		"linetype":      l.LineType,
		"linestate":     store.QuickJson(l.LineState),
		"text":          l.Text,
		"renderer":      l.Renderer,
		"ephemeral":     l.Ephemeral,
		"contentheight": l.ContentHeight,
		"star":          l.Star,
		"archived":      l.Archived,
	}
}

func (l *LineType) FromMap(m map[string]any) bool {
	store.QuickSetStr(&l.ScreenId, m, "screenid")
	store.QuickSetStr(&l.LineId, m, "lineid")
	store.QuickSetStr(&l.UserId, m, "userid")
	store.QuickSetInt64(&l.Ts, m, "ts")
	store.QuickSetInt64(&l.LineNum, m, "linenum")
	store.QuickSetBool(&l.LineNumTemp, m, "linenumtemp")
	store.QuickSetBool(&l.LineLocal, m, "linelocal")
	store.QuickSetStr(&l.LineType, m, "linetype")
	store.QuickSetJson(&l.LineState, m, "linestate")
	store.QuickSetStr(&l.Text, m, "text")
	store.QuickSetStr(&l.Renderer, m, "renderer")
	store.QuickSetBool(&l.Ephemeral, m, "ephemeral")
	store.QuickSetInt64(&l.ContentHeight, m, "contentheight")
	store.QuickSetBool(&l.Star, m, "star")
	store.QuickSetBool(&l.Archived, m, "archived")
	return l.LineId != ""
}

// ScreenLinesType is the full line/cmd payload for one screen.
type ScreenLinesType struct {
	ScreenId string      `json:"screenid"`
	Lines    []*LineType `json:"lines"`
	Cmds     []*CmdType  `json:"cmds"`
}

func (ScreenLinesType) GetType() string {
	return "screenlines"
}

func makeNewLine(screenId string, userId string, lineType string) *LineType {
	return &LineType{
		ScreenId:  screenId,
		LineId:    scbase.GenWaveUUID(),
		UserId:    userId,
		Ts:        time.Now().UnixMilli(),
		LineLocal: true,
		LineType:  lineType,
		LineState: make(map[string]any),
	}
}

func makeNewLineCmd(screenId string, userId string, lineId string, renderer string) *LineType {
	line := makeNewLine(screenId, userId, LineTypeCmd)
	if lineId != "" {
		line.LineId = lineId
	}
	line.Renderer = renderer
	line.ContentHeight = LineNoHeight
	return line
}

func makeNewLineText(screenId string, userId string, text string) *LineType {
	line := makeNewLine(screenId, userId, LineTypeText)
	line.Text = text
	return line
}

func makeNewLineOpenAI(screenId string, userId string, lineId string) *LineType {
	line := makeNewLine(screenId, userId, LineTypeOpenAI)
	if lineId != "" {
		line.LineId = lineId
	}
	line.Renderer = CmdRendererOpenAI
	line.ContentHeight = LineNoHeight
	return line
}

// AddCmdLine inserts a command line plus its cmd record.
func AddCmdLine(ctx context.Context, screenId string, userId string, cmd *CmdType, renderer string) (*LineType, error) {
	line := makeNewLineCmd(screenId, userId, cmd.LineId, renderer)
	if err := InsertLine(ctx, line, cmd); err != nil {
		return nil, err
	}
	return line, nil
}

func AddTextLine(ctx context.Context, screenId string, userId string, text string) (*LineType, error) {
	line := makeNewLineText(screenId, userId, text)
	if err := InsertLine(ctx, line, nil); err != nil {
		return nil, err
	}
	return line, nil
}

func AddOpenAILine(ctx context.Context, screenId string, userId string, cmd *CmdType) (*LineType, error) {
	line := makeNewLineOpenAI(screenId, userId, cmd.LineId)
	if err := InsertLine(ctx, line, cmd); err != nil {
		return nil, err
	}
	return line, nil
}

// InsertLine appends the line to its screen, assigning the screen's next
// line number. The optional cmd record is inserted in the same
// transaction.
func InsertLine(ctx context.Context, line *LineType, cmd *CmdType) error {
	if line == nil {
		return fmt.Errorf("line cannot be nil")
	}
	if line.LineId == "" {
		return fmt.Errorf("line must have lineid set")
	}
	if line.LineNum != 0 {
		return fmt.Errorf("line must not have linenum set")
	}
	qjs := store.QuickJson(line.LineState)
	if len(qjs) > MaxLineStateSize {
		return fmt.Errorf("linestate exceeds maxsize, size[%d] max[%d]", len(qjs), MaxLineStateSize)
	}
	return WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT screenid FROM screen WHERE screenid = ?`, line.ScreenId) {
			return fmt.Errorf("screen not found, cannot insert line[%s]", line.ScreenId)
		}
		nextLineNum := tx.GetInt64(`SELECT nextlinenum FROM screen WHERE screenid = ?`, line.ScreenId)
		line.LineNum = nextLineNum
		query := `INSERT INTO line
            ( screenid, lineid, userid, ts, linenum, linenumtemp, linelocal, linetype, linestate, text, renderer, ephemeral, contentheight, star, archived)
     VALUES (:screenid,:lineid,:userid,:ts,:linenum,:linenumtemp,:linelocal,:linetype,:linestate,:text,:renderer,:ephemeral,:contentheight,:star,:archived)`
		tx.NamedExec(query, line.ToMap())
		tx.Exec(`UPDATE screen SET nextlinenum = ? WHERE screenid = ?`, nextLineNum+1, line.ScreenId)
		if IsWebShare(tx, line.ScreenId) {
			insertScreenLineUpdate(tx, line.ScreenId, line.LineId, UpdateType_LineNew)
		}
		if cmd != nil {
			cmd.OrigTermOpts = cmd.TermOpts
			cmd.ScreenId = line.ScreenId
			cmd.LineId = line.LineId
			query = `INSERT INTO cmd
                ( screenid, lineid, remoteownerid, remoteid, remotename, cmdstr, rawcmdstr, festate, statebasehash, statediffhasharr, termopts, origtermopts, status, cmdpid, remotepid, donets, restartts, exitcode, durationms, rtnstate, runout, rtnbasehash, rtndiffhasharr)
         VALUES (:screenid,:lineid,:remoteownerid,:remoteid,:remotename,:cmdstr,:rawcmdstr,:festate,:statebasehash,:statediffhasharr,:termopts,:origtermopts,:status,:cmdpid,:remotepid,:donets,:restartts,:exitcode,:durationms,:rtnstate,:runout,:rtnbasehash,:rtndiffhasharr)`
			tx.NamedExec(query, cmd.ToMap())
		}
		return tx.Err
	})
}

func GetLineById(ctx context.Context, screenId string, lineId string) (*LineType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*LineType, error) {
		query := `SELECT * FROM line WHERE screenid = ? AND lineid = ?`
		return store.GetMapGen[LineType](tx, query, screenId, lineId), nil
	})
}

// GetLineCmdByLineId returns the line and its cmd record (cmd may be nil
// for text lines).
func GetLineCmdByLineId(ctx context.Context, screenId string, lineId string) (*LineType, *CmdType, error) {
	return WithTxRtn3(ctx, func(tx *TxWrap) (*LineType, *CmdType, error) {
		line := store.GetMapGen[LineType](tx, `SELECT * FROM line WHERE screenid = ? AND lineid = ?`, screenId, lineId)
		if line == nil {
			return nil, nil, nil
		}
		cmd := store.GetMapGen[CmdType](tx, `SELECT * FROM cmd WHERE screenid = ? AND lineid = ?`, screenId, lineId)
		return line, cmd, nil
	})
}

// FindLineIdByArg resolves a user-entered line reference: "E" is the last
// visible line, "EA" the last line including archived, a number is a line
// number, an 8-char string is a line-id prefix, anything else an exact
// line id.
func FindLineIdByArg(ctx context.Context, screenId string, lineArg string) (string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (string, error) {
		switch {
		case lineArg == "":
			return "", nil
		case lineArg == "E":
			return tx.GetString(`SELECT lineid FROM line WHERE screenid = ? AND NOT archived ORDER BY linenum DESC LIMIT 1`, screenId), nil
		case lineArg == "EA":
			return tx.GetString(`SELECT lineid FROM line WHERE screenid = ? ORDER BY linenum DESC LIMIT 1`, screenId), nil
		}
		if lineNum, err := strconv.Atoi(lineArg); err == nil {
			return tx.GetString(`SELECT lineid FROM line WHERE screenid = ? AND linenum = ?`, screenId, lineNum), nil
		}
		if _, err := uuid.Parse(lineArg); err == nil {
			return tx.GetString(`SELECT lineid FROM line WHERE screenid = ? AND lineid = ?`, screenId, lineArg), nil
		}
		if len(lineArg) == 8 {
			ids := tx.SelectStrings(`SELECT lineid FROM line WHERE screenid = ? AND substr(lineid, 1, 8) = ?`, screenId, lineArg)
			if len(ids) == 1 {
				return ids[0], nil
			}
		}
		return "", nil
	})
}

func UpdateLineStar(ctx context.Context, screenId string, lineId string, starVal bool) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE line SET star = ? WHERE screenid = ? AND lineid = ?`, starVal, screenId, lineId)
		return tx.Err
	})
}

func UpdateLineHeight(ctx context.Context, screenId string, lineId string, heightVal int64) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE line SET contentheight = ? WHERE screenid = ? AND lineid = ?`, heightVal, screenId, lineId)
		if IsWebShare(tx, screenId) {
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_LineContentHeight)
		}
		return tx.Err
	})
}

func UpdateLineRenderer(ctx context.Context, screenId string, lineId string, renderer string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE line SET renderer = ? WHERE screenid = ? AND lineid = ?`, renderer, screenId, lineId)
		if IsWebShare(tx, screenId) {
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_LineRenderer)
		}
		return tx.Err
	})
}

// UpdateLineState replaces the line's renderer state blob, subject to the
// size limit. Returns the updated line.
func UpdateLineState(ctx context.Context, screenId string, lineId string, lineState map[string]any) (*LineType, error) {
	qjs := store.QuickJson(lineState)
	if len(qjs) > MaxLineStateSize {
		return nil, fmt.Errorf("linestate exceeds maxsize, size[%d] max[%d]", len(qjs), MaxLineStateSize)
	}
	return WithTxRtn(ctx, func(tx *TxWrap) (*LineType, error) {
		if !tx.Exists(`SELECT lineid FROM line WHERE screenid = ? AND lineid = ?`, screenId, lineId) {
			return nil, fmt.Errorf("line not found")
		}
		tx.Exec(`UPDATE line SET linestate = ? WHERE screenid = ? AND lineid = ?`, qjs, screenId, lineId)
		if IsWebShare(tx, screenId) {
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_LineState)
		}
		if tx.Err != nil {
			return nil, tx.Err
		}
		return store.GetMapGen[LineType](tx, `SELECT * FROM line WHERE screenid = ? AND lineid = ?`, screenId, lineId), nil
	})
}

// SetLineArchivedById flips a line's archived flag and fixes the screen's
// selected line. A web viewer only sees visible lines, so archiving reads
// as a delete on the shared side and unarchiving as a new line.
func SetLineArchivedById(ctx context.Context, screenId string, lineId string, archived bool) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE line SET archived = ? WHERE screenid = ? AND lineid = ?`, archived, screenId, lineId)
		if IsWebShare(tx, screenId) {
			if archived {
				insertScreenLineUpdate(tx, screenId, lineId, UpdateType_LineDel)
			} else {
				insertScreenLineUpdate(tx, screenId, lineId, UpdateType_LineNew)
			}
		}
		if archived {
			fixupScreenSelectedLine(tx, screenId)
		}
		return tx.Err
	})
}

// DeleteLinesByIds removes lines (and their cmds and pty files) from a
// screen. A line whose command is still running is refused.
func DeleteLinesByIds(ctx context.Context, screenId string, lineIds []string) (*bus.ModelUpdatePacketType, error) {
	if len(lineIds) == 0 {
		return bus.MakeUpdatePacket(), nil
	}
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		webSharing := IsWebShare(tx, screenId)
		for _, lineId := range lineIds {
			status := tx.GetString(`SELECT status FROM cmd WHERE screenid = ? AND lineid = ?`, screenId, lineId)
			if status == CmdStatusRunning || status == CmdStatusDetached {
				return fmt.Errorf("cannot delete line[%s], cmd is running", lineId)
			}
			tx.Exec(`DELETE FROM line WHERE screenid = ? AND lineid = ?`, screenId, lineId)
			tx.Exec(`UPDATE history SET lineid = '', linenum = 0 WHERE screenid = ? AND lineid = ?`, screenId, lineId)
			tx.Exec(`DELETE FROM webptypos WHERE screenid = ? AND lineid = ?`, screenId, lineId)
			if webSharing {
				insertScreenLineUpdate(tx, screenId, lineId, UpdateType_LineDel)
			}
		}
		fixupScreenSelectedLine(tx, screenId)
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	if err := cleanScreenCmds(ctx, screenId); err != nil {
		return nil, err
	}
	update := bus.MakeUpdatePacket()
	for _, lineId := range lineIds {
		update.AddUpdate(LineType{ScreenId: screenId, LineId: lineId, Remove: true})
	}
	screen, _ := GetScreenById(ctx, screenId)
	if screen != nil {
		update.AddUpdate(*screen)
	}
	return update, nil
}

// GetScreenLinesById loads every line and cmd for a screen in line order.
func GetScreenLinesById(ctx context.Context, screenId string) (*ScreenLinesType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*ScreenLinesType, error) {
		if !tx.Exists(`SELECT screenid FROM screen WHERE screenid = ?`, screenId) {
			return nil, fmt.Errorf("screen not found")
		}
		rtn := &ScreenLinesType{ScreenId: screenId}
		rtn.Lines = store.SelectMapsGen[LineType](tx, `SELECT * FROM line WHERE screenid = ? ORDER BY linenum`, screenId)
		rtn.Cmds = store.SelectMapsGen[CmdType](tx, `SELECT * FROM cmd WHERE screenid = ?`, screenId)
		return rtn, nil
	})
}
