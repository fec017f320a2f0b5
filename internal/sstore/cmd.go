package sstore

import (
	"context"
	"fmt"
	"time"

	"github.com/tribixbite/waveterm/internal/bus"
	"github.com/tribixbite/waveterm/internal/store"
)

type TermOpts struct {
	Rows       int64 `json:"rows"`
	Cols       int64 `json:"cols"`
	FlexRows   bool  `json:"flexrows,omitempty"`
	MaxPtySize int64 `json:"maxptysize,omitempty"`
}

type CmdType struct {
	ScreenId         string         `json:"screenid"`
	LineId           string         `json:"lineid"`
	Remote           RemotePtrType  `json:"remote"`
	CmdStr           string         `json:"cmdstr"`
	RawCmdStr        string         `json:"rawcmdstr"`
	FeState          map[string]string `json:"festate"`
	StatePtr         ShellStatePtr  `json:"-"`
	TermOpts         TermOpts       `json:"termopts"`
	OrigTermOpts     TermOpts       `json:"origtermopts"`
	Status           string         `json:"status"`
	CmdPid           int64          `json:"cmdpid"`
	RemotePid        int64          `json:"remotepid"`
	DoneTs           int64          `json:"donets,omitempty"`
	RestartTs        int64          `json:"restartts,omitempty"`
	ExitCode         int64          `json:"exitcode,omitempty"`
	DurationMs       int64          `json:"durationms,omitempty"`
	RtnState         bool           `json:"rtnstate,omitempty"`
	RunOut           []map[string]any `json:"runout,omitempty"`
	RtnStatePtr      ShellStatePtr  `json:"-"`

	// only for updates
	Restarted bool `json:"restarted,omitempty"`
	Remove    bool `json:"remove,omitempty"`
}

func (CmdType) GetType() string {
	return "cmd"
}

func (cmd *CmdType) ToMap() map[string]any {
	return map[string]any{
		"screenid":         cmd.ScreenId,
		"lineid":           cmd.LineId,
		"remoteownerid":    cmd.Remote.OwnerId,
		"remoteid":         cmd.Remote.RemoteId,
		"remotename":       cmd.Remote.Name,
		"cmdstr":           cmd.CmdStr,
		"rawcmdstr":        cmd.RawCmdStr,
		"festate":          store.QuickJson(cmd.FeState),
		"statebasehash":    cmd.StatePtr.BaseHash,
		"statediffhasharr": store.QuickJsonArr(cmd.StatePtr.DiffHashArr),
		"termopts":         store.QuickJson(cmd.TermOpts),
		"origtermopts":     store.QuickJson(cmd.OrigTermOpts),
		"status":           cmd.Status,
		"cmdpid":           cmd.CmdPid,
		"remotepid":        cmd.RemotePid,
		"donets":           cmd.DoneTs,
		"restartts":        cmd.RestartTs,
		"exitcode":         cmd.ExitCode,
		"durationms":       cmd.DurationMs,
		"rtnstate":         cmd.RtnState,
		"runout":           store.QuickJsonArr(cmd.RunOut),
		"rtnbasehash":      cmd.RtnStatePtr.BaseHash,
		"rtndiffhasharr":   store.QuickJsonArr(cmd.RtnStatePtr.DiffHashArr),
	}
}

func (cmd *CmdType) FromMap(m map[string]any) bool {
	store.QuickSetStr(&cmd.ScreenId, m, "screenid")
	store.QuickSetStr(&cmd.LineId, m, "lineid")
	store.QuickSetStr(&cmd.Remote.OwnerId, m, "remoteownerid")
	store.QuickSetStr(&cmd.Remote.RemoteId, m, "remoteid")
	store.QuickSetStr(&cmd.Remote.Name, m, "remotename")
	store.QuickSetStr(&cmd.CmdStr, m, "cmdstr")
	store.QuickSetStr(&cmd.RawCmdStr, m, "rawcmdstr")
	store.QuickSetJson(&cmd.FeState, m, "festate")
	store.QuickSetStr(&cmd.StatePtr.BaseHash, m, "statebasehash")
	store.QuickSetJsonArr(&cmd.StatePtr.DiffHashArr, m, "statediffhasharr")
	store.QuickSetJson(&cmd.TermOpts, m, "termopts")
	store.QuickSetJson(&cmd.OrigTermOpts, m, "origtermopts")
	store.QuickSetStr(&cmd.Status, m, "status")
	store.QuickSetInt64(&cmd.CmdPid, m, "cmdpid")
	store.QuickSetInt64(&cmd.RemotePid, m, "remotepid")
	store.QuickSetInt64(&cmd.DoneTs, m, "donets")
	store.QuickSetInt64(&cmd.RestartTs, m, "restartts")
	store.QuickSetInt64(&cmd.ExitCode, m, "exitcode")
	store.QuickSetInt64(&cmd.DurationMs, m, "durationms")
	store.QuickSetBool(&cmd.RtnState, m, "rtnstate")
	store.QuickSetJsonArr(&cmd.RunOut, m, "runout")
	store.QuickSetStr(&cmd.RtnStatePtr.BaseHash, m, "rtnbasehash")
	store.QuickSetJsonArr(&cmd.RtnStatePtr.DiffHashArr, m, "rtndiffhasharr")
	return cmd.LineId != ""
}

func (cmd *CmdType) IsRunning() bool {
	return cmd.Status == CmdStatusRunning || cmd.Status == CmdStatusDetached
}

// CmdDoneDataValues carries the completion data for a finished command.
type CmdDoneDataValues struct {
	Ts         int64
	ExitCode   int64
	DurationMs int64
}

func GetCmdByScreenId(ctx context.Context, screenId string, lineId string) (*CmdType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*CmdType, error) {
		query := `SELECT * FROM cmd WHERE screenid = ? AND lineid = ?`
		return store.GetMapGen[CmdType](tx, query, screenId, lineId), nil
	})
}

// UpdateCmdDoneInfo records command completion: the cmd row, the matching
// history row, the persistent update log, and the in-memory screen
// indicators. The returned packet carries the updated line/cmd plus the
// new indicator state.
func UpdateCmdDoneInfo(ctx context.Context, screenId string, lineId string, doneInfo CmdDoneDataValues, status string) (*bus.ModelUpdatePacketType, error) {
	if lineId == "" {
		return nil, fmt.Errorf("cannot update cmd, lineid is empty")
	}
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		if !tx.Exists(`SELECT lineid FROM cmd WHERE screenid = ? AND lineid = ?`, screenId, lineId) {
			return fmt.Errorf("cmd not found")
		}
		query := `UPDATE cmd SET status = ?, donets = ?, exitcode = ?, durationms = ? WHERE screenid = ? AND lineid = ?`
		tx.Exec(query, status, doneInfo.Ts, doneInfo.ExitCode, doneInfo.DurationMs, screenId, lineId)
		query = `UPDATE history SET status = ?, exitcode = ?, durationms = ? WHERE screenid = ? AND lineid = ?`
		tx.Exec(query, status, doneInfo.ExitCode, doneInfo.DurationMs, screenId, lineId)
		if IsWebShare(tx, screenId) {
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_CmdStatus)
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_CmdExitCode)
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_CmdDurationMs)
		}
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	update := bus.MakeUpdatePacket()
	line, cmd, err := GetLineCmdByLineId(ctx, screenId, lineId)
	if err != nil {
		return nil, err
	}
	if line != nil {
		update.AddUpdate(*line)
	}
	if cmd != nil {
		update.AddUpdate(*cmd)
	}
	level := StatusIndicatorLevel_Success
	if doneInfo.ExitCode != 0 {
		level = StatusIndicatorLevel_Error
	}
	update.AddUpdate(ScreenStatusIndicatorType{ScreenId: screenId, Status: SetStatusIndicatorLevel(screenId, level, false)})
	update.AddUpdate(ScreenNumRunningCommandsType{ScreenId: screenId, Num: IncrementNumRunningCmds(screenId, -1)})
	return update, nil
}

// UpdateCmdRtnState stores the post-command shell state pointer for cmds
// started with rtnstate set.
func UpdateCmdRtnState(ctx context.Context, screenId string, lineId string, statePtr ShellStatePtr) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		query := `UPDATE cmd SET rtnbasehash = ?, rtndiffhasharr = ? WHERE screenid = ? AND lineid = ?`
		tx.Exec(query, statePtr.BaseHash, store.QuickJsonArr(statePtr.DiffHashArr), screenId, lineId)
		if IsWebShare(tx, screenId) {
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_CmdRtnState)
		}
		return tx.Err
	})
}

// UpdateCmdForRestart resets a finished cmd back to running for a rerun.
// The pty file is cleared separately by the caller.
func UpdateCmdForRestart(ctx context.Context, screenId string, lineId string, ts int64, cmdPid int64, remotePid int64, termOpts *TermOpts) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		query := `UPDATE cmd
             SET restartts = ?, status = ?, exitcode = 0, cmdpid = ?, remotepid = ?, donets = 0, durationms = 0, termopts = ?, origtermopts = ?
           WHERE screenid = ? AND lineid = ?`
		tx.Exec(query, ts, CmdStatusRunning, cmdPid, remotePid, store.QuickJson(termOpts), store.QuickJson(termOpts), screenId, lineId)
		tx.Exec(`UPDATE line SET contentheight = ?, renderer = ? WHERE screenid = ? AND lineid = ?`, LineNoHeight, "", screenId, lineId)
		tx.Exec(`UPDATE history SET status = ? WHERE screenid = ? AND lineid = ?`, CmdStatusRunning, screenId, lineId)
		return tx.Err
	})
}

// HangupCmd marks one command as hung up (remote went away).
func HangupCmd(ctx context.Context, screenId string, lineId string) (*bus.ModelUpdatePacketType, error) {
	txErr := WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE cmd SET status = ?, donets = ? WHERE screenid = ? AND lineid = ?`, CmdStatusHangup, time.Now().UnixMilli(), screenId, lineId)
		tx.Exec(`UPDATE history SET status = ? WHERE screenid = ? AND lineid = ?`, CmdStatusHangup, screenId, lineId)
		if IsWebShare(tx, screenId) {
			insertScreenLineUpdate(tx, screenId, lineId, UpdateType_CmdStatus)
		}
		return tx.Err
	})
	if txErr != nil {
		return nil, txErr
	}
	update := bus.MakeUpdatePacket()
	line, cmd, err := GetLineCmdByLineId(ctx, screenId, lineId)
	if err != nil {
		return nil, err
	}
	if line != nil {
		update.AddUpdate(*line)
	}
	if cmd != nil {
		update.AddUpdate(*cmd)
	}
	return update, nil
}

func hangupRunningCmds(tx *TxWrap, whereClause string, args ...any) []*CmdType {
	query := fmt.Sprintf(`SELECT * FROM cmd WHERE status = '%s' AND %s`, CmdStatusRunning, whereClause)
	cmds := store.SelectMapsGen[CmdType](tx, query, args...)
	nowTs := time.Now().UnixMilli()
	for _, cmd := range cmds {
		tx.Exec(`UPDATE cmd SET status = ?, donets = ? WHERE screenid = ? AND lineid = ?`, CmdStatusHangup, nowTs, cmd.ScreenId, cmd.LineId)
		tx.Exec(`UPDATE history SET status = ? WHERE screenid = ? AND lineid = ?`, CmdStatusHangup, cmd.ScreenId, cmd.LineId)
		if IsWebShare(tx, cmd.ScreenId) {
			insertScreenLineUpdate(tx, cmd.ScreenId, cmd.LineId, UpdateType_CmdStatus)
		}
	}
	return cmds
}

// HangupRunningCmdsByRemoteId hangs up every running command bound to a
// remote and returns the affected screen ids.
func HangupRunningCmdsByRemoteId(ctx context.Context, remoteId string) ([]string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]string, error) {
		cmds := hangupRunningCmds(tx, `remoteid = ?`, remoteId)
		screenIds := make(map[string]bool)
		for _, cmd := range cmds {
			screenIds[cmd.ScreenId] = true
		}
		var rtn []string
		for screenId := range screenIds {
			rtn = append(rtn, screenId)
		}
		return rtn, tx.Err
	})
}

// HangupAllRunningCmds runs at startup: any cmd still marked running did
// not survive the restart.
func HangupAllRunningCmds(ctx context.Context) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		hangupRunningCmds(tx, `1`)
		return tx.Err
	})
}

func GetRunningCmds(ctx context.Context) ([]*CmdType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*CmdType, error) {
		query := `SELECT * FROM cmd WHERE status = ?`
		return store.SelectMapsGen[CmdType](tx, query, CmdStatusRunning), nil
	})
}
