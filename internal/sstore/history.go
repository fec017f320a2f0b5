package sstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/tribixbite/waveterm/internal/store"
)

const (
	HistoryTypeScreen  = "screen"
	HistoryTypeSession = "session"
	HistoryTypeGlobal  = "global"
)

const DefaultHistoryMaxItems = 1000

type HistoryItemType struct {
	HistoryId  string            `json:"historyid"`
	Ts         int64             `json:"ts"`
	UserId     string            `json:"userid"`
	SessionId  string            `json:"sessionid"`
	ScreenId   string            `json:"screenid"`
	LineId     string            `json:"lineid"`
	HadError   bool              `json:"haderror"`
	CmdStr     string            `json:"cmdstr"`
	Remote     RemotePtrType     `json:"remote"`
	IsMetaCmd  bool              `json:"ismetacmd"`
	ExitCode   *int64            `json:"exitcode,omitempty"`
	DurationMs *int64            `json:"durationms,omitempty"`
	FeState    map[string]string `json:"festate,omitempty"`
	Tags       map[string]bool   `json:"tags,omitempty"`
	Status     string            `json:"status"`

	// computed from the line, not stored on the history row itself
	LineNum int64 `json:"linenum"`
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func quickSetNullableInt64(ptr **int64, m map[string]any, name string) {
	v, ok := m[name]
	if !ok || v == nil {
		*ptr = nil
		return
	}
	if ival, ok := v.(int64); ok {
		*ptr = &ival
	}
}

func (h *HistoryItemType) ToMap() map[string]any {
	return map[string]any{
		"historyid":     h.HistoryId,
		"ts":            h.Ts,
		"userid":        h.UserId,
		"sessionid":     h.SessionId,
		"screenid":      h.ScreenId,
		"lineid":        h.LineId,
		"haderror":      h.HadError,
		"cmdstr":        h.CmdStr,
		"remoteownerid": h.Remote.OwnerId,
		"remoteid":      h.Remote.RemoteId,
		"remotename":    h.Remote.Name,
		"ismetacmd":     h.IsMetaCmd,
		"linenum":       h.LineNum,
		"exitcode":      nullableInt64(h.ExitCode),
		"durationms":    nullableInt64(h.DurationMs),
		"festate":       store.QuickJson(h.FeState),
		"tags":          store.QuickJson(h.Tags),
		"status":        h.Status,
	}
}

func (h *HistoryItemType) FromMap(m map[string]any) bool {
	store.QuickSetStr(&h.HistoryId, m, "historyid")
	store.QuickSetInt64(&h.Ts, m, "ts")
	store.QuickSetStr(&h.UserId, m, "userid")
	store.QuickSetStr(&h.SessionId, m, "sessionid")
	store.QuickSetStr(&h.ScreenId, m, "screenid")
	store.QuickSetStr(&h.LineId, m, "lineid")
	store.QuickSetBool(&h.HadError, m, "haderror")
	store.QuickSetStr(&h.CmdStr, m, "cmdstr")
	store.QuickSetStr(&h.Remote.OwnerId, m, "remoteownerid")
	store.QuickSetStr(&h.Remote.RemoteId, m, "remoteid")
	store.QuickSetStr(&h.Remote.Name, m, "remotename")
	store.QuickSetBool(&h.IsMetaCmd, m, "ismetacmd")
	store.QuickSetInt64(&h.LineNum, m, "linenum")
	quickSetNullableInt64(&h.ExitCode, m, "exitcode")
	quickSetNullableInt64(&h.DurationMs, m, "durationms")
	store.QuickSetJson(&h.FeState, m, "festate")
	store.QuickSetJson(&h.Tags, m, "tags")
	store.QuickSetStr(&h.Status, m, "status")
	return h.HistoryId != ""
}

type HistoryQueryOpts struct {
	MaxItems   int
	Offset     int
	FromTs     int64
	SearchText string
	SessionId  string
	ScreenId   string
	RemoteId   string
	NoMeta     bool
}

type HistoryQueryResult struct {
	Items   []*HistoryItemType `json:"items"`
	Offset  int                `json:"offset"`
	HasMore bool               `json:"hasmore"`
}

type HistoryInfoType struct {
	HistoryType string             `json:"historytype"`
	SessionId   string             `json:"sessionid,omitempty"`
	ScreenId    string             `json:"screenid,omitempty"`
	Items       []*HistoryItemType `json:"items"`
	Show        bool               `json:"show"`
}

func (HistoryInfoType) GetType() string {
	return "history"
}

func InsertHistoryItem(ctx context.Context, hitem *HistoryItemType) error {
	if hitem == nil {
		return fmt.Errorf("cannot insert nil history item")
	}
	if hitem.HistoryId == "" {
		return fmt.Errorf("invalid history item, no historyid set")
	}
	return WithTx(ctx, func(tx *TxWrap) error {
		query := `INSERT INTO history
            ( historyid, ts, userid, sessionid, screenid, lineid, haderror, cmdstr, remoteownerid, remoteid, remotename, ismetacmd, linenum, exitcode, durationms, festate, tags, status)
     VALUES (:historyid,:ts,:userid,:sessionid,:screenid,:lineid,:haderror,:cmdstr,:remoteownerid,:remoteid,:remotename,:ismetacmd,:linenum,:exitcode,:durationms,:festate,:tags,:status)`
		tx.NamedExec(query, hitem.ToMap())
		return tx.Err
	})
}

// GetHistoryItems runs a filtered history query, newest first. MaxItems
// zero uses the default; one extra row is fetched to compute HasMore.
func GetHistoryItems(ctx context.Context, opts HistoryQueryOpts) (*HistoryQueryResult, error) {
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultHistoryMaxItems
	}
	var wheres []string
	var args []any
	if opts.FromTs > 0 {
		wheres = append(wheres, "ts <= ?")
		args = append(args, opts.FromTs)
	}
	if opts.SessionId != "" {
		wheres = append(wheres, "sessionid = ?")
		args = append(args, opts.SessionId)
	}
	if opts.ScreenId != "" {
		wheres = append(wheres, "screenid = ?")
		args = append(args, opts.ScreenId)
	}
	if opts.RemoteId != "" {
		wheres = append(wheres, "remoteid = ?")
		args = append(args, opts.RemoteId)
	}
	if opts.NoMeta {
		wheres = append(wheres, "NOT ismetacmd")
	}
	if opts.SearchText != "" {
		wheres = append(wheres, "cmdstr LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(opts.SearchText)+"%")
	}
	whereClause := ""
	if len(wheres) > 0 {
		whereClause = "WHERE " + strings.Join(wheres, " AND ")
	}
	query := fmt.Sprintf(`SELECT * FROM history %s ORDER BY ts DESC, historyid LIMIT ? OFFSET ?`, whereClause)
	args = append(args, maxItems+1, opts.Offset)
	return WithTxRtn(ctx, func(tx *TxWrap) (*HistoryQueryResult, error) {
		items := store.SelectMapsGen[HistoryItemType](tx, query, args...)
		rtn := &HistoryQueryResult{Offset: opts.Offset}
		if len(items) > maxItems {
			rtn.HasMore = true
			items = items[:maxItems]
		}
		rtn.Items = items
		return rtn, nil
	})
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// GetLastHistoryLineNum returns the line number of the most recent history
// item for a screen (0 when none).
func GetLastHistoryLineNum(ctx context.Context, screenId string) (int64, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (int64, error) {
		return tx.GetInt64(`SELECT COALESCE(max(linenum), 0) FROM history WHERE screenid = ?`, screenId), nil
	})
}

func GetHistoryItemByLineId(ctx context.Context, screenId string, lineId string) (*HistoryItemType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*HistoryItemType, error) {
		query := `SELECT * FROM history WHERE screenid = ? AND lineid = ?`
		return store.GetMapGen[HistoryItemType](tx, query, screenId, lineId), nil
	})
}

func PurgeHistoryByIds(ctx context.Context, historyIds []string) error {
	if len(historyIds) == 0 {
		return nil
	}
	return WithTx(ctx, func(tx *TxWrap) error {
		for _, historyId := range historyIds {
			tx.Exec(`DELETE FROM history WHERE historyid = ?`, historyId)
		}
		return tx.Err
	})
}
