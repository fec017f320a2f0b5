package sstore

import (
	"context"
	"fmt"

	"github.com/tribixbite/waveterm/internal/scbase"
	"github.com/tribixbite/waveterm/internal/shellstate"
	"github.com/tribixbite/waveterm/internal/store"
)

type SSHOpts struct {
	Local       bool   `json:"local,omitempty"`
	SSHHost     string `json:"sshhost"`
	SSHUser     string `json:"sshuser"`
	SSHOptsStr  string `json:"sshopts,omitempty"`
	SSHIdentity string `json:"sshidentity,omitempty"`
	SSHPort     int    `json:"sshport,omitempty"`
	SSHPassword string `json:"sshpassword,omitempty"`
}

type RemoteOptsType struct {
	Color string `json:"color"`
}

type OpenAIOptsType struct {
	Model      string `json:"model,omitempty"`
	APIToken   string `json:"apitoken,omitempty"`
	BaseURL    string `json:"baseurl,omitempty"`
	MaxTokens  int    `json:"maxtokens,omitempty"`
	MaxChoices int    `json:"maxchoices,omitempty"`
}

type RemoteType struct {
	RemoteId            string            `json:"remoteid"`
	RemoteType          string            `json:"remotetype"`
	RemoteAlias         string            `json:"remotealias,omitempty"`
	RemoteCanonicalName string            `json:"remotecanonicalname"`
	RemoteUser          string            `json:"remoteuser"`
	RemoteHost          string            `json:"remotehost"`
	ConnectMode         string            `json:"connectmode"`
	AutoInstall         bool              `json:"autoinstall"`
	SSHOpts             *SSHOpts          `json:"sshopts"`
	RemoteOpts          *RemoteOptsType   `json:"remoteopts,omitempty"`
	LastConnectTs       int64             `json:"lastconnectts"`
	Archived            bool              `json:"archived,omitempty"`
	RemoteIdx           int64             `json:"remoteidx"`
	Local               bool              `json:"local,omitempty"`
	StateVars           map[string]string `json:"statevars,omitempty"`
	SSHConfigSrc        string            `json:"sshconfigsrc,omitempty"`
	OpenAIOpts          *OpenAIOptsType   `json:"openaiopts,omitempty"`
	ShellPref           string            `json:"shellpref,omitempty"`
}

func (r *RemoteType) GetName() string {
	if r.RemoteAlias != "" {
		return r.RemoteAlias
	}
	return r.RemoteCanonicalName
}

func (r *RemoteType) IsSudo() bool {
	return r.SSHOpts != nil && r.SSHOpts.Local && r.RemoteCanonicalName == "sudo@local"
}

func (r *RemoteType) ToMap() map[string]any {
	return map[string]any{
		"remoteid":            r.RemoteId,
		"remotetype":          r.RemoteType,
		"remotealias":         r.RemoteAlias,
		"remotecanonicalname": r.RemoteCanonicalName,
		"remoteuser":          r.RemoteUser,
		"remotehost":          r.RemoteHost,
		"connectmode":         r.ConnectMode,
		"autoinstall":         r.AutoInstall,
		"sshopts":             store.QuickJson(r.SSHOpts),
		"remoteopts":          store.QuickJson(r.RemoteOpts),
		"lastconnectts":       r.LastConnectTs,
		"archived":            r.Archived,
		"remoteidx":           r.RemoteIdx,
		"local":               r.Local,
		"statevars":           store.QuickJson(r.StateVars),
		"sshconfigsrc":        r.SSHConfigSrc,
		"openaiopts":          store.QuickJson(r.OpenAIOpts),
		"shellpref":           r.ShellPref,
	}
}

func (r *RemoteType) FromMap(m map[string]any) bool {
	store.QuickSetStr(&r.RemoteId, m, "remoteid")
	store.QuickSetStr(&r.RemoteType, m, "remotetype")
	store.QuickSetStr(&r.RemoteAlias, m, "remotealias")
	store.QuickSetStr(&r.RemoteCanonicalName, m, "remotecanonicalname")
	store.QuickSetStr(&r.RemoteUser, m, "remoteuser")
	store.QuickSetStr(&r.RemoteHost, m, "remotehost")
	store.QuickSetStr(&r.ConnectMode, m, "connectmode")
	store.QuickSetBool(&r.AutoInstall, m, "autoinstall")
	store.QuickSetNullableJson(&r.SSHOpts, m, "sshopts")
	store.QuickSetNullableJson(&r.RemoteOpts, m, "remoteopts")
	store.QuickSetInt64(&r.LastConnectTs, m, "lastconnectts")
	store.QuickSetBool(&r.Archived, m, "archived")
	store.QuickSetInt64(&r.RemoteIdx, m, "remoteidx")
	store.QuickSetBool(&r.Local, m, "local")
	store.QuickSetJson(&r.StateVars, m, "statevars")
	store.QuickSetStr(&r.SSHConfigSrc, m, "sshconfigsrc")
	store.QuickSetNullableJson(&r.OpenAIOpts, m, "openaiopts")
	store.QuickSetStr(&r.ShellPref, m, "shellpref")
	return r.RemoteId != ""
}

// RemoteInstance binds captured shell state to a (session, screen, remote)
// triple.
type RemoteInstance struct {
	RIId             string            `json:"riid"`
	Name             string            `json:"name"`
	SessionId        string            `json:"sessionid"`
	ScreenId         string            `json:"screenid"`
	RemoteOwnerId    string            `json:"remoteownerid"`
	RemoteId         string            `json:"remoteid"`
	FeState          map[string]string `json:"festate"`
	ShellType        string            `json:"shelltype"`
	StateBaseHash    string            `json:"-"`
	StateDiffHashArr []string          `json:"-"`

	// only for updates
	Remove bool `json:"remove,omitempty"`
}

func (ri *RemoteInstance) ToMap() map[string]any {
	return map[string]any{
		"riid":             ri.RIId,
		"name":             ri.Name,
		"sessionid":        ri.SessionId,
		"screenid":         ri.ScreenId,
		"remoteownerid":    ri.RemoteOwnerId,
		"remoteid":         ri.RemoteId,
		"festate":          store.QuickJson(ri.FeState),
		"shelltype":        ri.ShellType,
		"statebasehash":    ri.StateBaseHash,
		"statediffhasharr": store.QuickJsonArr(ri.StateDiffHashArr),
	}
}

func (ri *RemoteInstance) FromMap(m map[string]any) bool {
	store.QuickSetStr(&ri.RIId, m, "riid")
	store.QuickSetStr(&ri.Name, m, "name")
	store.QuickSetStr(&ri.SessionId, m, "sessionid")
	store.QuickSetStr(&ri.ScreenId, m, "screenid")
	store.QuickSetStr(&ri.RemoteOwnerId, m, "remoteownerid")
	store.QuickSetStr(&ri.RemoteId, m, "remoteid")
	store.QuickSetJson(&ri.FeState, m, "festate")
	store.QuickSetStr(&ri.ShellType, m, "shelltype")
	store.QuickSetStr(&ri.StateBaseHash, m, "statebasehash")
	store.QuickSetJsonArr(&ri.StateDiffHashArr, m, "statediffhasharr")
	return ri.RIId != ""
}

func (RemoteInstance) GetType() string {
	return "remoteinstance"
}

// FeStateFromShellState projects the fields the frontend tracks out of a
// full shell state.
func FeStateFromShellState(state *shellstate.ShellState) map[string]string {
	if state == nil {
		return nil
	}
	return map[string]string{"cwd": state.Cwd}
}

func GetRemoteByAlias(ctx context.Context, alias string) (*RemoteType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*RemoteType, error) {
		query := `SELECT * FROM remote WHERE remotealias = ?`
		return store.GetMapGen[RemoteType](tx, query, alias), nil
	})
}

func GetRemoteById(ctx context.Context, remoteId string) (*RemoteType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*RemoteType, error) {
		query := `SELECT * FROM remote WHERE remoteid = ?`
		return store.GetMapGen[RemoteType](tx, query, remoteId), nil
	})
}

func GetRemoteByCanonicalName(ctx context.Context, cname string) (*RemoteType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*RemoteType, error) {
		query := `SELECT * FROM remote WHERE remotecanonicalname = ?`
		return store.GetMapGen[RemoteType](tx, query, cname), nil
	})
}

func GetLocalRemote(ctx context.Context) (*RemoteType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*RemoteType, error) {
		query := `SELECT * FROM remote WHERE local AND NOT archived ORDER BY remoteidx LIMIT 1`
		return store.GetMapGen[RemoteType](tx, query), nil
	})
}

func GetAllRemotes(ctx context.Context) ([]*RemoteType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*RemoteType, error) {
		query := `SELECT * FROM remote ORDER BY remoteidx`
		return store.SelectMapsGen[RemoteType](tx, query), nil
	})
}

// UpsertRemote inserts r, or replaces the row with the same remoteid.
// Alias and canonical-name collisions with other remotes are rejected.
func UpsertRemote(ctx context.Context, r *RemoteType) error {
	if r == nil {
		return fmt.Errorf("cannot insert nil remote")
	}
	if r.RemoteId == "" {
		return fmt.Errorf("cannot insert remote without id")
	}
	if r.RemoteCanonicalName == "" {
		return fmt.Errorf("cannot insert remote without canonicalname")
	}
	return WithTx(ctx, func(tx *TxWrap) error {
		query := `SELECT remoteid FROM remote WHERE remoteid = ?`
		if tx.Exists(query, r.RemoteId) {
			tx.Exec(`DELETE FROM remote WHERE remoteid = ?`, r.RemoteId)
		}
		query = `SELECT remoteid FROM remote WHERE remotecanonicalname = ?`
		if tx.Exists(query, r.RemoteCanonicalName) {
			return fmt.Errorf("remote has duplicate canonicalname '%s', cannot create", r.RemoteCanonicalName)
		}
		if r.RemoteAlias != "" {
			query = `SELECT remoteid FROM remote WHERE remotealias = ?`
			if tx.Exists(query, r.RemoteAlias) {
				return fmt.Errorf("remote has duplicate alias '%s', cannot create", r.RemoteAlias)
			}
		}
		query = `SELECT COALESCE(max(remoteidx), 0) FROM remote`
		maxRemoteIdx := tx.GetInt64(query)
		r.RemoteIdx = maxRemoteIdx + 1
		query = `INSERT INTO remote
            ( remoteid, remotetype, remotealias, remotecanonicalname, remoteuser, remotehost, connectmode, autoinstall, sshopts, remoteopts, lastconnectts, archived, remoteidx, local, statevars, sshconfigsrc, openaiopts, shellpref)
     VALUES (:remoteid,:remotetype,:remotealias,:remotecanonicalname,:remoteuser,:remotehost,:connectmode,:autoinstall,:sshopts,:remoteopts,:lastconnectts,:archived,:remoteidx,:local,:statevars,:sshconfigsrc,:openaiopts,:shellpref)`
		tx.NamedExec(query, r.ToMap())
		return tx.Err
	})
}

func DeleteRemote(ctx context.Context, remoteId string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`DELETE FROM remote WHERE remoteid = ?`, remoteId)
		tx.Exec(`DELETE FROM remote_instance WHERE remoteid = ?`, remoteId)
		return tx.Err
	})
}

func ArchiveRemote(ctx context.Context, remoteId string) error {
	return WithTx(ctx, func(tx *TxWrap) error {
		tx.Exec(`UPDATE remote SET archived = 1 WHERE remoteid = ?`, remoteId)
		return tx.Err
	})
}

// UpdateRemote applies an allow-listed edit map to a remote row.
var remoteEditCols = map[string]bool{
	"remotealias": true, "connectmode": true, "autoinstall": true,
	"sshopts": true, "remoteopts": true, "lastconnectts": true,
	"statevars": true, "openaiopts": true, "shellpref": true,
}

func UpdateRemote(ctx context.Context, remoteId string, editMap map[string]any) (*RemoteType, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*RemoteType, error) {
		if !tx.Exists(`SELECT remoteid FROM remote WHERE remoteid = ?`, remoteId) {
			return nil, fmt.Errorf("remote not found")
		}
		for col, val := range editMap {
			if !remoteEditCols[col] {
				return nil, fmt.Errorf("invalid remote edit field %q", col)
			}
			tx.Exec(fmt.Sprintf(`UPDATE remote SET %s = ? WHERE remoteid = ?`, col), val, remoteId)
		}
		if tx.Err != nil {
			return nil, tx.Err
		}
		return store.GetMapGen[RemoteType](tx, `SELECT * FROM remote WHERE remoteid = ?`, remoteId), nil
	})
}

func GetRemoteInstance(ctx context.Context, sessionId string, screenId string, remoteId string, name string) (*RemoteInstance, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (*RemoteInstance, error) {
		query := `SELECT * FROM remote_instance WHERE sessionid = ? AND screenid = ? AND remoteid = ? AND name = ?`
		return store.GetMapGen[RemoteInstance](tx, query, sessionId, screenId, remoteId, name), nil
	})
}

func GetRIArray(ctx context.Context, sessionId string) ([]*RemoteInstance, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]*RemoteInstance, error) {
		query := `SELECT * FROM remote_instance WHERE sessionid = ?`
		return store.SelectMapsGen[RemoteInstance](tx, query, sessionId), nil
	})
}

// GetRemoteActiveShells lists the distinct shell types with stored state
// for a remote.
func GetRemoteActiveShells(ctx context.Context, remoteId string) ([]string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) ([]string, error) {
		query := `SELECT DISTINCT shelltype FROM remote_instance WHERE remoteid = ? AND shelltype <> ''`
		return tx.SelectStrings(query, remoteId), nil
	})
}

// UpdateRemoteState upserts the remote-instance row for (session, screen,
// remote), storing the new state base or diff first. Exactly one of
// baseState / diff must be set.
func UpdateRemoteState(ctx context.Context, sessionId string, screenId string, remoteOwnerId string, remoteId string, name string, feState map[string]string, baseState *shellstate.ShellState, diff *shellstate.ShellStateDiff) (*RemoteInstance, error) {
	if (baseState == nil && diff == nil) || (baseState != nil && diff != nil) {
		return nil, fmt.Errorf("UpdateRemoteState invalid state ptr")
	}
	var stateBaseHash string
	var stateDiffHashArr []string
	var shellType string
	if baseState != nil {
		if err := StoreStateBase(ctx, baseState); err != nil {
			return nil, err
		}
		stateBaseHash = baseState.GetHashVal()
		shellType = baseState.ShellType
	} else {
		if err := StoreStateDiff(ctx, diff); err != nil {
			return nil, err
		}
		stateBaseHash = diff.BaseHash
		stateDiffHashArr = append(append([]string{}, diff.DiffHashArr...), diff.GetHashVal())
		baseVersion, err := GetStateBaseVersion(ctx, diff.BaseHash)
		if err != nil {
			return nil, err
		}
		shellType = shellTypeFromVersion(baseVersion)
	}
	return WithTxRtn(ctx, func(tx *TxWrap) (*RemoteInstance, error) {
		if err := validateSessionScreen(tx, sessionId, screenId); err != nil {
			return nil, fmt.Errorf("cannot update remote instance state: %w", err)
		}
		query := `SELECT * FROM remote_instance WHERE sessionid = ? AND screenid = ? AND remoteownerid = ? AND remoteid = ? AND name = ?`
		ri := store.GetMapGen[RemoteInstance](tx, query, sessionId, screenId, remoteOwnerId, remoteId, name)
		if ri == nil {
			ri = &RemoteInstance{
				RIId:          scbase.GenWaveUUID(),
				Name:          name,
				SessionId:     sessionId,
				ScreenId:      screenId,
				RemoteOwnerId: remoteOwnerId,
				RemoteId:      remoteId,
			}
		}
		ri.FeState = feState
		ri.StateBaseHash = stateBaseHash
		ri.StateDiffHashArr = stateDiffHashArr
		if shellType != "" {
			ri.ShellType = shellType
		}
		query = `REPLACE INTO remote_instance ( riid, name, sessionid, screenid, remoteownerid, remoteid, festate, statebasehash, statediffhasharr, shelltype)
                                      VALUES (:riid,:name,:sessionid,:screenid,:remoteownerid,:remoteid,:festate,:statebasehash,:statediffhasharr,:shelltype)`
		tx.NamedExec(query, ri.ToMap())
		if tx.Err != nil {
			return nil, tx.Err
		}
		return ri, nil
	})
}

func shellTypeFromVersion(version string) string {
	if len(version) >= 3 && version[0:3] == "zsh" {
		return shellstate.ShellTypeZsh
	}
	if len(version) >= 4 && version[0:4] == "bash" {
		return shellstate.ShellTypeBash
	}
	return ""
}
