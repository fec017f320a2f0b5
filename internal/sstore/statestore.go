package sstore

import (
	"context"
	"fmt"
	"time"

	"github.com/tribixbite/waveterm/internal/shellstate"
	"github.com/tribixbite/waveterm/internal/store"
)

// StateBase is a stored full shell state, keyed by content hash.
type StateBase struct {
	BaseHash string
	Ts       int64
	Version  string
	Data     []byte
}

func (sb *StateBase) ToMap() map[string]any {
	return map[string]any{
		"basehash": sb.BaseHash,
		"ts":       sb.Ts,
		"version":  sb.Version,
		"data":     sb.Data,
	}
}

func (sb *StateBase) FromMap(m map[string]any) bool {
	store.QuickSetStr(&sb.BaseHash, m, "basehash")
	store.QuickSetInt64(&sb.Ts, m, "ts")
	store.QuickSetStr(&sb.Version, m, "version")
	store.QuickSetBytes(&sb.Data, m, "data")
	return sb.BaseHash != ""
}

// StateDiff is a stored shell-state diff, keyed by content hash.
type StateDiff struct {
	DiffHash    string
	Ts          int64
	BaseHash    string
	DiffHashArr []string
	Data        []byte
}

func (sd *StateDiff) ToMap() map[string]any {
	return map[string]any{
		"diffhash":    sd.DiffHash,
		"ts":          sd.Ts,
		"basehash":    sd.BaseHash,
		"diffhasharr": store.QuickJsonArr(sd.DiffHashArr),
		"data":        sd.Data,
	}
}

func (sd *StateDiff) FromMap(m map[string]any) bool {
	store.QuickSetStr(&sd.DiffHash, m, "diffhash")
	store.QuickSetInt64(&sd.Ts, m, "ts")
	store.QuickSetStr(&sd.BaseHash, m, "basehash")
	store.QuickSetJsonArr(&sd.DiffHashArr, m, "diffhasharr")
	store.QuickSetBytes(&sd.Data, m, "data")
	return sd.DiffHash != ""
}

// ShellStatePtr names a state chain: a base hash plus the ordered diff
// hashes stacked on it.
type ShellStatePtr struct {
	BaseHash    string
	DiffHashArr []string
}

func (ssPtr *ShellStatePtr) IsEmpty() bool {
	return ssPtr == nil || ssPtr.BaseHash == ""
}

// StoreStateBase persists a full shell state under its content hash.
// Storing the same state twice is a no-op.
func StoreStateBase(ctx context.Context, state *shellstate.ShellState) error {
	if state == nil {
		return fmt.Errorf("cannot store nil state")
	}
	hashVal, encoded := state.EncodeAndHash()
	return WithTx(ctx, func(tx *TxWrap) error {
		if tx.Exists(`SELECT basehash FROM state_base WHERE basehash = ?`, hashVal) {
			return nil
		}
		sb := &StateBase{
			BaseHash: hashVal,
			Ts:       time.Now().UnixMilli(),
			Version:  state.Version,
			Data:     encoded,
		}
		query := `INSERT INTO state_base (basehash, ts, version, data) VALUES (:basehash,:ts,:version,:data)`
		tx.NamedExec(query, sb.ToMap())
		return tx.Err
	})
}

// StoreStateDiff persists a diff under its content hash after validating
// that its base and every hash in its chain already exist.
func StoreStateDiff(ctx context.Context, diff *shellstate.ShellStateDiff) error {
	if diff == nil {
		return fmt.Errorf("cannot store nil diff")
	}
	hashVal, encoded := diff.EncodeAndHash()
	return WithTx(ctx, func(tx *TxWrap) error {
		if diff.BaseHash == "" {
			return fmt.Errorf("cannot store diff without basehash")
		}
		if !tx.Exists(`SELECT basehash FROM state_base WHERE basehash = ?`, diff.BaseHash) {
			return fmt.Errorf("cannot store diff, basehash:%s does not exist", diff.BaseHash)
		}
		for idx, diffHash := range diff.DiffHashArr {
			if !tx.Exists(`SELECT diffhash FROM state_diff WHERE diffhash = ?`, diffHash) {
				return fmt.Errorf("cannot store diff, diffhash[%d]:%s does not exist", idx, diffHash)
			}
		}
		if tx.Exists(`SELECT diffhash FROM state_diff WHERE diffhash = ?`, hashVal) {
			return nil
		}
		sd := &StateDiff{
			DiffHash:    hashVal,
			Ts:          time.Now().UnixMilli(),
			BaseHash:    diff.BaseHash,
			DiffHashArr: diff.DiffHashArr,
			Data:        encoded,
		}
		query := `INSERT INTO state_diff (diffhash, ts, basehash, diffhasharr, data) VALUES (:diffhash,:ts,:basehash,:diffhasharr,:data)`
		tx.NamedExec(query, sd.ToMap())
		return tx.Err
	})
}

func GetStateBase(ctx context.Context, baseHash string) (*shellstate.ShellState, error) {
	data, err := WithTxRtn(ctx, func(tx *TxWrap) ([]byte, error) {
		sb := store.GetMapGen[StateBase](tx, `SELECT * FROM state_base WHERE basehash = ?`, baseHash)
		if sb == nil {
			return nil, fmt.Errorf("basehash %s not found", baseHash)
		}
		return sb.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return shellstate.DecodeShellState(data)
}

func GetStateDiff(ctx context.Context, diffHash string) (*shellstate.ShellStateDiff, error) {
	data, err := WithTxRtn(ctx, func(tx *TxWrap) ([]byte, error) {
		sd := store.GetMapGen[StateDiff](tx, `SELECT * FROM state_diff WHERE diffhash = ?`, diffHash)
		if sd == nil {
			return nil, fmt.Errorf("diffhash %s not found", diffHash)
		}
		return sd.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return shellstate.DecodeShellStateDiff(data)
}

// GetStateBaseVersion returns the shell version string recorded with a
// stored base.
func GetStateBaseVersion(ctx context.Context, baseHash string) (string, error) {
	return WithTxRtn(ctx, func(tx *TxWrap) (string, error) {
		version := tx.GetString(`SELECT version FROM state_base WHERE basehash = ?`, baseHash)
		if version == "" && !tx.Exists(`SELECT basehash FROM state_base WHERE basehash = ?`, baseHash) {
			return "", fmt.Errorf("basehash %s not found", baseHash)
		}
		return version, nil
	})
}

// GetFullState materializes the state a pointer names by folding the diff
// chain over the base.
func GetFullState(ctx context.Context, ssPtr ShellStatePtr) (*shellstate.ShellState, error) {
	if ssPtr.BaseHash == "" {
		return nil, fmt.Errorf("invalid empty state pointer")
	}
	state, err := GetStateBase(ctx, ssPtr.BaseHash)
	if err != nil {
		return nil, err
	}
	for _, diffHash := range ssPtr.DiffHashArr {
		diff, err := GetStateDiff(ctx, diffHash)
		if err != nil {
			return nil, err
		}
		state, err = shellstate.ApplyShellStateDiff(state, diff)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// GetCurStateDiffFromPtr returns the last diff in the chain the pointer
// names. An empty chain returns a synthetic diff carrying only the base
// hash and version, so callers can diff against the base directly.
func GetCurStateDiffFromPtr(ctx context.Context, ssPtr *ShellStatePtr) (*shellstate.ShellStateDiff, error) {
	if ssPtr.IsEmpty() {
		return nil, fmt.Errorf("invalid empty state pointer")
	}
	if len(ssPtr.DiffHashArr) == 0 {
		version, err := GetStateBaseVersion(ctx, ssPtr.BaseHash)
		if err != nil {
			return nil, err
		}
		return &shellstate.ShellStateDiff{
			Version:  version,
			BaseHash: ssPtr.BaseHash,
		}, nil
	}
	lastHash := ssPtr.DiffHashArr[len(ssPtr.DiffHashArr)-1]
	return GetStateDiff(ctx, lastHash)
}
