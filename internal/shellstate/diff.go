package shellstate

import (
	"encoding/json"
	"fmt"
)

// varsDiffType is the JSON payload of ShellStateDiff.VarsDiff: variables to
// upsert and variables to remove, relative to the base.
type varsDiffType struct {
	ToAdd    map[string]string `json:"toadd,omitempty"`
	ToRemove []string          `json:"toremove,omitempty"`
}

// sentinel prefix marking "field replaced" in aliases/funcs diffs; an empty
// diff string means unchanged
const replacePrefix = "=\x00"

// MakeShellStateDiff computes the diff that turns base into cur. The diff
// records base's content hash so it can only be applied to that base.
func MakeShellStateDiff(base *ShellState, cur *ShellState) (*ShellStateDiff, error) {
	if base == nil || cur == nil {
		return nil, fmt.Errorf("cannot diff nil shellstate")
	}
	baseHash, _ := base.EncodeAndHash()
	rtn := &ShellStateDiff{
		Version:  cur.Version,
		BaseHash: baseHash,
		Cwd:      cur.Cwd,
	}
	baseVars := ParseShellVars(base.ShellVars)
	curVars := ParseShellVars(cur.ShellVars)
	vdiff := varsDiffType{ToAdd: make(map[string]string)}
	for k, v := range curVars {
		if baseVal, found := baseVars[k]; !found || baseVal != v {
			vdiff.ToAdd[k] = v
		}
	}
	for k := range baseVars {
		if _, found := curVars[k]; !found {
			vdiff.ToRemove = append(vdiff.ToRemove, k)
		}
	}
	if len(vdiff.ToAdd) > 0 || len(vdiff.ToRemove) > 0 {
		barr, err := json.Marshal(vdiff)
		if err != nil {
			return nil, fmt.Errorf("cannot marshal vars diff: %w", err)
		}
		rtn.VarsDiff = barr
	}
	if cur.Aliases != base.Aliases {
		rtn.AliasesDiff = replacePrefix + cur.Aliases
	}
	if cur.FuncsStr != base.FuncsStr {
		rtn.FuncsDiff = replacePrefix + cur.FuncsStr
	}
	return rtn, nil
}

// ApplyShellStateDiff applies diff to base, validating the diff's base
// hash.
func ApplyShellStateDiff(base *ShellState, diff *ShellStateDiff) (*ShellState, error) {
	if base == nil {
		return nil, fmt.Errorf("cannot apply diff to nil shellstate")
	}
	if diff == nil {
		return base, nil
	}
	baseHash, _ := base.EncodeAndHash()
	if diff.BaseHash != "" && diff.BaseHash != baseHash {
		return nil, fmt.Errorf("diff basehash %s does not match state hash %s", diff.BaseHash, baseHash)
	}
	rtn := &ShellState{
		Version:   base.Version,
		Cwd:       base.Cwd,
		ShellVars: base.ShellVars,
		Aliases:   base.Aliases,
		FuncsStr:  base.FuncsStr,
		ShellType: base.ShellType,
	}
	if diff.Version != "" {
		rtn.Version = diff.Version
	}
	if diff.Cwd != "" {
		rtn.Cwd = diff.Cwd
	}
	if len(diff.VarsDiff) > 0 {
		var vdiff varsDiffType
		if err := json.Unmarshal(diff.VarsDiff, &vdiff); err != nil {
			return nil, fmt.Errorf("cannot unmarshal vars diff: %w", err)
		}
		varMap := ParseShellVars(base.ShellVars)
		for k, v := range vdiff.ToAdd {
			varMap[k] = v
		}
		for _, k := range vdiff.ToRemove {
			delete(varMap, k)
		}
		rtn.ShellVars = MakeShellVars(varMap)
	}
	if diff.AliasesDiff != "" {
		rtn.Aliases = applyStrDiff(base.Aliases, diff.AliasesDiff)
	}
	if diff.FuncsDiff != "" {
		rtn.FuncsStr = applyStrDiff(base.FuncsStr, diff.FuncsDiff)
	}
	return rtn, nil
}

func applyStrDiff(oldVal string, diffVal string) string {
	if len(diffVal) >= len(replacePrefix) && diffVal[:len(replacePrefix)] == replacePrefix {
		return diffVal[len(replacePrefix):]
	}
	return oldVal
}
