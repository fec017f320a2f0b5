// Package shellstate models captured shell state (cwd, variables, aliases,
// functions) with a canonical encoding and a deterministic 64-bit content
// hash, so identical states are stored once no matter which process
// captured them. Diffs against a base state keep the stored payloads small
// for long-running sessions.
package shellstate

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	ShellTypeBash = "bash"
	ShellTypeZsh  = "zsh"
)

// ShellState is a full capture of shell state. ShellVars holds NUL
// separated k=v records.
type ShellState struct {
	Version   string `json:"version"`
	Cwd       string `json:"cwd,omitempty"`
	ShellVars []byte `json:"shellvars,omitempty"`
	Aliases   string `json:"aliases,omitempty"`
	FuncsStr  string `json:"funcs,omitempty"`
	ShellType string `json:"shelltype,omitempty"`
}

// ShellStateDiff captures the change from a base state. BaseHash names the
// base; DiffHashArr names the intermediate diffs this one stacks on.
type ShellStateDiff struct {
	Version     string   `json:"version"`
	BaseHash    string   `json:"basehash"`
	DiffHashArr []string `json:"diffhasharr,omitempty"`
	Cwd         string   `json:"cwd,omitempty"`
	VarsDiff    []byte   `json:"varsdiff,omitempty"`
	AliasesDiff string   `json:"aliasesdiff,omitempty"`
	FuncsDiff   string   `json:"funcsdiff,omitempty"`
}

func (ss *ShellState) IsEmpty() bool {
	if ss == nil {
		return true
	}
	return ss.Version == "" && ss.Cwd == "" && len(ss.ShellVars) == 0 &&
		ss.Aliases == "" && ss.FuncsStr == "" && ss.ShellType == ""
}

// normalizedVars returns ShellVars with records sorted by key so encoding
// is order-independent.
func (ss *ShellState) normalizedVars() []byte {
	varMap := ParseShellVars(ss.ShellVars)
	return MakeShellVars(varMap)
}

// EncodeAndHash returns the canonical encoding of ss and its content hash.
// The hash is the 16-hex-digit xxhash64 of the encoding; equal states hash
// equal across processes and runs.
func (ss *ShellState) EncodeAndHash() (string, []byte) {
	var buf bytes.Buffer
	writeSection(&buf, []byte(ss.Version))
	writeSection(&buf, []byte(ss.Cwd))
	writeSection(&buf, ss.normalizedVars())
	writeSection(&buf, []byte(ss.Aliases))
	writeSection(&buf, []byte(ss.FuncsStr))
	writeSection(&buf, []byte(ss.ShellType))
	encoded := buf.Bytes()
	return hashBytes(encoded), encoded
}

// GetHashVal returns the content hash of ss.
func (ss *ShellState) GetHashVal() string {
	hash, _ := ss.EncodeAndHash()
	return hash
}

// DecodeShellState parses a canonical encoding produced by EncodeAndHash.
func DecodeShellState(data []byte) (*ShellState, error) {
	r := bytes.NewReader(data)
	sections := make([][]byte, 0, 6)
	for i := 0; i < 6; i++ {
		sec, err := readSection(r)
		if err != nil {
			return nil, fmt.Errorf("invalid shellstate encoding (section %d): %w", i, err)
		}
		sections = append(sections, sec)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("invalid shellstate encoding (trailing %d bytes)", r.Len())
	}
	return &ShellState{
		Version:   string(sections[0]),
		Cwd:       string(sections[1]),
		ShellVars: sections[2],
		Aliases:   string(sections[3]),
		FuncsStr:  string(sections[4]),
		ShellType: string(sections[5]),
	}, nil
}

// EncodeAndHash returns the canonical encoding of the diff and its content
// hash.
func (sd *ShellStateDiff) EncodeAndHash() (string, []byte) {
	var buf bytes.Buffer
	writeSection(&buf, []byte(sd.Version))
	writeSection(&buf, []byte(sd.BaseHash))
	writeSection(&buf, []byte(strings.Join(sd.DiffHashArr, ",")))
	writeSection(&buf, []byte(sd.Cwd))
	writeSection(&buf, sd.VarsDiff)
	writeSection(&buf, []byte(sd.AliasesDiff))
	writeSection(&buf, []byte(sd.FuncsDiff))
	encoded := buf.Bytes()
	return hashBytes(encoded), encoded
}

func (sd *ShellStateDiff) GetHashVal() string {
	hash, _ := sd.EncodeAndHash()
	return hash
}

// DecodeShellStateDiff parses a canonical diff encoding.
func DecodeShellStateDiff(data []byte) (*ShellStateDiff, error) {
	r := bytes.NewReader(data)
	sections := make([][]byte, 0, 7)
	for i := 0; i < 7; i++ {
		sec, err := readSection(r)
		if err != nil {
			return nil, fmt.Errorf("invalid shellstatediff encoding (section %d): %w", i, err)
		}
		sections = append(sections, sec)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("invalid shellstatediff encoding (trailing %d bytes)", r.Len())
	}
	rtn := &ShellStateDiff{
		Version:     string(sections[0]),
		BaseHash:    string(sections[1]),
		Cwd:         string(sections[3]),
		VarsDiff:    sections[4],
		AliasesDiff: string(sections[5]),
		FuncsDiff:   string(sections[6]),
	}
	if len(sections[2]) > 0 {
		rtn.DiffHashArr = strings.Split(string(sections[2]), ",")
	}
	return rtn, nil
}

// ParseShellVars splits a NUL separated k=v block into a map.
func ParseShellVars(varBlock []byte) map[string]string {
	rtn := make(map[string]string)
	for _, rec := range bytes.Split(varBlock, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		eq := bytes.IndexByte(rec, '=')
		if eq == -1 {
			rtn[string(rec)] = ""
			continue
		}
		rtn[string(rec[:eq])] = string(rec[eq+1:])
	}
	return rtn
}

// MakeShellVars builds a NUL separated k=v block with sorted keys.
func MakeShellVars(varMap map[string]string) []byte {
	if len(varMap) == 0 {
		return nil
	}
	keys := make([]string, 0, len(varMap))
	for k := range varMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(varMap[k])
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func hashBytes(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

func writeSection(buf *bytes.Buffer, data []byte) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(data)))
	buf.Write(lenBuf[:n])
	buf.Write(data)
}

func readSection(r *bytes.Reader) ([]byte, error) {
	slen, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if slen > uint64(r.Len()) {
		return nil, fmt.Errorf("section length %d exceeds remaining data", slen)
	}
	data := make([]byte, slen)
	if slen > 0 {
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
	}
	return data, nil
}
