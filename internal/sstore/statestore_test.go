package sstore

import (
	"context"
	"strings"
	"testing"

	"github.com/tribixbite/waveterm/internal/shellstate"
)

func makeTestState(cwd string, vars map[string]string) *shellstate.ShellState {
	return &shellstate.ShellState{
		Version:   "bash v5.2.15",
		Cwd:       cwd,
		ShellVars: shellstate.MakeShellVars(vars),
		ShellType: shellstate.ShellTypeBash,
	}
}

func TestStoreStateBaseIdempotent(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	state := makeTestState("/home/test", map[string]string{"FOO": "bar"})

	if err := StoreStateBase(ctx, state); err != nil {
		t.Fatalf("storing state base: %v", err)
	}
	if err := StoreStateBase(ctx, state); err != nil {
		t.Fatalf("storing state base twice: %v", err)
	}
	got, err := GetStateBase(ctx, state.GetHashVal())
	if err != nil {
		t.Fatalf("getting state base: %v", err)
	}
	if got.Cwd != "/home/test" || got.GetHashVal() != state.GetHashVal() {
		t.Fatalf("state round trip mismatch: %+v", got)
	}

	version, err := GetStateBaseVersion(ctx, state.GetHashVal())
	if err != nil || version != "bash v5.2.15" {
		t.Fatalf("expected version, got %q (err %v)", version, err)
	}
}

func TestStoreStateDiffValidatesChain(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	base := makeTestState("/home/test", map[string]string{"FOO": "bar"})
	cur := makeTestState("/home/test/sub", map[string]string{"FOO": "bar", "NEW": "val"})

	diff, err := shellstate.MakeShellStateDiff(base, cur)
	if err != nil {
		t.Fatalf("making diff: %v", err)
	}

	// base not stored yet
	err = StoreStateDiff(ctx, diff)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected missing-base error, got %v", err)
	}

	if err := StoreStateBase(ctx, base); err != nil {
		t.Fatalf("storing base: %v", err)
	}
	if err := StoreStateDiff(ctx, diff); err != nil {
		t.Fatalf("storing diff: %v", err)
	}

	// a diff stacked on an unknown intermediate hash is refused
	badDiff := *diff
	badDiff.DiffHashArr = []string{"deadbeefdeadbeef"}
	err = StoreStateDiff(ctx, &badDiff)
	if err == nil || !strings.Contains(err.Error(), "diffhash[0]:deadbeefdeadbeef does not exist") {
		t.Fatalf("expected missing-diffhash error, got %v", err)
	}
}

func TestGetFullStateFoldsChain(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	base := makeTestState("/home/test", map[string]string{"FOO": "bar"})
	cur := makeTestState("/etc", map[string]string{"FOO": "baz", "NEW": "val"})

	diff, err := shellstate.MakeShellStateDiff(base, cur)
	if err != nil {
		t.Fatalf("making diff: %v", err)
	}
	if err := StoreStateBase(ctx, base); err != nil {
		t.Fatalf("storing base: %v", err)
	}
	if err := StoreStateDiff(ctx, diff); err != nil {
		t.Fatalf("storing diff: %v", err)
	}

	ssPtr := ShellStatePtr{BaseHash: base.GetHashVal(), DiffHashArr: []string{diff.GetHashVal()}}
	full, err := GetFullState(ctx, ssPtr)
	if err != nil {
		t.Fatalf("getting full state: %v", err)
	}
	if full.GetHashVal() != cur.GetHashVal() {
		t.Fatalf("folded state hash mismatch")
	}
	if full.Cwd != "/etc" {
		t.Fatalf("expected cwd /etc, got %q", full.Cwd)
	}
}

func TestGetCurStateDiffFromPtrEmptyChain(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	base := makeTestState("/home/test", nil)
	if err := StoreStateBase(ctx, base); err != nil {
		t.Fatalf("storing base: %v", err)
	}

	ssPtr := &ShellStatePtr{BaseHash: base.GetHashVal()}
	diff, err := GetCurStateDiffFromPtr(ctx, ssPtr)
	if err != nil {
		t.Fatalf("getting cur diff: %v", err)
	}
	if diff.BaseHash != base.GetHashVal() || diff.Version != base.Version {
		t.Fatalf("expected synthetic diff carrying base hash/version, got %+v", diff)
	}
	if !new(shellstate.ShellState).IsEmpty() {
		t.Fatalf("sanity: zero state should be empty")
	}

	_, err = GetCurStateDiffFromPtr(ctx, &ShellStatePtr{})
	if err == nil {
		t.Fatalf("expected error for empty pointer")
	}
}
