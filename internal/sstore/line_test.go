package sstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestLineNumbering(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")

	for i := 1; i <= 3; i++ {
		line, err := AddTextLine(ctx, screenId, "", fmt.Sprintf("note %d", i))
		if err != nil {
			t.Fatalf("adding line: %v", err)
		}
		if line.LineNum != int64(i) {
			t.Fatalf("expected linenum %d, got %d", i, line.LineNum)
		}
	}
	screen, _ := GetScreenById(ctx, screenId)
	if screen.NextLineNum != 4 {
		t.Fatalf("expected nextlinenum 4, got %d", screen.NextLineNum)
	}
}

func TestInsertLineValidation(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")

	line := makeNewLineText(screenId, "", "hello")
	line.LineNum = 5
	if err := InsertLine(ctx, line, nil); err == nil {
		t.Fatalf("expected error for preset linenum")
	}

	line = makeNewLineText(screenId, "", "hello")
	line.LineId = ""
	if err := InsertLine(ctx, line, nil); err == nil {
		t.Fatalf("expected error for blank lineid")
	}

	line = makeNewLineText(screenId, "", "hello")
	line.LineState = map[string]any{"blob": strings.Repeat("x", MaxLineStateSize)}
	err := InsertLine(ctx, line, nil)
	if err == nil || !strings.Contains(err.Error(), "linestate exceeds maxsize") {
		t.Fatalf("expected linestate size error, got %v", err)
	}
}

func TestAddCmdLineRoundTrip(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")

	cmd := makeTestCmd(screenId, "", CmdStatusRunning)
	line, err := AddCmdLine(ctx, screenId, "", cmd, "")
	if err != nil {
		t.Fatalf("adding cmd line: %v", err)
	}
	gotLine, gotCmd, err := GetLineCmdByLineId(ctx, screenId, line.LineId)
	if err != nil {
		t.Fatalf("getting line/cmd: %v", err)
	}
	if gotLine == nil || gotCmd == nil {
		t.Fatalf("expected line and cmd, got %v / %v", gotLine, gotCmd)
	}
	if gotCmd.CmdStr != "echo hello" || gotCmd.Status != CmdStatusRunning {
		t.Fatalf("unexpected cmd %+v", gotCmd)
	}
	if gotCmd.OrigTermOpts != cmd.TermOpts {
		t.Fatalf("expected origtermopts copied from termopts")
	}
}

func TestFindLineIdByArg(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")

	line1, _ := AddTextLine(ctx, screenId, "", "first")
	line2, _ := AddTextLine(ctx, screenId, "", "second")

	if got, _ := FindLineIdByArg(ctx, screenId, "1"); got != line1.LineId {
		t.Fatalf("linenum lookup: expected %s, got %s", line1.LineId, got)
	}
	if got, _ := FindLineIdByArg(ctx, screenId, line2.LineId); got != line2.LineId {
		t.Fatalf("exact id lookup failed")
	}
	if got, _ := FindLineIdByArg(ctx, screenId, line2.LineId[0:8]); got != line2.LineId {
		t.Fatalf("prefix lookup failed")
	}
	if got, _ := FindLineIdByArg(ctx, screenId, "E"); got != line2.LineId {
		t.Fatalf("E lookup: expected last line")
	}
	if err := SetLineArchivedById(ctx, screenId, line2.LineId, true); err != nil {
		t.Fatalf("archiving line: %v", err)
	}
	if got, _ := FindLineIdByArg(ctx, screenId, "E"); got != line1.LineId {
		t.Fatalf("E lookup should skip archived lines")
	}
	if got, _ := FindLineIdByArg(ctx, screenId, "EA"); got != line2.LineId {
		t.Fatalf("EA lookup should include archived lines")
	}
	if got, _ := FindLineIdByArg(ctx, screenId, "99"); got != "" {
		t.Fatalf("expected empty result for unknown linenum, got %s", got)
	}
}

func TestDeleteRunningLineRefused(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")

	cmd := makeTestCmd(screenId, "", CmdStatusRunning)
	line, err := AddCmdLine(ctx, screenId, "", cmd, "")
	if err != nil {
		t.Fatalf("adding cmd line: %v", err)
	}
	_, err = DeleteLinesByIds(ctx, screenId, []string{line.LineId})
	wantMsg := fmt.Sprintf("cannot delete line[%s], cmd is running", line.LineId)
	if err == nil || err.Error() != wantMsg {
		t.Fatalf("expected %q, got %v", wantMsg, err)
	}

	if _, err := UpdateCmdDoneInfo(ctx, screenId, line.LineId, CmdDoneDataValues{Ts: 100, ExitCode: 0, DurationMs: 10}, CmdStatusDone); err != nil {
		t.Fatalf("marking cmd done: %v", err)
	}
	if _, err := DeleteLinesByIds(ctx, screenId, []string{line.LineId}); err != nil {
		t.Fatalf("deleting line after done: %v", err)
	}
	if gotLine, _ := GetLineById(ctx, screenId, line.LineId); gotLine != nil {
		t.Fatalf("expected line gone")
	}
	// cmd row is cleaned up with the line
	if gotCmd, _ := GetCmdByScreenId(ctx, screenId, line.LineId); gotCmd != nil {
		t.Fatalf("expected cmd gone")
	}
}

func TestUpdateLineState(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")
	line, _ := AddTextLine(ctx, screenId, "", "hello")

	updated, err := UpdateLineState(ctx, screenId, line.LineId, map[string]any{"mode": "markdown"})
	if err != nil {
		t.Fatalf("updating line state: %v", err)
	}
	if updated.LineState["mode"] != "markdown" {
		t.Fatalf("expected linestate persisted, got %+v", updated.LineState)
	}

	_, err = UpdateLineState(ctx, screenId, line.LineId, map[string]any{"blob": strings.Repeat("x", MaxLineStateSize)})
	if err == nil {
		t.Fatalf("expected linestate size error")
	}
}
