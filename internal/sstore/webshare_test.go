package sstore

import (
	"context"
	"testing"

	"github.com/tribixbite/waveterm/internal/bus"
)

func TestScreenWebShareRoundTrip(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")
	line, _ := AddTextLine(ctx, screenId, "", "x")

	if err := ScreenWebShareStart(ctx, screenId, ScreenWebShareOpts{ShareName: "demo", ViewKey: "vk"}); err != nil {
		t.Fatalf("starting web share: %v", err)
	}
	screen, _ := GetScreenById(ctx, screenId)
	if screen.ShareMode != ShareModeWeb {
		t.Fatalf("expected sharemode web, got %q", screen.ShareMode)
	}
	if screen.WebShareOpts == nil || screen.WebShareOpts.ShareName != "demo" || screen.WebShareOpts.ViewKey != "vk" {
		t.Fatalf("unexpected webshareopts %+v", screen.WebShareOpts)
	}

	// the log is seeded with the screen and its existing line
	updates, _ := GetScreenUpdates(ctx, 100)
	if got := countUpdatesOfType(t, updates, UpdateType_ScreenNew); got != 1 {
		t.Fatalf("expected 1 screen:new update, got %d", got)
	}
	if got := countUpdatesOfType(t, updates, UpdateType_LineNew); got != 1 {
		t.Fatalf("expected 1 line:new update, got %d", got)
	}
	if got := countUpdatesOfType(t, updates, UpdateType_PtyPos); got != 1 {
		t.Fatalf("expected 1 pty:pos update, got %d", got)
	}
	for _, su := range updates {
		if su.UpdateType != UpdateType_ScreenNew && su.LineId != line.LineId {
			t.Fatalf("unexpected lineid %q on %s update", su.LineId, su.UpdateType)
		}
	}

	_, err := WithTxRtn(ctx, func(tx *TxWrap) (bool, error) {
		if !IsWebShare(tx, screenId) {
			t.Errorf("expected IsWebShare true after start")
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("checking web share: %v", err)
	}

	err = ScreenWebShareStart(ctx, screenId, ScreenWebShareOpts{})
	if err == nil || err.Error() != "screen is already shared to web" {
		t.Fatalf("expected already-shared refusal, got %v", err)
	}

	if err := ScreenWebShareStop(ctx, screenId); err != nil {
		t.Fatalf("stopping web share: %v", err)
	}
	screen, _ = GetScreenById(ctx, screenId)
	if screen.ShareMode != ShareModeLocal || screen.WebShareOpts != nil {
		t.Fatalf("expected local screen without opts, got mode %q opts %+v", screen.ShareMode, screen.WebShareOpts)
	}
	// pending updates collapse into a single screen:del
	updates, _ = GetScreenUpdates(ctx, 100)
	if len(updates) != 1 || updates[0].UpdateType != UpdateType_ScreenDel {
		t.Fatalf("expected single screen:del update, got %+v", updates)
	}

	err = ScreenWebShareStop(ctx, screenId)
	if err == nil || err.Error() != "screen is not currently shared to the web" {
		t.Fatalf("expected not-shared refusal, got %v", err)
	}

	err = ScreenWebShareStart(ctx, "00000000-aaaa-0000-0000-000000000000", ScreenWebShareOpts{})
	if err == nil || err.Error() != "screen does not exist" {
		t.Fatalf("expected missing-screen refusal, got %v", err)
	}
}

func TestArchiveWebSharedScreenRefused(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	sessionId, screen1 := makeTestSession(t, ctx, "work")
	update, _ := InsertScreen(ctx, sessionId, "", false)
	screen2 := bus.GetUpdateItems[ScreenType](update)[0].ScreenId

	if err := ScreenWebShareStart(ctx, screen2, ScreenWebShareOpts{ShareName: "demo", ViewKey: "vk"}); err != nil {
		t.Fatalf("starting web share: %v", err)
	}
	_, err := ArchiveScreen(ctx, sessionId, screen2)
	if err == nil || err.Error() != "cannot archive screen while web-sharing.  stop web-sharing before trying to archive." {
		t.Fatalf("expected web-share refusal, got %v", err)
	}

	if err := ScreenWebShareStop(ctx, screen2); err != nil {
		t.Fatalf("stopping web share: %v", err)
	}
	if _, err := ArchiveScreen(ctx, sessionId, screen2); err != nil {
		t.Fatalf("archiving screen: %v", err)
	}
	// archiving clears the tab position, unarchiving appends at the end
	s2, _ := GetScreenById(ctx, screen2)
	if s2.ScreenIdx != 0 {
		t.Fatalf("expected screenidx cleared on archive, got %d", s2.ScreenIdx)
	}
	if err := UnArchiveScreen(ctx, sessionId, screen2); err != nil {
		t.Fatalf("unarchiving screen: %v", err)
	}
	s1, _ := GetScreenById(ctx, screen1)
	s2, _ = GetScreenById(ctx, screen2)
	if s2.ScreenIdx != s1.ScreenIdx+1 {
		t.Fatalf("expected screenidx %d after unarchive, got %d", s1.ScreenIdx+1, s2.ScreenIdx)
	}
}

func TestWebShareLineUpdates(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")
	if err := ScreenWebShareStart(ctx, screenId, ScreenWebShareOpts{ShareName: "demo", ViewKey: "vk"}); err != nil {
		t.Fatalf("starting web share: %v", err)
	}

	line, err := AddTextLine(ctx, screenId, "", "hello")
	if err != nil {
		t.Fatalf("adding line: %v", err)
	}
	updates, _ := GetScreenUpdates(ctx, 100)
	var types []string
	for _, su := range updates {
		if su.LineId == line.LineId {
			types = append(types, su.UpdateType)
		}
	}
	if len(types) != 2 || types[0] != UpdateType_LineNew || types[1] != UpdateType_PtyPos {
		t.Fatalf("expected [line:new pty:pos] for new line, got %v", types)
	}

	// archive reads as a delete on the shared side, unarchive as a new line
	if err := SetLineArchivedById(ctx, screenId, line.LineId, true); err != nil {
		t.Fatalf("archiving line: %v", err)
	}
	updates, _ = GetScreenUpdates(ctx, 100)
	for _, su := range updates {
		if su.LineId == line.LineId && su.UpdateType != UpdateType_LineDel {
			t.Fatalf("expected only line:del after archive, found %s", su.UpdateType)
		}
	}
	if err := SetLineArchivedById(ctx, screenId, line.LineId, false); err != nil {
		t.Fatalf("unarchiving line: %v", err)
	}

	if _, err := UpdateLineState(ctx, screenId, line.LineId, map[string]any{"mode": "edit"}); err != nil {
		t.Fatalf("updating line state: %v", err)
	}
	updates, _ = GetScreenUpdates(ctx, 100)
	if got := countUpdatesOfType(t, updates, UpdateType_LineState); got != 1 {
		t.Fatalf("expected 1 line:state update, got %d", got)
	}

	if _, err := DeleteLinesByIds(ctx, screenId, []string{line.LineId}); err != nil {
		t.Fatalf("deleting line: %v", err)
	}
	updates, _ = GetScreenUpdates(ctx, 100)
	for _, su := range updates {
		if su.LineId == line.LineId && su.UpdateType != UpdateType_LineDel {
			t.Fatalf("expected only line:del after delete, found %s", su.UpdateType)
		}
	}
	if got := countUpdatesOfType(t, updates, UpdateType_LineDel); got != 1 {
		t.Fatalf("expected 1 line:del update, got %d", got)
	}
}

func TestLocalScreenSkipsUpdateLog(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")

	line, err := AddTextLine(ctx, screenId, "", "hello")
	if err != nil {
		t.Fatalf("adding line: %v", err)
	}
	if err := UpdateLineHeight(ctx, screenId, line.LineId, 10); err != nil {
		t.Fatalf("updating line height: %v", err)
	}
	if err := UpdateLineRenderer(ctx, screenId, line.LineId, "image"); err != nil {
		t.Fatalf("updating renderer: %v", err)
	}
	if err := MaybeInsertPtyPosUpdate(ctx, screenId, line.LineId); err != nil {
		t.Fatalf("inserting ptypos update: %v", err)
	}
	if _, err := DeleteLinesByIds(ctx, screenId, []string{line.LineId}); err != nil {
		t.Fatalf("deleting line: %v", err)
	}
	count, err := CountScreenUpdates(ctx)
	if err != nil {
		t.Fatalf("counting updates: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected empty update log for local screen, got %d entries", count)
	}
}

func TestUpdateScreenShareName(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	_, screenId := makeTestSession(t, ctx, "work")

	if _, err := UpdateScreen(ctx, screenId, map[string]any{"sharename": "renamed"}); err == nil {
		t.Fatalf("expected sharename edit to fail on a local screen")
	}
	if err := ScreenWebShareStart(ctx, screenId, ScreenWebShareOpts{ShareName: "demo", ViewKey: "vk"}); err != nil {
		t.Fatalf("starting web share: %v", err)
	}
	screen, err := UpdateScreen(ctx, screenId, map[string]any{"sharename": "renamed"})
	if err != nil {
		t.Fatalf("updating sharename: %v", err)
	}
	if screen.WebShareOpts == nil || screen.WebShareOpts.ShareName != "renamed" {
		t.Fatalf("unexpected webshareopts %+v", screen.WebShareOpts)
	}
	if screen.WebShareOpts.ViewKey != "vk" {
		t.Fatalf("expected viewkey preserved, got %q", screen.WebShareOpts.ViewKey)
	}
	updates, _ := GetScreenUpdates(ctx, 100)
	if got := countUpdatesOfType(t, updates, UpdateType_ScreenName); got != 1 {
		t.Fatalf("expected 1 screen:sharename update, got %d", got)
	}

	if _, err := UpdateScreen(ctx, screenId, map[string]any{"selectedline": 1}); err != nil {
		t.Fatalf("updating selectedline: %v", err)
	}
	updates, _ = GetScreenUpdates(ctx, 100)
	if got := countUpdatesOfType(t, updates, UpdateType_ScreenSelectedLine); got != 1 {
		t.Fatalf("expected 1 screen:selectedline update, got %d", got)
	}
}
