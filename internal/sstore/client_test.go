package sstore

import (
	"context"
	"strings"
	"testing"
)

func TestEnsureClientData(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()

	// no client row yet
	_, err := GetClientData(ctx)
	if err == nil || !strings.Contains(err.Error(), "no client data found") {
		t.Fatalf("expected no-client error, got %v", err)
	}

	cdata, err := EnsureClientData(ctx)
	if err != nil {
		t.Fatalf("ensuring client data: %v", err)
	}
	if cdata.ClientId == "" || cdata.UserId == "" {
		t.Fatalf("expected ids set, got %+v", cdata)
	}
	if cdata.UserPrivateKey == nil || cdata.UserPublicKey == nil {
		t.Fatalf("expected decoded keypair")
	}

	// idempotent, same identity
	cdata2, err := EnsureClientData(ctx)
	if err != nil {
		t.Fatalf("ensuring client data twice: %v", err)
	}
	if cdata2.ClientId != cdata.ClientId {
		t.Fatalf("expected stable clientid, got %s then %s", cdata.ClientId, cdata2.ClientId)
	}
	if !cdata.UserPublicKey.Equal(cdata2.UserPublicKey) {
		t.Fatalf("expected stable keypair")
	}
}

func TestClientOptsRoundTrip(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	if _, err := EnsureClientData(ctx); err != nil {
		t.Fatalf("ensuring client data: %v", err)
	}

	if err := SetWinSize(ctx, ClientWinSizeType{Width: 1200, Height: 800}); err != nil {
		t.Fatalf("setting winsize: %v", err)
	}
	if err := SetClientOpts(ctx, ClientOptsType{NoTelemetry: true, AcceptedTos: 12345}); err != nil {
		t.Fatalf("setting clientopts: %v", err)
	}
	if err := UpdateClientFeOpts(ctx, FeOptsType{TermFontSize: 14}); err != nil {
		t.Fatalf("setting feopts: %v", err)
	}

	cdata, err := GetClientData(ctx)
	if err != nil {
		t.Fatalf("getting client data: %v", err)
	}
	if cdata.WinSize.Width != 1200 || cdata.WinSize.Height != 800 {
		t.Fatalf("winsize mismatch %+v", cdata.WinSize)
	}
	if !cdata.ClientOpts.NoTelemetry || cdata.ClientOpts.AcceptedTos != 12345 {
		t.Fatalf("clientopts mismatch %+v", cdata.ClientOpts)
	}
	if cdata.FeOpts.TermFontSize != 14 {
		t.Fatalf("feopts mismatch %+v", cdata.FeOpts)
	}
}

func TestEnsureOneSession(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	if _, err := EnsureClientData(ctx); err != nil {
		t.Fatalf("ensuring client data: %v", err)
	}

	if err := EnsureOneSession(ctx); err != nil {
		t.Fatalf("ensuring session: %v", err)
	}
	sessions, _ := GetBareSessions(ctx)
	if len(sessions) != 1 || sessions[0].Name != DefaultSessionName {
		t.Fatalf("expected one default session, got %+v", sessions)
	}
	activeId, _ := GetActiveSessionId(ctx)
	if activeId != sessions[0].SessionId {
		t.Fatalf("expected default session active")
	}
	screens, _ := GetSessionScreens(ctx, sessions[0].SessionId)
	if len(screens) != 1 || screens[0].Name != DefaultScreenName {
		t.Fatalf("expected one screen named %s, got %+v", DefaultScreenName, screens)
	}

	// idempotent
	if err := EnsureOneSession(ctx); err != nil {
		t.Fatalf("ensuring session twice: %v", err)
	}
	sessions, _ = GetBareSessions(ctx)
	if len(sessions) != 1 {
		t.Fatalf("expected still one session, got %d", len(sessions))
	}
}
