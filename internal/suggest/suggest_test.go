package suggest

import (
	"context"
	"testing"
)

func TestParseToSP(t *testing.T) {
	tests := []struct {
		input   string
		wantStr string
		wantPos int
	}{
		{"ls -la", "ls -la", 6},
		{"ls [*]-la", "ls -la", 3},
		{"[*]ls", "ls", 0},
		{"ls[*]", "ls", 2},
		{"", "", 0},
		{"héllo[*] wörld", "héllo wörld", 5},
	}
	for _, tc := range tests {
		sp := ParseToSP(tc.input)
		if sp.Str != tc.wantStr || sp.Pos != tc.wantPos {
			t.Errorf("ParseToSP(%q) = %q/%d, want %q/%d", tc.input, sp.Str, sp.Pos, tc.wantStr, tc.wantPos)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{"ls [*]-la", "[*]ls", "ls[*]", "héllo[*] wörld"} {
		if got := ParseToSP(s).String(); got != s {
			t.Errorf("round trip of %q gave %q", s, got)
		}
	}
	// out-of-range positions clamp rather than panic
	if got := (StrWithPos{Str: "ab", Pos: 99}).String(); got != "ab[*]" {
		t.Errorf("expected clamp to end, got %q", got)
	}
	if got := (StrWithPos{Str: "ab", Pos: -1}).String(); got != "[*]ab" {
		t.Errorf("expected clamp to start, got %q", got)
	}
}

func TestPrefix(t *testing.T) {
	sp := ParseToSP("git sta[*]tus")
	if got := sp.Prefix(); got != "git sta" {
		t.Errorf("expected prefix 'git sta', got %q", got)
	}
	if got := (StrWithPos{Str: "wörld", Pos: 3}).Prefix(); got != "wör" {
		t.Errorf("expected rune-aware prefix, got %q", got)
	}
}

type staticProvider struct {
	suggestions []Suggestion
}

func (p staticProvider) GetSuggestions(ctx context.Context, input StrWithPos) ([]Suggestion, error) {
	return p.suggestions, nil
}

func TestProviderRegistry(t *testing.T) {
	ctx := context.Background()

	// unknown names get the no-op provider
	got, err := GetProvider("missing").GetSuggestions(ctx, StrWithPos{Str: "x"})
	if err != nil || got != nil {
		t.Fatalf("expected noop provider, got %v (err %v)", got, err)
	}

	want := []Suggestion{{Type: SuggestionTypeCommand, Value: "ls"}}
	RegisterProvider("test", staticProvider{suggestions: want})
	got, err = GetProvider("test").GetSuggestions(ctx, StrWithPos{Str: "l", Pos: 1})
	if err != nil || len(got) != 1 || got[0].Value != "ls" {
		t.Fatalf("expected registered provider, got %v (err %v)", got, err)
	}

	// re-registering replaces
	RegisterProvider("test", staticProvider{})
	got, _ = GetProvider("test").GetSuggestions(ctx, StrWithPos{})
	if got != nil {
		t.Fatalf("expected replaced provider, got %v", got)
	}
}
