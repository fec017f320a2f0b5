// Package suggest provides command-input completion. Providers plug in by
// name; the default provider returns no suggestions.
package suggest

import (
	"context"
	"strings"
	"sync"
)

// PositionMarker splits the string form of a StrWithPos into the text
// before and after the cursor.
const PositionMarker = "[*]"

// StrWithPos is a string with a cursor position (a rune offset into Str).
type StrWithPos struct {
	Str string `json:"str"`
	Pos int    `json:"pos"`
}

func (sp StrWithPos) String() string {
	return strWithCursor(sp.Str, sp.Pos)
}

// ParseToSP builds a StrWithPos from a string holding a PositionMarker.
// Without a marker the cursor lands at the end.
func ParseToSP(s string) StrWithPos {
	idx := strings.Index(s, PositionMarker)
	if idx == -1 {
		return StrWithPos{Str: s, Pos: len([]rune(s))}
	}
	prefix := s[0:idx]
	rest := s[idx+len(PositionMarker):]
	return StrWithPos{Str: prefix + rest, Pos: len([]rune(prefix))}
}

func strWithCursor(str string, pos int) string {
	runes := []rune(str)
	if pos < 0 {
		pos = 0
	}
	if pos > len(runes) {
		pos = len(runes)
	}
	return string(runes[0:pos]) + PositionMarker + string(runes[pos:])
}

// Prefix returns the text before the cursor.
func (sp StrWithPos) Prefix() string {
	runes := []rune(sp.Str)
	pos := sp.Pos
	if pos < 0 {
		pos = 0
	}
	if pos > len(runes) {
		pos = len(runes)
	}
	return string(runes[0:pos])
}

const (
	SuggestionTypeCommand = "command"
	SuggestionTypeFile    = "file"
	SuggestionTypeDir     = "dir"
	SuggestionTypeHistory = "history"
)

type Suggestion struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
}

// Provider computes suggestions for the input at a cursor position.
type Provider interface {
	GetSuggestions(ctx context.Context, input StrWithPos) ([]Suggestion, error)
}

type noopProvider struct{}

func (noopProvider) GetSuggestions(ctx context.Context, input StrWithPos) ([]Suggestion, error) {
	return nil, nil
}

var registryLock = &sync.Mutex{}
var registry = make(map[string]Provider)

// RegisterProvider installs a provider under name, replacing any previous
// one.
func RegisterProvider(name string, p Provider) {
	registryLock.Lock()
	defer registryLock.Unlock()
	registry[name] = p
}

// GetProvider returns the provider registered under name, or the no-op
// provider.
func GetProvider(name string) Provider {
	registryLock.Lock()
	defer registryLock.Unlock()
	if p, ok := registry[name]; ok {
		return p
	}
	return noopProvider{}
}
