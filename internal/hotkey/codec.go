// Package hotkey parses and canonicalizes key combinations, tracks which owner
// holds each combination, and gates which combinations may currently fire.
package hotkey

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const separator = "+"

// Canonical modifier tokens.
const (
	ModCtrl  = "ctrl"
	ModAlt   = "alt"
	ModShift = "shift"
	ModMeta  = "meta"
)

// ErrParse matches every *ParseError.
var ErrParse = errors.New("invalid hotkey")

// ParseError reports a hotkey string that cannot describe a combination.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid hotkey %q: %s", e.Input, e.Reason)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

var modifierOrder = []string{ModCtrl, ModAlt, ModShift, ModMeta}

var modifierAliases = map[string]string{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"shift":   ModShift,
	"cmd":     ModMeta,
	"command": ModMeta,
	"win":     ModMeta,
	"windows": ModMeta,
	"meta":    ModMeta,
	"super":   ModMeta,
}

var keyAliases = map[string]string{
	"esc":         "esc",
	"escape":      "esc",
	"tab":         "tab",
	"space":       "space",
	"backspace":   "backspace",
	"bs":          "backspace",
	"enter":       "enter",
	"return":      "enter",
	"ins":         "insert",
	"insert":      "insert",
	"del":         "delete",
	"delete":      "delete",
	"home":        "home",
	"end":         "end",
	"pageup":      "pageup",
	"pgup":        "pageup",
	"pagedown":    "pagedown",
	"pgdn":        "pagedown",
	"up":          "up",
	"down":        "down",
	"left":        "left",
	"right":       "right",
	"capslock":    "capslock",
	"caps":        "capslock",
	"numlock":     "numlock",
	"num":         "numlock",
	"scrolllock":  "scrolllock",
	"scrl":        "scrolllock",
	"prtsc":       "printscreen",
	"printscreen": "printscreen",
}

func init() {
	for i := 1; i <= 12; i++ {
		name := fmt.Sprintf("f%d", i)
		keyAliases[name] = name
	}
}

// Hotkey is a canonical key combination: a set of modifiers plus the base key.
// The zero value is not a valid combination.
type Hotkey struct {
	mods []string
	keys []string
}

// Parse normalizes a user-supplied combination such as "Control+Alt+R".
func Parse(input string) (Hotkey, error) {
	if strings.TrimSpace(input) == "" {
		return Hotkey{}, &ParseError{Input: input, Reason: "empty"}
	}

	seenMods := make(map[string]bool, len(modifierOrder))
	seenKeys := make(map[string]bool)
	var keys []string
	tokens := 0

	for _, raw := range strings.Split(input, separator) {
		token := strings.ToLower(strings.TrimSpace(raw))
		if token == "" {
			continue
		}
		tokens++

		if mod, ok := modifierAliases[token]; ok {
			seenMods[mod] = true
			continue
		}
		key := normalizeKey(token)
		if seenKeys[key] {
			continue
		}
		seenKeys[key] = true
		keys = append(keys, key)
	}

	if tokens == 0 {
		return Hotkey{}, &ParseError{Input: input, Reason: "no keys"}
	}
	if len(keys) == 0 {
		return Hotkey{}, &ParseError{Input: input, Reason: "modifiers need a base key"}
	}

	mods := make([]string, 0, len(seenMods))
	for _, mod := range modifierOrder {
		if seenMods[mod] {
			mods = append(mods, mod)
		}
	}
	sort.Strings(keys)

	return Hotkey{mods: mods, keys: keys}, nil
}

// MustParse is Parse for static tables; it panics on invalid input.
func MustParse(input string) Hotkey {
	h, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return h
}

// normalizeKey maps aliases to canonical names. Unknown tokens are kept as-is.
func normalizeKey(token string) string {
	if alias, ok := keyAliases[token]; ok {
		return alias
	}
	return token
}

// Canonicalize renders h in its deterministic form.
func Canonicalize(h Hotkey) string {
	return h.String()
}

// String returns the canonical form, e.g. "ctrl+alt+r".
func (h Hotkey) String() string {
	parts := make([]string, 0, len(h.mods)+len(h.keys))
	parts = append(parts, h.mods...)
	parts = append(parts, h.keys...)
	return strings.Join(parts, separator)
}

// Equal reports whether both combinations canonicalize identically.
func (h Hotkey) Equal(other Hotkey) bool {
	return h.String() == other.String()
}

// IsZero reports whether h was never parsed.
func (h Hotkey) IsZero() bool {
	return len(h.keys) == 0
}

// Modifiers returns the canonical modifier tokens in canonical order.
func (h Hotkey) Modifiers() []string {
	return append([]string(nil), h.mods...)
}

// Key returns the base key. Combinations with several non-modifier tokens
// report the first in sorted order.
func (h Hotkey) Key() string {
	if len(h.keys) == 0 {
		return ""
	}
	return h.keys[0]
}

// Keys returns every non-modifier token in sorted order.
func (h Hotkey) Keys() []string {
	return append([]string(nil), h.keys...)
}

// HasModifier reports whether mod (canonical token) is part of h.
func (h Hotkey) HasModifier(mod string) bool {
	for _, m := range h.mods {
		if m == mod {
			return true
		}
	}
	return false
}

// IsModifier reports whether token is a modifier name or alias.
func IsModifier(token string) bool {
	_, ok := modifierAliases[strings.ToLower(strings.TrimSpace(token))]
	return ok
}

// FromParts builds a combination from already-canonical tokens, as produced
// by OS key sources.
func FromParts(mods []string, key string) (Hotkey, error) {
	if strings.TrimSpace(key) == "" {
		return Hotkey{}, &ParseError{Input: strings.Join(mods, separator), Reason: "modifiers need a base key"}
	}
	return Parse(strings.Join(append(append([]string(nil), mods...), key), separator))
}
