package hotkey

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCanonicalizesModifierOrder(t *testing.T) {
	pairs := [][2]string{
		{"ctrl+alt+r", "alt+ctrl+r"},
		{"shift+ctrl+1", "ctrl+shift+1"},
		{"meta+shift+alt+ctrl+x", "ctrl+alt+shift+meta+x"},
		{"Control + Option + R", "alt+ctrl+r"},
		{"cmd+space", "super+space"},
		{"win+e", "meta+e"},
	}

	for _, pair := range pairs {
		a, err := Parse(pair[0])
		require.NoError(t, err)
		b, err := Parse(pair[1])
		require.NoError(t, err)
		require.Equal(t, Canonicalize(a), Canonicalize(b), "%q vs %q", pair[0], pair[1])
		require.True(t, a.Equal(b))
	}
}

func TestParseCanonicalForm(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "alt+ctrl+1", want: "ctrl+alt+1"},
		{in: "CTRL+SHIFT+Escape", want: "ctrl+shift+esc"},
		{in: "command+pgdn", want: "meta+pagedown"},
		{in: "ctrl+return", want: "ctrl+enter"},
		{in: "ctrl+bs", want: "ctrl+backspace"},
		{in: "alt+F12", want: "alt+f12"},
		{in: "ctrl+prtsc", want: "ctrl+printscreen"},
		{in: "ctrl+caps", want: "ctrl+capslock"},
		{in: "ctrl+scrl", want: "ctrl+scrolllock"},
		{in: "ctrl+del", want: "ctrl+delete"},
		{in: "ctrl+ins", want: "ctrl+insert"},
		{in: "ctrl+;", want: "ctrl+;"},
		{in: "ctrl+mediaplay", want: "ctrl+mediaplay"},
		{in: "ctrl+b+a", want: "ctrl+a+b"},
		{in: "ctrl++r", want: "ctrl+r"},
		{in: "r", want: "r"},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			h, err := Parse(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, h.String())
		})
	}
}

func TestParseRejectsEmptyAndModifierOnly(t *testing.T) {
	for _, in := range []string{"", "   ", "+", " + + ", "ctrl", "ctrl+shift", "command"} {
		_, err := Parse(in)
		require.Error(t, err, "input %q", in)
		require.True(t, errors.Is(err, ErrParse))

		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		require.Equal(t, in, parseErr.Input)
	}
}

func TestHotkeyAccessors(t *testing.T) {
	h := MustParse("shift+ctrl+k")
	require.Equal(t, []string{ModCtrl, ModShift}, h.Modifiers())
	require.Equal(t, "k", h.Key())
	require.True(t, h.HasModifier(ModCtrl))
	require.False(t, h.HasModifier(ModMeta))
	require.False(t, h.IsZero())
	require.True(t, Hotkey{}.IsZero())

	mods := h.Modifiers()
	mods[0] = "mutated"
	require.Equal(t, "ctrl+shift+k", h.String())
}

func TestFromParts(t *testing.T) {
	h, err := FromParts([]string{ModShift, ModCtrl}, "space")
	require.NoError(t, err)
	require.Equal(t, "ctrl+shift+space", h.String())

	_, err = FromParts([]string{ModCtrl}, "")
	require.ErrorIs(t, err, ErrParse)
}

func TestMustParsePanics(t *testing.T) {
	require.Panics(t, func() { MustParse("alt") })
}

func TestIsModifier(t *testing.T) {
	require.True(t, IsModifier("Control"))
	require.True(t, IsModifier(" super "))
	require.False(t, IsModifier("a"))
}
