//go:build darwin

package listener

import (
	xhotkey "golang.design/x/hotkey"

	"github.com/rbright/murmur/internal/hotkey"
)

var nativeModifiers = map[string]xhotkey.Modifier{
	hotkey.ModCtrl:  xhotkey.ModCtrl,
	hotkey.ModShift: xhotkey.ModShift,
	hotkey.ModAlt:   xhotkey.ModOption,
	hotkey.ModMeta:  xhotkey.ModCmd,
}
