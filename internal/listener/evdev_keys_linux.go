//go:build linux

package listener

import "github.com/rbright/murmur/internal/hotkey"

// Key codes from linux/input-event-codes.h.
var evdevModifiers = map[uint16]string{
	29:  hotkey.ModCtrl,  // KEY_LEFTCTRL
	97:  hotkey.ModCtrl,  // KEY_RIGHTCTRL
	56:  hotkey.ModAlt,   // KEY_LEFTALT
	100: hotkey.ModAlt,   // KEY_RIGHTALT
	42:  hotkey.ModShift, // KEY_LEFTSHIFT
	54:  hotkey.ModShift, // KEY_RIGHTSHIFT
	125: hotkey.ModMeta,  // KEY_LEFTMETA
	126: hotkey.ModMeta,  // KEY_RIGHTMETA
}

var evdevNames = map[uint16]string{
	1:  "esc",
	2:  "1",
	3:  "2",
	4:  "3",
	5:  "4",
	6:  "5",
	7:  "6",
	8:  "7",
	9:  "8",
	10: "9",
	11: "0",
	12: "-",
	13: "=",
	14: "backspace",
	15: "tab",
	16: "q",
	17: "w",
	18: "e",
	19: "r",
	20: "t",
	21: "y",
	22: "u",
	23: "i",
	24: "o",
	25: "p",
	26: "[",
	27: "]",
	28: "enter",
	30: "a",
	31: "s",
	32: "d",
	33: "f",
	34: "g",
	35: "h",
	36: "j",
	37: "k",
	38: "l",
	39: ";",
	40: "'",
	41: "`",
	43: "\\",
	44: "z",
	45: "x",
	46: "c",
	47: "v",
	48: "b",
	49: "n",
	50: "m",
	51: ",",
	52: ".",
	53: "/",
	57: "space",
	58: "capslock",
	59: "f1",
	60: "f2",
	61: "f3",
	62: "f4",
	63: "f5",
	64: "f6",
	65: "f7",
	66: "f8",
	67: "f9",
	68: "f10",
	69: "numlock",
	70: "scrolllock",
	87: "f11",
	88: "f12",

	99:  "printscreen", // KEY_SYSRQ
	102: "home",
	103: "up",
	104: "pageup",
	105: "left",
	106: "right",
	107: "end",
	108: "down",
	109: "pagedown",
	110: "insert",
	111: "delete",
	119: "pause",
}

var evdevCodes = func() map[string]uint16 {
	out := make(map[string]uint16, len(evdevNames))
	for code, name := range evdevNames {
		out[name] = code
	}
	return out
}()
