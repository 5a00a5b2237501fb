//go:build darwin || windows

package main

import "golang.design/x/hotkey/mainthread"

func runMain(fn func()) {
	mainthread.Init(fn)
}
