//go:build !darwin && !windows

package main

func runMain(fn func()) {
	fn()
}
