//go:build !unix

package main

import "os"

// notifyToggle returns a channel that never fires; there is no toggle
// signal on this platform.
func notifyToggle() (<-chan os.Signal, func()) {
	return nil, func() {}
}
