//go:build unix

package main

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// notifyToggle delivers SIGUSR1, the upstream toggle, on the returned channel.
func notifyToggle() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR1)
	return ch, func() { signal.Stop(ch) }
}
