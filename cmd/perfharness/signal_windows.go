//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals wires the signals that stop a watch loop. Windows only
// delivers os.Interrupt; there is no SIGTERM.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
