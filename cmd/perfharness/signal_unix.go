//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifySignals wires the signals that stop a watch loop. Unix delivers
// SIGTERM from service managers in addition to Ctrl+C.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
}
