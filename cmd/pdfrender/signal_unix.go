//go:build !windows

package main

import (
	"os"
	"syscall"
)

// shutdownSignals covers Ctrl-C and the SIGTERM sent by container runtimes.
var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}
