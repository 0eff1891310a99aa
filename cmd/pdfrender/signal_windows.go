//go:build windows

package main

import "os"

// shutdownSignals is Ctrl-C only; SIGTERM is not delivered on Windows.
var shutdownSignals = []os.Signal{os.Interrupt}
