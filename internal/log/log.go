// Package log is a small leveled wrapper around the standard library
// logger, in the style of the teacher's rlog package: no structured
// fields, no external logging library, just prefixed log.Printf calls
// gated by a package-level switch.
package log

import (
	"log"
	"os"
)

var (
	// DebugEnabled toggles Debug output. Off by default for a library;
	// the teacher's rlog defaulted this on, which is fine for a
	// standalone tutorial but too noisy for something meant to be
	// imported.
	DebugEnabled = false

	std = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func Debug(format string, v ...any) {
	if DebugEnabled {
		std.Printf("[DEBUG] "+format, v...)
	}
}

func Warn(format string, v ...any) {
	std.Printf("[WARN] "+format, v...)
}

func Error(format string, v ...any) {
	std.Printf("[ERROR] "+format, v...)
}

func Info(format string, v ...any) {
	std.Printf("[INFO] "+format, v...)
}
