package observability

import (
	"os"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
// Must be called directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "retention sweep")
//
// The panic is NOT re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// exit is swapped in tests
var exit = os.Exit

// FatalOnPanic logs a panic and terminates the process with status 1.
// Used at the top of main so an unhandled failure never leaves the server
// running half-initialized.
func FatalOnPanic(logger *Logger) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			Error("FATAL unhandled panic, exiting")
		exit(1)
	}
}
