package observability

import (
	"fmt"
	"runtime/debug"
)

// Version is the service version reported by health checks. Set at
// build time via -ldflags.
var Version = "dev"

// RecoverPanic recovers from a panic and logs it at Error level with
// the panic value and full stack trace. Call in a defer statement. The
// panic is not re-raised.
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", r).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// MustRecover converts a recovered panic value to an error; returns
// nil when r is nil.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
