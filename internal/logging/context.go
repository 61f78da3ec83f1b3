package logging

import (
	"context"
	"time"
)

// DetachContext creates a context that is not cancelled when parent is.
func DetachContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}

// DetachContextWithTimeout creates a detached context with its own deadline.
// Work that must finish after a run is interrupted (flushing golden memory,
// closing dataset files) runs under it.
//
//	flushCtx, cancel := logging.DetachContextWithTimeout(ctx, 5*time.Second)
//	defer cancel()
//	err := memory.Flush(flushCtx)
func DetachContextWithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(parent)
	return context.WithTimeout(detached, timeout)
}
