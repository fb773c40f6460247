package health

import (
	"context"

	"github.com/wyrmiyu/logs2eca/internal/watch"
)

// StatusSource exposes a point-in-time view of the watch loop.  *watch.Loop
// is the production implementation.
type StatusSource interface {
	// Snapshot returns the loop's current status document.
	Snapshot() watch.Status
}

// History is the read side of the trigger history store.  *history.Store is
// the production implementation.  A nil History disables the /history route.
type History interface {
	// Recent returns up to n triggers ordered newest first.
	Recent(ctx context.Context, n int) ([]watch.Trigger, error)

	// Count returns the number of triggers recorded so far.
	Count() int64
}
