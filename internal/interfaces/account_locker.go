package interfaces

import "context"

// AccountLocker grants exclusive access to one account handle. The returned
// release func must be called exactly once.
type AccountLocker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}
