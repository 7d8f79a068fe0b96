package session

import (
	"context"
	"sync"
)

// deviceLocks maps a device index to a one-slot semaphore. A session holds
// the slot from before open until after close.
var deviceLocks sync.Map

func lockDevice(ctx context.Context, index int) (unlock func(), err error) {
	v, _ := deviceLocks.LoadOrStore(index, make(chan struct{}, 1))
	slot := v.(chan struct{})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
