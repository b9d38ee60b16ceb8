package concurrent

import (
	"context"
	"sync"
)

// Errors returns an error channel and a function to push errors into it. The
// channel is closed when ctx is canceled. Errors pushed after that are
// dropped, so fail is safe to call from callbacks that outlive ctx.
func Errors(ctx context.Context) (<-chan error, func(error)) {
	errs := make(chan error)

	var (
		mux    sync.Mutex
		closed bool
	)

	go func() {
		<-ctx.Done()
		mux.Lock()
		defer mux.Unlock()
		closed = true
		close(errs)
	}()

	fail := func(err error) {
		mux.Lock()
		defer mux.Unlock()
		if closed {
			return
		}
		select {
		case <-ctx.Done():
		case errs <- err:
		}
	}

	return errs, fail
}
