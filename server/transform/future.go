package transform

import "context"

// Future is the handle returned by Transform. It resolves exactly once and
// never carries an error: failures are encoded in the Result.
type Future struct {
	done   chan struct{}
	result Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// resolved returns an already completed future.
func resolved(r Result) *Future {
	f := newFuture()
	f.resolve(r)
	return f
}

func (f *Future) resolve(r Result) {
	f.result = r
	close(f.done)
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Then calls fn with the result once it is available, on its own
// goroutine.
func (f *Future) Then(fn func(Result)) {
	go func() {
		<-f.done
		fn(f.result)
	}()
}
