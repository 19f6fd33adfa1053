package fetch

import (
	"context"
	"fmt"
	"os"
)

// Request is a download running on its own goroutine. It implements
// sched.Operation: Done never blocks, and Err and Payload are valid once
// Done has returned true.
type Request struct {
	source  string
	done    chan struct{}
	payload []byte
	err     error
}

// Start begins fetching url in the background.
func (f *Fetcher) Start(ctx context.Context, url string) *Request {
	return run(url, func() ([]byte, error) {
		return f.Get(ctx, url)
	})
}

// ReadFile begins reading a local file in the background, so local inputs
// go through the same polling path as downloads.
func ReadFile(ctx context.Context, path string) *Request {
	return run(path, func() ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	})
}

// Failed returns a request that has already failed with err.
func Failed(source string, err error) *Request {
	r := &Request{source: source, done: make(chan struct{}), err: err}
	close(r.done)
	return r
}

func run(source string, fn func() ([]byte, error)) *Request {
	r := &Request{source: source, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.payload, r.err = fn()
	}()
	return r
}

// Source returns the URL or path being read.
func (r *Request) Source() string { return r.source }

// Done reports whether the request has finished.
func (r *Request) Done() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request finishes or ctx is done.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the failure, if any. Only valid after Done returns true.
func (r *Request) Err() error {
	if !r.Done() {
		return nil
	}
	return r.err
}

// Payload returns the body. Only valid after Done returns true.
func (r *Request) Payload() []byte {
	if !r.Done() {
		return nil
	}
	return r.payload
}
