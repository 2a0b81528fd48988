package server

import (
	"context"
	"fmt"
	"sync"
)

// evalRequest represents a unit of work to be executed by a pool worker.
type evalRequest struct {
	fn   func() any
	done chan evalResult
}

// evalResult holds the return value of a unit of work.
type evalResult struct {
	value any
	err   error
}

// EvalPool runs evaluations on a fixed number of goroutines. Each
// evaluation builds its own machine, so workers share nothing; the pool
// exists to bound how many programs run at once.
type EvalPool struct {
	requests chan evalRequest
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewEvalPool creates a pool and starts its workers.
func NewEvalPool(workers int) *EvalPool {
	if workers < 1 {
		workers = 1
	}
	p := &EvalPool{
		requests: make(chan evalRequest, 64),
		quit:     make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.loop()
	}
	return p
}

// loop processes requests until the pool is stopped.
func (p *EvalPool) loop() {
	defer p.wg.Done()
	for {
		select {
		case req := <-p.requests:
			req.done <- p.execute(req.fn)
		case <-p.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (p *EvalPool) execute(fn func() any) evalResult {
	var result evalResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn()
	}()
	return result
}

// Do submits fn to the pool and blocks until it completes or ctx is done.
// A panic in fn is returned as an error.
func (p *EvalPool) Do(ctx context.Context, fn func() any) (any, error) {
	req := evalRequest{
		fn:   fn,
		done: make(chan evalResult, 1),
	}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.quit:
		return nil, fmt.Errorf("evaluation pool stopped")
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the workers and waits for them to exit.
func (p *EvalPool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
}
