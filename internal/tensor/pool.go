package tensor

import (
	"runtime"
	"sync"
)

type rowJob struct {
	fn     func(lo, hi int)
	rs, re int
	done   chan struct{}
}

type rowPool struct {
	size      int
	jobs      chan rowJob
	doneSlots chan chan struct{}
}

var (
	globalRowPool *rowPool
	rowPoolOnce   sync.Once
)

func getRowPool() *rowPool {
	rowPoolOnce.Do(func() {
		globalRowPool = newRowPool()
	})
	return globalRowPool
}

func newRowPool() *rowPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &rowPool{
		size:      size,
		jobs:      make(chan rowJob, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for i := 0; i < size; i++ {
		go func() {
			for j := range p.jobs {
				j.fn(j.rs, j.re)
				j.done <- struct{}{}
			}
		}()
	}
	return p
}

// ParallelRows calls fn(lo, hi) over contiguous, disjoint sub-ranges that
// partition [0, n), running each sub-range on the shared worker pool. fn's
// inputs must be safe to read concurrently and its outputs must be disjoint
// across calls; ParallelRows blocks until every sub-range has completed.
func ParallelRows(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	pool := getRowPool()
	workers := pool.size
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}

	chunk := (n + workers - 1) / workers
	done := <-pool.doneSlots

	active := 0
	for i := 0; i < workers; i++ {
		rs := i * chunk
		re := rs + chunk
		if re > n {
			re = n
		}
		if rs >= re {
			break
		}
		active++
		pool.jobs <- rowJob{fn: fn, rs: rs, re: re, done: done}
	}

	for i := 0; i < active; i++ {
		<-done
	}
	pool.doneSlots <- done
}
