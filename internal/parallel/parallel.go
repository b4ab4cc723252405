// Package parallel splits index ranges across worker goroutines.
// It replaces per-region threaded dispatch with an explicit parallel-for and a
// reduction whose result does not depend on scheduling.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// chunkSize is the number of indices handed to a worker at a time. Sum uses
// it to fix the reduction order, so it must not depend on the worker count.
const chunkSize = 4096

// Workers normalises a requested worker count, falling back to all CPUs
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// For calls fn over disjoint [start, end) ranges covering [0, n).
// fn must only write to data owned by its range.
func For(workers, n int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers = Workers(workers)
	if workers == 1 || n <= chunkSize {
		fn(0, n)
		return
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for start := 0; start < n; start += chunkSize {
		start := start
		end := start + chunkSize
		if end > n {
			end = n
		}
		g.Go(func() error {
			fn(start, end)
			return nil
		})
	}
	_ = g.Wait()
}

// Sum reduces fn over [0, n). Partial sums are taken over fixed chunks and
// combined in chunk order, so the result is identical for any worker count.
func Sum(workers, n int, fn func(start, end int) float64) float64 {
	if n <= 0 {
		return 0
	}
	numChunks := (n + chunkSize - 1) / chunkSize
	partial := make([]float64, numChunks)

	workers = Workers(workers)
	if workers == 1 || numChunks == 1 {
		for c := range partial {
			start, end := chunkBounds(c, n)
			partial[c] = fn(start, end)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(workers)
		for c := range partial {
			c := c
			g.Go(func() error {
				start, end := chunkBounds(c, n)
				partial[c] = fn(start, end)
				return nil
			})
		}
		_ = g.Wait()
	}

	total := 0.0
	for _, p := range partial {
		total += p
	}
	return total
}

func chunkBounds(c, n int) (int, int) {
	start := c * chunkSize
	end := start + chunkSize
	if end > n {
		end = n
	}
	return start, end
}
