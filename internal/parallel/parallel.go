// Package parallel provides the loop-sharding helpers the cpu backend
// spreads its kernel iterations with.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how kernel loops are spread across goroutines.
// Workers <= 1 forces sequential execution.
type Config struct {
	Workers  int // Goroutines to spread iterations over.
	MinChunk int // Smallest iteration count worth a goroutine.
}

// DefaultConfig sizes the pool to the machine.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU(), MinChunk: 64}
}

// Sequential returns a config that keeps every loop on the calling
// goroutine, for deterministic single-threaded runs.
func Sequential() Config {
	return Config{Workers: 1, MinChunk: 1}
}

// For executes f(i) for i in [0, n), chunked across the configured
// workers. Loops shorter than MinChunk run inline.
func For(n int, f func(i int), cfg Config) {
	if cfg.Workers <= 1 || n < cfg.MinChunk {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := max((n+cfg.Workers-1)/cfg.Workers, cfg.MinChunk)

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates a batch*channels grid, the shape of every NCHW kernel
// loop in the cpu backend.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
