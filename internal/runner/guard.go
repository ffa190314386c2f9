package runner

import (
	"context"
	"sort"
	"sync"
)

// runGuard keeps each job to one run at a time. Schedules, watch
// triggers, and operator commands can all fire the same job; only the
// first caller gets the lock and the rest back off.
type runGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

// TryLock marks job as running. Returns false when it already is.
func (g *runGuard) TryLock(job string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[job]; ok {
		return false
	}
	g.running[job] = struct{}{}
	g.wg.Add(1)
	return true
}

// Unlock releases the job. Must follow a successful TryLock.
func (g *runGuard) Unlock(job string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, job)
	g.wg.Done()
}

// Running lists the jobs currently holding the lock, sorted.
func (g *runGuard) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.running))
	for job := range g.running {
		out = append(out, job)
	}
	sort.Strings(out)
	return out
}

// WaitAll blocks until every running job finishes or ctx is cancelled.
func (g *runGuard) WaitAll(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
