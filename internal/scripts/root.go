package scripts

import (
	"context"
	"os"
	"sync"
	"time"
)

const (
	rootProbeTimeout = 3 * time.Second
	rootCacheTTL     = time.Minute
)

// RootDetector reports root when the process runs as uid 0, or when the
// elevation prefix can run a command without prompting.
type RootDetector struct {
	elevate  []string
	executor Executor
	geteuid  func() int
	now      func() time.Time

	mu        sync.Mutex
	cached    bool
	checkedAt time.Time
}

func NewRootDetector(elevate []string, executor Executor) *RootDetector {
	if executor == nil {
		executor = CommandExecutor{}
	}
	return &RootDetector{
		elevate:  elevate,
		executor: executor,
		geteuid:  os.Geteuid,
		now:      time.Now,
	}
}

// IsRoot caches the answer briefly since the elevation probe spawns a process.
func (d *RootDetector) IsRoot(ctx context.Context) bool {
	if d.geteuid() == 0 {
		return true
	}
	if len(d.elevate) == 0 {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.checkedAt.IsZero() && d.now().Sub(d.checkedAt) < rootCacheTTL {
		return d.cached
	}

	ctx, cancel := context.WithTimeout(ctx, rootProbeTimeout)
	defer cancel()

	argv := append(append([]string{}, d.elevate...), "true")
	_, err := d.executor.Execute(ctx, argv)

	d.cached = err == nil
	d.checkedAt = d.now()
	return d.cached
}
