package ports

import (
	"fmt"
	"sync"

	pkgError "github.com/hashfleet/wagateway/pkg/error"
)

// Allocator hands out TCP ports for worker processes inside the window
// [base, base+max). Allocation always takes the lowest free port, so port
// numbering stays compact after churn.
type Allocator struct {
	mu        sync.Mutex
	base      int
	max       int
	allocated map[int]struct{}
}

func NewAllocator(base, max int) *Allocator {
	return &Allocator{
		base:      base,
		max:       max,
		allocated: make(map[int]struct{}),
	}
}

// Seed marks ports from persisted instances as in use. Ports outside the
// window are tracked too, so a shrunk window never double-assigns them.
func (a *Allocator) Seed(ports []int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range ports {
		if p > 0 {
			a.allocated[p] = struct{}{}
		}
	}
}

// Allocate returns the lowest free port in the window.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for p := a.base; p < a.base+a.max; p++ {
		if _, used := a.allocated[p]; !used {
			a.allocated[p] = struct{}{}
			return p, nil
		}
	}
	return 0, pkgError.PortsExhaustedError(
		fmt.Sprintf("no free port in [%d, %d)", a.base, a.base+a.max))
}

// Release returns a port to the free set. Releasing a free port is a no-op.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allocated, port)
}

// InUse reports whether a port is currently allocated.
func (a *Allocator) InUse(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, used := a.allocated[port]
	return used
}

// Count returns the number of allocated ports.
func (a *Allocator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.allocated)
}
