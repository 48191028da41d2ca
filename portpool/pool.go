// Package portpool hands out local ports for engine processes and guarantees
// no two live sessions ever share one. The pool is one of the two pieces of
// state shared across sessions; the mutex is only ever held for the
// allocate/release bookkeeping itself.
package portpool

import (
	"errors"
	"fmt"
	"sync"

	"arenaclient/util"
)

var ErrNoFreePort = errors.New("portpool: no free port available")

const allocateAttempts = 16

type Pool struct {
	mu    sync.Mutex
	inUse map[int]struct{}
}

func New() *Pool {
	return &Pool{
		inUse: make(map[int]struct{}),
	}
}

// Allocate probes the kernel for a free port and reserves it until Release.
// Probing can race with other processes on the host, so a port already
// reserved here is retried a bounded number of times.
func (p *Pool) Allocate() (int, error) {
	for attempt := 0; attempt < allocateAttempts; attempt++ {
		port, err := util.GetFreeTcpPort()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrNoFreePort, err)
		}

		p.mu.Lock()
		if _, taken := p.inUse[port]; !taken {
			p.inUse[port] = struct{}{}
			p.mu.Unlock()
			return port, nil
		}
		p.mu.Unlock()
	}
	return 0, ErrNoFreePort
}

func (p *Pool) Release(port int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, port)
}

// Active returns the number of reserved ports.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}
