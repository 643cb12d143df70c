package ledger

import "sync"

// projectLocks hands out one RWMutex per project. Ledgers of different
// projects never block each other.
type projectLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newProjectLocks() *projectLocks {
	return &projectLocks{locks: make(map[string]*sync.RWMutex)}
}

func (p *projectLocks) get(projectID string) *sync.RWMutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[projectID]
	if !ok {
		l = &sync.RWMutex{}
		p.locks[projectID] = l
	}
	return l
}
