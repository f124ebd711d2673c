package ledger

import (
	"sort"
	"sync"

	"github.com/bullionbook/lot-engine/internal/model"
)

// partitionLocks serializes writers per (profile, metal) and lets readers
// share. Locks are created on first use and kept; there are two per profile.
type partitionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func newPartitionLocks() *partitionLocks {
	return &partitionLocks{locks: make(map[string]*sync.RWMutex)}
}

func (p *partitionLocks) get(key string) *sync.RWMutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		p.locks[key] = l
	}
	return l
}

// lock takes the write lock for one scope and returns its release.
func (p *partitionLocks) lock(scope model.Scope) func() {
	l := p.get(scope.Key())
	l.Lock()
	return l.Unlock
}

// rlock takes read locks on several scopes in key order, so two readers
// and a writer can never wait on each other in a cycle.
func (p *partitionLocks) rlock(scopes ...model.Scope) func() {
	keys := make([]string, 0, len(scopes))
	for _, s := range scopes {
		keys = append(keys, s.Key())
	}
	sort.Strings(keys)

	held := make([]*sync.RWMutex, 0, len(keys))
	for _, k := range keys {
		l := p.get(k)
		l.RLock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].RUnlock()
		}
	}
}
