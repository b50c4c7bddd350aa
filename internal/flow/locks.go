package flow

import "sync"

// phoneLocks serializes message processing per patient phone number. The
// read-modify-write over conversation state is not safe under concurrent
// execution for the same patient; different patients proceed in parallel.
type phoneLocks struct {
	mu    sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	mu   sync.Mutex
	refs int
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: make(map[string]*phoneLock)}
}

// Lock acquires the exclusive lock for the given phone number, creating it
// on first use.
func (p *phoneLocks) Lock(phone string) {
	p.mu.Lock()
	l, ok := p.locks[phone]
	if !ok {
		l = &phoneLock{}
		p.locks[phone] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the lock for the given phone number and frees it once no
// other goroutine is waiting.
func (p *phoneLocks) Unlock(phone string) {
	p.mu.Lock()
	l, ok := p.locks[phone]
	if ok {
		l.refs--
		if l.refs == 0 {
			delete(p.locks, phone)
		}
	}
	p.mu.Unlock()

	if ok {
		l.mu.Unlock()
	}
}
