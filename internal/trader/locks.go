package trader

import "sync"

// SymbolLocks is the per-symbol mutual exclusion registry. A held entry
// means an orchestration (live or simulated) is in flight for that symbol;
// absence means the symbol is free. Locks are process-lifetime only.
type SymbolLocks struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// NewSymbolLocks creates an empty registry.
func NewSymbolLocks() *SymbolLocks {
	return &SymbolLocks{busy: make(map[string]struct{})}
}

// TryAcquire takes the lock for symbol without blocking. It returns false
// when the symbol is already in flight.
func (l *SymbolLocks) TryAcquire(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.busy[symbol]; held {
		return false
	}
	l.busy[symbol] = struct{}{}
	return true
}

// Release frees the lock for symbol. Releasing a free symbol is a no-op.
func (l *SymbolLocks) Release(symbol string) {
	l.mu.Lock()
	delete(l.busy, symbol)
	l.mu.Unlock()
}
