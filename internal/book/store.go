package book

import "sync"

// entry pairs one symbol's state with its settings and the mutex that
// serializes all mutation of both.
type entry struct {
	mu       sync.Mutex
	state    *State
	settings *Settings
}

// Store maps symbols to their book state. The symbol map is guarded by a
// read-write mutex; each symbol carries its own lock, so mutation of one
// symbol never contends with another.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// getOrCreate returns the entry for symbol, creating state and settings
// atomically on first reference.
func (s *Store) getOrCreate(symbol string) *entry {
	s.mu.RLock()
	e, ok := s.entries[symbol]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[symbol]; ok {
		return e
	}
	e = &entry{state: newState(symbol), settings: &Settings{}}
	s.entries[symbol] = e
	return e
}

// Mutate executes fn with exclusive access to the symbol's state and
// settings, creating both on first reference.
func (s *Store) Mutate(symbol string, fn func(*State, *Settings)) {
	e := s.getOrCreate(symbol)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state, e.settings)
}

// View executes fn with exclusive access without creating the symbol; it
// returns false if the symbol has never been referenced.
func (s *Store) View(symbol string, fn func(*State, *Settings)) bool {
	s.mu.RLock()
	e, ok := s.entries[symbol]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state, e.settings)
	return true
}

// Has reports whether the symbol exists in the store.
func (s *Store) Has(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[symbol]
	return ok
}

// Symbols returns the currently tracked symbols.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.entries))
	for sym := range s.entries {
		out = append(out, sym)
	}
	return out
}

// Drop removes a symbol from the store. Used on subscription teardown.
func (s *Store) Drop(symbol string) {
	s.mu.Lock()
	delete(s.entries, symbol)
	s.mu.Unlock()
}
