package model

import "sync"

// State is the shared key/value scratch store for one run. It has no
// schema; callers use it to pass out-of-band signals between tasks.
// Map access is guarded so concurrent writers cannot corrupt it, but no
// isolation is provided: siblings writing the same key race and the last
// write wins. Task authors are expected to use disjoint keys for
// concurrent siblings.
type State struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewState creates an empty shared state store
func NewState() *State {
	return &State{values: make(map[string]interface{})}
}

// Get returns the value stored under key
func (s *State) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the value under key as a string, or "" when absent
// or not a string
func (s *State) GetString(key string) string {
	v, ok := s.Get(key)
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// GetInt returns the value under key as an int, or 0 when absent or not
// an int
func (s *State) GetInt(key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// Set stores value under key
func (s *State) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// Delete removes key from the store
func (s *State) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Snapshot returns a copy of the current contents
func (s *State) Snapshot() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]interface{}, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}
