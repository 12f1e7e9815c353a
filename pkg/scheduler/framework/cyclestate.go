package framework

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by CycleState.Read when the key is absent.
var ErrNotFound = errors.New("not found")

// StateData is stored under a plugin-chosen key in a CycleState. Clone must make at
// least a shallow copy so cloning the surrounding CycleState never aliases mutable
// state between two cycles.
type StateData interface {
	Clone() StateData
}

// StateKey namespaces a plugin's slot in a CycleState; by convention plugins key on
// their own plugin name to avoid collisions.
type StateKey string

// CycleState is per-cycle scratch storage plugins use to pass typed values forward
// through the pipeline. Each plugin interprets its own slot; CycleState provides no
// type safety or isolation between plugins beyond the key namespace.
//
// Mutation after PreScore is forbidden by the scheduler's phase contract (see
// runtime.Framework); CycleState itself enforces that by switching to
// read-only mode once the cycle crosses that boundary, so a misbehaving plugin gets
// an immediate error instead of silently corrupting state another plugin already
// read.
type CycleState struct {
	mu       sync.RWMutex
	storage  map[StateKey]StateData
	frozen   bool
}

// NewCycleState returns a fresh, writable CycleState.
func NewCycleState() *CycleState {
	return &CycleState{storage: make(map[StateKey]StateData)}
}

// Clone deep-copies every entry's StateData into a new CycleState. The clone starts
// unfrozen regardless of the source's freeze state, since clones are taken for
// preemption side-evaluations that run their own mini-cycle.
func (c *CycleState) Clone() *CycleState {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := NewCycleState()
	for k, v := range c.storage {
		out.storage[k] = v.Clone()
	}
	return out
}

// Read retrieves the StateData stored under key, or ErrNotFound.
func (c *CycleState) Read(key StateKey) (StateData, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.storage[key]; ok {
		return v, nil
	}
	return nil, ErrNotFound
}

// Write stores val under key. Returns an error once the state has been frozen (see
// Freeze) instead of panicking, so a plugin bug surfaces as an Error status rather
// than taking down the scheduler.
func (c *CycleState) Write(key StateKey, val StateData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return errors.Errorf("cycle state is frozen: refusing write to %q after PreScore", key)
	}
	c.storage[key] = val
	return nil
}

// Delete removes key. Subject to the same freeze rule as Write.
func (c *CycleState) Delete(key StateKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return errors.Errorf("cycle state is frozen: refusing delete of %q after PreScore", key)
	}
	delete(c.storage, key)
	return nil
}

// Freeze marks the state read-only. The scheduler's runCycle calls this once,
// immediately before running PreScore plugins.
func (c *CycleState) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}
