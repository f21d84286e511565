package mcp

import (
	"sort"
	"sync"

	"github.com/rendis/simachine/pkg/sim"
)

// machineEntry pairs a simulator with a mutex serializing tool calls
// against it. The engine itself is single-threaded per machine.
type machineEntry struct {
	mu  sync.Mutex
	sim *sim.Simulator
}

// MachineRegistry tracks live simulators by instance ID.
type MachineRegistry struct {
	mu       sync.RWMutex
	machines map[string]*machineEntry
}

// NewMachineRegistry creates an empty registry.
func NewMachineRegistry() *MachineRegistry {
	return &MachineRegistry{machines: make(map[string]*machineEntry)}
}

// Add registers a simulator under its instance ID.
func (r *MachineRegistry) Add(s *sim.Simulator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[s.ID()] = &machineEntry{sim: s}
}

// Get returns the entry for the given machine ID.
func (r *MachineRegistry) Get(id string) (*machineEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.machines[id]
	return e, ok
}

// Remove drops a machine from the registry and reports whether it existed.
func (r *MachineRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.machines[id]
	delete(r.machines, id)
	return ok
}

// IDs returns the registered machine IDs in sorted order.
func (r *MachineRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.machines))
	for id := range r.machines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered machines.
func (r *MachineRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}
