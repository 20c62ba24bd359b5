// Package subsystem defines the contract every collaborator under test must
// expose, plus a registry keyed by the eight well-known subsystem IDs. The
// engine never reaches into a collaborator beyond these entry points and
// its published counters.
package subsystem

import (
	"errors"
	"fmt"
	"time"
)

// ID identifies one of the eight independently-developed collaborator
// subsystems tracked by the readiness handshake.
type ID int

const (
	SimLoop ID = iota
	Renderer
	Pathfinder
	Allocator
	Audio
	Persistence
	Scripting
	Networking

	Count // number of well-known subsystems
)

func (id ID) String() string {
	switch id {
	case SimLoop:
		return "simloop"
	case Renderer:
		return "renderer"
	case Pathfinder:
		return "pathfinder"
	case Allocator:
		return "allocator"
	case Audio:
		return "audio"
	case Persistence:
		return "persistence"
	case Scripting:
		return "scripting"
	case Networking:
		return "networking"
	default:
		return fmt.Sprintf("subsystem(%d)", int(id))
	}
}

// ErrUnresponsive is returned by a collaborator step that will never make
// progress. The integration validator maps it to a Critical pair result.
var ErrUnresponsive = errors.New("subsystem unresponsive")

// ErrAllocationFailed is returned when a collaborator cannot satisfy an
// allocation request under load.
var ErrAllocationFailed = errors.New("allocation failed")

// Counters is the set of published, already-synchronized counters a
// collaborator exposes. Readers never lock the collaborator; values may be
// one step stale.
type Counters struct {
	HeapUsed          uint64
	HeapPeak          uint64
	OutstandingAllocs uint64
	FPS               float64
	FrameTime         time.Duration
	CPUUtilization    float64 // percent
	GPUUtilization    float64 // percent
	GPUMemoryUsed     uint64
	DrawCalls         uint64
	QueueDepth        int
}

// Subsystem is the entry-point contract collaborators implement.
type Subsystem interface {
	// Init prepares the subsystem. Called once before any Step.
	Init() error

	// Step advances the subsystem by one unit of work.
	Step() error

	// StepWithLoad advances the subsystem while servicing a synthetic
	// load of n units (entities, allocations, queued operations).
	StepWithLoad(n int) error

	// Cleanup releases everything the subsystem holds. Always safe to
	// call, including after a failed Init.
	Cleanup()

	// Counters returns the current published counters.
	Counters() Counters
}

// Registry holds the collaborators for one engine instance. Registries are
// injected rather than global so independent runs cannot contaminate each
// other.
type Registry struct {
	byID  map[ID]Subsystem
	order []ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[ID]Subsystem, Count)}
}

// Register adds a subsystem under its ID. Registering the same ID twice is
// a configuration error.
func (r *Registry) Register(id ID, s Subsystem) error {
	if id < 0 || id >= Count {
		return fmt.Errorf("subsystem id %d out of range [0,%d)", int(id), int(Count))
	}
	if _, dup := r.byID[id]; dup {
		return fmt.Errorf("subsystem %s already registered", id)
	}
	r.byID[id] = s
	r.order = append(r.order, id)
	return nil
}

// Get returns the subsystem for an ID, or nil when absent.
func (r *Registry) Get(id ID) Subsystem {
	return r.byID[id]
}

// IDs returns the registered IDs in registration order.
func (r *Registry) IDs() []ID {
	out := make([]ID, len(r.order))
	copy(out, r.order)
	return out
}

// InitAll initializes every registered subsystem in registration order.
// On failure it cleans up the ones already initialized and returns the
// first error.
func (r *Registry) InitAll() error {
	for i, id := range r.order {
		if err := r.byID[id].Init(); err != nil {
			for j := i - 1; j >= 0; j-- {
				r.byID[r.order[j]].Cleanup()
			}
			return fmt.Errorf("failed to init %s: %w", id, err)
		}
	}
	return nil
}

// CleanupAll releases every registered subsystem in reverse registration
// order.
func (r *Registry) CleanupAll() {
	for i := len(r.order) - 1; i >= 0; i-- {
		r.byID[r.order[i]].Cleanup()
	}
}
