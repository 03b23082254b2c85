package index

import "fmt"

// State is the allocation state of a capacity-bounded engine.
type State int

const (
	// Uninitialized engines hold no storage.
	Uninitialized State = iota
	// Allocated engines hold storage for a fixed number of items.
	Allocated
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Allocated:
		return "allocated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Action is the step a Plan asks the engine to take before writing.
type Action int

const (
	// ActionNone means the current allocation suffices.
	ActionNone Action = iota
	// ActionAllocate means the engine must be initialized with Plan.Size.
	ActionAllocate
	// ActionGrow means the engine must be resized to Plan.Size.
	ActionGrow
)

// Plan is the allocation step required before a write.
type Plan struct {
	Action Action
	Size   int
}

// Capacity tracks declared and allocated capacity for engines that pre-size
// their storage. It is a pure state machine: it never allocates anything
// itself, the caller executes the planned action and then calls Commit.
//
// Transitions: Uninitialized -> Allocated(n) -> Allocated(m >= n).
// Capacity never shrinks.
type Capacity struct {
	declared  int
	allocated int
}

// NewCapacity returns an uninitialized capacity with the declared size.
// A declared size <= 0 defers to DefaultCapacity.
func NewCapacity(declared int) Capacity {
	if declared < 0 {
		declared = 0
	}
	return Capacity{declared: declared}
}

// State returns the allocation state.
func (c Capacity) State() State {
	if c.allocated == 0 {
		return Uninitialized
	}
	return Allocated
}

// Declared returns the declared capacity (0 = defer).
func (c Capacity) Declared() int { return c.declared }

// Allocated returns the allocated capacity (0 until the first allocation).
func (c Capacity) Allocated() int { return c.allocated }

// Plan returns the step required to insert incoming items on top of count.
func (c Capacity) Plan(count, incoming int) Plan {
	need := count + incoming

	if c.allocated == 0 {
		size := c.declared
		if size == 0 {
			size = DefaultCapacity
		}
		return Plan{Action: ActionAllocate, Size: max(size, need)}
	}

	if need > c.allocated {
		return Plan{Action: ActionGrow, Size: need}
	}

	return Plan{Action: ActionNone, Size: c.allocated}
}

// PlanResize returns the step for an explicit resize to n.
// Uninitialized engines allocate at n; allocated engines only grow.
func (c Capacity) PlanResize(n int) Plan {
	if c.allocated == 0 {
		if n <= 0 {
			n = c.declared
		}
		if n <= 0 {
			n = DefaultCapacity
		}
		return Plan{Action: ActionAllocate, Size: n}
	}

	if n > c.allocated {
		return Plan{Action: ActionGrow, Size: n}
	}

	return Plan{Action: ActionNone, Size: c.allocated}
}

// Commit records a successful allocation of size items.
func (c *Capacity) Commit(size int) {
	if size > c.allocated {
		c.allocated = size
	}
}

// Reset returns the capacity to the uninitialized state.
func (c *Capacity) Reset() {
	c.allocated = 0
}
