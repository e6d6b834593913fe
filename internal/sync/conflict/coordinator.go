package conflict

import "github.com/pamuduchat/syncshare/internal/state"

// Resolver is the engine side of conflict handling
type Resolver interface {
	Conflicts() *state.Value[[]FileConflict]
	ResolveConflict(c FileConflict, option Option) error
}

// Coordinator exposes one pending conflict at a time
type Coordinator struct {
	resolver Resolver
}

// NewCoordinator creates a coordinator over resolver
func NewCoordinator(resolver Resolver) *Coordinator {
	return &Coordinator{resolver: resolver}
}

// PendingConflict returns the head of the queue, or nil when empty
func (c *Coordinator) PendingConflict() *FileConflict {
	queue := c.resolver.Conflicts().Get()
	if len(queue) == 0 {
		return nil
	}
	head := queue[0]
	return &head
}

// Resolve forwards option if conflict is still the head of the queue.
// A stale conflict returns ErrNotPending.
func (c *Coordinator) Resolve(conflict FileConflict, option Option) error {
	head := c.PendingConflict()
	if head == nil || !head.Same(conflict) {
		return ErrNotPending
	}
	return c.resolver.ResolveConflict(conflict, option)
}
