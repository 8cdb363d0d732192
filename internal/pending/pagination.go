package pending

import "time"

// ListOperation is the continuation cursor for a read result that did not
// fit in one reply.
type ListOperation struct {
	ToolName string
	Args     map[string]any
	Offset   int
}

// Pages is the per-user continuation slot.
type Pages struct {
	store *Store[ListOperation]
}

// NewPages creates a continuation store with the given TTL.
func NewPages(ttl time.Duration) *Pages {
	return &Pages{store: NewStore[ListOperation](ttl)}
}

// Store exposes the underlying slot store (sweeping, inspection).
func (p *Pages) Store() *Store[ListOperation] { return p.store }

// Save records (or replaces) the cursor for userID.
func (p *Pages) Save(userID string, op ListOperation) {
	p.store.Set(userID, op)
}

// Current returns the live cursor for userID. An expired cursor is removed
// and reported as absent.
func (p *Pages) Current(userID string) (ListOperation, bool) {
	var (
		op    ListOperation
		found bool
	)
	p.store.Update(userID, func(e Entry[ListOperation], ok, expired bool) (ListOperation, Action) {
		switch {
		case !ok:
			return ListOperation{}, Keep
		case expired:
			return ListOperation{}, Remove
		default:
			op, found = e.Value, true
			return ListOperation{}, Keep
		}
	})
	return op, found
}

// Clear removes the cursor for userID.
func (p *Pages) Clear(userID string) {
	p.store.Delete(userID)
}
