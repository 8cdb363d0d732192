package pending

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// WriteOperation is a dangerous tool call waiting for explicit confirmation.
type WriteOperation struct {
	ConfirmID string
	ToolName  string
	Arguments map[string]any
}

// ConfirmOutcome is the result of a confirmation attempt.
type ConfirmOutcome int

const (
	// ConfirmNothingPending means no operation is staged for the user.
	ConfirmNothingPending ConfirmOutcome = iota
	// ConfirmMismatch means the supplied code differs from the staged one.
	ConfirmMismatch
	// ConfirmExpired means the staged operation outlived its TTL and was removed.
	ConfirmExpired
	// ConfirmAccepted means the operation was removed and may now run.
	ConfirmAccepted
)

func (o ConfirmOutcome) String() string {
	switch o {
	case ConfirmMismatch:
		return "mismatch"
	case ConfirmExpired:
		return "expired"
	case ConfirmAccepted:
		return "accepted"
	default:
		return "nothing_pending"
	}
}

const confirmCodeLength = 10

// Confirmations is the per-user confirmation slot.
type Confirmations struct {
	store   *Store[WriteOperation]
	newCode func() string
}

// NewConfirmations creates a confirmation store with the given TTL.
func NewConfirmations(ttl time.Duration) *Confirmations {
	return &Confirmations{store: NewStore[WriteOperation](ttl), newCode: newConfirmCode}
}

// newConfirmCode returns a fresh random alphanumeric code.
func newConfirmCode() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:confirmCodeLength]
}

// Store exposes the underlying slot store (sweeping, inspection).
func (c *Confirmations) Store() *Store[WriteOperation] { return c.store }

// Stage records a dangerous call for userID under a fresh code, silently
// replacing anything staged before.
func (c *Confirmations) Stage(userID, toolName string, args map[string]any) WriteOperation {
	op := WriteOperation{ConfirmID: c.newCode(), ToolName: toolName, Arguments: args}
	c.store.Set(userID, op)
	return op
}

// Cancel removes the staged operation and reports whether there was one.
func (c *Confirmations) Cancel(userID string) bool {
	return c.store.Delete(userID)
}

// Confirm checks code against the staged operation. Only ConfirmAccepted
// returns the operation, and it is removed so it can run once. A mismatch
// leaves the staged operation in place; an expired one is removed.
func (c *Confirmations) Confirm(userID, code string) (WriteOperation, ConfirmOutcome) {
	var (
		op      WriteOperation
		outcome ConfirmOutcome
	)
	c.store.Update(userID, func(e Entry[WriteOperation], ok, expired bool) (WriteOperation, Action) {
		switch {
		case !ok:
			outcome = ConfirmNothingPending
			return WriteOperation{}, Keep
		case !strings.EqualFold(e.Value.ConfirmID, code):
			outcome = ConfirmMismatch
			return WriteOperation{}, Keep
		case expired:
			outcome = ConfirmExpired
			return WriteOperation{}, Remove
		default:
			outcome = ConfirmAccepted
			op = e.Value
			return WriteOperation{}, Remove
		}
	})
	return op, outcome
}
