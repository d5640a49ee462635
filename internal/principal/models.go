package principal

import (
	"time"

	"github.com/google/uuid"

	"warden/pkg/platform/sentinel"
)

// SourceSystem marks principals owned by the local store. Feed-sourced
// principals carry the name of the source record that created them; once the
// value is rewritten to SourceSystem the transfer is permanent and the feed
// may no longer authenticate or reactivate that principal.
const SourceSystem = "system"

// State is a principal's workflow state. Principals are never deleted, only
// deactivated, so the set stays closed.
type State string

const (
	StateActivated   State = "activated"
	StateDeactivated State = "deactivated"
)

// Transition names the two workflow transitions the reconciler and admin
// surface may fire.
type Transition string

const (
	TransitionActivate   Transition = "activate"
	TransitionDeactivate Transition = "deactivate"
)

// Principal is the primary identity record. Attrs holds the profile
// attributes mapped from the external source (email, firstname, ...); Login
// is kept out of Attrs because it is the unique key.
type Principal struct {
	ID           uuid.UUID
	Login        string
	PasswordHash []byte
	Source       string
	ExternalID   string
	State        State
	Attrs        map[string]string
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Claimed reports whether ownership has been transferred to the local store.
// The ExternalID survives the claim so feeds can still detect duplicates.
func (p *Principal) Claimed() bool {
	return p.Source == SourceSystem && p.ExternalID != ""
}

// Fire applies a workflow transition, rejecting no-op or out-of-order
// transitions so feed-driven and admin-driven state changes cannot silently
// fight each other.
func (p *Principal) Fire(t Transition) error {
	switch t {
	case TransitionActivate:
		if p.State != StateDeactivated {
			return sentinel.ErrInvalidState
		}
		p.State = StateActivated
	case TransitionDeactivate:
		if p.State != StateActivated {
			return sentinel.ErrInvalidState
		}
		p.State = StateDeactivated
	default:
		return sentinel.ErrInvalidState
	}
	return nil
}

// AttrsEqual compares mapped profile attributes for the puller's no-op
// detection. A nil map and an empty map compare equal.
func (p *Principal) AttrsEqual(attrs map[string]string) bool {
	if len(p.Attrs) != len(attrs) {
		return false
	}
	for k, v := range attrs {
		if p.Attrs[k] != v {
			return false
		}
	}
	return true
}

// Group is a named permission bucket. Membership rows live in the store, not
// on the model, so the puller can diff them without loading every principal.
type Group struct {
	Name      string
	CreatedAt time.Time
}
