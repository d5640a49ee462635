// Package reconcile decides what a pull pass must do for each externally
// sourced entity. Decisions are pure: they look at the local mirror and the
// remote entry and return a closed action enum, so the full decision space
// is enumerable in tests and the puller's handler table is checked for
// completeness at compile time.
package reconcile

import (
	"warden/internal/principal"
)

// Action is the closed set of outcomes for one remote entry or one locally
// mirrored entity.
type Action int

const (
	// ActionNone: the local mirror already matches the remote entry.
	ActionNone Action = iota
	// ActionCreate: no local entity exists for the external identifier.
	ActionCreate
	// ActionUpdate: the local entity exists and its attributes changed.
	ActionUpdate
	// ActionReactivate: the entity was deactivated by an earlier pass and has
	// reappeared in the remote enumeration.
	ActionReactivate
	// ActionDeactivate: the entity is mirrored from this source but absent
	// from the current remote enumeration.
	ActionDeactivate
	// ActionSkipForeign: an entity exists for the external identifier but is
	// no longer owned by this source (claimed by the local store or created
	// by a different source). The feed must neither touch it nor create a
	// duplicate for the same identifier.
	ActionSkipForeign
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionReactivate:
		return "reactivate"
	case ActionDeactivate:
		return "deactivate"
	case ActionSkipForeign:
		return "skip-foreign"
	}
	return "unknown"
}

// RemoteEntry is a directory entry after attribute mapping: the stable
// external identifier, the login value, and the remaining mapped attributes.
type RemoteEntry struct {
	ExternalID string
	Login      string
	Attrs      map[string]string
}

// DecidePresent classifies a remote entry against the local mirror (nil when
// no entity exists for the external identifier). sourceName scopes ownership.
//
// A reappearing deactivated entity yields ActionReactivate even when its
// attributes also changed; the puller applies the attribute update as part of
// the reactivation so entity identity is preserved in one mutation.
func DecidePresent(local *principal.Principal, remote RemoteEntry, sourceName string) Action {
	if local == nil {
		return ActionCreate
	}
	if local.Source != sourceName {
		return ActionSkipForeign
	}
	if local.State == principal.StateDeactivated {
		return ActionReactivate
	}
	if local.Login != remote.Login || !local.AttrsEqual(remote.Attrs) {
		return ActionUpdate
	}
	return ActionNone
}

// DecideAbsent classifies a locally mirrored entity that did not appear in
// the current remote enumeration. Entities claimed by the local store never
// reach this function: they are no longer listed under the source's name.
func DecideAbsent(local *principal.Principal) Action {
	if local.State == principal.StateActivated {
		return ActionDeactivate
	}
	return ActionNone
}

// DiffMembers computes the membership changes needed to make current match
// desired. Order of the returned slices is unspecified.
func DiffMembers(current, desired []string) (add, remove []string) {
	cur := make(map[string]struct{}, len(current))
	for _, m := range current {
		cur[m] = struct{}{}
	}
	des := make(map[string]struct{}, len(desired))
	for _, m := range desired {
		des[m] = struct{}{}
		if _, ok := cur[m]; !ok {
			add = append(add, m)
		}
	}
	for _, m := range current {
		if _, ok := des[m]; !ok {
			remove = append(remove, m)
		}
	}
	return add, remove
}
