package principal

import (
	"context"
)

// Store persists principals. Implementations return sentinel.ErrNotFound for
// missing records and sentinel.ErrConflict for duplicate logins; services
// translate those into domain errors.
//
// Login lookups are exact and case-sensitive.
type Store interface {
	Create(ctx context.Context, p *Principal) error
	ByID(ctx context.Context, id string) (*Principal, error)
	ByLogin(ctx context.Context, login string) (*Principal, error)
	// ByExternalID looks a principal up by its stable external identifier
	// regardless of current ownership, so a feed can detect that an entity it
	// once created has since been claimed by the local store.
	ByExternalID(ctx context.Context, externalID string) (*Principal, error)
	Update(ctx context.Context, p *Principal) error
	ListBySource(ctx context.Context, source string) ([]*Principal, error)
}

// GroupStore persists groups and membership rows. Groups are never deleted
// when they empty out; RemoveMember only drops the one membership row.
type GroupStore interface {
	CreateGroup(ctx context.Context, name string) error
	GroupExists(ctx context.Context, name string) (bool, error)
	Members(ctx context.Context, group string) ([]string, error)
	AddMember(ctx context.Context, group, login string) error
	RemoveMember(ctx context.Context, group, login string) error
	GroupsOf(ctx context.Context, login string) ([]string, error)
}
