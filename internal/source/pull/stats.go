package pull

import "errors"

// Stats is the transient result of one synchronization pass. It is returned
// to the caller (CLI, scheduler, admin endpoint) and never persisted.
type Stats struct {
	Created     int
	Updated     int
	Unchanged   int
	Deactivated int
	Reactivated int

	GroupsCreated      int
	MembershipsAdded   int
	MembershipsRemoved int

	// Skipped is set when the pass was elided because the source was pulled
	// within its synchronization interval and force was not requested.
	Skipped bool

	// Errors collects row-level failures tolerated during the pass. A
	// connection failure in tolerant mode appears here as the only entry.
	Errors []error
}

// Counts renders the statistics in the map form callers report.
func (s *Stats) Counts() map[string]int {
	return map[string]int{
		"created":             s.Created,
		"updated":             s.Updated,
		"unchanged":           s.Unchanged,
		"deactivated":         s.Deactivated,
		"reactivated":         s.Reactivated,
		"groups-created":      s.GroupsCreated,
		"memberships-added":   s.MembershipsAdded,
		"memberships-removed": s.MembershipsRemoved,
		"errors":              len(s.Errors),
	}
}

// Mutations reports how many local writes the pass performed. A pass over
// unchanged remote data performs zero.
func (s *Stats) Mutations() int {
	return s.Created + s.Updated + s.Deactivated + s.Reactivated +
		s.GroupsCreated + s.MembershipsAdded + s.MembershipsRemoved
}

// Err flattens the collected row errors into one error, or nil.
func (s *Stats) Err() error {
	return errors.Join(s.Errors...)
}
