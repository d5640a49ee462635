// Package directory abstracts the external directory behind a small search
// and bind interface so the puller and the feed credential binder never see
// protocol details.
package directory

import (
	"context"
	"strings"
)

// Entry is one directory object: its distinguished name and the attributes
// requested by the search.
type Entry struct {
	DN    string
	Attrs map[string][]string
}

// Attr returns the first value of the named attribute, or "".
func (e Entry) Attr(name string) string {
	if vs := e.Attrs[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Client is the directory access surface. Search enumerates entries below a
// base DN; Authenticate verifies a credential by binding as the given DN.
// Both may block on network I/O and honor context cancellation.
type Client interface {
	Search(ctx context.Context, baseDN, filter string, attrs []string) ([]Entry, error)
	Authenticate(ctx context.Context, dn, password string) error
}

// NormalizeDN derives the stable external identifier from a distinguished
// name: lowercased, with whitespace around RDN separators stripped. Two
// spellings of the same DN must normalize identically or the puller would
// recreate entities on every spelling change.
func NormalizeDN(dn string) string {
	parts := strings.Split(strings.ToLower(dn), ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}
