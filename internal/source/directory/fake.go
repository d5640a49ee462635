package directory

import (
	"context"
	"strings"
	"sync"

	"warden/pkg/platform/sentinel"
)

// Fake is an in-memory directory for tests: a flat entry set with a very
// small filter evaluator covering the shapes the puller generates
// ((objectClass=...), (attr=value) and (&...) conjunctions).
type Fake struct {
	mu        sync.Mutex
	entries   []Entry
	passwords map[string]string // dn -> password
	failing   bool
}

func NewFake() *Fake {
	return &Fake{passwords: make(map[string]string)}
}

// Add inserts or replaces the entry with the given DN.
func (f *Fake) Add(e Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, old := range f.entries {
		if old.DN == e.DN {
			f.entries[i] = e
			return
		}
	}
	f.entries = append(f.entries, e)
}

// Remove drops the entry with the given DN if present.
func (f *Fake) Remove(dn string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, e := range f.entries {
		if e.DN == dn {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return
		}
	}
}

// SetPassword registers a bind credential for a DN.
func (f *Fake) SetPassword(dn, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.passwords[NormalizeDN(dn)] = password
}

// Fail makes every subsequent call return ErrUnavailable, simulating a
// directory connection failure.
func (f *Fake) Fail(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *Fake) Search(_ context.Context, baseDN, filter string, _ []string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return nil, sentinel.ErrUnavailable
	}
	var out []Entry
	suffix := strings.ToLower(baseDN)
	for _, e := range f.entries {
		if !strings.HasSuffix(NormalizeDN(e.DN), NormalizeDN(suffix)) {
			continue
		}
		if matchFilter(e, filter) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *Fake) Authenticate(_ context.Context, dn, password string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return sentinel.ErrUnavailable
	}
	if password == "" {
		return sentinel.ErrInvalidState
	}
	if stored, ok := f.passwords[NormalizeDN(dn)]; ok && stored == password {
		return nil
	}
	return sentinel.ErrNotFound
}

func matchFilter(e Entry, filter string) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == "(objectClass=*)" {
		return true
	}
	if strings.HasPrefix(filter, "(&") && strings.HasSuffix(filter, ")") {
		for _, sub := range splitFilters(filter[2 : len(filter)-1]) {
			if !matchFilter(e, sub) {
				return false
			}
		}
		return true
	}
	inner := strings.Trim(filter, "()")
	attr, want, found := strings.Cut(inner, "=")
	if !found {
		return false
	}
	if want == "*" {
		return len(e.Attrs[attr]) > 0
	}
	for _, v := range e.Attrs[attr] {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}

// splitFilters breaks "(a=b)(c=d)" into its parenthesized components.
func splitFilters(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '(':
			if depth == 0 {
				start = i
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				out = append(out, s[start:i+1])
			}
		}
	}
	return out
}
