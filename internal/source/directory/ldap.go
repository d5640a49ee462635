package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"

	"warden/internal/source"
	"warden/pkg/platform/sentinel"
)

// LDAPClient talks to a real LDAP directory. A fresh connection is dialed
// per call; the directory's own network timeout bounds a hung dial, and a
// hung connection only blocks pulls of its own source.
type LDAPClient struct {
	cfg *source.Config
}

func NewLDAPClient(cfg *source.Config) *LDAPClient {
	return &LDAPClient{cfg: cfg}
}

func (c *LDAPClient) dial(ctx context.Context) (*ldap.Conn, error) {
	conn, err := ldap.DialURL(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", sentinel.ErrUnavailable, c.cfg.URL, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}
	return conn, nil
}

func (c *LDAPClient) Search(ctx context.Context, baseDN, filter string, attrs []string) ([]Entry, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if c.cfg.DataCnxDN != "" {
		if err := conn.Bind(c.cfg.DataCnxDN, c.cfg.DataCnxPassword); err != nil {
			return nil, fmt.Errorf("%w: bind %s: %v", sentinel.ErrUnavailable, c.cfg.DataCnxDN, err)
		}
	}

	req := ldap.NewSearchRequest(
		baseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		attrs,
		nil,
	)
	res, err := conn.SearchWithPaging(req, 500)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", baseDN, err)
	}

	out := make([]Entry, 0, len(res.Entries))
	for _, e := range res.Entries {
		entry := Entry{DN: e.DN, Attrs: make(map[string][]string, len(e.Attributes))}
		for _, a := range e.Attributes {
			entry.Attrs[a.Name] = a.Values
		}
		out = append(out, entry)
	}
	return out, nil
}

// Authenticate binds as the user's own DN. The directory decides credential
// validity; we only translate the outcome.
func (c *LDAPClient) Authenticate(ctx context.Context, dn, password string) error {
	if password == "" {
		// An empty password would turn the bind into an anonymous bind and
		// succeed against most directories.
		return fmt.Errorf("empty password")
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Bind(dn, password); err != nil {
		return fmt.Errorf("bind %s: %w", dn, err)
	}
	return nil
}
