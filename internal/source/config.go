// Package source holds the configuration of external identity sources: the
// key=value config format, its validation rules, and the registry the puller
// and scheduler read from.
package source

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// TypeLDAPFeed is the only source type currently supported.
const TypeLDAPFeed = "ldapfeed"

// ConfigurationError reports a malformed source configuration. It is raised
// at configuration time, never at pull time, and carries the offending field
// so CLIs and admin surfaces can render it as a field-level error.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Config describes one external source. It is produced by Parse, checked by
// Validate, and read by the puller on every pass.
type Config struct {
	Name string
	Type string

	URL             string
	DataCnxDN       string
	DataCnxPassword string

	UserBaseDN        string
	UserFilter        string
	UserClasses       []string
	UserAttrsMap      map[string]string // remote attribute -> local attribute
	UserDefaultGroups []string

	GroupBaseDN     string
	GroupFilter     string
	GroupNameAttr   string
	GroupMemberAttr string

	SyncInterval time.Duration
}

// Recognized config keys, in serialization order.
var configKeys = []string{
	"url",
	"data-cnx-dn",
	"data-cnx-password",
	"user-base-dn",
	"user-filter",
	"user-classes",
	"user-attrs-map",
	"user-default-groups",
	"group-base-dn",
	"group-filter",
	"group-name-attr",
	"group-member-attr",
	"synchronization-interval",
}

// Parse reads a key=value configuration. Lines starting with '#' and blank
// lines are ignored. Unknown keys are rejected so typos do not silently
// disable synchronization of a whole attribute class.
func Parse(name, text string) (*Config, error) {
	cfg := &Config{Name: name, Type: TypeLDAPFeed}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, &ConfigurationError{Field: line, Msg: "expected key=value"}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if err := cfg.set(key, value); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (c *Config) set(key, value string) error {
	switch key {
	case "url":
		c.URL = value
	case "data-cnx-dn":
		c.DataCnxDN = value
	case "data-cnx-password":
		c.DataCnxPassword = value
	case "user-base-dn":
		c.UserBaseDN = value
	case "user-filter":
		c.UserFilter = value
	case "user-classes":
		c.UserClasses = splitList(value)
	case "user-attrs-map":
		m, err := parseAttrsMap(value)
		if err != nil {
			return &ConfigurationError{Field: key, Msg: err.Error()}
		}
		c.UserAttrsMap = m
	case "user-default-groups":
		c.UserDefaultGroups = splitList(value)
	case "group-base-dn":
		c.GroupBaseDN = value
	case "group-filter":
		c.GroupFilter = value
	case "group-name-attr":
		c.GroupNameAttr = value
	case "group-member-attr":
		c.GroupMemberAttr = value
	case "synchronization-interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return &ConfigurationError{Field: key, Msg: "invalid duration"}
		}
		c.SyncInterval = d
	default:
		return &ConfigurationError{Field: key, Msg: "unknown configuration key"}
	}
	return nil
}

// Serialize writes the configuration back as key=value lines in a fixed key
// order, omitting unset keys. Serialize(Parse(x)) == x holds for inputs whose
// keys follow that order.
func (c *Config) Serialize() string {
	var b strings.Builder
	for _, key := range configKeys {
		value := c.get(key)
		if value == "" {
			continue
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	return b.String()
}

func (c *Config) get(key string) string {
	switch key {
	case "url":
		return c.URL
	case "data-cnx-dn":
		return c.DataCnxDN
	case "data-cnx-password":
		return c.DataCnxPassword
	case "user-base-dn":
		return c.UserBaseDN
	case "user-filter":
		return c.UserFilter
	case "user-classes":
		return strings.Join(c.UserClasses, ",")
	case "user-attrs-map":
		return serializeAttrsMap(c.UserAttrsMap)
	case "user-default-groups":
		return strings.Join(c.UserDefaultGroups, ",")
	case "group-base-dn":
		return c.GroupBaseDN
	case "group-filter":
		return c.GroupFilter
	case "group-name-attr":
		return c.GroupNameAttr
	case "group-member-attr":
		return c.GroupMemberAttr
	case "synchronization-interval":
		if c.SyncInterval == 0 {
			return ""
		}
		return c.SyncInterval.String()
	}
	return ""
}

// Validate checks the configuration before it is accepted into the registry.
// Pull passes assume a validated config and never re-check these rules.
func (c *Config) Validate() error {
	if c.URL == "" {
		return &ConfigurationError{Field: "url", Msg: "required"}
	}
	if len(strings.Fields(c.URL)) > 1 || strings.Contains(c.URL, "\n") {
		return &ConfigurationError{Field: "url", Msg: "expected one url"}
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return &ConfigurationError{Field: "url", Msg: "invalid url"}
	}
	switch u.Scheme {
	case "ldap", "ldaps":
	default:
		return &ConfigurationError{Field: "url", Msg: fmt.Sprintf("unsupported protocol %q", u.Scheme)}
	}
	if c.UserBaseDN == "" {
		return &ConfigurationError{Field: "user-base-dn", Msg: "required"}
	}
	if len(c.UserAttrsMap) == 0 {
		return &ConfigurationError{Field: "user-attrs-map", Msg: "required"}
	}
	hasLogin := false
	for _, local := range c.UserAttrsMap {
		if local == "login" {
			hasLogin = true
		}
	}
	if !hasLogin {
		return &ConfigurationError{Field: "user-attrs-map", Msg: "must map one attribute to login"}
	}
	if c.GroupBaseDN != "" && (c.GroupNameAttr == "" || c.GroupMemberAttr == "") {
		return &ConfigurationError{Field: "group-name-attr", Msg: "group sync requires group-name-attr and group-member-attr"}
	}
	if c.SyncInterval < 0 {
		return &ConfigurationError{Field: "synchronization-interval", Msg: "must not be negative"}
	}
	return nil
}

// UserObjectFilter combines the class filter and the configured user filter
// into one LDAP filter expression.
func (c *Config) UserObjectFilter() string {
	var parts []string
	for _, class := range c.UserClasses {
		parts = append(parts, fmt.Sprintf("(objectClass=%s)", class))
	}
	if c.UserFilter != "" {
		parts = append(parts, c.UserFilter)
	}
	switch len(parts) {
	case 0:
		return "(objectClass=*)"
	case 1:
		return parts[0]
	default:
		return "(&" + strings.Join(parts, "") + ")"
	}
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAttrsMap(value string) (map[string]string, error) {
	m := make(map[string]string)
	for _, pair := range splitList(value) {
		remote, local, found := strings.Cut(pair, "=")
		if !found || remote == "" || local == "" {
			return nil, fmt.Errorf("expected remote=local pairs, got %q", pair)
		}
		m[remote] = local
	}
	return m, nil
}

func serializeAttrsMap(m map[string]string) string {
	pairs := make([]string, 0, len(m))
	for remote, local := range m {
		pairs = append(pairs, remote+"="+local)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}
