package pull

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/source"
	"warden/pkg/platform/sentinel"
)

func registeredPuller(t *testing.T, m *Manager, name string) *fixture {
	t.Helper()
	cfg := feedConfig()
	cfg.Name = name
	f := newFixture(t, cfg)
	require.NoError(t, m.Register(f.puller))
	return f
}

func Test_Manager_Register(t *testing.T) {
	m := NewManager()
	registeredPuller(t, m, "corp")

	dup := newFixture(t, func() *source.Config { c := feedConfig(); c.Name = "corp"; return c }())
	require.ErrorIs(t, m.Register(dup.puller), sentinel.ErrConflict)
}

func Test_Manager_Sources(t *testing.T) {
	m := NewManager()
	registeredPuller(t, m, "zeta")
	registeredPuller(t, m, "alpha")
	assert.Equal(t, []string{"alpha", "zeta"}, m.Sources())
}

func Test_Manager_Pull_UnknownSource(t *testing.T) {
	m := NewManager()
	_, err := m.Pull(context.Background(), "nowhere", true, false)
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func Test_Manager_PullAll(t *testing.T) {
	m := NewManager()
	a := registeredPuller(t, m, "alpha")
	b := registeredPuller(t, m, "beta")
	a.dir.Add(personEntry("alice"))
	b.dir.Add(personEntry("bob"))

	results, err := m.PullAll(context.Background(), nil, true, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results["alpha"].Created)
	assert.Equal(t, 1, results["beta"].Created)
}

func Test_Manager_PullAll_NamedSubset(t *testing.T) {
	m := NewManager()
	a := registeredPuller(t, m, "alpha")
	b := registeredPuller(t, m, "beta")
	a.dir.Add(personEntry("alice"))
	b.dir.Add(personEntry("bob"))

	results, err := m.PullAll(context.Background(), []string{"beta"}, true, false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results["beta"].Created)

	_, err = a.store.ByLogin(context.Background(), "alice")
	require.ErrorIs(t, err, sentinel.ErrNotFound)
}

func Test_Manager_PullAll_FailingSourceDoesNotShadowOthers(t *testing.T) {
	m := NewManager()
	a := registeredPuller(t, m, "alpha")
	b := registeredPuller(t, m, "beta")
	a.dir.Fail(true)
	b.dir.Add(personEntry("bob"))

	results, err := m.PullAll(context.Background(), nil, true, false)

	// The healthy source was still pulled to completion.
	require.Contains(t, results, "beta")
	assert.Equal(t, 1, results["beta"].Created)

	// The failure surfaces in the aggregate error rather than being dropped.
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
	assert.Contains(t, err.Error(), "alpha")
}

func Test_Manager_PullAll_UnknownNameReported(t *testing.T) {
	m := NewManager()
	a := registeredPuller(t, m, "alpha")
	a.dir.Add(personEntry("alice"))

	results, err := m.PullAll(context.Background(), []string{"alpha", "nowhere"}, true, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	assert.Equal(t, 1, results["alpha"].Created)
}
