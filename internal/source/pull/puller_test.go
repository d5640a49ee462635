package pull

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/principal"
	"warden/internal/source"
	"warden/internal/source/directory"
	"warden/pkg/platform/sentinel"
)

const baseDN = "ou=people,dc=example,dc=org"

func feedConfig() *source.Config {
	return &source.Config{
		Name:       "corp",
		Type:       source.TypeLDAPFeed,
		URL:        "ldap://directory.example.org",
		UserBaseDN: baseDN,
		UserAttrsMap: map[string]string{
			"uid":  "login",
			"mail": "email",
		},
	}
}

func personEntry(uid string) directory.Entry {
	return directory.Entry{
		DN: "uid=" + uid + "," + baseDN,
		Attrs: map[string][]string{
			"uid":         {uid},
			"mail":        {uid + "@example.org"},
			"objectClass": {"posixAccount"},
		},
	}
}

type fixture struct {
	cfg    *source.Config
	dir    *directory.Fake
	store  *principal.InMemoryStore
	puller *Puller
}

func newFixture(t *testing.T, cfg *source.Config) *fixture {
	t.Helper()
	dir := directory.NewFake()
	store := principal.NewInMemoryStore()
	p, err := New(cfg, dir, store, store)
	require.NoError(t, err)
	return &fixture{cfg: cfg, dir: dir, store: store, puller: p}
}

func (f *fixture) pull(t *testing.T) *Stats {
	t.Helper()
	stats, err := f.puller.Pull(context.Background(), true, false)
	require.NoError(t, err)
	return stats
}

func Test_New_RejectsInvalidConfig(t *testing.T) {
	cfg := feedConfig()
	cfg.URL = ""
	_, err := New(cfg, directory.NewFake(), principal.NewInMemoryStore(), principal.NewInMemoryStore())
	var cfgErr *source.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func Test_Pull_CreatesMirroredPrincipals(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Add(personEntry("alice"))
	f.dir.Add(personEntry("bob"))

	stats := f.pull(t)
	assert.Equal(t, 2, stats.Created)
	assert.Empty(t, stats.Errors)

	p, err := f.store.ByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "corp", p.Source)
	assert.Equal(t, "uid=alice,"+baseDN, p.ExternalID)
	assert.Equal(t, principal.StateActivated, p.State)
	assert.Equal(t, map[string]string{"email": "alice@example.org"}, p.Attrs)
}

func Test_Pull_SecondPassIsIdempotent(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Add(personEntry("alice"))
	f.dir.Add(personEntry("bob"))
	f.pull(t)

	stats := f.pull(t)
	assert.Zero(t, stats.Mutations())
	assert.Equal(t, 2, stats.Unchanged)
	assert.Empty(t, stats.Errors)
}

func Test_Pull_UpdatesChangedAttributes(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Add(personEntry("alice"))
	f.pull(t)

	changed := personEntry("alice")
	changed.Attrs["mail"] = []string{"alice.smith@example.org"}
	f.dir.Add(changed)

	stats := f.pull(t)
	assert.Equal(t, 1, stats.Updated)
	assert.Zero(t, stats.Created)

	p, err := f.store.ByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice.smith@example.org", p.Attrs["email"])
}

func Test_Pull_DeactivateThenReactivateKeepsIdentity(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Add(personEntry("alice"))
	f.pull(t)

	before, err := f.store.ByLogin(context.Background(), "alice")
	require.NoError(t, err)

	f.dir.Remove("uid=alice," + baseDN)
	stats := f.pull(t)
	assert.Equal(t, 1, stats.Deactivated)

	gone, err := f.store.ByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, principal.StateDeactivated, gone.State)

	// Absent again: already deactivated, nothing more to do.
	stats = f.pull(t)
	assert.Zero(t, stats.Mutations())

	f.dir.Add(personEntry("alice"))
	stats = f.pull(t)
	assert.Equal(t, 1, stats.Reactivated)
	assert.Zero(t, stats.Created)

	back, err := f.store.ByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, principal.StateActivated, back.State)
	assert.Equal(t, before.ID, back.ID)
}

func Test_Pull_FilterChangeDeactivatesExcludedEntities(t *testing.T) {
	cfg := feedConfig()
	cfg.UserFilter = "(mail=*)"
	f := newFixture(t, cfg)

	noMail := personEntry("carol")
	delete(noMail.Attrs, "mail")
	f.dir.Add(personEntry("alice"))
	f.dir.Add(personEntry("bob"))
	f.dir.Add(noMail)

	stats := f.pull(t)
	assert.Equal(t, 2, stats.Created)

	// Tightening the filter drops bob from the enumeration; he is
	// deactivated, not deleted.
	f.cfg.UserFilter = "(mail=alice@example.org)"
	stats = f.pull(t)
	assert.Equal(t, 1, stats.Deactivated)

	bob, err := f.store.ByLogin(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, principal.StateDeactivated, bob.State)

	// Relaxing it back reactivates him under the same identity.
	f.cfg.UserFilter = "(mail=*)"
	stats = f.pull(t)
	assert.Equal(t, 1, stats.Reactivated)
}

func Test_Pull_RelaxedFilterCreatesNewEntity(t *testing.T) {
	cfg := feedConfig()
	cfg.UserFilter = "(mail=*)"
	f := newFixture(t, cfg)

	noMail := personEntry("carol")
	delete(noMail.Attrs, "mail")
	f.dir.Add(personEntry("alice"))
	f.dir.Add(personEntry("bob"))
	f.dir.Add(noMail)

	stats := f.pull(t)
	assert.Equal(t, 2, stats.Created)

	// Carol was never mirrored, so widening the filter brings her in as a
	// fresh entity while the other two are untouched.
	f.cfg.UserFilter = "(uid=*)"
	stats = f.pull(t)
	assert.Equal(t, 1, stats.Created)
	assert.Zero(t, stats.Updated)
	assert.Zero(t, stats.Deactivated)
	assert.Equal(t, 2, stats.Unchanged)

	carol, err := f.store.ByLogin(context.Background(), "carol")
	require.NoError(t, err)
	assert.Equal(t, principal.StateActivated, carol.State)
}

func Test_Pull_ClaimedPrincipalIsLeftAlone(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Add(personEntry("alice"))
	f.pull(t)

	ctx := context.Background()
	p, err := f.store.ByLogin(ctx, "alice")
	require.NoError(t, err)

	// Ownership transfer: the local store claims the principal. The external
	// identifier is kept so the feed can still recognize the entry.
	p.Source = principal.SourceSystem
	require.NoError(t, f.store.Update(ctx, p))
	require.True(t, p.Claimed())

	// The entry is still in the directory: the feed must not recreate or
	// touch the claimed principal.
	stats := f.pull(t)
	assert.Zero(t, stats.Mutations())
	assert.Zero(t, stats.Created)

	// Nor may the deactivation sweep reach it once the entry disappears.
	f.dir.Remove("uid=alice," + baseDN)
	stats = f.pull(t)
	assert.Zero(t, stats.Deactivated)

	after, err := f.store.ByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, principal.StateActivated, after.State)
	assert.Equal(t, principal.SourceSystem, after.Source)
}

func Test_Pull_ConnectionFailureTolerant(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Add(personEntry("alice"))
	f.pull(t)

	f.dir.Fail(true)
	stats, err := f.puller.Pull(context.Background(), true, false)
	require.NoError(t, err)
	require.Len(t, stats.Errors, 1)
	assert.ErrorIs(t, stats.Errors[0], sentinel.ErrUnavailable)

	// A failed enumeration must have zero effect: nobody gets deactivated
	// because the directory was unreachable.
	assert.Zero(t, stats.Mutations())
	p, err := f.store.ByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, principal.StateActivated, p.State)
}

func Test_Pull_ConnectionFailureRaises(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Fail(true)
	_, err := f.puller.Pull(context.Background(), true, true)
	require.ErrorIs(t, err, sentinel.ErrUnavailable)
}

func Test_Pull_EntryWithoutLogin(t *testing.T) {
	f := newFixture(t, feedConfig())
	broken := personEntry("alice")
	delete(broken.Attrs, "uid")
	f.dir.Add(broken)
	f.dir.Add(personEntry("bob"))

	// Tolerant mode records the row error and still processes bob.
	stats := f.pull(t)
	require.Len(t, stats.Errors, 1)
	assert.Equal(t, 1, stats.Created)

	// Raise mode aborts the pass instead.
	_, err := f.puller.Pull(context.Background(), true, true)
	require.Error(t, err)
}

func Test_Pull_MalformedEntryStaysPresent(t *testing.T) {
	f := newFixture(t, feedConfig())
	f.dir.Add(personEntry("alice"))
	f.pull(t)

	// The entry is still enumerated; it merely lost its login attribute. A
	// present row whose error is tolerated must not feed the deactivation
	// sweep.
	broken := personEntry("alice")
	delete(broken.Attrs, "uid")
	f.dir.Add(broken)

	stats := f.pull(t)
	require.Len(t, stats.Errors, 1)
	assert.Zero(t, stats.Deactivated)

	p, err := f.store.ByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, principal.StateActivated, p.State)
}

func Test_Pull_DefaultGroups(t *testing.T) {
	cfg := feedConfig()
	cfg.UserDefaultGroups = []string{"users", "ghosts"}
	f := newFixture(t, cfg)
	require.NoError(t, f.store.CreateGroup(context.Background(), "users"))
	f.dir.Add(personEntry("alice"))

	stats := f.pull(t)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.MembershipsAdded)

	// The missing group is an error but never aborts the entry.
	require.Len(t, stats.Errors, 1)
	assert.Contains(t, stats.Errors[0].Error(), `"ghosts"`)

	members, err := f.store.Members(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func groupedConfig() *source.Config {
	cfg := feedConfig()
	cfg.GroupBaseDN = "ou=groups,dc=example,dc=org"
	cfg.GroupNameAttr = "cn"
	cfg.GroupMemberAttr = "memberUid"
	return cfg
}

func groupEntry(name string, members ...string) directory.Entry {
	return directory.Entry{
		DN: "cn=" + name + ",ou=groups,dc=example,dc=org",
		Attrs: map[string][]string{
			"cn":        {name},
			"memberUid": members,
		},
	}
}

func Test_Pull_GroupSync(t *testing.T) {
	f := newFixture(t, groupedConfig())
	f.dir.Add(personEntry("alice"))
	f.dir.Add(personEntry("bob"))
	f.dir.Add(groupEntry("staff", "alice", "bob", "alice"))

	stats := f.pull(t)
	assert.Equal(t, 1, stats.GroupsCreated)
	assert.Equal(t, 2, stats.MembershipsAdded)

	members, err := f.store.Members(context.Background(), "staff")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, members)

	// Bob leaves the remote group.
	f.dir.Add(groupEntry("staff", "alice"))
	stats = f.pull(t)
	assert.Equal(t, 1, stats.MembershipsRemoved)
	assert.Zero(t, stats.GroupsCreated)

	members, err = f.store.Members(context.Background(), "staff")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)
}

func Test_Pull_GroupSyncKeepsLocalMembers(t *testing.T) {
	f := newFixture(t, groupedConfig())
	f.dir.Add(personEntry("alice"))
	f.dir.Add(groupEntry("staff", "alice"))
	f.pull(t)

	// A locally owned account joins the group out of band. The feed does not
	// manage it and must not remove it, even though the remote member list
	// does not mention it.
	ctx := context.Background()
	admin := &principal.Principal{
		Login:  "admin",
		Source: principal.SourceSystem,
		State:  principal.StateActivated,
	}
	require.NoError(t, f.store.Create(ctx, admin))
	require.NoError(t, f.store.AddMember(ctx, "staff", "admin"))

	stats := f.pull(t)
	assert.Zero(t, stats.MembershipsRemoved)

	members, err := f.store.Members(ctx, "staff")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "admin"}, members)
}

func Test_Pull_EmptiedGroupSurvives(t *testing.T) {
	f := newFixture(t, groupedConfig())
	f.dir.Add(personEntry("alice"))
	f.dir.Add(groupEntry("staff", "alice"))
	f.pull(t)

	f.dir.Add(groupEntry("staff"))
	stats := f.pull(t)
	assert.Equal(t, 1, stats.MembershipsRemoved)

	exists, err := f.store.GroupExists(context.Background(), "staff")
	require.NoError(t, err)
	assert.True(t, exists)
}

func Test_Pull_IntervalSkip(t *testing.T) {
	cfg := feedConfig()
	cfg.SyncInterval = time.Hour
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	dir := directory.NewFake()
	store := principal.NewInMemoryStore()
	p, err := New(cfg, dir, store, store, withClock(func() time.Time { return now }))
	require.NoError(t, err)
	dir.Add(personEntry("alice"))

	stats, err := p.Pull(context.Background(), false, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.Equal(t, 1, stats.Created)

	// Within the interval: skipped unless forced.
	now = now.Add(10 * time.Minute)
	stats, err = p.Pull(context.Background(), false, false)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)

	stats, err = p.Pull(context.Background(), true, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)

	// Past the interval the pass runs again on its own.
	now = now.Add(2 * time.Hour)
	stats, err = p.Pull(context.Background(), false, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
}

func Test_Pull_FailedEnumerationDoesNotAdvanceInterval(t *testing.T) {
	cfg := feedConfig()
	cfg.SyncInterval = time.Hour
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	dir := directory.NewFake()
	store := principal.NewInMemoryStore()
	p, err := New(cfg, dir, store, store, withClock(func() time.Time { return now }))
	require.NoError(t, err)
	dir.Add(personEntry("alice"))

	dir.Fail(true)
	stats, err := p.Pull(context.Background(), false, false)
	require.NoError(t, err)
	require.Len(t, stats.Errors, 1)
	assert.Zero(t, stats.Mutations())

	// The outage synchronized nothing, so the next scheduled pass runs as
	// soon as the directory is back instead of waiting out the interval.
	dir.Fail(false)
	now = now.Add(time.Minute)
	stats, err = p.Pull(context.Background(), false, false)
	require.NoError(t, err)
	assert.False(t, stats.Skipped)
	assert.Equal(t, 1, stats.Created)
}

func Test_Pull_ConcurrentPassesSerialize(t *testing.T) {
	f := newFixture(t, feedConfig())
	for _, uid := range []string{"alice", "bob", "carol"} {
		f.dir.Add(personEntry(uid))
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.puller.Pull(context.Background(), true, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// However the passes interleaved, exactly one principal exists per entry.
	locals, err := f.store.ListBySource(context.Background(), "corp")
	require.NoError(t, err)
	assert.Len(t, locals, 3)
}
