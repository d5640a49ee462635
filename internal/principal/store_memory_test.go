package principal

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"warden/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) newPrincipal(login, source string) *Principal {
	return &Principal{
		ID:         uuid.New(),
		Login:      login,
		Source:     source,
		ExternalID: "uid=" + login + ",ou=people,dc=example,dc=org",
		State:      StateActivated,
		Attrs:      map[string]string{"email": login + "@example.org"},
	}
}

func (s *MemoryStoreSuite) TestCreateAndLookups() {
	p := s.newPrincipal("alice", "corp")
	s.Require().NoError(s.store.Create(s.ctx, p))

	byID, err := s.store.ByID(s.ctx, p.ID.String())
	s.Require().NoError(err)
	s.Equal(p, byID)

	byLogin, err := s.store.ByLogin(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(p.ID, byLogin.ID)

	byExternal, err := s.store.ByExternalID(s.ctx, p.ExternalID)
	s.Require().NoError(err)
	s.Equal(p.ID, byExternal.ID)
}

func (s *MemoryStoreSuite) TestLookupMisses() {
	_, err := s.store.ByID(s.ctx, uuid.New().String())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.ByLogin(s.ctx, "nobody")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	_, err = s.store.ByExternalID(s.ctx, "uid=nobody")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestCreateDuplicateLogin() {
	s.Require().NoError(s.store.Create(s.ctx, s.newPrincipal("alice", "corp")))
	s.Require().ErrorIs(s.store.Create(s.ctx, s.newPrincipal("alice", "other")), sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestStoredCopiesAreIsolated() {
	p := s.newPrincipal("alice", "corp")
	s.Require().NoError(s.store.Create(s.ctx, p))

	// Mutating the caller's copy must not leak into the store.
	p.Attrs["email"] = "tampered"
	got, err := s.store.ByLogin(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("alice@example.org", got.Attrs["email"])

	// Nor the other way around.
	got.Attrs["email"] = "tampered-again"
	again, err := s.store.ByLogin(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("alice@example.org", again.Attrs["email"])
}

func (s *MemoryStoreSuite) TestUpdate() {
	p := s.newPrincipal("alice", "corp")
	s.Require().NoError(s.store.Create(s.ctx, p))

	p.Attrs["email"] = "alice.smith@example.org"
	p.State = StateDeactivated
	s.Require().NoError(s.store.Update(s.ctx, p))

	got, err := s.store.ByLogin(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal(StateDeactivated, got.State)
	s.Equal("alice.smith@example.org", got.Attrs["email"])
}

func (s *MemoryStoreSuite) TestUpdateReindexesLogin() {
	p := s.newPrincipal("alice", "corp")
	s.Require().NoError(s.store.Create(s.ctx, p))

	p.Login = "alice.smith"
	s.Require().NoError(s.store.Update(s.ctx, p))

	_, err := s.store.ByLogin(s.ctx, "alice")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
	got, err := s.store.ByLogin(s.ctx, "alice.smith")
	s.Require().NoError(err)
	s.Equal(p.ID, got.ID)
}

func (s *MemoryStoreSuite) TestUpdateLoginConflict() {
	alice := s.newPrincipal("alice", "corp")
	bob := s.newPrincipal("bob", "corp")
	s.Require().NoError(s.store.Create(s.ctx, alice))
	s.Require().NoError(s.store.Create(s.ctx, bob))

	bob.Login = "alice"
	s.Require().ErrorIs(s.store.Update(s.ctx, bob), sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestUpdateUnknown() {
	s.Require().ErrorIs(s.store.Update(s.ctx, s.newPrincipal("ghost", "corp")), sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestListBySource() {
	s.Require().NoError(s.store.Create(s.ctx, s.newPrincipal("alice", "corp")))
	s.Require().NoError(s.store.Create(s.ctx, s.newPrincipal("bob", "corp")))
	s.Require().NoError(s.store.Create(s.ctx, s.newPrincipal("root", SourceSystem)))

	corp, err := s.store.ListBySource(s.ctx, "corp")
	s.Require().NoError(err)
	s.Len(corp, 2)

	none, err := s.store.ListBySource(s.ctx, "elsewhere")
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *MemoryStoreSuite) TestGroups() {
	s.Require().NoError(s.store.CreateGroup(s.ctx, "staff"))
	s.Require().ErrorIs(s.store.CreateGroup(s.ctx, "staff"), sentinel.ErrConflict)

	exists, err := s.store.GroupExists(s.ctx, "staff")
	s.Require().NoError(err)
	s.True(exists)
	exists, err = s.store.GroupExists(s.ctx, "nowhere")
	s.Require().NoError(err)
	s.False(exists)

	s.Require().NoError(s.store.AddMember(s.ctx, "staff", "alice"))
	s.Require().NoError(s.store.AddMember(s.ctx, "staff", "bob"))
	s.Require().NoError(s.store.AddMember(s.ctx, "staff", "alice"))

	members, err := s.store.Members(s.ctx, "staff")
	s.Require().NoError(err)
	s.ElementsMatch([]string{"alice", "bob"}, members)

	s.Require().NoError(s.store.RemoveMember(s.ctx, "staff", "bob"))
	members, err = s.store.Members(s.ctx, "staff")
	s.Require().NoError(err)
	s.Equal([]string{"alice"}, members)

	groups, err := s.store.GroupsOf(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal([]string{"staff"}, groups)
}

func (s *MemoryStoreSuite) TestGroupOperationsOnUnknownGroup() {
	s.Require().ErrorIs(s.store.AddMember(s.ctx, "nowhere", "alice"), sentinel.ErrNotFound)
	s.Require().ErrorIs(s.store.RemoveMember(s.ctx, "nowhere", "alice"), sentinel.ErrNotFound)
	_, err := s.store.Members(s.ctx, "nowhere")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestConcurrentAccess() {
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			login := fmt.Sprintf("user-%d", i)
			p := s.newPrincipal(login, "corp")
			s.Require().NoError(s.store.Create(s.ctx, p))
			got, err := s.store.ByLogin(s.ctx, login)
			s.Require().NoError(err)
			got.Attrs["email"] = login + "@elsewhere.org"
			s.Require().NoError(s.store.Update(s.ctx, got))
		}()
	}
	wg.Wait()

	all, err := s.store.ListBySource(s.ctx, "corp")
	s.Require().NoError(err)
	s.Len(all, 16)
}
