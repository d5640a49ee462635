package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"warden/internal/principal"
	"warden/internal/source/directory"
)

// Credentials carries the raw authentication material a retriever extracted:
// "password" for form/basic logins, "token" for bearer tokens.
type Credentials map[string]string

// Binder checks credentials against the backing store of one source. The
// authenticator picks the binder by the principal's current owner, so a
// principal claimed by the local store is never checked against the feed
// again; the ownership transfer is sticky for authentication too.
type Binder interface {
	CheckCredentials(ctx context.Context, p *principal.Principal, creds Credentials) error
}

// LocalBinder verifies bcrypt password hashes held by the local store.
type LocalBinder struct{}

func (LocalBinder) CheckCredentials(_ context.Context, p *principal.Principal, creds Credentials) error {
	password, ok := creds["password"]
	if !ok {
		return fmt.Errorf("no password credential")
	}
	if len(p.PasswordHash) == 0 {
		// Feed-created principals have no local hash; after a claim the
		// admin must set one before the account can log in again.
		return fmt.Errorf("no local credential set")
	}
	if err := bcrypt.CompareHashAndPassword(p.PasswordHash, []byte(password)); err != nil {
		return fmt.Errorf("password mismatch")
	}
	return nil
}

// HashPassword produces the bcrypt hash stored on locally owned principals.
func HashPassword(password string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}

// FeedBinder delegates the credential check to the external directory by
// binding as the principal's own DN.
type FeedBinder struct {
	client directory.Client
}

func NewFeedBinder(client directory.Client) *FeedBinder {
	return &FeedBinder{client: client}
}

func (b *FeedBinder) CheckCredentials(ctx context.Context, p *principal.Principal, creds Credentials) error {
	password, ok := creds["password"]
	if !ok {
		return fmt.Errorf("no password credential")
	}
	if p.ExternalID == "" {
		return fmt.Errorf("principal has no external identifier")
	}
	return b.client.Authenticate(ctx, p.ExternalID, password)
}
