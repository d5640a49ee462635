package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_TokenIssueVerify(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-key"), time.Hour)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	subject, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func Test_TokenVerify_Garbage(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-key"), time.Hour)
	_, err := issuer.Verify("not-a-token")
	require.Error(t, err)
}

func Test_TokenVerify_WrongKey(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-key"), time.Hour)
	other := NewTokenIssuer([]byte("other-key"), time.Hour)

	token, err := issuer.Issue("alice")
	require.NoError(t, err)
	_, err = other.Verify(token)
	require.Error(t, err)
}

func Test_TokenVerify_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-key"), time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := issuer.Issue("alice")
	require.NoError(t, err)
	_, err = issuer.Verify(token)
	require.Error(t, err)
}
