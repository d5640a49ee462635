package principal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/pkg/platform/sentinel"
)

func Test_Fire(t *testing.T) {
	p := &Principal{State: StateActivated}

	require.NoError(t, p.Fire(TransitionDeactivate))
	assert.Equal(t, StateDeactivated, p.State)

	// Deactivating twice is an invalid transition, not a silent no-op.
	require.ErrorIs(t, p.Fire(TransitionDeactivate), sentinel.ErrInvalidState)

	require.NoError(t, p.Fire(TransitionActivate))
	assert.Equal(t, StateActivated, p.State)
	require.ErrorIs(t, p.Fire(TransitionActivate), sentinel.ErrInvalidState)

	require.ErrorIs(t, p.Fire(Transition("frobnicate")), sentinel.ErrInvalidState)
}

func Test_Claimed(t *testing.T) {
	p := &Principal{Source: "corp", ExternalID: "uid=x"}
	assert.False(t, p.Claimed())

	p.Source = SourceSystem
	assert.True(t, p.Claimed())

	// A native local principal was never mirrored; it is not "claimed".
	native := &Principal{Source: SourceSystem}
	assert.False(t, native.Claimed())
}

func Test_AttrsEqual(t *testing.T) {
	p := &Principal{Attrs: map[string]string{"email": "a@x", "name": "A"}}

	assert.True(t, p.AttrsEqual(map[string]string{"name": "A", "email": "a@x"}))
	assert.False(t, p.AttrsEqual(map[string]string{"email": "a@x"}))
	assert.False(t, p.AttrsEqual(map[string]string{"email": "b@x", "name": "A"}))

	empty := &Principal{}
	assert.True(t, empty.AttrsEqual(nil))
	assert.True(t, empty.AttrsEqual(map[string]string{}))
}
