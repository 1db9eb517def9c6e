package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robosystems/graphplane/internal/identifier"
)

const parentGraphID = identifier.ID("kg0123456789abcdef")

func TestResolver_Authorize_SubgraphInheritsParentGrant(t *testing.T) {
	authz := NewMemoryAuthorizer()
	authz.Grant("user-1", parentGraphID, "editor")

	resolver := New(authz)
	ok, err := resolver.Authorize(context.Background(), "user-1", parentGraphID+"_dev", "editor")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_Authorize_SubgraphHasNoIndependentGrant(t *testing.T) {
	authz := NewMemoryAuthorizer()
	authz.Grant("user-1", parentGraphID+"_dev", "editor")

	resolver := New(authz)
	ok, err := resolver.Authorize(context.Background(), "user-1", parentGraphID+"_dev", "editor")
	require.NoError(t, err)
	assert.False(t, ok, "a grant recorded directly against a subgraph id must not satisfy Authorize, since it always checks the parent")
}

func TestResolver_Authorize_ParentAndSharedUseTheirOwnID(t *testing.T) {
	authz := NewMemoryAuthorizer()
	authz.Grant("user-1", parentGraphID, "owner")
	authz.Grant("user-1", "sec", "reader")

	resolver := New(authz)

	ok, err := resolver.Authorize(context.Background(), "user-1", parentGraphID, "owner")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = resolver.Authorize(context.Background(), "user-1", "sec", "reader")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestResolver_Authorize_RejectsInvalidGraphID(t *testing.T) {
	resolver := New(NewMemoryAuthorizer())
	_, err := resolver.Authorize(context.Background(), "user-1", "not a valid id", "reader")
	require.Error(t, err)
}

func TestResolver_Authorize_DeniesUngrantedRole(t *testing.T) {
	authz := NewMemoryAuthorizer()
	authz.Grant("user-1", parentGraphID, "reader")

	resolver := New(authz)
	ok, err := resolver.Authorize(context.Background(), "user-1", parentGraphID, "owner")
	require.NoError(t, err)
	assert.False(t, ok)
}
