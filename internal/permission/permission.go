// Package permission implements the identifier-to-permission inheritance
// rule from spec.md §4.8: a permission check on a subgraph ID always
// resolves to its parent before asking the authorization layer, since no
// subgraph-specific grants exist.
package permission

import (
	"context"

	"github.com/robosystems/graphplane/internal/errors"
	"github.com/robosystems/graphplane/internal/identifier"
)

// Authorizer is the external authorization store. The control plane never
// implements role storage itself — spec.md §1 places the authentication
// middleware and relational model out of scope.
type Authorizer interface {
	HasRole(ctx context.Context, userID string, graphID identifier.ID, role string) (bool, error)
}

// Resolver answers permission questions on any graph ID by substituting a
// subgraph's parent before delegating to an Authorizer.
type Resolver struct {
	authz Authorizer
}

// New creates a Resolver backed by authz.
func New(authz Authorizer) *Resolver {
	return &Resolver{authz: authz}
}

// Authorize reports whether userID holds role on graphID. For a subgraph ID
// this resolves to the parent's grant; for a parent or shared-repository ID
// it checks the ID as given.
func (r *Resolver) Authorize(ctx context.Context, userID string, graphID identifier.ID, role string) (bool, error) {
	target := graphID
	parsed := identifier.Parse(graphID)
	switch parsed.Kind {
	case identifier.KindInvalid:
		return false, errors.New(errors.CodeSyntax, "invalid graph id %q", graphID)
	case identifier.KindSubgraph:
		target = parsed.Parent
	}
	return r.authz.HasRole(ctx, userID, target, role)
}

// MemoryAuthorizer is an in-memory Authorizer stub for tests, grounded on
// the same mock-repository idiom as registry/memstore.go.
type MemoryAuthorizer struct {
	grants map[string]map[identifier.ID]map[string]bool
}

// NewMemoryAuthorizer creates an empty MemoryAuthorizer.
func NewMemoryAuthorizer() *MemoryAuthorizer {
	return &MemoryAuthorizer{grants: make(map[string]map[identifier.ID]map[string]bool)}
}

// Grant records that userID holds role on graphID.
func (m *MemoryAuthorizer) Grant(userID string, graphID identifier.ID, role string) {
	byGraph, ok := m.grants[userID]
	if !ok {
		byGraph = make(map[identifier.ID]map[string]bool)
		m.grants[userID] = byGraph
	}
	roles, ok := byGraph[graphID]
	if !ok {
		roles = make(map[string]bool)
		byGraph[graphID] = roles
	}
	roles[role] = true
}

// HasRole implements Authorizer.
func (m *MemoryAuthorizer) HasRole(_ context.Context, userID string, graphID identifier.ID, role string) (bool, error) {
	byGraph, ok := m.grants[userID]
	if !ok {
		return false, nil
	}
	roles, ok := byGraph[graphID]
	if !ok {
		return false, nil
	}
	return roles[role], nil
}

var _ Authorizer = (*MemoryAuthorizer)(nil)
