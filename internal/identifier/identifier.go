// Package identifier implements the graph ID grammar: parsing and
// classifying user graphs, shared repositories, and subgraphs.
package identifier

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/robosystems/graphplane/internal/errors"
)

// ID is a graph identifier string. It is a newtype rather than a struct so
// it can be used directly as a map key and marshals as a plain JSON string.
type ID string

var (
	userGraphPattern = regexp.MustCompile(`^kg[0-9a-f]{16,}$`)
	nameFragmentPattern = regexp.MustCompile(`^[0-9a-zA-Z]{1,20}$`)
	nonAlphanumeric     = regexp.MustCompile(`[^0-9a-zA-Z]`)

	// sharedRepositories is the closed set of well-known public dataset
	// names. Shared repositories never decompose into parent/subgraph
	// pairs, even when they contain an underscore.
	sharedRepositories = map[string]bool{
		"sec":        true,
		"industry":   true,
		"economic":   true,
		"regulatory": true,
		"market":     true,
		"esg":        true,
		"stock":      true,
		"reference":  true,
	}
)

// Kind classifies a parsed graph ID.
type Kind int

const (
	// KindInvalid marks an ID that matches no grammar rule.
	KindInvalid Kind = iota
	// KindParent marks a user-owned graph ID (the "kg..." form).
	KindParent
	// KindSubgraph marks a child database co-located on a parent's
	// instance.
	KindSubgraph
	// KindShared marks a well-known shared repository name.
	KindShared
)

// Parsed is the result of parsing a graph ID.
type Parsed struct {
	Kind   Kind
	Raw    ID
	Parent ID     // set for KindParent and KindSubgraph
	Name   string // set for KindSubgraph: the part after the underscore
}

// IsSharedRepository reports whether name is one of the closed set of
// well-known shared repository names.
func IsSharedRepository(name string) bool {
	return sharedRepositories[name]
}

// Parse classifies raw according to the grammar: the closed set of shared
// names wins first, then an underscore split where the left side matches
// the user-graph pattern and the right side is 1-20 alphanumeric
// characters, else the whole string must match the user-graph pattern.
func Parse(raw ID) Parsed {
	s := string(raw)
	if s == "" {
		return Parsed{Kind: KindInvalid, Raw: raw}
	}

	if sharedRepositories[s] {
		return Parsed{Kind: KindShared, Raw: raw}
	}

	if idx := strings.IndexByte(s, '_'); idx >= 0 {
		left, right := s[:idx], s[idx+1:]
		// A subgraph name itself must never contain an underscore: the
		// right side must be the full alphanumeric remainder, not just
		// the segment up to the next underscore.
		if strings.ContainsRune(right, '_') {
			return Parsed{Kind: KindInvalid, Raw: raw}
		}
		if userGraphPattern.MatchString(left) && nameFragmentPattern.MatchString(right) {
			return Parsed{Kind: KindSubgraph, Raw: raw, Parent: ID(left), Name: right}
		}
		return Parsed{Kind: KindInvalid, Raw: raw}
	}

	if userGraphPattern.MatchString(s) {
		return Parsed{Kind: KindParent, Raw: raw, Parent: raw}
	}

	return Parsed{Kind: KindInvalid, Raw: raw}
}

// DatabaseName returns the name of the database on disk for graphID, which
// always equals the logical graph ID, subgraphs included.
func DatabaseName(graphID ID) string {
	return string(graphID)
}

// IsShared reports whether graphID parses as a shared repository name.
func IsShared(graphID ID) bool {
	return Parse(graphID).Kind == KindShared
}

// IsSubgraph reports whether graphID parses as a subgraph ID.
func IsSubgraph(graphID ID) bool {
	return Parse(graphID).Kind == KindSubgraph
}

// IsParent reports whether graphID parses as a user-graph (parent) ID.
func IsParent(graphID ID) bool {
	return Parse(graphID).Kind == KindParent
}

// ParentOf returns the parent graph ID for any graph ID: itself for a
// parent, the parent component for a subgraph, and an error for a shared
// repository or an invalid ID (shared repositories and invalid IDs have no
// parent).
func ParentOf(graphID ID) (ID, error) {
	parsed := Parse(graphID)
	switch parsed.Kind {
	case KindParent:
		return parsed.Raw, nil
	case KindSubgraph:
		return parsed.Parent, nil
	default:
		return "", errors.New(errors.CodeSyntax, "graph id %q has no parent", graphID)
	}
}

// ConstructSubgraph validates parent and name and returns the composed
// subgraph ID `parent_name`.
func ConstructSubgraph(parent ID, name string) (ID, error) {
	if !userGraphPattern.MatchString(string(parent)) {
		return "", errors.New(errors.CodeSyntax, "parent %q is not a valid user-graph id", parent)
	}
	if !nameFragmentPattern.MatchString(name) {
		return "", errors.New(errors.CodeSyntax, "subgraph name %q must be 1-20 alphanumeric characters", name)
	}
	return ID(fmt.Sprintf("%s_%s", parent, name)), nil
}

// GenerateUniqueName strips non-alphanumeric characters from base,
// truncates to 17 characters, and appends a numeric suffix 1..99 until the
// result is absent from existing. It fails if no suffix in that range
// yields a unique name, mirroring the original ULID-style identity
// generator's bounded retry.
func GenerateUniqueName(base string, existing map[string]bool) (string, error) {
	stripped := nonAlphanumeric.ReplaceAllString(base, "")
	if len(stripped) > 17 {
		stripped = stripped[:17]
	}
	if stripped == "" {
		stripped = "subgraph"
		if len(stripped) > 17 {
			stripped = stripped[:17]
		}
	}

	for i := 1; i <= 99; i++ {
		candidate := fmt.Sprintf("%s%d", stripped, i)
		if !existing[candidate] {
			return candidate, nil
		}
	}

	return "", errors.New(errors.CodeClient, "could not generate a unique subgraph name from base %q", base)
}

// GenerateGraphID generates a new user-graph ID as "kg" followed by 16
// random lowercase hex characters.
func GenerateGraphID() (ID, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(errors.CodeServer, err, "failed to generate graph id")
	}
	return ID("kg" + hex.EncodeToString(buf)), nil
}
