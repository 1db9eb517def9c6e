package identifier

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name   string
		raw    ID
		kind   Kind
		parent ID
		sub    string
	}{
		{"user graph", "kg0123456789abcdef", KindParent, "kg0123456789abcdef", ""},
		{"user graph longer hex", "kg0123456789abcdef0123", KindParent, "kg0123456789abcdef0123", ""},
		{"shared repository", "sec", KindShared, "", ""},
		{"subgraph", "kg0123456789abcdef_dev", KindSubgraph, "kg0123456789abcdef", "dev"},
		{"empty string", "", KindInvalid, "", ""},
		{"too short hex", "kg0123", KindInvalid, "", ""},
		{"subgraph name too long", "kg0123456789abcdef_" + "abcdefghijklmnopqrstu", KindInvalid, "", ""},
		{"double underscore invalid", "kg0123456789abcdef_de_v", KindInvalid, "", ""},
		{"uppercase invalid", "KG0123456789ABCDEF", KindInvalid, "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			parsed := Parse(tc.raw)
			assert.Equal(t, tc.kind, parsed.Kind)
			if tc.kind == KindParent {
				assert.Equal(t, tc.parent, parsed.Parent)
			}
			if tc.kind == KindSubgraph {
				assert.Equal(t, tc.parent, parsed.Parent)
				assert.Equal(t, tc.sub, parsed.Name)
			}
		})
	}
}

func TestParse_SharedNeverDecomposes(t *testing.T) {
	// Invariant 2: no shared-repository name parses as a subgraph, even
	// when it happens to contain an underscore (none in the closed set
	// do, but the rule must hold structurally).
	for name := range sharedRepositories {
		parsed := Parse(ID(name))
		assert.Equal(t, KindShared, parsed.Kind)
		assert.NotEqual(t, KindSubgraph, parsed.Kind)
	}
}

func TestConstructSubgraphRoundTrip(t *testing.T) {
	// Invariant 1 + round-trip: construct then parse recovers both
	// components.
	parent := ID("kg0123456789abcdef")
	subgraphID, err := ConstructSubgraph(parent, "dev")
	require.NoError(t, err)
	assert.Equal(t, ID("kg0123456789abcdef_dev"), subgraphID)

	parsed := Parse(subgraphID)
	require.Equal(t, KindSubgraph, parsed.Kind)
	assert.Equal(t, parent, parsed.Parent)
	assert.Equal(t, "dev", parsed.Name)
}

func TestConstructSubgraph_InvalidParent(t *testing.T) {
	_, err := ConstructSubgraph("sec", "dev")
	assert.Error(t, err)
}

func TestConstructSubgraph_InvalidName(t *testing.T) {
	_, err := ConstructSubgraph("kg0123456789abcdef", "")
	assert.Error(t, err)

	_, err = ConstructSubgraph("kg0123456789abcdef", "too-long-name-that-exceeds-20-chars")
	assert.Error(t, err)
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "kg0123456789abcdef_dev", DatabaseName("kg0123456789abcdef_dev"))
}

func TestParentOf(t *testing.T) {
	parent, err := ParentOf("kg0123456789abcdef_dev")
	require.NoError(t, err)
	assert.Equal(t, ID("kg0123456789abcdef"), parent)

	parent, err = ParentOf("kg0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, ID("kg0123456789abcdef"), parent)

	_, err = ParentOf("sec")
	assert.Error(t, err)
}

func TestGenerateUniqueName(t *testing.T) {
	existing := map[string]bool{"devteam1": true, "devteam2": true}
	name, err := GenerateUniqueName("dev-team!!", existing)
	require.NoError(t, err)
	assert.Equal(t, "devteam3", name)
}

func TestGenerateUniqueName_Truncates(t *testing.T) {
	existing := map[string]bool{}
	name, err := GenerateUniqueName("this-is-a-very-long-subgraph-base-name", existing)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(name)-1, 17)
}

func TestGenerateUniqueName_Exhausted(t *testing.T) {
	existing := make(map[string]bool)
	for i := 1; i <= 99; i++ {
		existing[fmt.Sprintf("dev%d", i)] = true
	}
	_, err := GenerateUniqueName("dev", existing)
	assert.Error(t, err)
}

func TestGenerateGraphID(t *testing.T) {
	id, err := GenerateGraphID()
	require.NoError(t, err)
	assert.True(t, IsParent(id))
}
