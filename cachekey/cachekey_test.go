package cachekey

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseRequest() Request {
	return Request{
		Subgraph:      "inventory",
		OperationName: "GetProduct",
		QueryText:     "query GetProduct($id: ID!) { product(id: $id) { name } }",
		Variables:     map[string]any{"id": "123"},
		ExtraKeys:     map[string]string{"env": "prod"},
	}
}

func TestRootKey_DeterministicForIdenticalFingerprints(t *testing.T) {
	a, err := RootKey(baseRequest())
	require.NoError(t, err)
	b, err := RootKey(baseRequest())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRootKey_DiffersOnVariables(t *testing.T) {
	req1 := baseRequest()
	req2 := baseRequest()
	req2.Variables = map[string]any{"id": "456"}

	k1, err := RootKey(req1)
	require.NoError(t, err)
	k2, err := RootKey(req2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestRootKey_IncludesUserScopeSuffix(t *testing.T) {
	req := baseRequest()
	withoutScope, err := RootKey(req)
	require.NoError(t, err)

	req.UserScope = "user-abc"
	withScope, err := RootKey(req)
	require.NoError(t, err)

	assert.NotEqual(t, withoutScope, withScope)
	assert.True(t, len(withScope) > len(withoutScope))
}

func TestRootKey_Format(t *testing.T) {
	key, err := RootKey(baseRequest())
	require.NoError(t, err)
	assert.Contains(t, key, "v1:subgraph:inventory:type:Query:hash:")
}

func TestEntityKeys_OrderPreserved(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"__typename": "Product", "id": "1"},
			map[string]any{"__typename": "Product", "id": "2"},
		},
	}

	keys, err := EntityKeys(req)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, 0, keys[0].Index)
	assert.Equal(t, 1, keys[1].Index)
	assert.NotEqual(t, keys[0].Key, keys[1].Key)
	assert.Equal(t, "Product", keys[0].Typename)
}

func TestEntityKeys_TypenamePositionedForPrefixScans(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"__typename": "Product", "id": "1"},
		},
	}
	keys, err := EntityKeys(req)
	require.NoError(t, err)
	assert.Contains(t, keys[0].Key, "v1:subgraph:inventory:Product:")
}

func TestEntityKeys_MissingTypenameIsFatal(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"id": "1"},
		},
	}
	_, err := EntityKeys(req)
	assert.ErrorIs(t, err, ErrMissingTypename)
}

func TestEntityKeys_MissingRepresentationsIsEmptyList(t *testing.T) {
	req := baseRequest()
	keys, err := EntityKeys(req)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestEntityKeys_SameRepresentationDifferentOrderInObjectHashesSame(t *testing.T) {
	req1 := baseRequest()
	req1.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"__typename": "Product", "id": "1", "sku": "A"},
		},
	}
	req2 := baseRequest()
	req2.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"sku": "A", "id": "1", "__typename": "Product"},
		},
	}

	k1, err := EntityKeys(req1)
	require.NoError(t, err)
	k2, err := EntityKeys(req2)
	require.NoError(t, err)
	assert.Equal(t, k1[0].Key, k2[0].Key)
}

func TestEntityKeys_RepresentationsNotArrayIsFatal(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{RepresentationsVariable: "not-a-list"}
	_, err := EntityKeys(req)
	assert.ErrorIs(t, err, ErrRepresentationsNotArray)
}

func TestEntityKeys_NilRepresentationsIsEmptyList(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{RepresentationsVariable: nil}
	keys, err := EntityKeys(req)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestTypePrefix_IsTruePrefixOfEntityKey(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"__typename": "Product", "id": "1"},
		},
	}
	keys, err := EntityKeys(req)
	require.NoError(t, err)

	prefix := TypePrefix("inventory", "Product")
	assert.True(t, strings.HasPrefix(keys[0].Key, prefix))
}

func TestEntityPrefix_NarrowerThanTypePrefix(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"__typename": "Product", "id": "1"},
		},
	}
	keys, err := EntityKeys(req)
	require.NoError(t, err)

	parts := strings.Split(keys[0].Key, ":")
	entityHash := parts[4]
	prefix := EntityPrefix("inventory", "Product", entityHash)
	assert.True(t, strings.HasPrefix(keys[0].Key, prefix))
	assert.True(t, len(prefix) > len(TypePrefix("inventory", "Product")))
}

func TestRootQueryPrefix_IsTruePrefixOfRootKey(t *testing.T) {
	key, err := RootKey(baseRequest())
	require.NoError(t, err)

	parts := strings.Split(key, ":")
	queryHash := parts[6]
	prefix := RootQueryPrefix("inventory", "Query", queryHash)
	assert.True(t, strings.HasPrefix(key, prefix))
}

func TestMatchesQueryHash(t *testing.T) {
	req := baseRequest()
	req.Variables = map[string]any{
		RepresentationsVariable: []any{
			map[string]any{"__typename": "Product", "id": "1"},
		},
	}
	keys, err := EntityKeys(req)
	require.NoError(t, err)

	parts := strings.Split(keys[0].Key, ":")
	queryHash := parts[5]
	assert.True(t, MatchesQueryHash(keys[0].Key, queryHash))
	assert.False(t, MatchesQueryHash(keys[0].Key, "deadbeef"))
}

func TestRootKey_AuthScopeAffectsKey(t *testing.T) {
	req1 := baseRequest()
	req2 := baseRequest()
	req2.AuthScope = []byte("role=admin")

	k1, err := RootKey(req1)
	require.NoError(t, err)
	k2, err := RootKey(req2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}
