// Package cachekey builds the deterministic cache keys described in the
// entity cache's data model: one key per root query, one key per entity
// representation in a _entities request.
//
// Determinism is achieved two ways: a fixed cryptographic hash
// (crypto/sha256, 256-bit) over a canonical serialization, and relying on
// encoding/json's documented behavior of emitting string-keyed map entries
// in sorted key order, which gives canonical JSON for free without a
// bespoke serializer.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FormatVersion is the leading segment of every key this package produces.
// Bumping it is a breaking change to the invalidation wire contract
// (external operators script prefix scans against the key format).
const FormatVersion = "v1"

const (
	// RepresentationsVariable is the GraphQL variable name carrying the
	// list of entity representations in an _entities request.
	RepresentationsVariable = "representations"
	// TypenameField is the federation type discriminator field.
	TypenameField = "__typename"
)

var (
	// ErrMissingTypename is returned when a representation lacks __typename.
	ErrMissingTypename = errors.New("cachekey: representation missing __typename")
	// ErrRepresentationsNotArray is returned when the representations
	// variable is present and non-nil but not a JSON array.
	ErrRepresentationsNotArray = errors.New("cachekey: representations is not an array")
)

// Request carries every normalized input needed to compute a cache key.
// The caller is responsible for producing RootType, QueryText and
// OperationName from the already-planned request, and for supplying
// AuthScope/ExtraKeys from the router's authorization and context layers.
type Request struct {
	Subgraph      string
	RootType      string // defaults to "Query" when empty
	OperationName string
	QueryText     string
	Variables     map[string]any
	AuthScope     []byte            // opaque authorization metadata, hashed not interpreted
	ExtraKeys     map[string]string // operator-configured request-context fields
	UserScope     string            // per-user private-scope value; empty when not applicable
}

// EntityKey is one element of the ordered result of EntityKeys: the
// computed key for a single representation, alongside the typename and
// the original positional index, carried through the entity path so the
// merged response can preserve positions.
type EntityKey struct {
	Index    int
	Typename string
	Key      string
}

func rootType(t string) string {
	if t == "" {
		return "Query"
	}
	return t
}

// queryHash hashes the prepared query text plus operation name. This is
// the "Q" segment shared by both root and entity keys.
func queryHash(queryText, operationName string) string {
	h := sha256.New()
	h.Write([]byte(operationName))
	h.Write([]byte{0})
	h.Write([]byte(queryText))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON serializes v deterministically. encoding/json already sorts
// map[string]any keys, so this is a thin, documented wrapper rather than a
// hand-rolled serializer.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// dataHash hashes the residual variables (representations removed),
// authorization metadata, and sorted extra keys. This is the "D" segment.
func dataHash(variables map[string]any, authScope []byte, extraKeys map[string]string) (string, error) {
	residual := make(map[string]any, len(variables))
	for k, v := range variables {
		if k == RepresentationsVariable {
			continue
		}
		residual[k] = v
	}

	varBytes, err := canonicalJSON(residual)
	if err != nil {
		return "", fmt.Errorf("cachekey: marshal variables: %w", err)
	}

	keys := make([]string, 0, len(extraKeys))
	for k := range extraKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.Write(varBytes)
	sb.WriteByte(0)
	sb.Write(authScope)
	sb.WriteByte(0)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(extraKeys[k])
		sb.WriteByte(';')
	}

	return sha256Hex([]byte(sb.String())), nil
}

// RootKey computes the root cache key for a non-entity query:
//
//	v1:subgraph:{S}:type:{T}:hash:{Q}:data:{D}[:U]
func RootKey(req Request) (string, error) {
	d, err := dataHash(req.Variables, req.AuthScope, req.ExtraKeys)
	if err != nil {
		return "", err
	}

	q := queryHash(req.QueryText, req.OperationName)
	key := fmt.Sprintf("%s:subgraph:%s:type:%s:hash:%s:data:%s",
		FormatVersion, req.Subgraph, rootType(req.RootType), q, d)
	if req.UserScope != "" {
		key += ":" + sha256Hex([]byte(req.UserScope))
	}
	return key, nil
}

// representationHash hashes a single representation with its type
// discriminator elided — the discriminator is carried plainly in the key
// instead, so prefix scans can target "all entries of this type."
//
// Returns the typename and the hash. The input map is not mutated; a
// shallow copy is hashed so the original (with __typename intact) can be
// forwarded upstream unchanged.
func representationHash(repr map[string]any) (typename string, hash string, err error) {
	tnVal, ok := repr[TypenameField]
	if !ok {
		return "", "", ErrMissingTypename
	}
	typename, ok = tnVal.(string)
	if !ok || typename == "" {
		return "", "", ErrMissingTypename
	}

	stripped := make(map[string]any, len(repr)-1)
	for k, v := range repr {
		if k == TypenameField {
			continue
		}
		stripped[k] = v
	}

	b, err := canonicalJSON(stripped)
	if err != nil {
		return "", "", fmt.Errorf("cachekey: marshal representation: %w", err)
	}
	return typename, sha256Hex(b), nil
}

// EntityKeys computes one key per representation found in
// req.Variables[RepresentationsVariable], in input order. A representations
// entry that is absent or nil is treated as an empty list; a representations
// entry that is present but not a JSON array is a malformed request.
func EntityKeys(req Request) ([]EntityKey, error) {
	var reprs []any
	if raw, present := req.Variables[RepresentationsVariable]; present && raw != nil {
		r, ok := raw.([]any)
		if !ok {
			return nil, ErrRepresentationsNotArray
		}
		reprs = r
	}

	d, err := dataHash(req.Variables, req.AuthScope, req.ExtraKeys)
	if err != nil {
		return nil, err
	}
	q := queryHash(req.QueryText, req.OperationName)

	keys := make([]EntityKey, 0, len(reprs))
	for i, r := range reprs {
		repr, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("cachekey: representation %d is not an object", i)
		}
		typename, entityHash, err := representationHash(repr)
		if err != nil {
			return nil, fmt.Errorf("cachekey: representation %d: %w", i, err)
		}

		key := fmt.Sprintf("%s:subgraph:%s:%s:%s:%s:%s",
			FormatVersion, req.Subgraph, typename, entityHash, q, d)
		if req.UserScope != "" {
			key += ":" + sha256Hex([]byte(req.UserScope))
		}

		keys = append(keys, EntityKey{Index: i, Typename: typename, Key: key})
	}
	return keys, nil
}

// SubgraphPrefix returns the prefix matching every key (root or entity)
// belonging to subgraph, for a whole-subgraph invalidation target.
func SubgraphPrefix(subgraph string) string {
	return fmt.Sprintf("%s:subgraph:%s:", FormatVersion, subgraph)
}

// TypePrefix returns the prefix matching every entity key of the given
// typename within subgraph. Typename is positioned directly after the
// subgraph segment in the entity key format so this is a true prefix, not
// an approximation.
func TypePrefix(subgraph, typename string) string {
	return SubgraphPrefix(subgraph) + typename + ":"
}

// EntityPrefix returns the prefix matching every cached query result for
// one specific entity (identified by its representation hash) within
// subgraph and typename.
func EntityPrefix(subgraph, typename, entityHash string) string {
	return TypePrefix(subgraph, typename) + entityHash + ":"
}

// RootQueryPrefix returns the prefix matching every root-query key for a
// given subgraph, root type and query hash. Unlike the entity key, the
// query hash sits immediately after the root type in the root key format,
// so a query-scoped invalidation of root queries is a true prefix too.
func RootQueryPrefix(subgraph, rootTypeName, queryHash string) string {
	return fmt.Sprintf("%s:subgraph:%s:type:%s:hash:%s:", FormatVersion, subgraph, rootType(rootTypeName), queryHash)
}

// MatchesQueryHash reports whether an entity key's query-hash segment
// equals queryHash. The query hash sits after the entity hash segment in
// the entity key format, so a target naming a type and a query hash but no
// specific entity cannot be expressed as a single prefix; the invalidation
// engine scans by TypePrefix and filters with this instead.
func MatchesQueryHash(key, queryHash string) bool {
	parts := strings.Split(key, ":")
	if len(parts) < 6 {
		return false
	}
	return parts[5] == queryHash
}
