package pluginregistry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraphd/flowgraphd/internal/coreerr"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	d := Descriptor{Kind: "mock", Build: func(id string, config map[string]any) (any, error) { return id, nil }}

	require.NoError(t, r.Register(CategorySource, d))

	got, err := r.Lookup(CategorySource, "mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", got.Kind)
}

func TestRegisterDuplicateKind(t *testing.T) {
	r := New()
	d := Descriptor{Kind: "mock", Build: func(id string, config map[string]any) (any, error) { return nil, nil }}

	require.NoError(t, r.Register(CategorySource, d))
	err := r.Register(CategorySource, d)
	assert.ErrorIs(t, err, coreerr.Duplicate)
}

func TestRegisterEmptyKind(t *testing.T) {
	r := New()
	err := r.Register(CategorySource, Descriptor{Build: func(id string, config map[string]any) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, coreerr.Config)
}

func TestLookupUnknownKind(t *testing.T) {
	r := New()
	_, err := r.Lookup(CategoryReaction, "nope")
	assert.True(t, errors.Is(err, coreerr.Unknown))
}

func TestCategoriesAreIsolated(t *testing.T) {
	r := New()
	d := Descriptor{Kind: "shared", Build: func(id string, config map[string]any) (any, error) { return nil, nil }}

	require.NoError(t, r.Register(CategorySource, d))
	require.NoError(t, r.Register(CategoryReaction, d))

	_, err := r.Lookup(CategoryBootstrapProvider, "shared")
	assert.ErrorIs(t, err, coreerr.Unknown)

	_, err = r.Lookup(CategorySource, "shared")
	assert.NoError(t, err)
}

func TestKinds(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(CategorySource, Descriptor{Kind: "a", Build: func(id string, config map[string]any) (any, error) { return nil, nil }}))
	require.NoError(t, r.Register(CategorySource, Descriptor{Kind: "b", Build: func(id string, config map[string]any) (any, error) { return nil, nil }}))

	kinds := r.Kinds(CategorySource)
	assert.ElementsMatch(t, []string{"a", "b"}, kinds)
	assert.Empty(t, r.Kinds(CategoryReaction))
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "source", CategorySource.String())
	assert.Equal(t, "bootstrap provider", CategoryBootstrapProvider.String())
	assert.Equal(t, "reaction", CategoryReaction.String())
}
