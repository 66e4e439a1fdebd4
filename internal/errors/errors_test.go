package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	err := Newf("boom").Build()

	assert.Equal(t, ComponentUnknown, err.Component)
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.Equal(t, "boom", err.Error())
	assert.False(t, err.Timestamp.IsZero())
}

func TestBuilderMetadata(t *testing.T) {
	base := fmt.Errorf("connection refused")
	err := New(base).
		Component("remoteapi").
		Category(CategoryNetwork).
		Context("endpoint", "/segment").
		Build()

	assert.Equal(t, "remoteapi", err.Component)
	assert.Equal(t, CategoryNetwork, err.GetCategory())
	assert.Equal(t, "/segment", err.GetContext()["endpoint"])
	require.ErrorIs(t, err, base)
}

func TestContextCopyIsIsolated(t *testing.T) {
	err := Newf("x").Context("k", "v").Build()

	ctx := err.GetContext()
	ctx["k"] = "mutated"

	assert.Equal(t, "v", err.GetContext()["k"])
}

func TestIsMatchesByCategory(t *testing.T) {
	a := Newf("first").Category(CategoryRemoteRejected).Build()
	b := Newf("second").Category(CategoryRemoteRejected).Build()
	c := Newf("third").Category(CategoryNetwork).Build()

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, c)
}

func TestCategoryOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Newf("inner").Category(CategoryBusy).Build())

	assert.Equal(t, CategoryBusy, CategoryOf(wrapped))
	assert.Equal(t, CategoryGeneric, CategoryOf(fmt.Errorf("plain")))
}
