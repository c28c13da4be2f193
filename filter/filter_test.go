package filter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/warden/filter"
)

func TestCombinators(t *testing.T) {
	t.Parallel()

	t.Run("AndOf_empty", func(t *testing.T) {
		assert.Equal(t, filter.True{}, filter.AndOf())
	})

	t.Run("AndOf_single", func(t *testing.T) {
		p := filter.EQ("id", 1)
		assert.Same(t, p, filter.AndOf(p))
	})

	t.Run("AndOf_flattens", func(t *testing.T) {
		p := filter.AndOf(
			filter.AndOf(filter.EQ("a", 1), filter.EQ("b", 2)),
			filter.EQ("c", 3),
		)
		and, ok := p.(*filter.And)
		require.True(t, ok)
		assert.Len(t, and.Preds, 3)
	})

	t.Run("AndOf_drops_nil", func(t *testing.T) {
		p := filter.AndOf(nil, filter.EQ("a", 1), nil)
		assert.Equal(t, filter.EQ("a", 1), p)
	})

	t.Run("OrOf_empty", func(t *testing.T) {
		assert.Equal(t, filter.False{}, filter.OrOf())
	})

	t.Run("OrOf_flattens", func(t *testing.T) {
		p := filter.OrOf(
			filter.OrOf(filter.EQ("a", 1), filter.EQ("b", 2)),
			filter.EQ("c", 3),
		)
		or, ok := p.(*filter.Or)
		require.True(t, ok)
		assert.Len(t, or.Preds, 3)
	})

	t.Run("NotOf", func(t *testing.T) {
		p := filter.EQ("a", 1)
		n := filter.NotOf(p)
		assert.IsType(t, &filter.Not{}, n)
		// Double negation collapses.
		assert.Same(t, p, filter.NotOf(n))
		// Constants flip.
		assert.Equal(t, filter.False{}, filter.NotOf(filter.True{}))
		assert.Equal(t, filter.True{}, filter.NotOf(filter.False{}))
	})
}

func TestConjoin(t *testing.T) {
	t.Parallel()

	where := filter.EQ("id", 1)
	guard := filter.EQ("owner", 7)

	assert.Nil(t, filter.Conjoin(nil, nil))
	assert.Same(t, where, filter.Conjoin(where, nil))
	assert.Same(t, guard, filter.Conjoin(nil, guard))

	both := filter.Conjoin(where, guard)
	and, ok := both.(*filter.And)
	require.True(t, ok)
	assert.Len(t, and.Preds, 2)
}

func TestString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pred filter.Predicate
		want string
	}{
		{filter.True{}, "true"},
		{filter.False{}, "false"},
		{filter.EQ("id", 1), "id eq 1"},
		{filter.IsNull("deleted_at"), "deleted_at isNull"},
		{filter.AndOf(filter.EQ("a", 1), filter.NEQ("b", 2)), "and(a eq 1, b neq 2)"},
		{filter.NotOf(filter.EQ("a", 1)), "not(a eq 1)"},
		{filter.Some("posts", filter.EQ("published", true)), "posts.some(published eq true)"},
		{filter.Is("author", filter.EQ("id", 7)), "author.is(id eq 7)"},
		{&filter.Relation{Field: "posts", Quant: filter.QuantSome}, "posts.some"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.pred.String())
	}
}
