package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/warden"
	"github.com/syssam/warden/enforce"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store/memstore"
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	g, err := schema.NewGraph(
		&schema.Model{
			Name: "User",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "name", Type: schema.TypeString},
				{Name: "age", Type: schema.TypeInt, Optional: true},
			},
			Relations: []schema.Relation{
				{Name: "posts", Target: "Post", Many: true, BackRef: "author"},
			},
		},
		&schema.Model{
			Name: "Post",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "title", Type: schema.TypeString},
				{Name: "author_id", Type: schema.TypeInt, Optional: true},
			},
			Relations: []schema.Relation{
				{Name: "author", Target: "User", BackRef: "posts", FK: "author_id"},
			},
		},
	)
	require.NoError(t, err)
	s := memstore.New(g)
	require.NoError(t, s.Seed("User",
		warden.Row{"id": int64(1), "name": "ann", "age": int64(30)},
		warden.Row{"id": int64(2), "name": "ben"},
	))
	require.NoError(t, s.Seed("Post",
		warden.Row{"id": int64(1), "title": "intro", "author_id": int64(1)},
		warden.Row{"id": int64(2), "title": "followup", "author_id": int64(1)},
		warden.Row{"id": int64(3), "title": "guest", "author_id": int64(2)},
	))
	return s
}

func TestFindMany(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	t.Run("filter and paging", func(t *testing.T) {
		rows, err := s.FindMany(ctx, "Post", &enforce.ReadArgs{
			Where:  filter.EQ("author_id", int64(1)),
			Limit:  1,
			Offset: 1,
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "followup", rows[0]["title"])
	})

	t.Run("select projects", func(t *testing.T) {
		rows, err := s.FindMany(ctx, "User", &enforce.ReadArgs{
			Where:  filter.EQ("id", int64(1)),
			Select: []string{"name"},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, warden.Row{"name": "ann"}, rows[0])
	})

	t.Run("results are copies", func(t *testing.T) {
		rows, err := s.FindMany(ctx, "User", &enforce.ReadArgs{Where: filter.EQ("id", int64(1))})
		require.NoError(t, err)
		rows[0]["name"] = "mutated"

		again, err := s.FindMany(ctx, "User", &enforce.ReadArgs{Where: filter.EQ("id", int64(1))})
		require.NoError(t, err)
		assert.Equal(t, "ann", again[0]["name"])
	})

	t.Run("to-many include", func(t *testing.T) {
		rows, err := s.FindMany(ctx, "User", &enforce.ReadArgs{
			Where:   filter.EQ("id", int64(1)),
			Include: map[string]*enforce.ReadArgs{"posts": {Where: filter.EQ("title", "intro")}},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		posts, ok := rows[0]["posts"].([]warden.Row)
		require.True(t, ok)
		require.Len(t, posts, 1)
		assert.Equal(t, "intro", posts[0]["title"])
	})

	t.Run("to-one include", func(t *testing.T) {
		rows, err := s.FindMany(ctx, "Post", &enforce.ReadArgs{
			Where:   filter.EQ("id", int64(3)),
			Include: map[string]*enforce.ReadArgs{"author": nil},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		author, ok := rows[0]["author"].(warden.Row)
		require.True(t, ok)
		assert.Equal(t, "ben", author["name"])
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := s.FindMany(ctx, "Ghost", nil)
		assert.True(t, warden.IsConfigError(err))
	})
}

func TestPredicates(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	count := func(t *testing.T, model string, p filter.Predicate) int64 {
		t.Helper()
		n, err := s.Count(ctx, model, p)
		require.NoError(t, err)
		return n
	}

	t.Run("comparisons", func(t *testing.T) {
		assert.Equal(t, int64(2), count(t, "Post", filter.EQ("author_id", int64(1))))
		assert.Equal(t, int64(1), count(t, "Post", filter.NEQ("author_id", int64(1))))
		assert.Equal(t, int64(2), count(t, "Post", filter.GT("id", int64(1))))
		assert.Equal(t, int64(2), count(t, "Post", filter.In("id", int64(1), int64(3))))
		assert.Equal(t, int64(1), count(t, "Post", filter.HasPrefix("title", "follow")))
		assert.Equal(t, int64(2), count(t, "Post", filter.Contains("title", "u")))
	})

	t.Run("null semantics", func(t *testing.T) {
		// ben has no age: ordinary comparisons against null never match,
		// only the null checks see the row.
		assert.Equal(t, int64(1), count(t, "User", filter.EQ("age", int64(30))))
		assert.Equal(t, int64(0), count(t, "User", filter.NEQ("age", int64(30))))
		assert.Equal(t, int64(1), count(t, "User", filter.IsNull("age")))
		assert.Equal(t, int64(1), count(t, "User", filter.NotNull("age")))
	})

	t.Run("numeric widths compare loosely", func(t *testing.T) {
		assert.Equal(t, int64(1), count(t, "User", filter.EQ("id", 1)))
		assert.Equal(t, int64(1), count(t, "User", filter.EQ("id", float64(1))))
	})

	t.Run("boolean combinators", func(t *testing.T) {
		assert.Equal(t, int64(1), count(t, "Post", filter.AndOf(
			filter.EQ("author_id", int64(1)),
			filter.EQ("title", "intro"),
		)))
		assert.Equal(t, int64(2), count(t, "Post", filter.OrOf(
			filter.EQ("id", int64(1)),
			filter.EQ("id", int64(2)),
		)))
		assert.Equal(t, int64(3), count(t, "Post", filter.NotOf(filter.EQ("id", int64(99)))))
		assert.Equal(t, int64(3), count(t, "Post", filter.True{}))
		assert.Equal(t, int64(0), count(t, "Post", filter.False{}))
	})

	t.Run("relation quantifiers", func(t *testing.T) {
		assert.Equal(t, int64(2), count(t, "User", filter.Some("posts", filter.True{})))
		assert.Equal(t, int64(1), count(t, "User", filter.Some("posts", filter.EQ("title", "guest"))))
		assert.Equal(t, int64(1), count(t, "User", filter.None("posts", filter.EQ("author_id", int64(1)))))
		assert.Equal(t, int64(2), count(t, "Post", filter.Is("author", filter.EQ("name", "ann"))))
	})
}

func TestWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create assigns an identifier", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Create(ctx, "Post", &enforce.WriteData{Set: warden.Row{"title": "new"}}, nil)
		require.NoError(t, err)
		assert.NotNil(t, row["id"])

		n, err := s.Count(ctx, "Post", filter.EQ("id", row["id"]))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("generated ids skip seeded ones", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Create(ctx, "User", &enforce.WriteData{Set: warden.Row{"name": "cia"}}, nil)
		require.NoError(t, err)
		n, err := s.Count(ctx, "User", filter.EQ("id", row["id"]))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "no collision with seeded rows")
	})

	t.Run("create with owning connect", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Create(ctx, "Post", &enforce.WriteData{
			Set: warden.Row{"title": "linked"},
			Rel: map[string]*enforce.RelationOps{
				"author": {Connect: []filter.Predicate{filter.EQ("name", "ben")}},
			},
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), row["author_id"])
	})

	t.Run("connect to a missing row", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "Post", &enforce.WriteData{
			Set: warden.Row{"title": "dangling"},
			Rel: map[string]*enforce.RelationOps{
				"author": {Connect: []filter.Predicate{filter.EQ("name", "nobody")}},
			},
		}, nil)
		assert.True(t, warden.IsNotFound(err))
	})

	t.Run("create with inverse nested create", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Create(ctx, "User", &enforce.WriteData{
			Set: warden.Row{"name": "dee"},
			Rel: map[string]*enforce.RelationOps{
				"posts": {Create: []*enforce.WriteData{{Set: warden.Row{"title": "hers"}}}},
			},
		}, nil)
		require.NoError(t, err)

		n, err := s.Count(ctx, "Post", filter.EQ("author_id", row["id"]))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("many-shaped op on a to-one relation", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(1)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"author": {UpdateMany: []*enforce.NestedUpdate{{Data: &enforce.WriteData{}}}},
				},
			}},
		})
		assert.True(t, warden.IsConfigError(err))
	})

	t.Run("update and updateMany", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Update(ctx, "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(1)),
			Data:  []*enforce.WriteData{{Set: warden.Row{"title": "revised"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, "revised", row["title"])

		n, err := s.UpdateMany(ctx, "Post", &enforce.WriteArgs{
			Where: filter.EQ("author_id", int64(1)),
			Data:  []*enforce.WriteData{{Set: warden.Row{"title": "batch"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("update missing row", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(99)),
			Data:  []*enforce.WriteData{{Set: warden.Row{"title": "x"}}},
		})
		assert.True(t, warden.IsNotFound(err))
	})

	t.Run("delete and deleteMany", func(t *testing.T) {
		s := newStore(t)
		row, err := s.Delete(ctx, "Post", &enforce.WriteArgs{Where: filter.EQ("id", int64(3))})
		require.NoError(t, err)
		assert.Equal(t, "guest", row["title"])

		n, err := s.DeleteMany(ctx, "Post", &enforce.WriteArgs{Where: filter.EQ("author_id", int64(1))})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		left, err := s.Count(ctx, "Post", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), left)
	})
}

func TestTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("error restores the snapshot", func(t *testing.T) {
		s := newStore(t)
		sentinel := errors.New("boom")
		err := s.Tx(ctx, func(ctx context.Context, tx enforce.Store) error {
			if _, err := tx.Create(ctx, "Post", &enforce.WriteData{Set: warden.Row{"title": "doomed"}}, nil); err != nil {
				return err
			}
			if _, err := tx.DeleteMany(ctx, "Post", &enforce.WriteArgs{Where: filter.EQ("author_id", int64(1))}); err != nil {
				return err
			}
			return sentinel
		})
		assert.ErrorIs(t, err, sentinel)

		n, err := s.Count(ctx, "Post", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n, "everything undone")
	})

	t.Run("success keeps the writes", func(t *testing.T) {
		s := newStore(t)
		err := s.Tx(ctx, func(ctx context.Context, tx enforce.Store) error {
			_, err := tx.Create(ctx, "Post", &enforce.WriteData{Set: warden.Row{"title": "kept"}}, nil)
			return err
		})
		require.NoError(t, err)

		n, err := s.Count(ctx, "Post", filter.EQ("title", "kept"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("nested transactions flatten", func(t *testing.T) {
		s := newStore(t)
		err := s.Tx(ctx, func(ctx context.Context, tx enforce.Store) error {
			return tx.Tx(ctx, func(ctx context.Context, inner enforce.Store) error {
				_, err := inner.Create(ctx, "Post", &enforce.WriteData{Set: warden.Row{"title": "deep"}}, nil)
				return err
			})
		})
		require.NoError(t, err)

		n, err := s.Count(ctx, "Post", filter.EQ("title", "deep"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
