package enforce_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/warden"
	"github.com/syssam/warden/enforce"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/policy"
	"github.com/syssam/warden/schema"
	"github.com/syssam/warden/store/memstore"
)

// newBlogEngine builds an engine over a seeded in-memory store:
//
//	User    — allow everything.
//	Post    — readable when published or owned; only the owner may create,
//	          update or delete, and a post may never change owner.
//	Comment — readable and writable by everyone, but only the post owner
//	          may delete.
//	Audit   — no rules at all.
func newBlogEngine(t *testing.T) (*enforce.Engine, *memstore.Store) {
	t.Helper()
	g, err := schema.NewGraph(
		&schema.Model{
			Name: "User",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "name", Type: schema.TypeString},
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
				{Name: "published", Type: schema.TypeBool},
				{Name: "author_id", Type: schema.TypeInt, Optional: true},
			},
			Relations: []schema.Relation{
				{Name: "author", Target: "User", BackRef: "posts", FK: "author_id"},
				{Name: "comments", Target: "Comment", Many: true, BackRef: "post"},
			},
		},
		&schema.Model{
			Name: "Comment",
			Fields: []schema.Field{
				{Name: "id", Type: schema.TypeInt},
				{Name: "body", Type: schema.TypeString},
				{Name: "post_id", Type: schema.TypeInt, Optional: true},
			},
			Relations: []schema.Relation{
				{Name: "post", Target: "Post", BackRef: "comments", FK: "post_id"},
			},
		},
		&schema.Model{
			Name:   "Audit",
			Fields: []schema.Field{{Name: "id", Type: schema.TypeInt}},
		},
	)
	require.NoError(t, err)

	owner := &policy.Some{Relation: "author", Expr: &policy.Compare{
		Field: "id", Op: filter.OpEQ, Value: policy.CallerRef{Attr: "id"},
	}}
	postOwner := &policy.Some{Relation: "post", Expr: &policy.Compare{
		Field: "author_id", Op: filter.OpEQ, Value: policy.CallerRef{Attr: "id"},
	}}
	table, err := policy.Build(g, map[string][]*policy.Rule{
		"User": {
			{Effect: policy.EffectAllow, Ops: warden.OpAll},
		},
		"Post": {
			{Effect: policy.EffectAllow, Ops: warden.OpRead, Expr: &policy.Or{Exprs: []policy.Expr{
				&policy.Compare{Field: "published", Op: filter.OpEQ, Value: policy.Literal{Value: true}},
				owner,
			}}},
			{Effect: policy.EffectAllow, Ops: warden.OpCreate | warden.OpUpdate | warden.OpDelete, Expr: owner},
			{Effect: policy.EffectDeny, Ops: warden.OpUpdate, Expr: &policy.Compare{
				Field: "author_id", Future: true, Op: filter.OpNEQ, Value: policy.FieldRef{Name: "author_id"},
			}},
		},
		"Comment": {
			{Effect: policy.EffectAllow, Ops: warden.OpRead | warden.OpCreate | warden.OpUpdate},
			{Effect: policy.EffectAllow, Ops: warden.OpDelete, Expr: postOwner},
		},
	})
	require.NoError(t, err)

	store := memstore.New(g)
	require.NoError(t, store.Seed("User",
		warden.Row{"id": int64(1), "name": "alice"},
		warden.Row{"id": int64(2), "name": "bob"},
	))
	require.NoError(t, store.Seed("Post",
		warden.Row{"id": int64(1), "title": "go", "published": true, "author_id": int64(1)},
		warden.Row{"id": int64(2), "title": "draft", "published": false, "author_id": int64(1)},
		warden.Row{"id": int64(3), "title": "hello", "published": true, "author_id": int64(2)},
	))
	require.NoError(t, store.Seed("Comment",
		warden.Row{"id": int64(1), "body": "nice", "post_id": int64(1)},
		warden.Row{"id": int64(2), "body": "wip", "post_id": int64(2)},
	))
	return enforce.New(store, g, table), store
}

func asUser(id int64) context.Context {
	return warden.WithUser(context.Background(), warden.User{"id": id})
}

func postIDs(rows []warden.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r["id"].(int64)
	}
	return out
}

func TestFindMany(t *testing.T) {
	t.Parallel()
	e, _ := newBlogEngine(t)
	alice, bob := asUser(1), asUser(2)

	t.Run("trims unreadable rows", func(t *testing.T) {
		rows, err := e.FindMany(bob, "Post", nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{1, 3}, postIDs(rows))

		rows, err = e.FindMany(alice, "Post", nil)
		require.NoError(t, err)
		assert.Len(t, rows, 3, "owner sees her draft")
	})

	t.Run("anonymous caller", func(t *testing.T) {
		rows, err := e.FindMany(context.Background(), "Post", nil)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{1, 3}, postIDs(rows), "published posts only")
	})

	t.Run("caller filter is conjoined, not replaced", func(t *testing.T) {
		rows, err := e.FindMany(bob, "Post", &enforce.ReadArgs{Where: filter.EQ("author_id", int64(1))})
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{1}, postIDs(rows), "the draft stays hidden")
	})

	t.Run("model without rules is denied", func(t *testing.T) {
		_, err := e.FindMany(alice, "Audit", nil)
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))
	})

	t.Run("to-many include is trimmed silently", func(t *testing.T) {
		rows, err := e.FindMany(bob, "User", &enforce.ReadArgs{
			Where:   filter.EQ("id", int64(1)),
			Include: map[string]*enforce.ReadArgs{"posts": nil},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		posts, ok := rows[0]["posts"].([]warden.Row)
		require.True(t, ok)
		assert.ElementsMatch(t, []int64{1}, postIDs(posts), "bob sees only alice's published post")
	})

	t.Run("to-one include of a readable row", func(t *testing.T) {
		rows, err := e.FindMany(bob, "Comment", &enforce.ReadArgs{
			Where:   filter.EQ("id", int64(1)),
			Include: map[string]*enforce.ReadArgs{"post": nil},
		})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		post, ok := rows[0]["post"].(warden.Row)
		require.True(t, ok)
		assert.Equal(t, int64(1), post["id"])
	})

	t.Run("to-one include of a hidden row fails the read", func(t *testing.T) {
		// The comment itself is readable, but its post is an unpublished
		// draft of another user. A to-one projection cannot be trimmed, so
		// the read is rejected instead of leaking the draft.
		_, err := e.FindMany(bob, "Comment", &enforce.ReadArgs{
			Where:   filter.EQ("id", int64(2)),
			Include: map[string]*enforce.ReadArgs{"post": nil},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))
	})

	t.Run("unknown include relation", func(t *testing.T) {
		_, err := e.FindMany(alice, "Post", &enforce.ReadArgs{
			Include: map[string]*enforce.ReadArgs{"reviewers": nil},
		})
		assert.True(t, warden.IsConfigError(err))
	})
}

func TestFindFirstUniqueCount(t *testing.T) {
	t.Parallel()
	e, _ := newBlogEngine(t)
	bob := asUser(2)

	t.Run("FindFirst on a hidden row", func(t *testing.T) {
		row, err := e.FindFirst(bob, "Post", &enforce.ReadArgs{Where: filter.EQ("id", int64(2))})
		require.NoError(t, err)
		assert.Nil(t, row)
	})

	t.Run("FindUnique on a hidden row", func(t *testing.T) {
		// Hidden and nonexistent rows are indistinguishable.
		_, err := e.FindUnique(bob, "Post", &enforce.ReadArgs{Where: filter.EQ("id", int64(2))})
		assert.True(t, warden.IsNotFound(err))

		_, err = e.FindUnique(bob, "Post", &enforce.ReadArgs{Where: filter.EQ("id", int64(99))})
		assert.True(t, warden.IsNotFound(err))
	})

	t.Run("Count", func(t *testing.T) {
		n, err := e.Count(bob, "Post", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = e.Count(bob, "Audit", nil)
		assert.True(t, warden.IsPolicyDenied(err))
	})
}

func TestCreate(t *testing.T) {
	t.Parallel()

	t.Run("owner create succeeds", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		row, err := e.Create(asUser(1), "Post", &enforce.WriteArgs{
			Data: []*enforce.WriteData{{
				Set: warden.Row{"title": "new", "published": false, "author_id": int64(1)},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, "new", row["title"])
		assert.NotContains(t, row, enforce.MarkerField, "marker column never leaks")

		got, err := e.FindFirst(asUser(1), "Post", &enforce.ReadArgs{Where: filter.EQ("id", row["id"])})
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("forged create rolls back with its nested writes", func(t *testing.T) {
		e, store := newBlogEngine(t)
		ctx := context.Background()
		before, err := store.Count(ctx, "Post", nil)
		require.NoError(t, err)
		commentsBefore, err := store.Count(ctx, "Comment", nil)
		require.NoError(t, err)

		// The create guard references the row itself, so it can only be
		// verified after the insert; the failing post-check undoes the
		// post and the nested comment alike.
		_, err = e.Create(asUser(2), "Post", &enforce.WriteArgs{
			Data: []*enforce.WriteData{{
				Set: warden.Row{"title": "forged", "published": true, "author_id": int64(1)},
				Rel: map[string]*enforce.RelationOps{
					"comments": {Create: []*enforce.WriteData{{Set: warden.Row{"body": "first"}}}},
				},
			}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))

		after, err := store.Count(ctx, "Post", nil)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		commentsAfter, err := store.Count(ctx, "Comment", nil)
		require.NoError(t, err)
		assert.Equal(t, commentsBefore, commentsAfter)
	})

	t.Run("statically denied model", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Create(asUser(1), "Audit", &enforce.WriteArgs{
			Data: []*enforce.WriteData{{Set: warden.Row{"id": int64(9)}}},
		})
		assert.True(t, warden.IsPolicyDenied(err))
	})

	t.Run("argument shape", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Create(asUser(1), "Post", nil)
		assert.True(t, warden.IsConfigError(err))
		_, err = e.Create(asUser(1), "Post", &enforce.WriteArgs{Data: []*enforce.WriteData{{}, {}}})
		assert.True(t, warden.IsConfigError(err))
	})
}

func TestCreateMany(t *testing.T) {
	t.Parallel()

	t.Run("all rows pass", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		n, err := e.CreateMany(asUser(1), "Post", &enforce.WriteArgs{
			Data: []*enforce.WriteData{
				{Set: warden.Row{"title": "a", "author_id": int64(1)}},
				{Set: warden.Row{"title": "b", "author_id": int64(1)}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("one bad row fails the batch", func(t *testing.T) {
		e, store := newBlogEngine(t)
		before, err := store.Count(context.Background(), "Post", nil)
		require.NoError(t, err)

		_, err = e.CreateMany(asUser(1), "Post", &enforce.WriteArgs{
			Data: []*enforce.WriteData{
				{Set: warden.Row{"title": "mine", "author_id": int64(1)}},
				{Set: warden.Row{"title": "theirs", "author_id": int64(2)}},
			},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))

		after, err := store.Count(context.Background(), "Post", nil)
		require.NoError(t, err)
		assert.Equal(t, before, after, "no partial batch survives")
	})
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	t.Run("owner updates her post", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		row, err := e.Update(asUser(1), "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(2)),
			Data:  []*enforce.WriteData{{Set: warden.Row{"published": true}}},
		})
		require.NoError(t, err)
		assert.Equal(t, true, row["published"])
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Update(asUser(2), "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(1)),
			Data:  []*enforce.WriteData{{Set: warden.Row{"title": "defaced"}}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))
	})

	t.Run("missing row", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Update(asUser(1), "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(99)),
			Data:  []*enforce.WriteData{{Set: warden.Row{"title": "x"}}},
		})
		assert.True(t, warden.IsNotFound(err))
	})

	t.Run("owner change is caught after the mutation", func(t *testing.T) {
		e, store := newBlogEngine(t)
		// Alice may update her own post, but handing it to bob violates
		// the post-update guard; the transaction rolls the change back.
		_, err := e.Update(asUser(1), "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(2)),
			Data:  []*enforce.WriteData{{Set: warden.Row{"author_id": int64(2)}}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))

		rows, err := store.FindMany(context.Background(), "Post", &enforce.ReadArgs{Where: filter.EQ("id", int64(2))})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0]["author_id"], "rolled back")
	})
}

func TestUpdateMany(t *testing.T) {
	t.Parallel()
	e, store := newBlogEngine(t)

	// The guard lands in the filter, so rows outside policy are skipped
	// rather than rejected.
	n, err := e.UpdateMany(asUser(2), "Post", &enforce.WriteArgs{
		Data: []*enforce.WriteData{{Set: warden.Row{"title": "renamed"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only bob's own post")

	rows, err := store.FindMany(context.Background(), "Post", &enforce.ReadArgs{Where: filter.EQ("id", int64(1))})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "go", rows[0]["title"], "alice's post untouched")
}

func TestDelete(t *testing.T) {
	t.Parallel()

	t.Run("owner deletes", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		row, err := e.Delete(asUser(2), "Post", &enforce.WriteArgs{Where: filter.EQ("id", int64(3))})
		require.NoError(t, err)
		assert.Equal(t, int64(3), row["id"])
	})

	t.Run("non-owner is rejected", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Delete(asUser(2), "Post", &enforce.WriteArgs{Where: filter.EQ("id", int64(1))})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))
	})

	t.Run("missing row", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Delete(asUser(1), "Post", &enforce.WriteArgs{Where: filter.EQ("id", int64(99))})
		assert.True(t, warden.IsNotFound(err))
	})

	t.Run("deleteMany trims", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		// Bob owns neither post the comments hang off, so nothing matches.
		n, err := e.DeleteMany(asUser(2), "Comment", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = e.DeleteMany(asUser(1), "Comment", nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}

func TestNestedWrites(t *testing.T) {
	t.Parallel()

	t.Run("nested create under update", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Update(asUser(1), "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(1)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"comments": {Create: []*enforce.WriteData{{Set: warden.Row{"body": "another"}}}},
				},
			}},
		})
		require.NoError(t, err)

		n, err := e.Count(asUser(1), "Comment", filter.EQ("post_id", int64(1)))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})

	t.Run("to-one nested update uses the reversed filter", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		// Updating a comment is open to everyone, but the nested post
		// update resolves its target through the comment's back-link and
		// bob does not own the post it reaches.
		_, err := e.Update(asUser(2), "Comment", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(1)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"post": {Update: []*enforce.NestedUpdate{{Data: &enforce.WriteData{Set: warden.Row{"title": "defaced"}}}}},
				},
			}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))

		// The same write succeeds for the post's owner.
		_, err = e.Update(asUser(1), "Comment", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(1)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"post": {Update: []*enforce.NestedUpdate{{Data: &enforce.WriteData{Set: warden.Row{"title": "edited"}}}}},
				},
			}},
		})
		require.NoError(t, err)
	})

	t.Run("nested upsert creates when missing", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Update(asUser(1), "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(2)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"comments": {Upsert: []*enforce.Upsert{{
						Where:  filter.EQ("body", "pinned"),
						Create: &enforce.WriteData{Set: warden.Row{"body": "pinned"}},
						Update: &enforce.WriteData{Set: warden.Row{"body": "pinned"}},
					}}},
				},
			}},
		})
		require.NoError(t, err)

		n, err := e.Count(asUser(1), "Comment", filter.EQ("body", "pinned"))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("nested delete under an unowned post", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		// Comment deletion requires owning the post; bob reaches alice's
		// comment through his own root update of the comment table shape.
		_, err := e.Update(asUser(2), "Post", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(3)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"comments": {Delete: []filter.Predicate{filter.EQ("id", int64(1))}},
				},
			}},
		})
		require.Error(t, err)
	})
}

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("connect cannot re-parent an unowned row", func(t *testing.T) {
		e, store := newBlogEngine(t)
		// An inverse connect rewrites the connected post's foreign key, so
		// it runs under the post's update guard; bob does not own post 1.
		_, err := e.Update(asUser(2), "User", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(2)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"posts": {Connect: []filter.Predicate{filter.EQ("id", int64(1))}},
				},
			}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))

		rows, err := store.FindMany(context.Background(), "Post", &enforce.ReadArgs{Where: filter.EQ("id", int64(1))})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0]["author_id"], "post keeps its owner")
	})

	t.Run("connect owner change is caught after the mutation", func(t *testing.T) {
		e, store := newBlogEngine(t)
		// Alice owns post 2 and passes the pre-check, but connecting it to
		// bob's user changes its owner; the post-update guard rolls it back.
		_, err := e.Update(asUser(1), "User", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(2)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"posts": {Connect: []filter.Predicate{filter.EQ("id", int64(2))}},
				},
			}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))

		rows, err := store.FindMany(context.Background(), "Post", &enforce.ReadArgs{Where: filter.EQ("id", int64(2))})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, int64(1), rows[0]["author_id"], "rolled back")
	})

	t.Run("connectOrCreate connect branch is guarded", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		_, err := e.Update(asUser(2), "User", &enforce.WriteArgs{
			Where: filter.EQ("id", int64(2)),
			Data: []*enforce.WriteData{{
				Rel: map[string]*enforce.RelationOps{
					"posts": {ConnectOrCreate: []*enforce.ConnectOrCreate{{
						Where:  filter.EQ("id", int64(1)),
						Create: &enforce.WriteData{Set: warden.Row{"title": "mine", "author_id": int64(2)}},
					}}},
				},
			}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))
	})

	t.Run("owning connect runs under the parent's guard", func(t *testing.T) {
		e, _ := newBlogEngine(t)
		row, err := e.Create(asUser(1), "Post", &enforce.WriteArgs{
			Data: []*enforce.WriteData{{
				Set: warden.Row{"title": "linked"},
				Rel: map[string]*enforce.RelationOps{
					"author": {Connect: []filter.Predicate{filter.EQ("id", int64(1))}},
				},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), row["author_id"])

		// The same shape forging another user's post fails the create
		// post-check.
		_, err = e.Create(asUser(2), "Post", &enforce.WriteArgs{
			Data: []*enforce.WriteData{{
				Set: warden.Row{"title": "forged"},
				Rel: map[string]*enforce.RelationOps{
					"author": {Connect: []filter.Predicate{filter.EQ("id", int64(1))}},
				},
			}},
		})
		require.Error(t, err)
		assert.True(t, warden.IsPolicyDenied(err))
	})
}

func TestWriteUnknownModel(t *testing.T) {
	t.Parallel()
	e, _ := newBlogEngine(t)

	_, err := e.Update(asUser(1), "Ghost", &enforce.WriteArgs{
		Data: []*enforce.WriteData{{Set: warden.Row{"x": 1}}},
	})
	assert.True(t, warden.IsConfigError(err))
}
