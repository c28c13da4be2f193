package enforce

import (
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/policy"
	"github.com/syssam/warden/schema"
)

// FindMany returns the rows matching args that the caller is allowed to
// read. The model's read guard is conjoined with the caller's filter, and
// every projected to-many relation is trimmed by the related model's guard.
// Projected to-one relations cannot be filtered at fetch time; they are
// verified after the fetch and a disallowed related row fails the whole
// read rather than being silently omitted.
func (e *Engine) FindMany(ctx context.Context, model string, args *ReadArgs) ([]warden.Row, error) {
	args = args.Clone()
	if err := e.prepareRead(ctx, model, args); err != nil {
		return nil, err
	}
	rows, err := e.store.FindMany(ctx, model, args)
	if err != nil {
		return nil, err
	}
	if err := e.postCheckReads(ctx, model, args, rows); err != nil {
		return nil, err
	}
	stripMarker(rows)
	return rows, nil
}

// FindFirst returns the first readable row matching args, or nil when none
// matches.
func (e *Engine) FindFirst(ctx context.Context, model string, args *ReadArgs) (warden.Row, error) {
	a := args.Clone()
	a.Limit = 1
	rows, err := e.FindMany(ctx, model, a)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FindUnique returns the single readable row matching args. It returns a
// NotFoundError when no row matches, which covers both rows that do not
// exist and rows hidden by policy.
func (e *Engine) FindUnique(ctx context.Context, model string, args *ReadArgs) (warden.Row, error) {
	a := args.Clone()
	a.Limit = 1
	rows, err := e.FindMany(ctx, model, a)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, warden.NewNotFoundError(model)
	}
	return rows[0], nil
}

// Count returns the number of rows matching args.Where that the caller is
// allowed to read.
func (e *Engine) Count(ctx context.Context, model string, where filter.Predicate) (int64, error) {
	g, err := e.guard(model, warden.OpRead)
	if err != nil {
		return 0, err
	}
	if g.Kind() == policy.KindDeny {
		return 0, warden.DeniedError(model, warden.OpRead)
	}
	user := warden.UserFromContext(ctx)
	if g.Kind() == policy.KindConditional {
		where = filter.Conjoin(where, g.Predicate(user, nil))
	}
	return e.store.Count(ctx, model, where)
}

// prepareRead injects read guards into args in place: the model's guard
// into the top-level filter, related guards into every to-many projection,
// and identifier forcing for to-one projections.
func (e *Engine) prepareRead(ctx context.Context, model string, args *ReadArgs) error {
	g, err := e.guard(model, warden.OpRead)
	if err != nil {
		return err
	}
	if g.Kind() == policy.KindDeny {
		return warden.DeniedError(model, warden.OpRead)
	}
	user := warden.UserFromContext(ctx)
	if g.Kind() == policy.KindConditional {
		args.Where = filter.Conjoin(args.Where, g.Predicate(user, nil))
	}
	return e.prepareIncludes(user, model, args)
}

func (e *Engine) prepareIncludes(user warden.User, model string, args *ReadArgs) error {
	m, ok := e.graph.Model(model)
	if !ok {
		return warden.NewConfigError("unknown model %q", model)
	}
	for name, sub := range args.Include {
		rel, ok := m.Relation(name)
		if !ok {
			return warden.NewConfigError("unknown relation %s.%s in include", model, name)
		}
		if sub == nil {
			sub = &ReadArgs{}
			args.Include[name] = sub
		}
		g, err := e.guard(rel.Target, warden.OpRead)
		if err != nil {
			return err
		}
		if rel.Many {
			// Trimming a to-many projection is silent: rows excluded
			// by the guard simply do not appear.
			switch g.Kind() {
			case policy.KindDeny:
				sub.Where = filter.False{}
			case policy.KindConditional:
				sub.Where = filter.Conjoin(sub.Where, g.Predicate(user, nil))
			}
		} else {
			// A to-one fetch has no nested filter point. Force the
			// identifier into the projection and defer to a
			// post-check after the fetch.
			target, _ := e.graph.Model(rel.Target)
			if len(sub.Select) > 0 && !slices.Contains(sub.Select, target.ID()) {
				sub.Select = append(sub.Select, target.ID())
			}
		}
		if err := e.prepareIncludes(user, rel.Target, sub); err != nil {
			return err
		}
	}
	return nil
}

// postCheckReads verifies every to-one relation present in the result via
// the count-comparison primitive. Checks across sibling relations and rows
// are issued concurrently and awaited jointly; one failure fails the read.
func (e *Engine) postCheckReads(ctx context.Context, model string, args *ReadArgs, rows []warden.Row) error {
	var group errgroup.Group
	user := warden.UserFromContext(ctx)
	if err := e.collectToOneChecks(ctx, &group, user, model, args, rows); err != nil {
		return err
	}
	return group.Wait()
}

func (e *Engine) collectToOneChecks(ctx context.Context, group *errgroup.Group, user warden.User, model string, args *ReadArgs, rows []warden.Row) error {
	m, _ := e.graph.Model(model)
	for name, sub := range args.Include {
		rel, _ := m.Relation(name)
		if rel == nil {
			continue
		}
		target, _ := e.graph.Model(rel.Target)
		if rel.Many {
			for _, row := range rows {
				children, _ := row[name].([]warden.Row)
				if err := e.collectToOneChecks(ctx, group, user, rel.Target, sub, children); err != nil {
					return err
				}
			}
			continue
		}
		g, err := e.guard(rel.Target, warden.OpRead)
		if err != nil {
			return err
		}
		for _, row := range rows {
			child, _ := row[name].(warden.Row)
			if child == nil {
				continue
			}
			switch g.Kind() {
			case policy.KindDeny:
				// To-one exposure cannot be trimmed, so a denied
				// related row is a hard error.
				return warden.DeniedError(rel.Target, warden.OpRead)
			case policy.KindConditional:
				e.spawnToOneCheck(ctx, group, user, target, g, child)
			}
			if err := e.collectToOneChecks(ctx, group, user, rel.Target, sub, []warden.Row{child}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) spawnToOneCheck(ctx context.Context, group *errgroup.Group, user warden.User, target *schema.Model, g policy.Guard, child warden.Row) {
	id := child[target.ID()]
	pred := g.Predicate(user, nil)
	group.Go(func() error {
		return checkCount(ctx, e.store, target.Name, filter.EQ(target.ID(), id), warden.OpRead, pred)
	})
}

// stripMarker removes the reserved marker column from result rows,
// including nested relation rows.
func stripMarker(rows []warden.Row) {
	for _, row := range rows {
		stripMarkerRow(row)
	}
}

func stripMarkerRow(row warden.Row) {
	if row == nil {
		return
	}
	delete(row, MarkerField)
	for _, v := range row {
		switch v := v.(type) {
		case warden.Row:
			stripMarkerRow(v)
		case []warden.Row:
			stripMarker(v)
		}
	}
}
