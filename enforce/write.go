package enforce

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/policy"
)

// ledger is the transient per-call state of one write: the call's create
// marker, the models whose created rows must be post-checked, and the
// pre-mutation snapshots captured for post-update verification.
type ledger struct {
	marker    string
	creates   map[string]struct{}
	snapshots map[string][]snapshot
}

type snapshot struct {
	id  any
	row warden.Row
}

func newLedger() *ledger {
	return &ledger{
		marker:    uuid.NewString(),
		creates:   make(map[string]struct{}),
		snapshots: make(map[string][]snapshot),
	}
}

// needsTx reports whether the write accumulated post-check obligations and
// therefore must run inside a transaction.
func (l *ledger) needsTx() bool {
	return len(l.creates) > 0 || len(l.snapshots) > 0
}

// Create inserts one row (with any nested relation writes) under policy and
// returns it.
func (e *Engine) Create(ctx context.Context, model string, args *WriteArgs) (warden.Row, error) {
	if args == nil || len(args.Data) != 1 {
		return nil, warden.NewConfigError("create on %q requires exactly one data element", model)
	}
	var out warden.Row
	err := e.write(ctx, model, KindCreate, args, func(ctx context.Context, s Store, args *WriteArgs) error {
		row, err := s.Create(ctx, model, args.Data[0], args.Select)
		out = row
		return err
	})
	if err != nil {
		return nil, err
	}
	stripMarkerRow(out)
	return out, nil
}

// CreateMany inserts a batch of rows under policy and returns the number
// created. A guard failure on any row fails the whole batch.
func (e *Engine) CreateMany(ctx context.Context, model string, args *WriteArgs) (int64, error) {
	if args == nil || len(args.Data) == 0 {
		return 0, warden.NewConfigError("createMany on %q requires at least one data element", model)
	}
	var n int64
	err := e.write(ctx, model, KindCreate, args, func(ctx context.Context, s Store, args *WriteArgs) error {
		count, err := s.CreateMany(ctx, model, args.Data)
		n = count
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Update mutates the single row matching args.Where (with any nested
// relation writes) under policy and returns the updated row.
func (e *Engine) Update(ctx context.Context, model string, args *WriteArgs) (warden.Row, error) {
	if args == nil || len(args.Data) != 1 {
		return nil, warden.NewConfigError("update on %q requires exactly one data element", model)
	}
	var out warden.Row
	err := e.write(ctx, model, KindUpdate, args, func(ctx context.Context, s Store, args *WriteArgs) error {
		row, err := s.Update(ctx, model, args)
		out = row
		return err
	})
	if err != nil {
		return nil, err
	}
	stripMarkerRow(out)
	return out, nil
}

// UpdateMany mutates all rows matching args.Where under policy and returns
// the number updated. The guard is injected into the filter, so rows
// outside policy are silently excluded from the mutation.
func (e *Engine) UpdateMany(ctx context.Context, model string, args *WriteArgs) (int64, error) {
	if args == nil || len(args.Data) != 1 {
		return 0, warden.NewConfigError("updateMany on %q requires exactly one data element", model)
	}
	var n int64
	err := e.write(ctx, model, KindUpdateMany, args, func(ctx context.Context, s Store, args *WriteArgs) error {
		count, err := s.UpdateMany(ctx, model, args)
		n = count
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Delete removes the single row matching args.Where under policy and
// returns it.
func (e *Engine) Delete(ctx context.Context, model string, args *WriteArgs) (warden.Row, error) {
	if args == nil {
		args = &WriteArgs{}
	}
	var out warden.Row
	err := e.write(ctx, model, KindDelete, args, func(ctx context.Context, s Store, args *WriteArgs) error {
		row, err := s.Delete(ctx, model, args)
		out = row
		return err
	})
	if err != nil {
		return nil, err
	}
	stripMarkerRow(out)
	return out, nil
}

// DeleteMany removes all rows matching args.Where under policy and returns
// the number removed. The guard is injected into the filter.
func (e *Engine) DeleteMany(ctx context.Context, model string, args *WriteArgs) (int64, error) {
	if args == nil {
		args = &WriteArgs{}
	}
	var n int64
	err := e.write(ctx, model, KindDeleteMany, args, func(ctx context.Context, s Store, args *WriteArgs) error {
		count, err := s.DeleteMany(ctx, model, args)
		n = count
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// write orchestrates one write call: clone the arguments, force the row
// identifier into the projection, run the validation traversal, then
// execute — directly when nothing needs post-checking, otherwise inside a
// transaction whose post-checks can roll the whole write back.
func (e *Engine) write(ctx context.Context, model string, kind Kind, args *WriteArgs, perform func(context.Context, Store, *WriteArgs) error) error {
	args = args.Clone()
	m, ok := e.graph.Model(model)
	if !ok {
		return warden.NewConfigError("unknown model %q", model)
	}
	if len(args.Select) > 0 && !slices.Contains(args.Select, m.ID()) {
		args.Select = append(args.Select, m.ID())
	}
	user := warden.UserFromContext(ctx)
	led := newLedger()
	if err := Walk(e.graph, model, kind, args, e.writeVisitor(ctx, user, led)); err != nil {
		return err
	}
	if !led.needsTx() {
		return perform(ctx, e.store, args)
	}
	return e.store.Tx(ctx, func(ctx context.Context, tx Store) error {
		if err := perform(ctx, tx, args); err != nil {
			return err
		}
		return e.postCheckWrites(ctx, tx, user, led)
	})
}

// writeVisitor builds the traversal callbacks that apply pre-checks, tag
// created rows for post-checking, and capture pre-mutation snapshots.
func (e *Engine) writeVisitor(ctx context.Context, user warden.User, led *ledger) VisitFunc {
	return func(v *Visit) error {
		switch v.Kind {
		case KindCreate:
			return e.visitCreate(user, led, v.Model, v.Data)
		case KindConnect:
			return e.visitConnect(ctx, user, led, v)
		case KindConnectOrCreate:
			if err := e.visitCreate(user, led, v.Model, v.Data); err != nil {
				return err
			}
			return e.visitConnect(ctx, user, led, v)
		case KindUpdate:
			return e.visitUpdate(ctx, user, led, v, true)
		case KindUpdateMany:
			return e.visitUpdateMany(ctx, user, led, v)
		case KindUpsert:
			if err := e.visitCreate(user, led, v.Model, v.Upsert.Create); err != nil {
				return err
			}
			return e.visitUpdate(ctx, user, led, v, false)
		case KindDelete:
			return e.visitDelete(ctx, user, v)
		case KindDeleteMany:
			return e.visitDeleteMany(user, v)
		default:
			return nil
		}
	}
}

// visitCreate evaluates the create guard. Conditional guards cannot be
// checked before the row exists, so the row is tagged with the call marker
// and the model recorded for a post-check inside the transaction.
func (e *Engine) visitCreate(user warden.User, led *ledger, model string, data *WriteData) error {
	g, err := e.guard(model, warden.OpCreate)
	if err != nil {
		return err
	}
	switch g.Kind() {
	case policy.KindDeny:
		return warden.DeniedError(model, warden.OpCreate)
	case policy.KindAllow:
		return nil
	default:
		if data == nil {
			return warden.NewConfigError("create on %q carries no data", model)
		}
		if data.Set == nil {
			data.Set = warden.Row{}
		}
		data.Set[MarkerField] = led.marker
		led.creates[model] = struct{}{}
		return nil
	}
}

// visitConnect guards a connect against the model whose foreign key the
// store rewrites. Through an owning relation that is the parent row and the
// parent's own visit covers the write; through an inverse relation the
// connected row itself is re-parented, which is an update of that row and
// runs under its update and post-update guards.
func (e *Engine) visitConnect(ctx context.Context, user warden.User, led *ledger, v *Visit) error {
	if v.Relation == nil || v.Relation.FK != "" {
		return nil
	}
	g, err := e.guard(v.Model, warden.OpUpdate)
	if err != nil {
		return err
	}
	post, err := e.guard(v.Model, warden.OpPostUpdate)
	if err != nil {
		return err
	}
	if g.Kind() == policy.KindDeny || post.Kind() == policy.KindDeny {
		return warden.DeniedError(v.Model, warden.OpUpdate)
	}
	if g.Kind() == policy.KindConditional {
		total, err := e.store.Count(ctx, v.Model, v.Where)
		if err != nil {
			return warden.NewQueryError(v.Model, "count", err)
		}
		// No matching row: a plain connect fails in the store as NotFound,
		// a connectOrCreate falls through to its create branch.
		if total > 0 {
			allowed, err := e.store.Count(ctx, v.Model, filter.Conjoin(v.Where, g.Predicate(user, nil)))
			if err != nil {
				return warden.NewQueryError(v.Model, "count", err)
			}
			if allowed < total {
				return warden.RejectedError(v.Model, warden.OpUpdate, int(total-allowed))
			}
		}
	}
	if post.Kind() == policy.KindConditional {
		return e.captureSnapshots(ctx, led, v.Model, v.Where)
	}
	return nil
}

// visitUpdate evaluates the before-mutation update guard against current
// table state and captures pre-mutation snapshots for models with a
// post-update guard. requireExists distinguishes a plain update (a missing
// row is NotFound) from an upsert's update branch (a missing row falls
// through to the create branch).
func (e *Engine) visitUpdate(ctx context.Context, user warden.User, led *ledger, v *Visit, requireExists bool) error {
	g, err := e.guard(v.Model, warden.OpUpdate)
	if err != nil {
		return err
	}
	post, err := e.guard(v.Model, warden.OpPostUpdate)
	if err != nil {
		return err
	}
	if g.Kind() == policy.KindDeny || post.Kind() == policy.KindDeny {
		return warden.DeniedError(v.Model, warden.OpUpdate)
	}
	target, err := e.targetFilter(v)
	if err != nil {
		return err
	}
	if g.Kind() == policy.KindConditional {
		pred := g.Predicate(user, nil)
		total, err := e.store.Count(ctx, v.Model, target)
		if err != nil {
			return warden.NewQueryError(v.Model, "count", err)
		}
		if total == 0 {
			if requireExists {
				return warden.NewNotFoundError(v.Model)
			}
			return nil
		}
		allowed, err := e.store.Count(ctx, v.Model, filter.Conjoin(target, pred))
		if err != nil {
			return warden.NewQueryError(v.Model, "count", err)
		}
		if allowed < total {
			return warden.RejectedError(v.Model, warden.OpUpdate, int(total-allowed))
		}
	}
	if post.Kind() == policy.KindConditional {
		return e.captureSnapshots(ctx, led, v.Model, target)
	}
	return nil
}

// visitUpdateMany injects the update guard into the operation's own filter
// (direct filtering is possible in a to-many shape) and captures snapshots
// for a post-update guard.
func (e *Engine) visitUpdateMany(ctx context.Context, user warden.User, led *ledger, v *Visit) error {
	g, err := e.guard(v.Model, warden.OpUpdate)
	if err != nil {
		return err
	}
	post, err := e.guard(v.Model, warden.OpPostUpdate)
	if err != nil {
		return err
	}
	if g.Kind() == policy.KindDeny || post.Kind() == policy.KindDeny {
		return warden.DeniedError(v.Model, warden.OpUpdate)
	}
	guarded := v.Where
	if g.Kind() == policy.KindConditional {
		guarded = filter.Conjoin(v.Where, g.Predicate(user, nil))
		v.SetWhere(guarded)
	}
	if post.Kind() == policy.KindConditional {
		return e.captureSnapshots(ctx, led, v.Model, guarded)
	}
	return nil
}

// visitDelete evaluates the delete guard: a direct filter check in a
// to-many context, a reversed-filter check in a to-one context.
func (e *Engine) visitDelete(ctx context.Context, user warden.User, v *Visit) error {
	g, err := e.guard(v.Model, warden.OpDelete)
	if err != nil {
		return err
	}
	switch g.Kind() {
	case policy.KindDeny:
		return warden.DeniedError(v.Model, warden.OpDelete)
	case policy.KindAllow:
		return nil
	}
	target, err := e.targetFilter(v)
	if err != nil {
		return err
	}
	pred := g.Predicate(user, nil)
	total, err := e.store.Count(ctx, v.Model, target)
	if err != nil {
		return warden.NewQueryError(v.Model, "count", err)
	}
	if total == 0 {
		return warden.NewNotFoundError(v.Model)
	}
	allowed, err := e.store.Count(ctx, v.Model, filter.Conjoin(target, pred))
	if err != nil {
		return warden.NewQueryError(v.Model, "count", err)
	}
	if allowed < total {
		return warden.RejectedError(v.Model, warden.OpDelete, int(total-allowed))
	}
	return nil
}

// visitDeleteMany injects the delete guard into every element of the
// deleteMany filter.
func (e *Engine) visitDeleteMany(user warden.User, v *Visit) error {
	g, err := e.guard(v.Model, warden.OpDelete)
	if err != nil {
		return err
	}
	switch g.Kind() {
	case policy.KindDeny:
		return warden.DeniedError(v.Model, warden.OpDelete)
	case policy.KindConditional:
		v.SetWhere(filter.Conjoin(v.Where, g.Predicate(user, nil)))
	}
	return nil
}

// targetFilter identifies the rows an operation addresses: its own filter
// when one is available (the root, or a to-many nesting), otherwise the
// reversed filter reconstructed from the traversal path via back-links.
func (e *Engine) targetFilter(v *Visit) (filter.Predicate, error) {
	if v.Relation == nil || v.Relation.Many {
		if v.Where == nil && v.Relation == nil {
			return nil, nil
		}
		if v.Where != nil {
			return v.Where, nil
		}
	}
	return e.reversedFilter(v.Path, v.Where)
}

// captureSnapshots records the current values of every row the operation
// will touch, keyed by identifier, for post-mutation verification.
func (e *Engine) captureSnapshots(ctx context.Context, led *ledger, model string, target filter.Predicate) error {
	m, _ := e.graph.Model(model)
	rows, err := e.store.FindMany(ctx, model, &ReadArgs{Where: target})
	if err != nil {
		return warden.NewQueryError(model, "find", err)
	}
	for _, row := range rows {
		led.snapshots[model] = append(led.snapshots[model], snapshot{id: row[m.ID()], row: row})
	}
	return nil
}

// postCheckWrites runs inside the write transaction after the write has
// executed: create checks count rows carrying this call's marker with and
// without the create guard; post-update checks re-evaluate each captured
// snapshot against the now-current row. Checks across models run
// concurrently; any failure aborts and rolls back the transaction.
func (e *Engine) postCheckWrites(ctx context.Context, tx Store, user warden.User, led *ledger) error {
	var group errgroup.Group
	for model := range led.creates {
		model := model
		g, err := e.guard(model, warden.OpCreate)
		if err != nil {
			return err
		}
		pred := g.Predicate(user, nil)
		marker := filter.EQ(MarkerField, led.marker)
		group.Go(func() error {
			return checkCount(ctx, tx, model, marker, warden.OpCreate, pred)
		})
	}
	for model, snaps := range led.snapshots {
		model := model
		post, err := e.guard(model, warden.OpPostUpdate)
		if err != nil {
			return err
		}
		m, _ := e.graph.Model(model)
		for _, sn := range snaps {
			pred := post.Predicate(user, sn.row)
			ident := filter.EQ(m.ID(), sn.id)
			group.Go(func() error {
				return checkCount(ctx, tx, model, ident, warden.OpPostUpdate, pred)
			})
		}
	}
	return group.Wait()
}
