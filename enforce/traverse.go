package enforce

import (
	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/schema"
)

// Kind identifies a nested write operation.
type Kind string

// Nested write operation kinds.
const (
	KindCreate          Kind = "create"
	KindConnect         Kind = "connect"
	KindConnectOrCreate Kind = "connectOrCreate"
	KindUpdate          Kind = "update"
	KindUpdateMany      Kind = "updateMany"
	KindUpsert          Kind = "upsert"
	KindDelete          Kind = "delete"
	KindDeleteMany      Kind = "deleteMany"
)

// PathStep records one level of relation traversal: the model and relation
// field descended through, and the filter scoping that level (the owning
// operation's where-clause; nil under a create).
type PathStep struct {
	Model    string
	Relation string
	Where    filter.Predicate
}

// Visit describes one nested operation encountered by the traversal.
type Visit struct {
	// Model is the model this operation targets.
	Model string
	// Kind is the operation kind.
	Kind Kind
	// Data is the operation's payload: the row for create kinds, the
	// assignments for update kinds, nil otherwise. For upserts it is the
	// create branch; see Upsert.
	Data *WriteData
	// Where is the operation's own filter, nil where the argument shape
	// has none (creates, and updates nested under a to-one relation).
	Where filter.Predicate
	// Path is the chain of relation traversals from the root down to this
	// operation. Empty at the root.
	Path []PathStep
	// Relation is the relation field through which this operation was
	// reached; nil at the root.
	Relation *schema.Relation
	// Upsert carries both branches when Kind is KindUpsert.
	Upsert *Upsert
	// SetWhere rewrites the operation's filter in the argument tree, for
	// callbacks that inject predicates in place. Nil when the operation
	// has no filter slot.
	SetWhere func(filter.Predicate)
}

// VisitFunc is invoked for every nested operation, in the structural order
// the operations appear in the argument tree.
type VisitFunc func(v *Visit) error

// Walk traverses the argument tree of a root write operation, invoking fn
// for the root operation and every nested operation at any depth. The walk
// itself enforces no policy; it is a structural traversal driven by the
// caller's callbacks.
func Walk(g *schema.Graph, model string, kind Kind, args *WriteArgs, fn VisitFunc) error {
	if _, ok := g.Model(model); !ok {
		return warden.NewConfigError("unknown model %q", model)
	}
	w := &walker{graph: g, fn: fn}
	switch kind {
	case KindCreate:
		for _, d := range args.Data {
			if err := fn(&Visit{Model: model, Kind: KindCreate, Data: d}); err != nil {
				return err
			}
			if err := w.data(model, d, nil, nil); err != nil {
				return err
			}
		}
		return nil
	case KindUpdate:
		var data *WriteData
		if len(args.Data) > 0 {
			data = args.Data[0]
		}
		v := &Visit{Model: model, Kind: KindUpdate, Data: data, Where: args.Where}
		v.SetWhere = func(p filter.Predicate) { args.Where = p }
		if err := fn(v); err != nil {
			return err
		}
		if data == nil {
			return nil
		}
		return w.data(model, data, nil, args.Where)
	case KindUpdateMany:
		var data *WriteData
		if len(args.Data) > 0 {
			data = args.Data[0]
		}
		if data != nil && len(data.Rel) > 0 {
			return warden.NewConfigError("updateMany on %q cannot carry nested relation writes", model)
		}
		v := &Visit{Model: model, Kind: KindUpdateMany, Data: data, Where: args.Where}
		v.SetWhere = func(p filter.Predicate) { args.Where = p }
		return fn(v)
	case KindDelete:
		v := &Visit{Model: model, Kind: KindDelete, Where: args.Where}
		v.SetWhere = func(p filter.Predicate) { args.Where = p }
		return fn(v)
	case KindDeleteMany:
		v := &Visit{Model: model, Kind: KindDeleteMany, Where: args.Where}
		v.SetWhere = func(p filter.Predicate) { args.Where = p }
		return fn(v)
	default:
		return warden.NewConfigError("unsupported root write kind %q", kind)
	}
}

type walker struct {
	graph *schema.Graph
	fn    VisitFunc
}

// data descends into the nested relation operations of one payload. where is
// the owning operation's filter and becomes the path filter for each level
// descended from here.
func (w *walker) data(model string, d *WriteData, path []PathStep, where filter.Predicate) error {
	m, _ := w.graph.Model(model)
	for _, name := range d.relNames() {
		rel, ok := m.Relation(name)
		if !ok {
			return warden.NewConfigError("unknown relation %s.%s in write payload", model, name)
		}
		step := PathStep{Model: model, Relation: name, Where: where}
		sub := make([]PathStep, len(path), len(path)+1)
		copy(sub, path)
		sub = append(sub, step)
		if err := w.relation(rel, d.Rel[name], sub); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) relation(rel *schema.Relation, ops *RelationOps, path []PathStep) error {
	if ops == nil {
		return nil
	}
	target := rel.Target
	for _, cd := range ops.Create {
		if err := w.fn(&Visit{Model: target, Kind: KindCreate, Data: cd, Path: path, Relation: rel}); err != nil {
			return err
		}
		if err := w.data(target, cd, path, nil); err != nil {
			return err
		}
	}
	for i, p := range ops.Connect {
		if err := w.fn(&Visit{
			Model: target, Kind: KindConnect, Where: p, Path: path, Relation: rel,
			SetWhere: func(np filter.Predicate) { ops.Connect[i] = np },
		}); err != nil {
			return err
		}
	}
	for _, c := range ops.ConnectOrCreate {
		if err := w.fn(&Visit{Model: target, Kind: KindConnectOrCreate, Data: c.Create, Where: c.Where, Path: path, Relation: rel}); err != nil {
			return err
		}
		if c.Create != nil {
			if err := w.data(target, c.Create, path, nil); err != nil {
				return err
			}
		}
	}
	for _, u := range ops.Update {
		if !rel.Many && u.Where != nil {
			return warden.NewConfigError("nested update through to-one relation %q cannot carry a filter", rel.Name)
		}
		if err := w.fn(&Visit{
			Model: target, Kind: KindUpdate, Data: u.Data, Where: u.Where, Path: path, Relation: rel,
			SetWhere: func(np filter.Predicate) { u.Where = np },
		}); err != nil {
			return err
		}
		if u.Data != nil {
			if err := w.data(target, u.Data, path, u.Where); err != nil {
				return err
			}
		}
	}
	for _, u := range ops.UpdateMany {
		if u.Data != nil && len(u.Data.Rel) > 0 {
			return warden.NewConfigError("nested updateMany on %q cannot carry nested relation writes", target)
		}
		if err := w.fn(&Visit{
			Model: target, Kind: KindUpdateMany, Data: u.Data, Where: u.Where, Path: path, Relation: rel,
			SetWhere: func(np filter.Predicate) { u.Where = np },
		}); err != nil {
			return err
		}
	}
	for _, u := range ops.Upsert {
		if err := w.fn(&Visit{
			Model: target, Kind: KindUpsert, Data: u.Create, Where: u.Where, Path: path, Relation: rel, Upsert: u,
			SetWhere: func(np filter.Predicate) { u.Where = np },
		}); err != nil {
			return err
		}
		if u.Create != nil {
			if err := w.data(target, u.Create, path, nil); err != nil {
				return err
			}
		}
		if u.Update != nil {
			if err := w.data(target, u.Update, path, u.Where); err != nil {
				return err
			}
		}
	}
	for i, p := range ops.Delete {
		if err := w.fn(&Visit{
			Model: target, Kind: KindDelete, Where: p, Path: path, Relation: rel,
			SetWhere: func(np filter.Predicate) { ops.Delete[i] = np },
		}); err != nil {
			return err
		}
	}
	for i, p := range ops.DeleteMany {
		if err := w.fn(&Visit{
			Model: target, Kind: KindDeleteMany, Where: p, Path: path, Relation: rel,
			SetWhere: func(np filter.Predicate) { ops.DeleteMany[i] = np },
		}); err != nil {
			return err
		}
	}
	return nil
}
