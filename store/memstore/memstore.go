// Package memstore implements the engine's Store interface over in-memory
// tables. It is the reference store: predicate evaluation, nested write
// execution and include materialization follow the same semantics the SQL
// store implements, without a database. It backs the engine's tests and is
// usable as a lightweight store in its own right.
package memstore

import (
	"context"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/syssam/warden"
	"github.com/syssam/warden/enforce"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/schema"
)

// Store holds one table of rows per model. All access is guarded by a
// single lock; transactions snapshot the tables and restore them on error.
type Store struct {
	graph *schema.Graph

	mu     sync.RWMutex
	tables map[string][]warden.Row
	seq    int64
}

var _ enforce.Store = (*Store)(nil)

// New returns an empty store for the given schema.
func New(g *schema.Graph) *Store {
	return &Store{graph: g, tables: make(map[string][]warden.Row)}
}

// Seed inserts rows directly, bypassing nested-write handling. Rows are
// stored as given (including any foreign-key columns). Intended for test
// and example setup.
func (s *Store) Seed(model string, rows ...warden.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.graph.Model(model)
	if !ok {
		return warden.NewConfigError("unknown model %q", model)
	}
	for _, row := range rows {
		cp := cloneRow(row)
		if _, ok := cp[m.ID()]; !ok {
			s.seq++
			cp[m.ID()] = s.seq
		}
		s.advanceSeq(cp[m.ID()])
		s.tables[model] = append(s.tables[model], cp)
	}
	return nil
}

// advanceSeq keeps generated identifiers ahead of explicitly provided ones.
func (s *Store) advanceSeq(id any) {
	if f, ok := toFloat(id); ok && int64(f) > s.seq {
		s.seq = int64(f)
	}
}

func (s *Store) FindMany(ctx context.Context, model string, args *enforce.ReadArgs) ([]warden.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findMany(model, args)
}

func (s *Store) Count(ctx context.Context, model string, where filter.Predicate) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count(model, where)
}

func (s *Store) Create(ctx context.Context, model string, data *enforce.WriteData, sel []string) (warden.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, err := s.create(model, data)
	if err != nil {
		return nil, err
	}
	m, _ := s.graph.Model(model)
	return projectRow(m, row, sel), nil
}

func (s *Store) CreateMany(ctx context.Context, model string, data []*enforce.WriteData) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range data {
		if _, err := s.create(model, d); err != nil {
			return 0, err
		}
	}
	return int64(len(data)), nil
}

func (s *Store) Update(ctx context.Context, model string, args *enforce.WriteArgs) (warden.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(model, args)
}

func (s *Store) UpdateMany(ctx context.Context, model string, args *enforce.WriteArgs) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateMany(model, args)
}

func (s *Store) Delete(ctx context.Context, model string, args *enforce.WriteArgs) (warden.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delete(model, args)
}

func (s *Store) DeleteMany(ctx context.Context, model string, args *enforce.WriteArgs) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMany(model, args)
}

// Tx holds the store lock for the duration of fn. The tables are
// snapshotted first; an error from fn restores the snapshot, undoing every
// statement fn issued.
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx enforce.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.cloneTables()
	seq := s.seq
	if err := fn(ctx, &txStore{s: s}); err != nil {
		s.tables = snap
		s.seq = seq
		return err
	}
	return nil
}

// txStore dispatches to the store internals without locking; the
// transaction already holds the write lock.
type txStore struct {
	s *Store
}

func (t *txStore) FindMany(ctx context.Context, model string, args *enforce.ReadArgs) ([]warden.Row, error) {
	return t.s.findMany(model, args)
}

func (t *txStore) Count(ctx context.Context, model string, where filter.Predicate) (int64, error) {
	return t.s.count(model, where)
}

func (t *txStore) Create(ctx context.Context, model string, data *enforce.WriteData, sel []string) (warden.Row, error) {
	row, err := t.s.create(model, data)
	if err != nil {
		return nil, err
	}
	m, _ := t.s.graph.Model(model)
	return projectRow(m, row, sel), nil
}

func (t *txStore) CreateMany(ctx context.Context, model string, data []*enforce.WriteData) (int64, error) {
	for _, d := range data {
		if _, err := t.s.create(model, d); err != nil {
			return 0, err
		}
	}
	return int64(len(data)), nil
}

func (t *txStore) Update(ctx context.Context, model string, args *enforce.WriteArgs) (warden.Row, error) {
	return t.s.update(model, args)
}

func (t *txStore) UpdateMany(ctx context.Context, model string, args *enforce.WriteArgs) (int64, error) {
	return t.s.updateMany(model, args)
}

func (t *txStore) Delete(ctx context.Context, model string, args *enforce.WriteArgs) (warden.Row, error) {
	return t.s.delete(model, args)
}

func (t *txStore) DeleteMany(ctx context.Context, model string, args *enforce.WriteArgs) (int64, error) {
	return t.s.deleteMany(model, args)
}

func (t *txStore) Tx(ctx context.Context, fn func(ctx context.Context, tx enforce.Store) error) error {
	// Nested transactions flatten into the enclosing one.
	return fn(ctx, t)
}

// ---- reads ----

func (s *Store) findMany(model string, args *enforce.ReadArgs) ([]warden.Row, error) {
	if args == nil {
		args = &enforce.ReadArgs{}
	}
	if _, ok := s.graph.Model(model); !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	return s.materialize(model, s.tables[model], args)
}

// materialize filters, pages, projects and includes over a candidate list.
func (s *Store) materialize(model string, candidates []warden.Row, args *enforce.ReadArgs) ([]warden.Row, error) {
	m, _ := s.graph.Model(model)
	matched, err := s.filterRows(model, candidates, args.Where)
	if err != nil {
		return nil, err
	}
	if args.Offset > 0 {
		if args.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[args.Offset:]
		}
	}
	if args.Limit > 0 && args.Limit < len(matched) {
		matched = matched[:args.Limit]
	}
	out := make([]warden.Row, 0, len(matched))
	for _, row := range matched {
		proj := projectRow(m, row, args.Select)
		for name, sub := range args.Include {
			if sub == nil {
				sub = &enforce.ReadArgs{}
			}
			rel, ok := m.Relation(name)
			if !ok {
				return nil, warden.NewConfigError("unknown relation %s.%s", model, name)
			}
			related, err := s.relatedRows(model, row, name)
			if err != nil {
				return nil, err
			}
			children, err := s.materialize(rel.Target, related, sub)
			if err != nil {
				return nil, err
			}
			if rel.Many {
				proj[name] = children
			} else if len(children) > 0 {
				proj[name] = children[0]
			} else {
				proj[name] = nil
			}
		}
		out = append(out, proj)
	}
	return out, nil
}

func (s *Store) count(model string, where filter.Predicate) (int64, error) {
	if _, ok := s.graph.Model(model); !ok {
		return 0, warden.NewConfigError("unknown model %q", model)
	}
	matched, err := s.filterRows(model, s.tables[model], where)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

func (s *Store) filterRows(model string, rows []warden.Row, where filter.Predicate) ([]warden.Row, error) {
	if where == nil {
		return rows, nil
	}
	var out []warden.Row
	for _, row := range rows {
		ok, err := s.eval(model, row, where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

// eval evaluates a predicate against one stored row. Relation predicates
// resolve related rows through the schema join and recurse.
func (s *Store) eval(model string, row warden.Row, p filter.Predicate) (bool, error) {
	switch p := p.(type) {
	case nil:
		return true, nil
	case filter.True:
		return true, nil
	case filter.False:
		return false, nil
	case *filter.Cmp:
		return evalCmp(row, p)
	case *filter.And:
		for _, sub := range p.Preds {
			ok, err := s.eval(model, row, sub)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case *filter.Or:
		for _, sub := range p.Preds {
			ok, err := s.eval(model, row, sub)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case *filter.Not:
		ok, err := s.eval(model, row, p.Pred)
		return !ok, err
	case *filter.Relation:
		return s.evalRelation(model, row, p)
	default:
		return false, warden.NewConfigError("unsupported predicate %T", p)
	}
}

func (s *Store) evalRelation(model string, row warden.Row, p *filter.Relation) (bool, error) {
	m, _ := s.graph.Model(model)
	rel, ok := m.Relation(p.Field)
	if !ok {
		return false, warden.NewConfigError("unknown relation %s.%s", model, p.Field)
	}
	related, err := s.relatedRows(model, row, p.Field)
	if err != nil {
		return false, err
	}
	switch p.Quant {
	case filter.QuantSome:
		for _, r := range related {
			ok, err := s.eval(rel.Target, r, p.Pred)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case filter.QuantNone:
		for _, r := range related {
			ok, err := s.eval(rel.Target, r, p.Pred)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	case filter.QuantIs:
		if len(related) == 0 {
			return false, nil
		}
		return s.eval(rel.Target, related[0], p.Pred)
	default:
		return false, warden.NewConfigError("unsupported relation quantifier %q", p.Quant)
	}
}

// relatedRows resolves the rows related to row through the named relation.
func (s *Store) relatedRows(model string, row warden.Row, relation string) ([]warden.Row, error) {
	join, err := s.graph.Join(model, relation)
	if err != nil {
		return nil, err
	}
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(relation)
	var out []warden.Row
	if join.FKModel == model {
		// This row carries the foreign key; follow it to the target.
		fk := row[join.FKColumn]
		if fk == nil {
			return nil, nil
		}
		for _, r := range s.tables[rel.Target] {
			if eqVals(r[join.RefColumn], fk) {
				out = append(out, r)
				break
			}
		}
		return out, nil
	}
	// The related table carries the foreign key pointing back at this row.
	id := row[join.RefColumn]
	for _, r := range s.tables[join.FKModel] {
		if eqVals(r[join.FKColumn], id) {
			out = append(out, r)
			if !rel.Many {
				break
			}
		}
	}
	return out, nil
}

// ---- writes ----

func (s *Store) create(model string, data *enforce.WriteData) (warden.Row, error) {
	m, ok := s.graph.Model(model)
	if !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	if data == nil {
		data = &enforce.WriteData{}
	}
	row := cloneRow(data.Set)
	if _, ok := row[m.ID()]; !ok {
		s.seq++
		row[m.ID()] = s.seq
	}
	s.advanceSeq(row[m.ID()])
	// Owning to-one relations must resolve before the row is stored so the
	// foreign key lands in the insert.
	var deferred []string
	for name := range data.Rel {
		join, err := s.graph.Join(model, name)
		if err != nil {
			return nil, err
		}
		if join.FKModel != model {
			deferred = append(deferred, name)
			continue
		}
		if err := s.execOwningOps(model, row, name, join, data.Rel[name]); err != nil {
			return nil, err
		}
	}
	s.tables[model] = append(s.tables[model], row)
	for _, name := range deferred {
		if err := s.execInverseOps(model, row, name, data.Rel[name]); err != nil {
			return nil, err
		}
	}
	return row, nil
}

// execOwningOps handles nested operations on a relation whose foreign key
// lives on the parent row (an owning to-one).
func (s *Store) execOwningOps(model string, row warden.Row, name string, join schema.Join, ops *enforce.RelationOps) error {
	if ops == nil {
		return nil
	}
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(name)
	link := func(child warden.Row) {
		row[join.FKColumn] = child[join.RefColumn]
	}
	for _, cd := range ops.Create {
		child, err := s.create(rel.Target, cd)
		if err != nil {
			return err
		}
		link(child)
	}
	for _, p := range ops.Connect {
		child, err := s.firstMatch(rel.Target, p)
		if err != nil {
			return err
		}
		if child == nil {
			return warden.NewNotFoundError(rel.Target)
		}
		link(child)
	}
	for _, c := range ops.ConnectOrCreate {
		child, err := s.firstMatch(rel.Target, c.Where)
		if err != nil {
			return err
		}
		if child == nil {
			if child, err = s.create(rel.Target, c.Create); err != nil {
				return err
			}
		}
		link(child)
	}
	for _, u := range ops.Update {
		child, err := s.singleRelated(model, row, name)
		if err != nil {
			return err
		}
		if err := s.applyData(rel.Target, child, u.Data); err != nil {
			return err
		}
	}
	for _, u := range ops.Upsert {
		child, err := s.firstRelated(model, row, name)
		if err != nil {
			return err
		}
		if child == nil {
			created, err := s.create(rel.Target, u.Create)
			if err != nil {
				return err
			}
			link(created)
		} else if err := s.applyData(rel.Target, child, u.Update); err != nil {
			return err
		}
	}
	for range ops.Delete {
		child, err := s.singleRelated(model, row, name)
		if err != nil {
			return err
		}
		if err := s.removeRow(rel.Target, child); err != nil {
			return err
		}
		row[join.FKColumn] = nil
	}
	if len(ops.UpdateMany) > 0 || len(ops.DeleteMany) > 0 {
		return warden.NewConfigError("many-shaped nested operation on to-one relation %s.%s", model, name)
	}
	return nil
}

// execInverseOps handles nested operations on a relation whose foreign key
// lives on the related table (a to-many, or the non-owning side of a
// to-one).
func (s *Store) execInverseOps(model string, row warden.Row, name string, ops *enforce.RelationOps) error {
	if ops == nil {
		return nil
	}
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(name)
	join, err := s.graph.Join(model, name)
	if err != nil {
		return err
	}
	parentRef := row[join.RefColumn]
	adopt := func(child warden.Row) {
		child[join.FKColumn] = parentRef
	}
	for _, cd := range ops.Create {
		cd = cd.Clone()
		if cd == nil {
			cd = &enforce.WriteData{}
		}
		if cd.Set == nil {
			cd.Set = warden.Row{}
		}
		cd.Set[join.FKColumn] = parentRef
		if _, err := s.create(rel.Target, cd); err != nil {
			return err
		}
	}
	for _, p := range ops.Connect {
		children, err := s.filterRows(rel.Target, s.tables[rel.Target], p)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return warden.NewNotFoundError(rel.Target)
		}
		for _, child := range children {
			adopt(child)
		}
	}
	for _, c := range ops.ConnectOrCreate {
		child, err := s.firstMatch(rel.Target, c.Where)
		if err != nil {
			return err
		}
		if child != nil {
			adopt(child)
			continue
		}
		cd := c.Create.Clone()
		if cd == nil {
			cd = &enforce.WriteData{}
		}
		if cd.Set == nil {
			cd.Set = warden.Row{}
		}
		cd.Set[join.FKColumn] = parentRef
		if _, err := s.create(rel.Target, cd); err != nil {
			return err
		}
	}
	for _, u := range ops.Update {
		if err := s.updateScoped(model, row, name, u.Where, u.Data, !rel.Many); err != nil {
			return err
		}
	}
	for _, u := range ops.UpdateMany {
		if err := s.updateScoped(model, row, name, u.Where, u.Data, false); err != nil {
			return err
		}
	}
	for _, u := range ops.Upsert {
		children, err := s.scopedMatches(model, row, name, u.Where)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			if err := s.applyData(rel.Target, children[0], u.Update); err != nil {
				return err
			}
			continue
		}
		cd := u.Create.Clone()
		if cd == nil {
			cd = &enforce.WriteData{}
		}
		if cd.Set == nil {
			cd.Set = warden.Row{}
		}
		cd.Set[join.FKColumn] = parentRef
		if _, err := s.create(rel.Target, cd); err != nil {
			return err
		}
	}
	for _, p := range ops.Delete {
		children, err := s.scopedMatches(model, row, name, p)
		if err != nil {
			return err
		}
		if len(children) == 0 {
			return warden.NewNotFoundError(rel.Target)
		}
		if err := s.removeRow(rel.Target, children[0]); err != nil {
			return err
		}
	}
	for _, p := range ops.DeleteMany {
		children, err := s.scopedMatches(model, row, name, p)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := s.removeRow(rel.Target, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// updateScoped updates related rows of one parent. single restricts the
// mutation to the one implied related row (the to-one shape, no filter).
func (s *Store) updateScoped(model string, row warden.Row, name string, where filter.Predicate, data *enforce.WriteData, single bool) error {
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(name)
	if single {
		child, err := s.singleRelated(model, row, name)
		if err != nil {
			return err
		}
		return s.applyData(rel.Target, child, data)
	}
	children, err := s.scopedMatches(model, row, name, where)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := s.applyData(rel.Target, child, data); err != nil {
			return err
		}
	}
	return nil
}

// applyData applies scalar assignments and nested relation operations to
// one stored row.
func (s *Store) applyData(model string, row warden.Row, data *enforce.WriteData) error {
	if data == nil {
		return nil
	}
	for k, v := range data.Set {
		row[k] = v
	}
	for name, ops := range data.Rel {
		join, err := s.graph.Join(model, name)
		if err != nil {
			return err
		}
		if join.FKModel == model {
			if err := s.execOwningOps(model, row, name, join, ops); err != nil {
				return err
			}
		} else if err := s.execInverseOps(model, row, name, ops); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) update(model string, args *enforce.WriteArgs) (warden.Row, error) {
	m, ok := s.graph.Model(model)
	if !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	row, err := s.firstMatch(model, args.Where)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, warden.NewNotFoundError(model)
	}
	var data *enforce.WriteData
	if len(args.Data) > 0 {
		data = args.Data[0]
	}
	if err := s.applyData(model, row, data); err != nil {
		return nil, err
	}
	return projectRow(m, row, args.Select), nil
}

func (s *Store) updateMany(model string, args *enforce.WriteArgs) (int64, error) {
	if _, ok := s.graph.Model(model); !ok {
		return 0, warden.NewConfigError("unknown model %q", model)
	}
	matched, err := s.filterRows(model, s.tables[model], args.Where)
	if err != nil {
		return 0, err
	}
	var data *enforce.WriteData
	if len(args.Data) > 0 {
		data = args.Data[0]
	}
	for _, row := range matched {
		if data != nil {
			for k, v := range data.Set {
				row[k] = v
			}
		}
	}
	return int64(len(matched)), nil
}

func (s *Store) delete(model string, args *enforce.WriteArgs) (warden.Row, error) {
	m, ok := s.graph.Model(model)
	if !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	row, err := s.firstMatch(model, args.Where)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, warden.NewNotFoundError(model)
	}
	out := projectRow(m, row, args.Select)
	if err := s.removeRow(model, row); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) deleteMany(model string, args *enforce.WriteArgs) (int64, error) {
	if _, ok := s.graph.Model(model); !ok {
		return 0, warden.NewConfigError("unknown model %q", model)
	}
	matched, err := s.filterRows(model, s.tables[model], args.Where)
	if err != nil {
		return 0, err
	}
	for _, row := range matched {
		if err := s.removeRow(model, row); err != nil {
			return 0, err
		}
	}
	return int64(len(matched)), nil
}

// ---- helpers ----

func (s *Store) firstMatch(model string, where filter.Predicate) (warden.Row, error) {
	matched, err := s.filterRows(model, s.tables[model], where)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return matched[0], nil
}

func (s *Store) firstRelated(model string, row warden.Row, name string) (warden.Row, error) {
	related, err := s.relatedRows(model, row, name)
	if err != nil {
		return nil, err
	}
	if len(related) == 0 {
		return nil, nil
	}
	return related[0], nil
}

func (s *Store) singleRelated(model string, row warden.Row, name string) (warden.Row, error) {
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(name)
	child, err := s.firstRelated(model, row, name)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, warden.NewNotFoundError(rel.Target)
	}
	return child, nil
}

func (s *Store) scopedMatches(model string, row warden.Row, name string, where filter.Predicate) ([]warden.Row, error) {
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(name)
	related, err := s.relatedRows(model, row, name)
	if err != nil {
		return nil, err
	}
	return s.filterRows(rel.Target, related, where)
}

func (s *Store) removeRow(model string, row warden.Row) error {
	table := s.tables[model]
	for i := range table {
		if sameRow(table[i], row) {
			s.tables[model] = append(table[:i:i], table[i+1:]...)
			return nil
		}
	}
	return warden.NewNotFoundError(model)
}

func (s *Store) cloneTables() map[string][]warden.Row {
	out := make(map[string][]warden.Row, len(s.tables))
	for model, rows := range s.tables {
		cp := make([]warden.Row, len(rows))
		for i, row := range rows {
			cp[i] = cloneRow(row)
		}
		out[model] = cp
	}
	return out
}

func sameRow(a, b warden.Row) bool {
	return reflect.ValueOf(a).UnsafePointer() == reflect.ValueOf(b).UnsafePointer()
}

func cloneRow(row warden.Row) warden.Row {
	out := make(warden.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// projectRow copies a stored row, restricted to sel when non-empty. The
// copy keeps callers from mutating stored rows through results.
func projectRow(m *schema.Model, row warden.Row, sel []string) warden.Row {
	if len(sel) == 0 {
		return cloneRow(row)
	}
	out := make(warden.Row, len(sel))
	for _, col := range sel {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}

// evalCmp applies SQL null semantics: every comparison against a missing or
// null value is false, except the null checks themselves.
func evalCmp(row warden.Row, p *filter.Cmp) (bool, error) {
	v, present := row[p.Field]
	isNull := !present || v == nil
	switch p.Op {
	case filter.OpIsNull:
		return isNull, nil
	case filter.OpNotNull:
		return !isNull, nil
	}
	if isNull {
		return false, nil
	}
	switch p.Op {
	case filter.OpEQ:
		return eqVals(v, p.Value), nil
	case filter.OpNEQ:
		return p.Value != nil && !eqVals(v, p.Value), nil
	case filter.OpGT, filter.OpGTE, filter.OpLT, filter.OpLTE:
		c, ok := ordVals(v, p.Value)
		if !ok {
			return false, nil
		}
		switch p.Op {
		case filter.OpGT:
			return c > 0, nil
		case filter.OpGTE:
			return c >= 0, nil
		case filter.OpLT:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	case filter.OpIn, filter.OpNotIn:
		vs, ok := p.Value.([]any)
		if !ok {
			return false, warden.NewConfigError("in-predicate on %q requires a value list", p.Field)
		}
		found := false
		for _, candidate := range vs {
			if eqVals(v, candidate) {
				found = true
				break
			}
		}
		if p.Op == filter.OpIn {
			return found, nil
		}
		return !found, nil
	case filter.OpContains, filter.OpHasPrefix, filter.OpHasSuffix:
		sv, ok1 := v.(string)
		pv, ok2 := p.Value.(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		switch p.Op {
		case filter.OpContains:
			return strings.Contains(sv, pv), nil
		case filter.OpHasPrefix:
			return strings.HasPrefix(sv, pv), nil
		default:
			return strings.HasSuffix(sv, pv), nil
		}
	default:
		return false, warden.NewConfigError("unsupported comparison %q", p.Op)
	}
}

// eqVals compares loosely across numeric representations, since rows seeded
// from Go literals and rows decoded from drivers disagree on integer width.
func eqVals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// ordVals returns -1/0/1 for ordered comparable values.
func ordVals(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case at.Before(bt):
			return -1, true
		case at.After(bt):
			return 1, true
		default:
			return 0, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
