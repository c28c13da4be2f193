package sqlstore

import (
	"context"
	"sort"

	"github.com/syssam/warden"
	"github.com/syssam/warden/dialect"
	sqld "github.com/syssam/warden/dialect/sql"
	"github.com/syssam/warden/enforce"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/schema"
)

func (s *Store) Create(ctx context.Context, model string, data *enforce.WriteData, sel []string) (warden.Row, error) {
	var out warden.Row
	err := s.Tx(ctx, func(ctx context.Context, tx enforce.Store) error {
		ts := tx.(*Store)
		id, err := ts.create(ctx, model, data)
		if err != nil {
			return err
		}
		m, _ := s.graph.Model(model)
		rows, err := ts.fetch(ctx, model, filter.EQ(m.ID(), id), 1, 0)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return warden.NewNotFoundErrorWithID(model, id)
		}
		out = rows[0]
		projectRow(out, &enforce.ReadArgs{Select: sel})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateMany(ctx context.Context, model string, data []*enforce.WriteData) (int64, error) {
	var n int64
	err := s.Tx(ctx, func(ctx context.Context, tx enforce.Store) error {
		ts := tx.(*Store)
		for _, d := range data {
			if _, err := ts.create(ctx, model, d); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) Update(ctx context.Context, model string, args *enforce.WriteArgs) (warden.Row, error) {
	m, ok := s.graph.Model(model)
	if !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	var out warden.Row
	err := s.Tx(ctx, func(ctx context.Context, tx enforce.Store) error {
		ts := tx.(*Store)
		rows, err := ts.fetch(ctx, model, args.Where, 1, 0)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return warden.NewNotFoundError(model)
		}
		row := rows[0]
		var data *enforce.WriteData
		if len(args.Data) > 0 {
			data = args.Data[0]
		}
		if err := ts.applyData(ctx, model, row, data); err != nil {
			return err
		}
		updated, err := ts.fetch(ctx, model, filter.EQ(m.ID(), row[m.ID()]), 1, 0)
		if err != nil {
			return err
		}
		if len(updated) == 0 {
			return warden.NewNotFoundErrorWithID(model, row[m.ID()])
		}
		out = updated[0]
		projectRow(out, &enforce.ReadArgs{Select: args.Select})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateMany(ctx context.Context, model string, args *enforce.WriteArgs) (int64, error) {
	if _, ok := s.graph.Model(model); !ok {
		return 0, warden.NewConfigError("unknown model %q", model)
	}
	ids, err := s.idsMatching(ctx, model, args.Where, 0)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	var set warden.Row
	if len(args.Data) > 0 && args.Data[0] != nil {
		set = args.Data[0].Set
	}
	if err := s.updateByIDs(ctx, model, ids, set); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (s *Store) Delete(ctx context.Context, model string, args *enforce.WriteArgs) (warden.Row, error) {
	m, ok := s.graph.Model(model)
	if !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	rows, err := s.fetch(ctx, model, args.Where, 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, warden.NewNotFoundError(model)
	}
	row := rows[0]
	if err := s.deleteByIDs(ctx, model, []any{row[m.ID()]}); err != nil {
		return nil, err
	}
	projectRow(row, &enforce.ReadArgs{Select: args.Select})
	return row, nil
}

func (s *Store) DeleteMany(ctx context.Context, model string, args *enforce.WriteArgs) (int64, error) {
	if _, ok := s.graph.Model(model); !ok {
		return 0, warden.NewConfigError("unknown model %q", model)
	}
	ids, err := s.idsMatching(ctx, model, args.Where, 0)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.deleteByIDs(ctx, model, ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// ---- nested write execution ----

// create inserts one row and executes its nested relation operations,
// returning the new row's identifier. Owning to-one relations resolve
// before the insert so the foreign key lands in it; relations whose
// foreign key lives on the related table execute after.
func (s *Store) create(ctx context.Context, model string, data *enforce.WriteData) (any, error) {
	m, ok := s.graph.Model(model)
	if !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	if data == nil {
		data = &enforce.WriteData{}
	}
	set := make(warden.Row, len(data.Set))
	for k, v := range data.Set {
		set[k] = v
	}
	var deferred []string
	for _, name := range relNames(data) {
		join, err := s.graph.Join(model, name)
		if err != nil {
			return nil, err
		}
		if join.FKModel != model {
			deferred = append(deferred, name)
			continue
		}
		link := func(childID any) error {
			set[join.FKColumn] = childID
			return nil
		}
		if err := s.execOwningOps(ctx, model, name, join, data.Rel[name], nil, link); err != nil {
			return nil, err
		}
	}
	id, err := s.insertRow(ctx, m, set)
	if err != nil {
		return nil, err
	}
	for _, name := range deferred {
		if err := s.execInverseOps(ctx, model, id, name, data.Rel[name]); err != nil {
			return nil, err
		}
	}
	return id, nil
}

// applyData applies scalar assignments and nested relation operations to
// one fetched row.
func (s *Store) applyData(ctx context.Context, model string, row warden.Row, data *enforce.WriteData) error {
	if data == nil {
		return nil
	}
	m, _ := s.graph.Model(model)
	id := row[m.ID()]
	if len(data.Set) > 0 {
		if err := s.updateByIDs(ctx, model, []any{id}, data.Set); err != nil {
			return err
		}
		for k, v := range data.Set {
			row[k] = v
		}
	}
	for _, name := range relNames(data) {
		join, err := s.graph.Join(model, name)
		if err != nil {
			return err
		}
		if join.FKModel == model {
			link := func(childID any) error {
				if err := s.updateByIDs(ctx, model, []any{id}, warden.Row{join.FKColumn: childID}); err != nil {
					return err
				}
				row[join.FKColumn] = childID
				return nil
			}
			if err := s.execOwningOps(ctx, model, name, join, data.Rel[name], row, link); err != nil {
				return err
			}
		} else if err := s.execInverseOps(ctx, model, id, name, data.Rel[name]); err != nil {
			return err
		}
	}
	return nil
}

// execOwningOps handles nested operations on a relation whose foreign key
// lives on the parent row. parentRow is nil during a create, where the
// foreign key is collected into the pending insert instead.
func (s *Store) execOwningOps(ctx context.Context, model, name string, join schema.Join, ops *enforce.RelationOps, parentRow warden.Row, link func(childID any) error) error {
	if ops == nil {
		return nil
	}
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(name)
	for _, cd := range ops.Create {
		childID, err := s.create(ctx, rel.Target, cd)
		if err != nil {
			return err
		}
		if err := link(childID); err != nil {
			return err
		}
	}
	for _, p := range ops.Connect {
		ids, err := s.idsMatching(ctx, rel.Target, p, 1)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return warden.NewNotFoundError(rel.Target)
		}
		if err := link(ids[0]); err != nil {
			return err
		}
	}
	for _, c := range ops.ConnectOrCreate {
		ids, err := s.idsMatching(ctx, rel.Target, c.Where, 1)
		if err != nil {
			return err
		}
		childID := any(nil)
		if len(ids) > 0 {
			childID = ids[0]
		} else if childID, err = s.create(ctx, rel.Target, c.Create); err != nil {
			return err
		}
		if err := link(childID); err != nil {
			return err
		}
	}
	for _, u := range ops.Update {
		child, err := s.owningChild(ctx, rel, join, parentRow)
		if err != nil {
			return err
		}
		if err := s.applyData(ctx, rel.Target, child, u.Data); err != nil {
			return err
		}
	}
	for _, u := range ops.Upsert {
		child, err := s.owningChildMaybe(ctx, rel, join, parentRow)
		if err != nil {
			return err
		}
		if child == nil {
			childID, err := s.create(ctx, rel.Target, u.Create)
			if err != nil {
				return err
			}
			if err := link(childID); err != nil {
				return err
			}
		} else if err := s.applyData(ctx, rel.Target, child, u.Update); err != nil {
			return err
		}
	}
	for range ops.Delete {
		child, err := s.owningChild(ctx, rel, join, parentRow)
		if err != nil {
			return err
		}
		target, _ := s.graph.Model(rel.Target)
		if err := link(nil); err != nil {
			return err
		}
		if err := s.deleteByIDs(ctx, rel.Target, []any{child[target.ID()]}); err != nil {
			return err
		}
	}
	if len(ops.UpdateMany) > 0 || len(ops.DeleteMany) > 0 {
		return warden.NewConfigError("many-shaped nested operation on to-one relation %s.%s", model, name)
	}
	return nil
}

func (s *Store) owningChildMaybe(ctx context.Context, rel *schema.Relation, join schema.Join, parentRow warden.Row) (warden.Row, error) {
	if parentRow == nil {
		return nil, warden.NewConfigError("nested mutation on to-one relation %q requires an existing parent", rel.Name)
	}
	fk := parentRow[join.FKColumn]
	if fk == nil {
		return nil, nil
	}
	rows, err := s.fetch(ctx, rel.Target, filter.EQ(join.RefColumn, fk), 1, 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *Store) owningChild(ctx context.Context, rel *schema.Relation, join schema.Join, parentRow warden.Row) (warden.Row, error) {
	child, err := s.owningChildMaybe(ctx, rel, join, parentRow)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, warden.NewNotFoundError(rel.Target)
	}
	return child, nil
}

// execInverseOps handles nested operations on a relation whose foreign key
// lives on the related table, scoped to the children of parentID.
func (s *Store) execInverseOps(ctx context.Context, model string, parentID any, name string, ops *enforce.RelationOps) error {
	if ops == nil {
		return nil
	}
	m, _ := s.graph.Model(model)
	rel, _ := m.Relation(name)
	join, err := s.graph.Join(model, name)
	if err != nil {
		return err
	}
	scope := func(p filter.Predicate) filter.Predicate {
		return filter.Conjoin(filter.EQ(join.FKColumn, parentID), p)
	}
	for _, cd := range ops.Create {
		cd = cd.Clone()
		if cd == nil {
			cd = &enforce.WriteData{}
		}
		if cd.Set == nil {
			cd.Set = warden.Row{}
		}
		cd.Set[join.FKColumn] = parentID
		if _, err := s.create(ctx, rel.Target, cd); err != nil {
			return err
		}
	}
	for _, p := range ops.Connect {
		ids, err := s.idsMatching(ctx, rel.Target, p, 0)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return warden.NewNotFoundError(rel.Target)
		}
		if err := s.updateByIDs(ctx, rel.Target, ids, warden.Row{join.FKColumn: parentID}); err != nil {
			return err
		}
	}
	for _, c := range ops.ConnectOrCreate {
		ids, err := s.idsMatching(ctx, rel.Target, c.Where, 1)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := s.updateByIDs(ctx, rel.Target, ids, warden.Row{join.FKColumn: parentID}); err != nil {
				return err
			}
			continue
		}
		cd := c.Create.Clone()
		if cd == nil {
			cd = &enforce.WriteData{}
		}
		if cd.Set == nil {
			cd.Set = warden.Row{}
		}
		cd.Set[join.FKColumn] = parentID
		if _, err := s.create(ctx, rel.Target, cd); err != nil {
			return err
		}
	}
	for _, u := range ops.Update {
		var where filter.Predicate
		limit := 0
		if !rel.Many {
			limit = 1
		} else {
			where = u.Where
		}
		rows, err := s.fetch(ctx, rel.Target, scope(where), limit, 0)
		if err != nil {
			return err
		}
		if !rel.Many && len(rows) == 0 {
			return warden.NewNotFoundError(rel.Target)
		}
		for _, child := range rows {
			if err := s.applyData(ctx, rel.Target, child, u.Data); err != nil {
				return err
			}
		}
	}
	for _, u := range ops.UpdateMany {
		ids, err := s.idsMatching(ctx, rel.Target, scope(u.Where), 0)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		var set warden.Row
		if u.Data != nil {
			set = u.Data.Set
		}
		if err := s.updateByIDs(ctx, rel.Target, ids, set); err != nil {
			return err
		}
	}
	for _, u := range ops.Upsert {
		rows, err := s.fetch(ctx, rel.Target, scope(u.Where), 1, 0)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := s.applyData(ctx, rel.Target, rows[0], u.Update); err != nil {
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
		cd.Set[join.FKColumn] = parentID
		if _, err := s.create(ctx, rel.Target, cd); err != nil {
			return err
		}
	}
	for _, p := range ops.Delete {
		ids, err := s.idsMatching(ctx, rel.Target, scope(p), 1)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return warden.NewNotFoundError(rel.Target)
		}
		if err := s.deleteByIDs(ctx, rel.Target, ids); err != nil {
			return err
		}
	}
	for _, p := range ops.DeleteMany {
		ids, err := s.idsMatching(ctx, rel.Target, scope(p), 0)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		if err := s.deleteByIDs(ctx, rel.Target, ids); err != nil {
			return err
		}
	}
	return nil
}

// ---- statement helpers ----

// insertRow inserts one row and returns its identifier. On Postgres the
// identifier comes back through RETURNING; elsewhere through the driver's
// last-insert-id, unless the payload carries it already.
func (s *Store) insertRow(ctx context.Context, m *schema.Model, set warden.Row) (any, error) {
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	b := sqld.NewBuilder(s.drv.Dialect())
	b.WriteString("INSERT INTO ").Ident(s.table(m.Name)).WriteString(" ")
	if len(cols) == 0 {
		b.WriteString("DEFAULT VALUES")
	} else {
		b.Nested(func(b *sqld.Builder) { b.Idents(cols...) })
		b.WriteString(" VALUES ")
		b.Nested(func(b *sqld.Builder) {
			for i, col := range cols {
				if i > 0 {
					b.WriteString(", ")
				}
				b.Arg(set[col])
			}
		})
	}
	if s.drv.Dialect() == dialect.Postgres {
		b.WriteString(" RETURNING ").Ident(m.ID())
		query, args := b.Query()
		var rows sqld.Rows
		if err := s.cx.Query(ctx, query, args, &rows); err != nil {
			return nil, mapError(m.Name, "create", err)
		}
		defer rows.Close()
		if !rows.Next() {
			return nil, warden.NewMutationError(m.Name, "create", rows.Err())
		}
		var id any
		if err := rows.Scan(&id); err != nil {
			return nil, warden.NewMutationError(m.Name, "create", err)
		}
		return normValue(id), rows.Err()
	}
	query, args := b.Query()
	var res sqld.Result
	if err := s.cx.Exec(ctx, query, args, &res); err != nil {
		return nil, mapError(m.Name, "create", err)
	}
	if id, ok := set[m.ID()]; ok {
		return id, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, warden.NewMutationError(m.Name, "create", err)
	}
	return id, nil
}

// idsMatching returns the identifiers of rows matching where. limit of 0
// means all.
func (s *Store) idsMatching(ctx context.Context, model string, where filter.Predicate, limit int) ([]any, error) {
	m, _ := s.graph.Model(model)
	rows, err := s.fetch(ctx, model, where, limit, 0)
	if err != nil {
		return nil, err
	}
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row[m.ID()])
	}
	return ids, nil
}

func (s *Store) updateByIDs(ctx context.Context, model string, ids []any, set warden.Row) error {
	if len(set) == 0 || len(ids) == 0 {
		return nil
	}
	m, _ := s.graph.Model(model)
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	b := sqld.NewBuilder(s.drv.Dialect())
	b.WriteString("UPDATE ").Ident(s.table(model)).WriteString(" SET ")
	for i, col := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.Ident(col).WriteString(" = ").Arg(set[col])
	}
	b.WriteString(" WHERE ").Ident(m.ID()).WriteString(" IN ")
	b.Nested(func(b *sqld.Builder) { b.Args(ids...) })
	query, args := b.Query()
	if err := s.cx.Exec(ctx, query, args, nil); err != nil {
		return mapError(model, "update", err)
	}
	return nil
}

func (s *Store) deleteByIDs(ctx context.Context, model string, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	m, _ := s.graph.Model(model)
	b := sqld.NewBuilder(s.drv.Dialect())
	b.WriteString("DELETE FROM ").Ident(s.table(model)).WriteString(" WHERE ").Ident(m.ID()).WriteString(" IN ")
	b.Nested(func(b *sqld.Builder) { b.Args(ids...) })
	query, args := b.Query()
	if err := s.cx.Exec(ctx, query, args, nil); err != nil {
		return mapError(model, "delete", err)
	}
	return nil
}

func relNames(d *enforce.WriteData) []string {
	if len(d.Rel) == 0 {
		return nil
	}
	names := make([]string, 0, len(d.Rel))
	for name := range d.Rel {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
