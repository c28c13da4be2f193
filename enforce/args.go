package enforce

import (
	"sort"

	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
)

// ReadArgs is the argument shape of a read operation: a filter, an optional
// scalar projection, and nested relation projections.
type ReadArgs struct {
	Where   filter.Predicate
	Select  []string // scalar columns; empty selects all
	Include map[string]*ReadArgs
	Limit   int
	Offset  int
}

// Clone returns a deep copy. Predicates are immutable and shared.
func (a *ReadArgs) Clone() *ReadArgs {
	if a == nil {
		return &ReadArgs{}
	}
	out := &ReadArgs{Where: a.Where, Limit: a.Limit, Offset: a.Offset}
	if a.Select != nil {
		out.Select = append([]string(nil), a.Select...)
	}
	if a.Include != nil {
		out.Include = make(map[string]*ReadArgs, len(a.Include))
		for k, v := range a.Include {
			out.Include[k] = v.Clone()
		}
	}
	return out
}

// WriteArgs is the argument shape of a write operation. Create uses Data
// (one element per row; several for a batch create); update uses Where plus
// a single Data element; delete uses Where alone.
type WriteArgs struct {
	Where  filter.Predicate
	Data   []*WriteData
	Select []string
}

// Clone returns a deep copy. Predicates are immutable and shared.
func (a *WriteArgs) Clone() *WriteArgs {
	if a == nil {
		return &WriteArgs{}
	}
	out := &WriteArgs{Where: a.Where}
	if a.Select != nil {
		out.Select = append([]string(nil), a.Select...)
	}
	if a.Data != nil {
		out.Data = make([]*WriteData, len(a.Data))
		for i, d := range a.Data {
			out.Data[i] = d.Clone()
		}
	}
	return out
}

// WriteData is one row payload: scalar assignments plus nested operations
// on relation fields.
type WriteData struct {
	Set warden.Row
	Rel map[string]*RelationOps
}

// Clone returns a deep copy.
func (d *WriteData) Clone() *WriteData {
	if d == nil {
		return nil
	}
	out := &WriteData{}
	if d.Set != nil {
		out.Set = make(warden.Row, len(d.Set))
		for k, v := range d.Set {
			out.Set[k] = v
		}
	}
	if d.Rel != nil {
		out.Rel = make(map[string]*RelationOps, len(d.Rel))
		for k, v := range d.Rel {
			out.Rel[k] = v.Clone()
		}
	}
	return out
}

// relNames returns the relation field names in deterministic order.
func (d *WriteData) relNames() []string {
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

// RelationOps groups the nested operations against one relation field. Each
// slice may batch several operations of the same kind; every element is
// visited independently by the traversal.
type RelationOps struct {
	Create          []*WriteData
	Connect         []filter.Predicate
	ConnectOrCreate []*ConnectOrCreate
	Update          []*NestedUpdate
	UpdateMany      []*NestedUpdate
	Upsert          []*Upsert
	Delete          []filter.Predicate
	DeleteMany      []filter.Predicate
}

// Clone returns a deep copy.
func (r *RelationOps) Clone() *RelationOps {
	if r == nil {
		return nil
	}
	out := &RelationOps{
		Connect:    append([]filter.Predicate(nil), r.Connect...),
		Delete:     append([]filter.Predicate(nil), r.Delete...),
		DeleteMany: append([]filter.Predicate(nil), r.DeleteMany...),
	}
	for _, d := range r.Create {
		out.Create = append(out.Create, d.Clone())
	}
	for _, c := range r.ConnectOrCreate {
		out.ConnectOrCreate = append(out.ConnectOrCreate, &ConnectOrCreate{Where: c.Where, Create: c.Create.Clone()})
	}
	for _, u := range r.Update {
		out.Update = append(out.Update, &NestedUpdate{Where: u.Where, Data: u.Data.Clone()})
	}
	for _, u := range r.UpdateMany {
		out.UpdateMany = append(out.UpdateMany, &NestedUpdate{Where: u.Where, Data: u.Data.Clone()})
	}
	for _, u := range r.Upsert {
		out.Upsert = append(out.Upsert, &Upsert{Where: u.Where, Create: u.Create.Clone(), Update: u.Update.Clone()})
	}
	return out
}

// ConnectOrCreate connects an existing related row matching Where, or
// creates one from Create when none matches.
type ConnectOrCreate struct {
	Where  filter.Predicate
	Create *WriteData
}

// NestedUpdate updates related rows. Where is required when nested under a
// to-many relation and absent under a to-one relation (the single related
// row is implied by the path).
type NestedUpdate struct {
	Where filter.Predicate
	Data  *WriteData
}

// Upsert updates the related row matching Where, or creates it from Create
// when none matches.
type Upsert struct {
	Where  filter.Predicate
	Create *WriteData
	Update *WriteData
}
