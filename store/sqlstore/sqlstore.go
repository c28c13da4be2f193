// Package sqlstore implements the engine's Store interface over a SQL
// database through the dialect driver abstraction. Filters translate to
// WHERE clauses with correlated EXISTS subqueries for relation predicates;
// nested writes execute statement by statement; included relations are
// fetched with batched follow-up queries.
package sqlstore

import (
	"context"
	"strconv"
	"time"

	"github.com/go-openapi/inflect"

	"github.com/syssam/warden"
	"github.com/syssam/warden/dialect"
	sqld "github.com/syssam/warden/dialect/sql"
	"github.com/syssam/warden/enforce"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/schema"
)

// Store executes engine operations against a SQL database.
type Store struct {
	drv   dialect.Driver
	graph *schema.Graph
	cx    dialect.ExecQuerier
	inTx  bool
}

var _ enforce.Store = (*Store)(nil)

// New returns a store over the given driver and schema.
func New(drv dialect.Driver, g *schema.Graph) *Store {
	return &Store{drv: drv, graph: g, cx: drv}
}

// table maps a model name to its table name ("OrderItem" -> "order_items").
func (s *Store) table(model string) string {
	return inflect.Pluralize(inflect.Underscore(model))
}

func (s *Store) FindMany(ctx context.Context, model string, args *enforce.ReadArgs) ([]warden.Row, error) {
	if args == nil {
		args = &enforce.ReadArgs{}
	}
	if _, ok := s.graph.Model(model); !ok {
		return nil, warden.NewConfigError("unknown model %q", model)
	}
	rows, err := s.fetch(ctx, model, args.Where, args.Limit, args.Offset)
	if err != nil {
		return nil, err
	}
	if err := s.attachIncludes(ctx, model, args, rows); err != nil {
		return nil, err
	}
	projectRows(rows, args)
	return rows, nil
}

func (s *Store) Count(ctx context.Context, model string, where filter.Predicate) (int64, error) {
	if _, ok := s.graph.Model(model); !ok {
		return 0, warden.NewConfigError("unknown model %q", model)
	}
	b := sqld.NewBuilder(s.drv.Dialect())
	b.WriteString("SELECT COUNT(*) FROM ").Ident(s.table(model)).WriteString(" AS ").Ident("t0").WriteString(" WHERE ")
	t := &translator{s: s, b: b}
	if err := t.pred(model, "t0", where); err != nil {
		return 0, err
	}
	query, qargs := b.Query()
	var rows sqld.Rows
	if err := s.cx.Query(ctx, query, qargs, &rows); err != nil {
		return 0, warden.NewQueryError(model, "count", err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, warden.NewQueryError(model, "count", err)
		}
	}
	return n, rows.Err()
}

// fetch runs one SELECT * over the model's table. Projection happens after
// include attachment so foreign-key columns stay available for grouping.
func (s *Store) fetch(ctx context.Context, model string, where filter.Predicate, limit, offset int) ([]warden.Row, error) {
	b := sqld.NewBuilder(s.drv.Dialect())
	b.WriteString("SELECT ").Ident("t0").WriteString(".* FROM ").Ident(s.table(model)).WriteString(" AS ").Ident("t0").WriteString(" WHERE ")
	t := &translator{s: s, b: b}
	if err := t.pred(model, "t0", where); err != nil {
		return nil, err
	}
	if limit > 0 {
		b.WriteString(" LIMIT " + strconv.Itoa(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET " + strconv.Itoa(offset))
	}
	query, qargs := b.Query()
	var rows sqld.Rows
	if err := s.cx.Query(ctx, query, qargs, &rows); err != nil {
		return nil, warden.NewQueryError(model, "find", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// attachIncludes materializes the projected relations of rows with one
// batched follow-up query per relation.
func (s *Store) attachIncludes(ctx context.Context, model string, args *enforce.ReadArgs, rows []warden.Row) error {
	if len(args.Include) == 0 || len(rows) == 0 {
		return nil
	}
	m, _ := s.graph.Model(model)
	for name, sub := range args.Include {
		if sub == nil {
			sub = &enforce.ReadArgs{}
		}
		rel, ok := m.Relation(name)
		if !ok {
			return warden.NewConfigError("unknown relation %s.%s", model, name)
		}
		join, err := s.graph.Join(model, name)
		if err != nil {
			return err
		}
		owning := join.FKModel == model
		// Link values: the FK values held by the parents, or the parent
		// identifiers the children reference.
		linkCol := join.FKColumn
		parentCol := join.RefColumn
		if owning {
			linkCol, parentCol = join.RefColumn, join.FKColumn
		}
		keys := make([]any, 0, len(rows))
		seen := make(map[any]struct{}, len(rows))
		for _, row := range rows {
			v := row[parentCol]
			if v == nil {
				continue
			}
			if _, ok := seen[v]; !ok {
				seen[v] = struct{}{}
				keys = append(keys, v)
			}
		}
		grouped := make(map[any][]warden.Row, len(keys))
		if len(keys) > 0 {
			scoped := filter.Conjoin(filter.In(linkCol, keys...), sub.Where)
			children, err := s.fetch(ctx, rel.Target, scoped, 0, 0)
			if err != nil {
				return err
			}
			if err := s.attachIncludes(ctx, rel.Target, sub, children); err != nil {
				return err
			}
			for _, child := range children {
				key := normKey(child[linkCol])
				grouped[key] = append(grouped[key], child)
				projectRow(child, sub)
			}
		}
		for _, row := range rows {
			children := grouped[normKey(row[parentCol])]
			if rel.Many {
				row[name] = children
			} else if len(children) > 0 {
				row[name] = children[0]
			} else {
				row[name] = nil
			}
		}
	}
	return nil
}

func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx enforce.Store) error) error {
	if s.inTx {
		// Nested transactions flatten into the enclosing one.
		return fn(ctx, s)
	}
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return err
	}
	ts := &Store{drv: s.drv, graph: s.graph, cx: tx, inTx: true}
	if err := fn(ctx, ts); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return &warden.RollbackError{Err: rerr}
		}
		return err
	}
	return tx.Commit()
}

// ---- scanning ----

// scanRows reads all result rows into generic maps. Byte slices normalize
// to strings, since text columns surface as []byte on some drivers.
func scanRows(rows sqld.Rows) ([]warden.Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []warden.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(warden.Row, len(cols))
		for i, col := range cols {
			row[col] = normValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// normKey normalizes values used as grouping keys, so int64 identifiers
// from the driver match int keys from callers.
func normKey(v any) any {
	switch n := v.(type) {
	case []byte:
		return string(n)
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case uint64:
		return int64(n)
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case time.Time:
		return n.UnixNano()
	default:
		return v
	}
}

// ---- projection ----

func projectRows(rows []warden.Row, args *enforce.ReadArgs) {
	for _, row := range rows {
		projectRow(row, args)
	}
}

// projectRow trims a fetched row down to the requested scalar columns plus
// the attached relation fields.
func projectRow(row warden.Row, args *enforce.ReadArgs) {
	if len(args.Select) == 0 {
		return
	}
	keep := make(map[string]struct{}, len(args.Select)+len(args.Include))
	for _, col := range args.Select {
		keep[col] = struct{}{}
	}
	for name := range args.Include {
		keep[name] = struct{}{}
	}
	for col := range row {
		if _, ok := keep[col]; !ok {
			delete(row, col)
		}
	}
}
