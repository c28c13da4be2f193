package sqlstore

import (
	"strconv"
	"strings"

	"github.com/syssam/warden"
	sqld "github.com/syssam/warden/dialect/sql"
	"github.com/syssam/warden/filter"
)

// translator renders a filter tree into SQL against one statement builder.
// Relation predicates become correlated EXISTS subqueries; each traversal
// level gets a fresh table alias so placeholder numbering and column
// references stay unambiguous.
type translator struct {
	s *Store
	b *sqld.Builder
	n int
}

func (t *translator) alias() string {
	t.n++
	return "t" + strconv.Itoa(t.n)
}

func (t *translator) pred(model, alias string, p filter.Predicate) error {
	switch p := p.(type) {
	case nil, filter.True:
		t.b.WriteString("1 = 1")
		return nil
	case filter.False:
		t.b.WriteString("1 = 0")
		return nil
	case *filter.Cmp:
		return t.cmp(alias, p)
	case *filter.And:
		return t.junction(model, alias, " AND ", p.Preds)
	case *filter.Or:
		return t.junction(model, alias, " OR ", p.Preds)
	case *filter.Not:
		// A comparison on a NULL column evaluates to NULL, and NOT NULL is
		// still NULL; the in-memory evaluator reads the same comparison as
		// false and its negation as true. COALESCE pins the operand to
		// false before negating so both stores agree.
		var err error
		t.b.WriteString("NOT COALESCE")
		t.b.Nested(func(b *sqld.Builder) {
			b.Nested(func(*sqld.Builder) {
				err = t.pred(model, alias, p.Pred)
			})
			b.WriteString(", FALSE")
		})
		return err
	case *filter.Relation:
		return t.relation(model, alias, p)
	default:
		return warden.NewConfigError("unsupported predicate %T", p)
	}
}

func (t *translator) junction(model, alias, sep string, preds []filter.Predicate) error {
	var err error
	t.b.Nested(func(b *sqld.Builder) {
		for i, sub := range preds {
			if i > 0 {
				b.WriteString(sep)
			}
			if e := t.pred(model, alias, sub); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}

func (t *translator) cmp(alias string, p *filter.Cmp) error {
	col := alias + "." + p.Field
	switch p.Op {
	case filter.OpEQ:
		t.b.Ident(col).WriteString(" = ").Arg(p.Value)
	case filter.OpNEQ:
		t.b.Ident(col).WriteString(" <> ").Arg(p.Value)
	case filter.OpGT:
		t.b.Ident(col).WriteString(" > ").Arg(p.Value)
	case filter.OpGTE:
		t.b.Ident(col).WriteString(" >= ").Arg(p.Value)
	case filter.OpLT:
		t.b.Ident(col).WriteString(" < ").Arg(p.Value)
	case filter.OpLTE:
		t.b.Ident(col).WriteString(" <= ").Arg(p.Value)
	case filter.OpIn, filter.OpNotIn:
		vs, ok := p.Value.([]any)
		if !ok {
			return warden.NewConfigError("in-predicate on %q requires a value list", p.Field)
		}
		if len(vs) == 0 {
			if p.Op == filter.OpIn {
				t.b.WriteString("1 = 0")
			} else {
				t.b.WriteString("1 = 1")
			}
			return nil
		}
		t.b.Ident(col)
		if p.Op == filter.OpNotIn {
			t.b.WriteString(" NOT")
		}
		t.b.WriteString(" IN ")
		t.b.Nested(func(b *sqld.Builder) { b.Args(vs...) })
	case filter.OpContains:
		t.like(col, "%", p.Value, "%")
	case filter.OpHasPrefix:
		t.like(col, "", p.Value, "%")
	case filter.OpHasSuffix:
		t.like(col, "%", p.Value, "")
	case filter.OpIsNull:
		t.b.Ident(col).WriteString(" IS NULL")
	case filter.OpNotNull:
		t.b.Ident(col).WriteString(" IS NOT NULL")
	default:
		return warden.NewConfigError("unsupported comparison %q", p.Op)
	}
	return nil
}

func (t *translator) like(col, pre string, v any, post string) {
	s, _ := v.(string)
	t.b.Ident(col).WriteString(" LIKE ").Arg(pre + escapeLike(s) + post)
}

// escapeLike neutralizes LIKE metacharacters in a literal match value.
func escapeLike(s string) string {
	if !strings.ContainsAny(s, `%_\`) {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// relation renders a quantified relation predicate as a correlated
// (NOT) EXISTS subquery linked through the relation's foreign key.
func (t *translator) relation(model, alias string, p *filter.Relation) error {
	join, err := t.s.graph.Join(model, p.Field)
	if err != nil {
		return err
	}
	m, _ := t.s.graph.Model(model)
	rel, _ := m.Relation(p.Field)
	child := t.alias()
	if p.Quant == filter.QuantNone {
		t.b.WriteString("NOT ")
	}
	t.b.WriteString("EXISTS ")
	t.b.Nested(func(b *sqld.Builder) {
		b.WriteString("SELECT 1 FROM ").Ident(t.s.table(rel.Target)).WriteString(" AS ").Ident(child).WriteString(" WHERE ")
		if join.FKModel == model {
			b.Ident(alias + "." + join.FKColumn).WriteString(" = ").Ident(child + "." + join.RefColumn)
		} else {
			b.Ident(child + "." + join.FKColumn).WriteString(" = ").Ident(alias + "." + join.RefColumn)
		}
		if p.Pred != nil {
			b.WriteString(" AND ")
			if e := t.pred(rel.Target, child, p.Pred); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}
