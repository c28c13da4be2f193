// Package policy compiles declarative allow/deny rules into per-operation
// guards. Rule expressions are immutable trees over field comparisons,
// relation quantifiers and caller references; the compiler splits update
// rules into pre- and post-mutation halves and resolves statically
// constant outcomes ahead of time.
package policy

import (
	"fmt"
	"strings"

	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
)

// Effect is the declared effect of a rule.
type Effect string

// Rule effects.
const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Rule is one declared allow or deny clause for a model.
type Rule struct {
	Effect Effect
	Ops    warden.Op // operations the rule applies to; use warden.OpAll for "all"
	Expr   Expr
}

func (r *Rule) String() string {
	return fmt.Sprintf("@@%s(%s, %s)", r.Effect, r.Ops, r.Expr)
}

// Expr is an immutable node in a rule expression tree. The concrete types
// are Const, *And, *Or, *Not, *Compare and *Some.
type Expr interface {
	fmt.Stringer
	expr()
}

// Const is a constant boolean expression.
type Const bool

// And is a conjunction of sub-expressions.
type And struct {
	Exprs []Expr
}

// Or is a disjunction of sub-expressions.
type Or struct {
	Exprs []Expr
}

// Not negates its sub-expression.
type Not struct {
	Expr Expr
}

// Compare compares a field of the entity against an operand. When Future is
// set, the comparison reads the entity's state after the pending mutation
// and the enclosing rule can only be enforced post-update.
type Compare struct {
	Field  string
	Future bool
	Op     filter.CmpOp
	Value  Operand
}

// Some quantifies over a relation: the expression holds when a related row
// satisfies the sub-expression (any row for to-many relations, the single
// row for to-one). Negate reverses the quantifier (no related row matches).
type Some struct {
	Relation string
	Negate   bool
	Expr     Expr
}

func (Const) expr()    {}
func (*And) expr()     {}
func (*Or) expr()      {}
func (*Not) expr()     {}
func (*Compare) expr() {}
func (*Some) expr()    {}

func (c Const) String() string {
	if c {
		return "true"
	}
	return "false"
}

func (e *And) String() string { return joinExprs(" && ", e.Exprs) }
func (e *Or) String() string  { return joinExprs(" || ", e.Exprs) }
func (e *Not) String() string { return fmt.Sprintf("!(%s)", e.Expr) }

func (e *Compare) String() string {
	field := e.Field
	if e.Future {
		field = "future()." + field
	}
	return fmt.Sprintf("%s %s %s", field, e.Op, e.Value)
}

func (e *Some) String() string {
	q := "?"
	if e.Negate {
		q = "!"
	}
	return fmt.Sprintf("%s%s[%s]", e.Relation, q, e.Expr)
}

func joinExprs(sep string, exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Operand is the right-hand side of a Compare: a literal value, a caller
// attribute, or another field of the same entity.
type Operand interface {
	fmt.Stringer
	operand()
}

// Literal is a constant operand value.
type Literal struct {
	Value any
}

// CallerRef resolves to an attribute of the caller identity at request
// time. When no caller is authenticated it resolves to warden.Anonymous, so
// identity comparisons stay well-formed instead of failing.
type CallerRef struct {
	Attr string
}

// FieldRef references another field of the same entity. Only valid inside a
// post-update comparison, where it resolves from the captured pre-mutation
// snapshot.
type FieldRef struct {
	Name   string
	Future bool
}

func (Literal) operand()   {}
func (CallerRef) operand() {}
func (FieldRef) operand()  {}

func (o Literal) String() string   { return fmt.Sprintf("%v", o.Value) }
func (o CallerRef) String() string { return "caller." + o.Attr }

func (o FieldRef) String() string {
	if o.Future {
		return "future()." + o.Name
	}
	return o.Name
}

// hasFuture reports whether the expression references post-mutation state.
func hasFuture(e Expr) bool {
	switch e := e.(type) {
	case Const:
		return false
	case *And:
		return anyFuture(e.Exprs)
	case *Or:
		return anyFuture(e.Exprs)
	case *Not:
		return hasFuture(e.Expr)
	case *Compare:
		if e.Future {
			return true
		}
		if f, ok := e.Value.(FieldRef); ok {
			return f.Future
		}
		return false
	case *Some:
		return hasFuture(e.Expr)
	default:
		return false
	}
}

func anyFuture(exprs []Expr) bool {
	for _, e := range exprs {
		if hasFuture(e) {
			return true
		}
	}
	return false
}

// fold simplifies constant sub-expressions so that statically
// always-true/always-false rules can short-circuit compilation.
func fold(e Expr) Expr {
	switch e := e.(type) {
	case *And:
		out := make([]Expr, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			switch f := fold(sub).(type) {
			case Const:
				if !f {
					return Const(false)
				}
			default:
				out = append(out, f)
			}
		}
		switch len(out) {
		case 0:
			return Const(true)
		case 1:
			return out[0]
		default:
			return &And{Exprs: out}
		}
	case *Or:
		out := make([]Expr, 0, len(e.Exprs))
		for _, sub := range e.Exprs {
			switch f := fold(sub).(type) {
			case Const:
				if f {
					return Const(true)
				}
			default:
				out = append(out, f)
			}
		}
		switch len(out) {
		case 0:
			return Const(false)
		case 1:
			return out[0]
		default:
			return &Or{Exprs: out}
		}
	case *Not:
		if f, ok := fold(e.Expr).(Const); ok {
			return Const(!f)
		}
		return &Not{Expr: fold(e.Expr)}
	case *Some:
		return &Some{Relation: e.Relation, Negate: e.Negate, Expr: fold(e.Expr)}
	default:
		return e
	}
}
