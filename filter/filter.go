// Package filter defines the predicate algebra shared by guards, callers and
// stores: immutable boolean trees over field comparisons and relation
// quantifiers. Stores translate predicates into their native filtering
// (SQL WHERE clauses, in-memory matching); compiled policy guards produce
// them at request time.
package filter

import (
	"fmt"
	"strings"
)

// CmpOp is a field comparison operator.
type CmpOp string

// Comparison operators supported by Cmp predicates.
const (
	OpEQ        CmpOp = "eq"
	OpNEQ       CmpOp = "neq"
	OpGT        CmpOp = "gt"
	OpGTE       CmpOp = "gte"
	OpLT        CmpOp = "lt"
	OpLTE       CmpOp = "lte"
	OpIn        CmpOp = "in"
	OpNotIn     CmpOp = "notIn"
	OpContains  CmpOp = "contains"
	OpHasPrefix CmpOp = "hasPrefix"
	OpHasSuffix CmpOp = "hasSuffix"
	OpIsNull    CmpOp = "isNull"
	OpNotNull   CmpOp = "notNull"
)

// Quant is a relation quantifier.
type Quant string

// Relation quantifiers. Some and None apply to to-many relations; Is applies
// to to-one relations (the single related row matches).
const (
	QuantSome Quant = "some"
	QuantNone Quant = "none"
	QuantIs   Quant = "is"
)

// Predicate is an immutable node in a filter tree. The concrete types are
// True, False, *Cmp, *And, *Or, *Not and *Relation. Predicates must be
// treated as read-only once constructed; combinators build new trees.
type Predicate interface {
	fmt.Stringer
	predicate()
}

// True is the predicate matching every row.
type True struct{}

// False is the predicate matching no row.
type False struct{}

// Cmp compares a field against a value.
type Cmp struct {
	Field string
	Op    CmpOp
	Value any // a scalar, or []any for OpIn/OpNotIn; ignored for null checks
}

// And matches rows satisfying every sub-predicate.
type And struct {
	Preds []Predicate
}

// Or matches rows satisfying at least one sub-predicate.
type Or struct {
	Preds []Predicate
}

// Not negates its sub-predicate.
type Not struct {
	Pred Predicate
}

// Relation quantifies over rows of a related model.
type Relation struct {
	Field string // relation field on the current model
	Quant Quant
	Pred  Predicate // condition on the related model's rows; nil means "exists"
}

func (True) predicate()      {}
func (False) predicate()     {}
func (*Cmp) predicate()      {}
func (*And) predicate()      {}
func (*Or) predicate()       {}
func (*Not) predicate()      {}
func (*Relation) predicate() {}

func (True) String() string  { return "true" }
func (False) String() string { return "false" }

func (p *Cmp) String() string {
	switch p.Op {
	case OpIsNull, OpNotNull:
		return fmt.Sprintf("%s %s", p.Field, p.Op)
	default:
		return fmt.Sprintf("%s %s %v", p.Field, p.Op, p.Value)
	}
}

func (p *And) String() string { return joinPreds("and", p.Preds) }
func (p *Or) String() string  { return joinPreds("or", p.Preds) }

func (p *Not) String() string { return fmt.Sprintf("not(%s)", p.Pred) }

func (p *Relation) String() string {
	if p.Pred == nil {
		return fmt.Sprintf("%s.%s", p.Field, p.Quant)
	}
	return fmt.Sprintf("%s.%s(%s)", p.Field, p.Quant, p.Pred)
}

func joinPreds(op string, preds []Predicate) string {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.String()
	}
	return op + "(" + strings.Join(parts, ", ") + ")"
}

// EQ returns a field equality predicate.
func EQ(field string, v any) Predicate { return &Cmp{Field: field, Op: OpEQ, Value: v} }

// NEQ returns a field inequality predicate.
func NEQ(field string, v any) Predicate { return &Cmp{Field: field, Op: OpNEQ, Value: v} }

// GT returns a greater-than predicate.
func GT(field string, v any) Predicate { return &Cmp{Field: field, Op: OpGT, Value: v} }

// GTE returns a greater-than-or-equal predicate.
func GTE(field string, v any) Predicate { return &Cmp{Field: field, Op: OpGTE, Value: v} }

// LT returns a less-than predicate.
func LT(field string, v any) Predicate { return &Cmp{Field: field, Op: OpLT, Value: v} }

// LTE returns a less-than-or-equal predicate.
func LTE(field string, v any) Predicate { return &Cmp{Field: field, Op: OpLTE, Value: v} }

// In returns a set-membership predicate.
func In(field string, vs ...any) Predicate { return &Cmp{Field: field, Op: OpIn, Value: vs} }

// NotIn returns a negated set-membership predicate.
func NotIn(field string, vs ...any) Predicate { return &Cmp{Field: field, Op: OpNotIn, Value: vs} }

// Contains returns a substring-match predicate.
func Contains(field, v string) Predicate { return &Cmp{Field: field, Op: OpContains, Value: v} }

// HasPrefix returns a prefix-match predicate.
func HasPrefix(field, v string) Predicate { return &Cmp{Field: field, Op: OpHasPrefix, Value: v} }

// HasSuffix returns a suffix-match predicate.
func HasSuffix(field, v string) Predicate { return &Cmp{Field: field, Op: OpHasSuffix, Value: v} }

// IsNull returns a null-check predicate.
func IsNull(field string) Predicate { return &Cmp{Field: field, Op: OpIsNull} }

// NotNull returns a not-null-check predicate.
func NotNull(field string) Predicate { return &Cmp{Field: field, Op: OpNotNull} }

// AndOf combines predicates with a logical AND, flattening nested Ands and
// dropping nils. Zero operands yield True; a single operand is returned as-is.
func AndOf(preds ...Predicate) Predicate {
	flat := flatten[*And](preds, func(p *And) []Predicate { return p.Preds })
	switch len(flat) {
	case 0:
		return True{}
	case 1:
		return flat[0]
	default:
		return &And{Preds: flat}
	}
}

// OrOf combines predicates with a logical OR, flattening nested Ors and
// dropping nils. Zero operands yield False; a single operand is returned as-is.
func OrOf(preds ...Predicate) Predicate {
	flat := flatten[*Or](preds, func(p *Or) []Predicate { return p.Preds })
	switch len(flat) {
	case 0:
		return False{}
	case 1:
		return flat[0]
	default:
		return &Or{Preds: flat}
	}
}

func flatten[T Predicate](preds []Predicate, sub func(T) []Predicate) []Predicate {
	out := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		switch p := p.(type) {
		case nil:
		case T:
			out = append(out, sub(p)...)
		default:
			out = append(out, p)
		}
	}
	return out
}

// NotOf negates a predicate, collapsing double negation.
func NotOf(p Predicate) Predicate {
	if inner, ok := p.(*Not); ok {
		return inner.Pred
	}
	switch p.(type) {
	case True:
		return False{}
	case False:
		return True{}
	}
	return &Not{Pred: p}
}

// Some quantifies a to-many relation: at least one related row matches.
func Some(field string, p Predicate) Predicate {
	return &Relation{Field: field, Quant: QuantSome, Pred: p}
}

// None quantifies a to-many relation: no related row matches.
func None(field string, p Predicate) Predicate {
	return &Relation{Field: field, Quant: QuantNone, Pred: p}
}

// Is quantifies a to-one relation: the single related row matches.
func Is(field string, p Predicate) Predicate {
	return &Relation{Field: field, Quant: QuantIs, Pred: p}
}

// Conjoin merges a caller-supplied predicate with an injected guard.
// Either side may be nil; nil is treated as True, and a nil result means
// the combined filter is unconstrained.
func Conjoin(where, guard Predicate) Predicate {
	switch {
	case where == nil:
		return guard
	case guard == nil:
		return where
	default:
		return AndOf(where, guard)
	}
}
