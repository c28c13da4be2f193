package policy

import (
	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/schema"
)

// Build compiles the declared rules of every model in the graph into a guard
// table. Models without rules compile to unconditional deny for every
// operation (an operation with zero allow rules is implicitly denied).
// All expressions are validated against the graph up front so that compiled
// guard functions can never fail at request time.
func Build(g *schema.Graph, rules map[string][]*Rule) (*Table, error) {
	for model := range rules {
		if _, ok := g.Model(model); !ok {
			return nil, warden.NewConfigError("rules declared for unknown model %q", model)
		}
	}
	t := &Table{guards: make(map[string]map[warden.Op]Guard)}
	for _, name := range g.Names() {
		m, _ := g.Model(name)
		c := &compiler{graph: g, model: m}
		if err := c.compileModel(t, rules[name]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

type compiler struct {
	graph *schema.Graph
	model *schema.Model
}

func (c *compiler) compileModel(t *Table, rules []*Rule) error {
	for _, r := range rules {
		if err := c.validateRule(r); err != nil {
			return err
		}
	}
	for _, op := range []warden.Op{warden.OpCreate, warden.OpRead, warden.OpDelete} {
		allows, denies := applicable(rules, op, sideWhole)
		t.set(c.model.Name, op, c.resolve(allows, denies))
	}
	preAllows, preDenies := applicable(rules, warden.OpUpdate, sidePre)
	postAllows, postDenies := applicable(rules, warden.OpUpdate, sidePost)

	// With no before-mutation allow half the gate defers entirely to
	// post-update; with no post-update allow half either, update is
	// statically denied.
	if len(preAllows) == 0 && len(postAllows) > 0 {
		preAllows = []Expr{Const(true)}
	}
	t.set(c.model.Name, warden.OpUpdate, c.resolve(preAllows, preDenies))

	// The post-update gate only exists when some rule references future
	// state; otherwise everything was already enforced before the write.
	switch {
	case len(postAllows) == 0 && len(postDenies) == 0:
		t.set(c.model.Name, warden.OpPostUpdate, AllowGuard())
	default:
		if len(postAllows) == 0 {
			postAllows = []Expr{Const(true)}
		}
		t.set(c.model.Name, warden.OpPostUpdate, c.resolve(postAllows, postDenies))
	}
	return nil
}

type side uint8

const (
	sideWhole side = iota
	sidePre
	sidePost
)

// applicable collects the folded allow and deny expressions of the rules
// covering op, projected onto the requested split side.
func applicable(rules []*Rule, op warden.Op, s side) (allows, denies []Expr) {
	for _, r := range rules {
		if r.Ops&op == 0 {
			continue
		}
		expr := r.Expr
		if expr == nil {
			expr = Const(true)
		}
		switch s {
		case sidePre:
			expr, _ = splitExpr(expr)
		case sidePost:
			_, expr = splitExpr(expr)
		}
		if expr == nil {
			continue
		}
		expr = fold(expr)
		if r.Effect == EffectAllow {
			allows = append(allows, expr)
		} else {
			denies = append(denies, expr)
		}
	}
	return allows, denies
}

// splitExpr splits an expression into its before-mutation and after-mutation
// halves, preserving operator structure. A node whose operand reduces to
// nothing on one side is dropped from that side; a binary node missing one
// side degenerates to the remaining side.
func splitExpr(e Expr) (pre, post Expr) {
	switch e := e.(type) {
	case *And:
		pres, posts := splitAll(e.Exprs)
		return rebuild(pres, func(x []Expr) Expr { return &And{Exprs: x} }),
			rebuild(posts, func(x []Expr) Expr { return &And{Exprs: x} })
	case *Or:
		pres, posts := splitAll(e.Exprs)
		return rebuild(pres, func(x []Expr) Expr { return &Or{Exprs: x} }),
			rebuild(posts, func(x []Expr) Expr { return &Or{Exprs: x} })
	case *Not:
		p, q := splitExpr(e.Expr)
		if p != nil {
			pre = &Not{Expr: p}
		}
		if q != nil {
			post = &Not{Expr: q}
		}
		return pre, post
	default:
		if hasFuture(e) {
			return nil, e
		}
		return e, nil
	}
}

func splitAll(exprs []Expr) (pres, posts []Expr) {
	for _, e := range exprs {
		p, q := splitExpr(e)
		if p != nil {
			pres = append(pres, p)
		}
		if q != nil {
			posts = append(posts, q)
		}
	}
	return pres, posts
}

func rebuild(exprs []Expr, join func([]Expr) Expr) Expr {
	switch len(exprs) {
	case 0:
		return nil
	case 1:
		return exprs[0]
	default:
		return join(exprs)
	}
}

// resolve performs static resolution on the folded allow/deny sets and
// produces the guard: an unconditional deny beats everything, no allow rules
// means implicit deny, and only then is a runtime guard function built as
// AND(negated denies) AND OR(allows).
func (c *compiler) resolve(allows, denies []Expr) Guard {
	keptDenies := denies[:0:0]
	for _, d := range denies {
		if v, ok := d.(Const); ok {
			if v {
				return DenyGuard()
			}
			continue
		}
		keptDenies = append(keptDenies, d)
	}
	allowTrue := false
	keptAllows := allows[:0:0]
	for _, a := range allows {
		if v, ok := a.(Const); ok {
			if v {
				allowTrue = true
			}
			continue
		}
		keptAllows = append(keptAllows, a)
	}
	if !allowTrue && len(keptAllows) == 0 {
		return DenyGuard()
	}
	if allowTrue && len(keptDenies) == 0 {
		return AllowGuard()
	}
	model := c.model
	graph := c.graph
	return ConditionalGuard(func(user warden.User, prev warden.Row) filter.Predicate {
		ec := &exprCompiler{graph: graph, model: model, user: user, prev: prev}
		parts := make([]filter.Predicate, 0, len(keptDenies)+1)
		for _, d := range keptDenies {
			parts = append(parts, filter.NotOf(ec.compile(d)))
		}
		if !allowTrue {
			ors := make([]filter.Predicate, 0, len(keptAllows))
			for _, a := range keptAllows {
				ors = append(ors, ec.compile(a))
			}
			parts = append(parts, filter.OrOf(ors...))
		}
		return filter.AndOf(parts...)
	})
}

// exprCompiler lowers a rule expression into the filter algebra for one
// request. Validation at build time guarantees it cannot fail here.
type exprCompiler struct {
	graph *schema.Graph
	model *schema.Model
	user  warden.User
	prev  warden.Row
}

func (c *exprCompiler) compile(e Expr) filter.Predicate {
	switch e := e.(type) {
	case Const:
		if e {
			return filter.True{}
		}
		return filter.False{}
	case *And:
		return filter.AndOf(c.compileAll(e.Exprs)...)
	case *Or:
		return filter.OrOf(c.compileAll(e.Exprs)...)
	case *Not:
		return filter.NotOf(c.compile(e.Expr))
	case *Some:
		rel, _ := c.model.Relation(e.Relation)
		target, _ := c.graph.Model(rel.Target)
		sub := &exprCompiler{graph: c.graph, model: target, user: c.user, prev: c.prev}
		inner := sub.compile(e.Expr)
		switch {
		case rel.Many && e.Negate:
			return filter.None(e.Relation, inner)
		case rel.Many:
			return filter.Some(e.Relation, inner)
		case e.Negate:
			return filter.NotOf(filter.Is(e.Relation, inner))
		default:
			return filter.Is(e.Relation, inner)
		}
	case *Compare:
		return c.compileCompare(e)
	default:
		return filter.False{}
	}
}

func (c *exprCompiler) compileAll(exprs []Expr) []filter.Predicate {
	out := make([]filter.Predicate, len(exprs))
	for i, e := range exprs {
		out[i] = c.compile(e)
	}
	return out
}

func (c *exprCompiler) compileCompare(e *Compare) filter.Predicate {
	// A pre-state field compared against future state flips into a
	// predicate on the post-mutation column, with the pre-state side
	// resolved from the snapshot.
	if ref, ok := e.Value.(FieldRef); ok && ref.Future && !e.Future {
		return &filter.Cmp{Field: ref.Name, Op: flipOp(e.Op), Value: c.snapshot(e.Field)}
	}
	return &filter.Cmp{Field: e.Field, Op: e.Op, Value: c.operand(e.Value)}
}

func (c *exprCompiler) operand(o Operand) any {
	switch o := o.(type) {
	case Literal:
		return o.Value
	case CallerRef:
		return c.user.Attr(o.Attr)
	case FieldRef:
		// Non-future field references inside a post-update comparison
		// resolve from the captured pre-mutation snapshot.
		return c.snapshot(o.Name)
	default:
		return nil
	}
}

func (c *exprCompiler) snapshot(field string) any {
	if c.prev == nil {
		return nil
	}
	return c.prev[field]
}

// flipOp mirrors an ordering operator when the comparison sides swap.
func flipOp(op filter.CmpOp) filter.CmpOp {
	switch op {
	case filter.OpGT:
		return filter.OpLT
	case filter.OpGTE:
		return filter.OpLTE
	case filter.OpLT:
		return filter.OpGT
	case filter.OpLTE:
		return filter.OpGTE
	default:
		return op
	}
}

// validateRule checks a rule expression against the model so that guard
// functions cannot fail at request time.
func (c *compiler) validateRule(r *Rule) error {
	if r.Effect != EffectAllow && r.Effect != EffectDeny {
		return warden.NewConfigError("model %q: invalid rule effect %q", c.model.Name, r.Effect)
	}
	if r.Ops == 0 || r.Ops&^warden.OpAll != 0 {
		return warden.NewConfigError("model %q: invalid rule operation set %s", c.model.Name, r.Ops)
	}
	if r.Expr == nil {
		return nil
	}
	if hasFuture(r.Expr) && r.Ops != warden.OpUpdate {
		return warden.NewConfigError("model %q: future() references are only valid in update-only rules (got %s)", c.model.Name, r.Ops)
	}
	return c.validateExpr(c.model, r.Expr, false)
}

func (c *compiler) validateExpr(m *schema.Model, e Expr, inRelation bool) error {
	switch e := e.(type) {
	case Const:
		return nil
	case *And:
		return c.validateAll(m, e.Exprs, inRelation)
	case *Or:
		return c.validateAll(m, e.Exprs, inRelation)
	case *Not:
		return c.validateExpr(m, e.Expr, inRelation)
	case *Some:
		rel, ok := m.Relation(e.Relation)
		if !ok {
			return warden.NewConfigError("model %q: unknown relation %q in rule", m.Name, e.Relation)
		}
		if hasFuture(e.Expr) {
			return warden.NewConfigError("model %q: future() cannot appear inside relation quantifier %q", m.Name, e.Relation)
		}
		target, _ := c.graph.Model(rel.Target)
		return c.validateExpr(target, e.Expr, true)
	case *Compare:
		return c.validateCompare(m, e, inRelation)
	default:
		return warden.NewConfigError("model %q: unsupported rule expression %T", m.Name, e)
	}
}

func (c *compiler) validateAll(m *schema.Model, exprs []Expr, inRelation bool) error {
	for _, e := range exprs {
		if err := c.validateExpr(m, e, inRelation); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) validateCompare(m *schema.Model, e *Compare, inRelation bool) error {
	if _, ok := m.Field(e.Field); !ok && e.Field != m.ID() {
		return warden.NewConfigError("model %q: unknown field %q in rule", m.Name, e.Field)
	}
	ref, isRef := e.Value.(FieldRef)
	if !isRef {
		return nil
	}
	if inRelation {
		return warden.NewConfigError("model %q: field references cannot appear inside relation quantifiers", m.Name)
	}
	if _, ok := m.Field(ref.Name); !ok && ref.Name != m.ID() {
		return warden.NewConfigError("model %q: unknown field %q referenced in rule", m.Name, ref.Name)
	}
	// Field-to-field comparisons are only expressible when exactly one
	// side is future state; the other resolves from the snapshot.
	if e.Future == ref.Future {
		return warden.NewConfigError("model %q: comparison of %q and %q must mix future() and current state", m.Name, e.Field, ref.Name)
	}
	switch e.Op {
	case filter.OpEQ, filter.OpNEQ, filter.OpGT, filter.OpGTE, filter.OpLT, filter.OpLTE:
		return nil
	default:
		return warden.NewConfigError("model %q: operator %q not supported for field-to-field comparison", m.Name, e.Op)
	}
}
