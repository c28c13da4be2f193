package policy

import (
	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
)

// Kind discriminates the three guard variants.
type Kind uint8

// Guard variants. A missing table entry is a configuration error, never a
// policy decision.
const (
	// KindDeny rejects the operation unconditionally.
	KindDeny Kind = iota
	// KindAllow permits the operation unconditionally.
	KindAllow
	// KindConditional evaluates a guard function at request time.
	KindConditional
)

func (k Kind) String() string {
	switch k {
	case KindDeny:
		return "deny"
	case KindAllow:
		return "allow"
	case KindConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// GuardFunc builds the filter predicate enforcing an operation for the given
// caller. prev is the entity's captured pre-mutation snapshot and is only
// consulted by post-update guards; it is nil for all other operations.
// GuardFuncs are deterministic, side-effect-free and perform no I/O.
type GuardFunc func(user warden.User, prev warden.Row) filter.Predicate

// Guard is the compiled outcome for one (model, operation) pair: a constant
// allow/deny or a request-time guard function.
type Guard struct {
	kind Kind
	fn   GuardFunc
}

// AllowGuard returns an unconditional allow.
func AllowGuard() Guard { return Guard{kind: KindAllow} }

// DenyGuard returns an unconditional deny.
func DenyGuard() Guard { return Guard{kind: KindDeny} }

// ConditionalGuard returns a guard evaluated at request time.
func ConditionalGuard(fn GuardFunc) Guard {
	return Guard{kind: KindConditional, fn: fn}
}

// Kind returns the guard variant.
func (g Guard) Kind() Kind { return g.kind }

// Predicate returns the filter predicate enforcing the guard for the given
// caller and optional pre-mutation snapshot. Constant guards yield the
// corresponding constant predicate.
func (g Guard) Predicate(user warden.User, prev warden.Row) filter.Predicate {
	switch g.kind {
	case KindAllow:
		return filter.True{}
	case KindDeny:
		return filter.False{}
	default:
		return g.fn(user, prev)
	}
}

// Table maps (model, operation) pairs to their compiled guards. It is built
// once per schema and read-only afterwards.
type Table struct {
	guards map[string]map[warden.Op]Guard
}

// Lookup returns the guard for the given model and operation. A missing
// entry indicates a schema/compiler inconsistency and yields a ConfigError,
// distinguishable from a policy denial.
func (t *Table) Lookup(model string, op warden.Op) (Guard, error) {
	ops, ok := t.guards[model]
	if !ok {
		return Guard{}, warden.NewConfigError("no guards compiled for model %q", model)
	}
	g, ok := ops[op]
	if !ok {
		return Guard{}, warden.NewConfigError("no %s guard compiled for model %q", op, model)
	}
	return g, nil
}

func (t *Table) set(model string, op warden.Op, g Guard) {
	ops, ok := t.guards[model]
	if !ok {
		ops = make(map[warden.Op]Guard, 5)
		t.guards[model] = ops
	}
	ops[op] = g
}
