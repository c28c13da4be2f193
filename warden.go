// Package warden enforces declarative row-level access-control policies on a
// data access layer. Policies are compiled once into per-operation guard
// predicates (package policy) and injected into reads and writes at request
// time by the enforcement engine (package enforce), so callers can never
// observe or mutate rows outside policy, including through nested relational
// writes.
package warden

import (
	"context"
	"fmt"
	"strings"
)

// Row is a single record as exchanged with the underlying store.
// Keys are column names; values are the store's scalar types.
type Row = map[string]any

// Op is a bitmask of the operations a policy rule applies to.
type Op uint8

// Operations covered by policy rules. OpPostUpdate is derived by the rule
// compiler from update rules referencing post-mutation state; it is never
// declared directly on a rule.
const (
	OpCreate Op = 1 << iota
	OpRead
	OpUpdate
	OpDelete
	OpPostUpdate

	// OpAll covers the four declarable operations.
	OpAll = OpCreate | OpRead | OpUpdate | OpDelete
)

// Is reports whether op includes all operations in o.
func (op Op) Is(o Op) bool { return op&o == o && o != 0 }

// String returns a pipe-separated name list, e.g. "create|read".
func (op Op) String() string {
	names := []struct {
		op   Op
		name string
	}{
		{OpCreate, "create"},
		{OpRead, "read"},
		{OpUpdate, "update"},
		{OpDelete, "delete"},
		{OpPostUpdate, "post-update"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if op&n.op != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Op(%d)", op)
	}
	return strings.Join(parts, "|")
}

// User is the opaque caller identity attached to a request. Guard functions
// resolve caller references against its attributes. A nil User means the
// request is unauthenticated.
type User map[string]any

// Anonymous is the sentinel substituted for caller-attribute references when
// no user is attached to the request context. It is a value that can never
// collide with a real identifier, so identity-comparison predicates stay
// well-formed instead of failing.
const Anonymous = "\x00warden:anonymous"

type userCtxKey struct{}

// WithUser returns a new context with the caller identity attached.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the caller identity from the context.
// Returns nil if the request is unauthenticated.
func UserFromContext(ctx context.Context) User {
	u, _ := ctx.Value(userCtxKey{}).(User)
	return u
}

// Attr resolves a caller attribute, substituting the Anonymous sentinel when
// the user is nil or the attribute is absent.
func (u User) Attr(name string) any {
	if u == nil {
		return Anonymous
	}
	v, ok := u[name]
	if !ok {
		return Anonymous
	}
	return v
}
