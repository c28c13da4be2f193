package enforce

import (
	"context"

	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
)

// MarkerField is the reserved column used to tag rows created within one
// write call so that create post-checks can correlate them. Stores persist
// it like any scalar column; the engine strips it from results. Schemas
// must not declare a field with this name.
const MarkerField = "guard_tag"

// Store is the capability surface the engine consumes from the underlying
// data store: filtered find and count, nested write execution, and
// transactional multi-statement execution with rollback-on-error.
//
// Stores execute argument trees as given; all policy enforcement happens in
// the engine before and after these calls.
type Store interface {
	// FindMany returns the rows matching args, with included relations
	// materialized under their field names (warden.Row for to-one,
	// []warden.Row for to-many).
	FindMany(ctx context.Context, model string, args *ReadArgs) ([]warden.Row, error)

	// Count returns the number of rows matching the filter.
	Count(ctx context.Context, model string, where filter.Predicate) (int64, error)

	// Create inserts one row, executing nested relation operations, and
	// returns the created row projected by sel (all scalars when empty).
	Create(ctx context.Context, model string, data *WriteData, sel []string) (warden.Row, error)

	// CreateMany inserts a batch of rows and returns the number created.
	CreateMany(ctx context.Context, model string, data []*WriteData) (int64, error)

	// Update mutates the single row matching args.Where, executing nested
	// relation operations, and returns the updated row. Returns a
	// NotFoundError when no row matches.
	Update(ctx context.Context, model string, args *WriteArgs) (warden.Row, error)

	// UpdateMany mutates all rows matching args.Where (scalar assignments
	// only) and returns the number updated.
	UpdateMany(ctx context.Context, model string, args *WriteArgs) (int64, error)

	// Delete removes the single row matching args.Where and returns it.
	// Returns a NotFoundError when no row matches.
	Delete(ctx context.Context, model string, args *WriteArgs) (warden.Row, error)

	// DeleteMany removes all rows matching args.Where and returns the
	// number removed.
	DeleteMany(ctx context.Context, model string, args *WriteArgs) (int64, error)

	// Tx runs fn inside a transaction. Returning an error rolls back every
	// statement issued through the Store passed to fn.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}
