package enforce

import (
	"context"

	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
)

// checkCount is the core verification primitive: it counts the candidate
// rows with and without the guard applied. A smaller guarded count means at
// least one candidate failed policy, and the check fails with the number of
// rejected rows. Only counts cross the trust boundary; row content is never
// materialized for the comparison.
func checkCount(ctx context.Context, s Store, model string, where filter.Predicate, op warden.Op, guard filter.Predicate) error {
	total, err := s.Count(ctx, model, where)
	if err != nil {
		return warden.NewQueryError(model, "count", err)
	}
	if total == 0 {
		return nil
	}
	allowed, err := s.Count(ctx, model, filter.Conjoin(where, guard))
	if err != nil {
		return warden.NewQueryError(model, "count", err)
	}
	if allowed < total {
		return warden.RejectedError(model, op, int(total-allowed))
	}
	return nil
}
