// Package enforce implements the runtime enforcement engine: it injects
// compiled policy guards into reads, orchestrates nested writes inside a
// transaction, and validates writes after the fact with count-comparison
// checks that never expose row content.
package enforce

import (
	"github.com/syssam/warden"
	"github.com/syssam/warden/filter"
	"github.com/syssam/warden/policy"
	"github.com/syssam/warden/schema"
)

// Engine enforces a compiled policy table over a Store. Engines are
// stateless across calls (each call carries its own transient context) and
// safe for concurrent use; the graph and table are read-only.
type Engine struct {
	store Store
	graph *schema.Graph
	table *policy.Table
}

// New returns an engine enforcing the given compiled policy table.
func New(store Store, graph *schema.Graph, table *policy.Table) *Engine {
	return &Engine{store: store, graph: graph, table: table}
}

// Graph returns the schema metadata the engine enforces against.
func (e *Engine) Graph() *schema.Graph { return e.graph }

// guard looks up the compiled guard for (model, op). A missing entry is a
// configuration error, never a policy decision.
func (e *Engine) guard(model string, op warden.Op) (policy.Guard, error) {
	return e.table.Lookup(model, op)
}

// reversedFilter folds a traversal path into a filter on the innermost
// model: at each level the accumulated parent filter is nested inside the
// back-link relation field of the current level, transitively down from the
// root's own where-clause. own is the innermost operation's direct filter,
// if it has one.
func (e *Engine) reversedFilter(path []PathStep, own filter.Predicate) (filter.Predicate, error) {
	var acc filter.Predicate
	for _, step := range path {
		acc = filter.Conjoin(acc, step.Where)
		back, err := e.graph.Backlink(step.Model, step.Relation)
		if err != nil {
			return nil, err
		}
		quant := filter.QuantIs
		if back.Many {
			quant = filter.QuantSome
		}
		acc = &filter.Relation{Field: back.Name, Quant: quant, Pred: acc}
	}
	return filter.Conjoin(acc, own), nil
}
