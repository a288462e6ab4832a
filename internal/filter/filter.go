// Package filter implements the admission Filter Pipeline: a pure
// test composed from global, destination-side, and source-side
// filters. An order is admitted iff every filter returns true.
package filter

import (
	"context"
	"sync"

	"github.com/Magma-Layer/dln-taker/internal/order"
)

// Filter is a single admission predicate. Name is used only for
// logging which filter rejected an order.
type Filter struct {
	Name string
	Test func(ctx context.Context, o order.Order) bool
}

// Pipeline composes three filter lists in the order spec.md 4.2 names
// them: global, destination (take-chain), source (give-chain).
type Pipeline struct {
	Global      []Filter
	Destination []Filter
	Source      []Filter
}

// Result reports whether the order was admitted and which filter, if
// any, rejected it.
type Result struct {
	Admitted   bool
	RejectedBy string
}

// Evaluate runs every filter concurrently — ordering must not affect
// the result, and implementations must not rely on short-circuiting
// for side effects, so every filter always runs to completion even
// after a rejection is observed.
func (p *Pipeline) Evaluate(ctx context.Context, o order.Order) Result {
	all := make([]Filter, 0, len(p.Global)+len(p.Destination)+len(p.Source))
	all = append(all, p.Global...)
	all = append(all, p.Destination...)
	all = append(all, p.Source...)

	results := make([]bool, len(all))
	var wg sync.WaitGroup
	wg.Add(len(all))
	for i, f := range all {
		i, f := i, f
		go func() {
			defer wg.Done()
			results[i] = f.Test(ctx, o)
		}()
	}
	wg.Wait()

	for i, ok := range results {
		if !ok {
			return Result{Admitted: false, RejectedBy: all[i].Name}
		}
	}
	return Result{Admitted: true}
}

// DenyAll returns a filter that always rejects — used to install a
// blanket deny-destination filter for a chain configured with
// disabled = true (spec.md 6).
func DenyAll(name string) Filter {
	return Filter{Name: name, Test: func(context.Context, order.Order) bool { return false }}
}
