package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Magma-Layer/dln-taker/internal/order"
)

func allowFilter(name string) Filter {
	return Filter{Name: name, Test: func(context.Context, order.Order) bool { return true }}
}

func TestPipelineAdmitsWhenEveryFilterPasses(t *testing.T) {
	p := Pipeline{
		Global:      []Filter{allowFilter("g1")},
		Destination: []Filter{allowFilter("d1")},
		Source:      []Filter{allowFilter("s1")},
	}
	res := p.Evaluate(context.Background(), order.Order{})
	assert.True(t, res.Admitted)
	assert.Empty(t, res.RejectedBy)
}

func TestPipelineRejectsOnFirstFailingFilter(t *testing.T) {
	p := Pipeline{
		Global:      []Filter{allowFilter("g1")},
		Destination: []Filter{DenyAll("d1")},
		Source:      []Filter{allowFilter("s1")},
	}
	res := p.Evaluate(context.Background(), order.Order{})
	assert.False(t, res.Admitted)
	assert.Equal(t, "d1", res.RejectedBy)
}

func TestDenyAllAlwaysRejects(t *testing.T) {
	f := DenyAll("blocked")
	assert.False(t, f.Test(context.Background(), order.Order{}))
}

func TestPipelineRunsEveryFilterDespiteEarlyRejection(t *testing.T) {
	ran := make(chan string, 3)
	track := func(name string, verdict bool) Filter {
		return Filter{Name: name, Test: func(context.Context, order.Order) bool {
			ran <- name
			return verdict
		}}
	}
	p := Pipeline{
		Global: []Filter{track("a", false), track("b", true), track("c", true)},
	}
	p.Evaluate(context.Background(), order.Order{})
	close(ran)

	seen := map[string]bool{}
	for name := range ran {
		seen[name] = true
	}
	assert.Len(t, seen, 3, "every filter must run to completion regardless of ordering or early rejection")
}
