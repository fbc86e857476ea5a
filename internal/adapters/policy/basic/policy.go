// Package basic provides an allow-all quality policy for single-user and
// development deployments.
package basic

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

// Policy implements ports.QualityPolicy with no restrictions. It still
// tallies what it admits so operators can see the load.
type Policy struct {
	requests atomic.Int64
	// costMicros is the accumulated actual cost in millionths.
	costMicros atomic.Int64
}

var _ ports.QualityPolicy = (*Policy)(nil)

// NewPolicy creates a new basic policy.
func NewPolicy() *Policy {
	return &Policy{}
}

// CheckRequest always allows requests.
func (p *Policy) CheckRequest(_ context.Context, _ *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	p.requests.Add(1)
	return &ports.PolicyDecision{
		Allow:  true,
		Reason: "basic policy allows all requests",
	}, nil
}

// RecordUsage adds the actual cost to the running total.
func (p *Policy) RecordUsage(_ context.Context, usage *ports.UsageRecord) error {
	if usage == nil {
		return nil
	}
	p.costMicros.Add(int64(math.Round(usage.ActualCost * 1e6)))
	return nil
}

// Totals returns the number of admitted requests and the accumulated cost.
func (p *Policy) Totals() (requests int64, cost float64) {
	return p.requests.Load(), float64(p.costMicros.Load()) / 1e6
}
