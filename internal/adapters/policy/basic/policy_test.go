package basic

import (
	"context"
	"testing"

	"github.com/tjfontaine/polyglot-media-router/internal/core/ports"
)

func TestCheckRequest_AlwaysAllows(t *testing.T) {
	policy := NewPolicy()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		decision, err := policy.CheckRequest(ctx, &ports.PolicyRequest{UserID: "u1", EstimatedCost: 10})
		if err != nil {
			t.Fatalf("CheckRequest failed: %v", err)
		}
		if !decision.Allow {
			t.Fatal("Expected decision.Allow to be true")
		}
	}

	if requests, _ := policy.Totals(); requests != 100 {
		t.Errorf("requests = %d, want 100", requests)
	}
}

func TestCheckRequest_NilRequest(t *testing.T) {
	policy := NewPolicy()

	decision, err := policy.CheckRequest(context.Background(), nil)
	if err != nil {
		t.Fatalf("CheckRequest failed: %v", err)
	}
	if !decision.Allow {
		t.Error("Expected decision.Allow to be true even with nil request")
	}
}

func TestRecordUsage_AccumulatesCost(t *testing.T) {
	policy := NewPolicy()
	ctx := context.Background()

	for _, c := range []float64{0.0015, 0.0025} {
		if err := policy.RecordUsage(ctx, &ports.UsageRecord{UserID: "u1", ActualCost: c}); err != nil {
			t.Fatalf("RecordUsage failed: %v", err)
		}
	}
	if err := policy.RecordUsage(ctx, nil); err != nil {
		t.Fatalf("RecordUsage failed with nil: %v", err)
	}

	if _, cost := policy.Totals(); cost != 0.004 {
		t.Errorf("cost = %v, want 0.004", cost)
	}
}
