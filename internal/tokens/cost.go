package tokens

// Pricing is the per-1000-token price of a classification model.
type Pricing struct {
	InputPer1K  float64
	OutputPer1K float64
}

// CostEstimator turns token counts into monetary cost for the limiter.
type CostEstimator struct {
	registry             *Registry
	model                string
	pricing              Pricing
	expectedOutputTokens int
}

// NewCostEstimator creates an estimator for one model. expectedOutputTokens
// is the completion size assumed before the call returns.
func NewCostEstimator(registry *Registry, model string, pricing Pricing, expectedOutputTokens int) *CostEstimator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &CostEstimator{
		registry:             registry,
		model:                model,
		pricing:              pricing,
		expectedOutputTokens: expectedOutputTokens,
	}
}

// Estimate returns the expected cost of sending instruction to the model.
func (e *CostEstimator) Estimate(instruction string) float64 {
	in, _ := e.registry.Count(e.model, instruction)
	return e.Cost(in, e.expectedOutputTokens)
}

// Cost prices a call with the given token usage.
func (e *CostEstimator) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*e.pricing.InputPer1K +
		float64(completionTokens)/1000*e.pricing.OutputPer1K
}

// Model returns the priced model.
func (e *CostEstimator) Model() string {
	return e.model
}
