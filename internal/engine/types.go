package engine

// Sampling controls stochastic text generation for a single request.
// The end-of-sequence token doubles as the padding token; Ollama applies
// that itself for single-sequence generation, so it is not configurable.
type Sampling struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
	DoSample     bool
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}
