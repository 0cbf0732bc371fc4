package hl7ql

// Option customizes an Engine.
type Option func(*Engine)

// WithValueClassification toggles kind tagging (numeric, timestamp, text)
// on the distinct-value rows. Enabled by default.
func WithValueClassification(enabled bool) Option {
	return func(e *Engine) {
		e.classifyValues = enabled
	}
}

// WithSegmentInventory toggles the per-run segment-kind occurrence map.
// Enabled by default.
func WithSegmentInventory(enabled bool) Option {
	return func(e *Engine) {
		e.segmentInventory = enabled
	}
}
