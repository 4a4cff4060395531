package models

// AnalysisResult is the payload returned to callers. The remote site owns
// the schema, so it stays an opaque key-value mapping: full analysis
// results, polled results, or the visuals-only fallback all share it.
type AnalysisResult map[string]interface{}

// ErrorResponse is the body returned on any analysis failure
type ErrorResponse struct {
	Detail string `json:"detail"`
}
