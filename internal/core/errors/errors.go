package errors

const (
	HttpInternalError          = "internal_error"
	HttpInvalidJsonError       = "invalid_json"
	HttpValidationError        = "validation_failed"
	HttpInvalidQueryError      = "invalid_query"
	HttpUnsupportedMetricError = "unsupported_metric"
	HttpServiceClosedError     = "service_closed"
)

// ErrorResponse is the JSON error body for all API endpoints.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
