package chi

// ErrorCode is a machine-readable API error code.
type ErrorCode string

// API error codes.
const (
	CodeBadRequest                ErrorCode = "bad_request"
	CodeUnauthorized              ErrorCode = "unauthorized"
	CodeInvalidQuery              ErrorCode = "invalid_query"
	CodePolicyNotFound            ErrorCode = "policy_not_found"
	CodeIndexBusy                 ErrorCode = "index_busy"
	CodeKeywordSearchNotSupported ErrorCode = "keyword_search_not_supported"
	CodeRetrievalUnavailable      ErrorCode = "retrieval_unavailable"
	CodeStorageUnavailable        ErrorCode = "storage_unavailable"
	CodeEmbeddingProviderError    ErrorCode = "embedding_provider_error"
	CodeRateLimited               ErrorCode = "rate_limited"
	CodeTimeout                   ErrorCode = "timeout"
	CodeInternalError             ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
