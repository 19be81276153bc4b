package dto

// Result is the body of accepted requests
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// NewErrorResponse builds an ErrorResponse carrying the HTTP status.
func NewErrorResponse(status int, code string, err error) ErrorResponse {
	resp := ErrorResponse{Error: code, Code: status}
	if err != nil {
		resp.Message = err.Error()
	}
	return resp
}
