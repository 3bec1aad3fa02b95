package models

// APIResponse is the envelope every bridge endpoint answers with. At most one
// of Data, Error and Message is set; Success mirrors whether Error is empty.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse wraps a payload.
func SuccessResponse(data any) APIResponse {
	return APIResponse{Success: true, Data: data}
}

// ResultResponse wraps a query result. Shape-wise identical to
// SuccessResponse but keeps handlers honest about what they return.
func ResultResponse(result QueryResult) APIResponse {
	return APIResponse{Success: true, Data: result}
}

// ErrorResponse wraps a failure description.
func ErrorResponse(err string) APIResponse {
	return APIResponse{Success: false, Error: err}
}

// MessageResponse wraps a bare acknowledgement.
func MessageResponse(message string) APIResponse {
	return APIResponse{Success: true, Message: message}
}
