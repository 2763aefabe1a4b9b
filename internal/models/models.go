// Package models defines the core data structures for LeadPipe.
//
// It includes the session, lead, and API envelope types shared across modules.
package models

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	UserID      string `json:"user_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// MessageRequest is the body of POST /sessions/{id}/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// PhoneCheckRequest is the body of POST /phone/validate.
type PhoneCheckRequest struct {
	Input string `json:"input"`
}

// Reply is what the engine returns for every conversational turn.
type Reply struct {
	SessionID    string    `json:"session_id"`
	State        StateType `json:"state"`
	Message      string    `json:"message"`
	QuickReplies []string  `json:"quick_replies,omitempty"`
	Completed    bool      `json:"completed"`
	ErrorKind    ErrorKind `json:"error_kind,omitempty"`
	Escalated    bool      `json:"escalated,omitempty"`
}
