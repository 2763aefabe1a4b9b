// Package models defines flow type definitions to avoid circular imports.
package models

// StateType represents a specific state within the admissions conversation.
type StateType string

// DataKey represents a key for storing collected user data.
type DataKey string

// Role identifies the author of a conversation message.
type Role string

// Conversation states. The set is closed.
const (
	StateWelcome    StateType = "welcome"
	StateMajor      StateType = "major"
	StateMajorOther StateType = "major_other"
	StatePhone      StateType = "phone"
	StateChannel    StateType = "channel"
	StateTimeslot   StateType = "timeslot"
	StateCustomTime StateType = "custom_time"
	StateComplete   StateType = "complete"
	StateNudge      StateType = "nudge"
)

// AllStates lists every state in flow order, nudge last.
var AllStates = []StateType{
	StateWelcome, StateMajor, StateMajorOther, StatePhone, StateChannel,
	StateTimeslot, StateCustomTime, StateComplete, StateNudge,
}

// IsValid reports whether s belongs to the closed state set.
func (s StateType) IsValid() bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions leave s.
func (s StateType) IsTerminal() bool {
	return s == StateComplete
}

// Data keys collected by the conversation.
const (
	DataKeyMajor             DataKey = "major"
	DataKeyPhone             DataKey = "phone"             // raw input as typed
	DataKeyPhoneCleaned      DataKey = "phoneCleaned"      // separators stripped
	DataKeyPhoneStandardized DataKey = "phoneStandardized" // canonical 10-digit domestic form
	DataKeyPhoneNetwork      DataKey = "phoneNetwork"      // carrier class label
	DataKeyChannel           DataKey = "channel"
	DataKeyTimeslot          DataKey = "timeslot"
	DataKeyRetryCount        DataKey = "retryCount" // consecutive validation failures in the current state
)

// SensitiveDataKeys are encrypted at rest and never sent to external services.
var SensitiveDataKeys = []DataKey{
	DataKeyPhone,
	DataKeyPhoneCleaned,
	DataKeyPhoneStandardized,
}

// IsSensitive reports whether k holds personal data.
func (k DataKey) IsSensitive() bool {
	for _, s := range SensitiveDataKeys {
		if k == s {
			return true
		}
	}
	return false
}

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
