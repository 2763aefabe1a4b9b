// Package models defines session and lead records for LeadPipe.
package models

import (
	"time"
)

// UserData holds the fields collected during a conversation.
// Values are treated as immutable: transitions build a new map via Merge.
type UserData map[DataKey]string

// Clone returns an independent copy of d. A nil receiver yields an empty map.
func (d UserData) Clone() UserData {
	out := make(UserData, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Merge returns a new UserData holding d overlaid with fields.
func (d UserData) Merge(fields UserData) UserData {
	out := d.Clone()
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Without returns a copy of d with the given keys removed.
func (d UserData) Without(keys ...DataKey) UserData {
	out := d.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Has reports whether k is present with a non-empty value.
func (d UserData) Has(k DataKey) bool {
	return d[k] != ""
}

// Message is a single entry in the append-only conversation history.
type Message struct {
	Role         Role      `json:"role"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
	QuickReplies []string  `json:"quick_replies,omitempty"`
}

// Session represents one conversation instance.
//
// IsCompleted is true exactly when CurrentState is StateComplete.
type Session struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"user_id"`
	DisplayName         string    `json:"display_name,omitempty"`
	CurrentState        StateType `json:"current_state"`
	PreviousState       StateType `json:"previous_state,omitempty"` // resume target while in nudge; empty otherwise
	UserData            UserData  `json:"user_data"`
	ConversationHistory []Message `json:"conversation_history"`
	IsCompleted         bool      `json:"is_completed"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand sessions across goroutines.
func (s Session) Clone() Session {
	out := s
	out.UserData = s.UserData.Clone()
	out.ConversationHistory = make([]Message, len(s.ConversationHistory))
	for i, m := range s.ConversationHistory {
		m.QuickReplies = append([]string(nil), m.QuickReplies...)
		out.ConversationHistory[i] = m
	}
	return out
}

// RecentMessages returns the last n messages of the history.
func (s Session) RecentMessages(n int) []Message {
	if n <= 0 {
		return nil
	}
	if n >= len(s.ConversationHistory) {
		return s.ConversationHistory
	}
	return s.ConversationHistory[len(s.ConversationHistory)-n:]
}

// Lead is the downstream artifact created when a session completes.
type Lead struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Major       string    `json:"major,omitempty"`
	Phone       string    `json:"phone,omitempty"` // standardized form; encrypted at rest
	Network     string    `json:"network,omitempty"`
	Channel     string    `json:"channel,omitempty"`
	Timeslot    string    `json:"timeslot,omitempty"`
	Qualified   bool      `json:"qualified"`
	CreatedAt   time.Time `json:"created_at"`
}
