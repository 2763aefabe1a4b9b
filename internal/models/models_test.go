package models

import "testing"

func TestUserDataMergeDoesNotMutate(t *testing.T) {
	base := UserData{DataKeyMajor: "CNTT"}
	merged := base.Merge(UserData{DataKeyChannel: "Zalo"})

	if _, ok := base[DataKeyChannel]; ok {
		t.Error("Merge mutated the receiver")
	}
	if merged[DataKeyMajor] != "CNTT" || merged[DataKeyChannel] != "Zalo" {
		t.Errorf("unexpected merge result: %v", merged)
	}
}

func TestUserDataWithout(t *testing.T) {
	d := UserData{DataKeyMajor: "CNTT", DataKeyRetryCount: "2"}
	out := d.Without(DataKeyRetryCount)
	if out.Has(DataKeyRetryCount) {
		t.Error("expected retryCount removed")
	}
	if !d.Has(DataKeyRetryCount) {
		t.Error("Without mutated the receiver")
	}
}

func TestStateTypeClosedSet(t *testing.T) {
	for _, s := range AllStates {
		if !s.IsValid() {
			t.Errorf("state %q should be valid", s)
		}
	}
	if StateType("bogus").IsValid() {
		t.Error("unknown state reported valid")
	}
	if !StateComplete.IsTerminal() || StateNudge.IsTerminal() {
		t.Error("only complete is terminal")
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := Session{
		UserData:            UserData{DataKeyMajor: "CNTT"},
		ConversationHistory: []Message{{Role: RoleAssistant, Text: "hi", QuickReplies: []string{"a"}}},
	}
	c := s.Clone()
	c.UserData[DataKeyMajor] = "Marketing"
	c.ConversationHistory[0].QuickReplies[0] = "b"

	if s.UserData[DataKeyMajor] != "CNTT" {
		t.Error("clone shares user data")
	}
	if s.ConversationHistory[0].QuickReplies[0] != "a" {
		t.Error("clone shares quick replies")
	}
}

func TestRecentMessages(t *testing.T) {
	s := Session{ConversationHistory: make([]Message, 10)}
	if got := len(s.RecentMessages(6)); got != 6 {
		t.Errorf("expected 6, got %d", got)
	}
	if got := len(s.RecentMessages(20)); got != 10 {
		t.Errorf("expected 10, got %d", got)
	}
	if got := s.RecentMessages(0); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}
