package flow

import (
	"reflect"
	"strings"
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestMachine_TableCoversEveryState(t *testing.T) {
	m := NewMachine()
	for _, s := range models.AllStates {
		def, ok := m.Definition(s)
		if !ok {
			t.Errorf("state %s has no definition", s)
			continue
		}
		if def.Prompt == "" {
			t.Errorf("state %s has no prompt", s)
		}
	}
	complete, _ := m.Definition(models.StateComplete)
	if complete.RequiresInput || complete.Next != nil {
		t.Error("complete must be terminal and take no input")
	}
}

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	tests := []struct {
		name      string
		state     models.StateType
		input     string
		data      models.UserData
		wantOK    bool
		wantNext  models.StateType
		wantField models.DataKey
		wantValue string
		wantKind  models.ErrorKind
	}{
		{"welcome accepts anything", models.StateWelcome, "Yes interested", nil, true, models.StateMajor, "", "", ""},
		{"major menu canonicalised", models.StateMajor, "marketing", nil, true, models.StatePhone, models.DataKeyMajor, "Marketing", ""},
		{"major free text", models.StateMajor, "  Data Science ", nil, true, models.StatePhone, models.DataKeyMajor, "Data Science", ""},
		{"major other sentinel", models.StateMajor, "OTHER", nil, true, models.StateMajorOther, "", "", ""},
		{"major empty", models.StateMajor, "   ", nil, false, models.StateMajor, "", "", models.ErrorKindEmptyInput},
		{"major other too short", models.StateMajorOther, "x", nil, false, models.StateMajorOther, "", "", models.ErrorKindTooShort},
		{"major other too long", models.StateMajorOther, strings.Repeat("a", 101), nil, false, models.StateMajorOther, "", "", models.ErrorKindTooLong},
		{"major other ok", models.StateMajorOther, "Logistics", nil, true, models.StatePhone, models.DataKeyMajor, "Logistics", ""},
		{"phone domestic", models.StatePhone, "0901234567", nil, true, models.StateChannel, models.DataKeyPhoneStandardized, "0901234567", ""},
		{"phone international", models.StatePhone, "+84901234567", nil, true, models.StateChannel, models.DataKeyPhoneStandardized, "0901234567", ""},
		{"phone unassigned prefix", models.StatePhone, "0121234567", nil, false, models.StatePhone, "", "", models.ErrorKindUnassignedPrefix},
		{"channel case-insensitive", models.StateChannel, "zalo", nil, true, models.StateTimeslot, models.DataKeyChannel, "Zalo", ""},
		{"channel unknown", models.StateChannel, "Email", nil, false, models.StateChannel, "", "", models.ErrorKindInvalidOption},
		{"timeslot option", models.StateTimeslot, "evening", nil, true, models.StateComplete, models.DataKeyTimeslot, "Evening", ""},
		{"timeslot other", models.StateTimeslot, "Choose another time", nil, true, models.StateCustomTime, "", "", ""},
		{"custom time too short", models.StateCustomTime, "am", nil, false, models.StateCustomTime, "", "", models.ErrorKindTooShort},
		{"custom time ok", models.StateCustomTime, "Saturday morning", nil, true, models.StateComplete, models.DataKeyTimeslot, "Saturday morning", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Process(tt.state, tt.input, tt.data)
			if res.Success != tt.wantOK {
				t.Fatalf("Success = %v, want %v (error %q)", res.Success, tt.wantOK, res.Error)
			}
			if res.NextState != tt.wantNext {
				t.Errorf("NextState = %s, want %s", res.NextState, tt.wantNext)
			}
			if tt.wantField != "" && res.UserData[tt.wantField] != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantField, res.UserData[tt.wantField], tt.wantValue)
			}
			if res.ErrorKind != tt.wantKind {
				t.Errorf("ErrorKind = %s, want %s", res.ErrorKind, tt.wantKind)
			}
			if !tt.wantOK && res.Error == "" {
				t.Error("failed validation should carry a message")
			}
		})
	}
}

func TestMachine_ScenarioA(t *testing.T) {
	m := NewMachine()
	state := models.StateWelcome
	data := models.UserData{}
	for _, input := range []string{"Yes interested", "CNTT", "0901234567", "Zalo", "Evening"} {
		res := m.Process(state, input, data)
		if !res.Success {
			t.Fatalf("input %q rejected in %s: %s", input, state, res.Error)
		}
		state, data = res.NextState, res.UserData
	}
	if state != models.StateComplete {
		t.Fatalf("final state = %s, want complete", state)
	}
	want := map[models.DataKey]string{
		models.DataKeyMajor:             "CNTT",
		models.DataKeyPhone:             "0901234567",
		models.DataKeyPhoneStandardized: "0901234567",
		models.DataKeyChannel:           "Zalo",
		models.DataKeyTimeslot:          "Evening",
	}
	for k, v := range want {
		if data[k] != v {
			t.Errorf("%s = %q, want %q", k, data[k], v)
		}
	}
	if data.Has(models.DataKeyRetryCount) {
		t.Error("retry counter should not survive a clean run")
	}
}

func TestMachine_RetryCountAndEscalation(t *testing.T) {
	m := NewMachine()
	data := models.UserData{models.DataKeyMajor: "CNTT"}

	res := m.Process(models.StatePhone, "abc", data)
	if res.Success || res.NextState != models.StatePhone || RetryCount(res.UserData) != 1 {
		t.Fatalf("first failure: %+v", res)
	}
	res = m.Process(models.StatePhone, "123", res.UserData)
	if res.Escalated || RetryCount(res.UserData) != 2 {
		t.Fatalf("second failure: %+v", res)
	}
	res = m.Process(models.StatePhone, "0121234567", res.UserData)
	if !res.Escalated || res.NextState != models.StateWelcome {
		t.Fatalf("third failure should escalate: %+v", res)
	}
	if res.UserData[models.DataKeyMajor] != "CNTT" || res.UserData.Has(models.DataKeyRetryCount) {
		t.Errorf("keep policy data = %v", res.UserData)
	}

	// A success in between resets the counter.
	res = m.Process(models.StatePhone, "abc", data)
	res = m.Process(models.StatePhone, "0901234567", res.UserData)
	if !res.Success || res.UserData.Has(models.DataKeyRetryCount) {
		t.Errorf("success should clear retry count: %v", res.UserData)
	}
}

func TestMachine_EscalationClearPolicy(t *testing.T) {
	m := NewMachine(WithEscalationPolicy(EscalationClear))
	data := models.UserData{models.DataKeyMajor: "CNTT", models.DataKeyRetryCount: "2"}
	res := m.Process(models.StateChannel, "pigeon", data)
	if !res.Escalated || len(res.UserData) != 0 {
		t.Errorf("clear policy should drop data, got %v", res.UserData)
	}
}

func TestMachine_ProcessIsDeterministicAndPure(t *testing.T) {
	m := NewMachine()
	data := models.UserData{models.DataKeyMajor: "Marketing"}
	snapshot := data.Clone()
	a := m.Process(models.StatePhone, "+84901234567", data)
	b := m.Process(models.StatePhone, "+84901234567", data)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("results differ: %+v vs %+v", a, b)
	}
	if !reflect.DeepEqual(data, snapshot) {
		t.Errorf("input data mutated: %v", data)
	}
}

func TestMachine_TerminalAndNudgeStatesStayPut(t *testing.T) {
	m := NewMachine()
	for _, s := range []models.StateType{models.StateComplete, models.StateNudge, "bogus"} {
		res := m.Process(s, "anything", models.UserData{})
		if res.Success || res.NextState != s {
			t.Errorf("Process(%s) = %+v", s, res)
		}
	}
}

func TestRender(t *testing.T) {
	vars := models.UserData{models.DataKeyMajor: "CNTT", VarName: "Lan"}
	got := Render("Hi {name}, {major} via {channel} {not closed", vars)
	want := "Hi Lan, CNTT via {channel} {not closed"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestParseEscalationPolicy(t *testing.T) {
	for in, want := range map[string]EscalationPolicy{"": EscalationKeep, "KEEP": EscalationKeep, "clear": EscalationClear} {
		got, ok := ParseEscalationPolicy(in)
		if !ok || got != want {
			t.Errorf("ParseEscalationPolicy(%q) = %s, %v", in, got, ok)
		}
	}
	if _, ok := ParseEscalationPolicy("wipe"); ok {
		t.Error("unknown policy should be rejected")
	}
}

func TestResumeState(t *testing.T) {
	tests := []struct {
		data models.UserData
		want models.StateType
	}{
		{models.UserData{}, models.StateMajor},
		{models.UserData{models.DataKeyMajor: "CNTT"}, models.StatePhone},
		{models.UserData{models.DataKeyMajor: "CNTT", models.DataKeyPhone: "0901234567"}, models.StateChannel},
		{models.UserData{models.DataKeyMajor: "CNTT", models.DataKeyPhone: "0901234567", models.DataKeyChannel: "SMS"}, models.StateTimeslot},
		{models.UserData{models.DataKeyMajor: "CNTT", models.DataKeyPhone: "0901234567", models.DataKeyChannel: "SMS", models.DataKeyTimeslot: "Morning"}, models.StateComplete},
		{models.UserData{models.DataKeyPhone: "0901234567", models.DataKeyChannel: "SMS"}, models.StateMajor},
	}
	for _, tt := range tests {
		if got := ResumeState(tt.data); got != tt.want {
			t.Errorf("ResumeState(%v) = %s, want %s", tt.data, got, tt.want)
		}
	}
}

func TestKeywordClassifier(t *testing.T) {
	cases := map[string]bool{
		"Yes, continue": true,
		"ok":            true,
		"Có":            true,
		"sure thing!":   true,
		"No, thanks":    false,
		"not now":       false,
		"yes but later": false,
		"what is this?": false,
		"không":         false,
		"Tiếp tục nhé":  true,
	}
	for in, want := range cases {
		if got := DefaultClassifier.IsAffirmative(in); got != want {
			t.Errorf("IsAffirmative(%q) = %v, want %v", in, got, want)
		}
	}
}
