// Package flow implements the admissions conversation: the state machine,
// session lifecycle, nudge scheduling and the engine that ties them together.
package flow

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/phone"
)

// MaxRetries is the number of consecutive validation failures that trigger escalation.
const MaxRetries = 3

// EscalationPolicy decides what happens to collected data on escalation.
type EscalationPolicy string

const (
	// EscalationKeep returns to welcome but keeps collected fields.
	EscalationKeep EscalationPolicy = "keep"
	// EscalationClear returns to welcome with empty user data.
	EscalationClear EscalationPolicy = "clear"
)

// ParseEscalationPolicy maps a config value to a policy, defaulting to keep.
func ParseEscalationPolicy(s string) (EscalationPolicy, bool) {
	switch EscalationPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case EscalationKeep, "":
		return EscalationKeep, true
	case EscalationClear:
		return EscalationClear, true
	}
	return EscalationKeep, false
}

// ValidationResult is the outcome of a per-state validator.
type ValidationResult struct {
	Valid     bool
	Error     string
	ErrorKind models.ErrorKind
	Fields    models.UserData // extracted fields merged on success
}

// Validator checks input for a state. It must not mutate data.
type Validator func(input string, data models.UserData) ValidationResult

// NextFunc picks the next state after successful validation.
type NextFunc func(input string, data models.UserData) models.StateType

// StateDefinition is one row of the transition table.
type StateDefinition struct {
	State         models.StateType
	Prompt        string
	QuickReplies  []string
	RequiresInput bool
	Validate      Validator // nil accepts any input
	Next          NextFunc  // nil for states without forward transitions
}

// TransitionResult is returned by Machine.Process.
type TransitionResult struct {
	Success   bool
	NextState models.StateType
	UserData  models.UserData
	Error     string
	ErrorKind models.ErrorKind
	Escalated bool
}

// Machine is the conversation state machine. It holds no per-session state
// and Process is a pure function of its arguments.
type Machine struct {
	states map[models.StateType]StateDefinition
	policy EscalationPolicy
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithEscalationPolicy sets what happens to user data on escalation.
func WithEscalationPolicy(p EscalationPolicy) MachineOption {
	return func(m *Machine) { m.policy = p }
}

// NewMachine builds the admissions state machine.
func NewMachine(opts ...MachineOption) *Machine {
	m := &Machine{states: make(map[models.StateType]StateDefinition), policy: EscalationKeep}
	for _, def := range transitionTable() {
		m.states[def.State] = def
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Definition returns the table row for a state.
func (m *Machine) Definition(state models.StateType) (StateDefinition, bool) {
	def, ok := m.states[state]
	return def, ok
}

// Policy returns the configured escalation policy.
func (m *Machine) Policy() EscalationPolicy {
	return m.policy
}

func transitionTable() []StateDefinition {
	return []StateDefinition{
		{
			State:         models.StateWelcome,
			Prompt:        welcomePrompt,
			QuickReplies:  WelcomeOptions,
			RequiresInput: true,
			Next:          always(models.StateMajor),
		},
		{
			State:         models.StateMajor,
			Prompt:        majorPrompt,
			QuickReplies:  MajorOptions,
			RequiresInput: true,
			Validate:      validateMajor,
			Next:          nextAfterMajor,
		},
		{
			State:         models.StateMajorOther,
			Prompt:        majorOtherPrompt,
			RequiresInput: true,
			Validate:      validateMajorOther,
			Next:          always(models.StatePhone),
		},
		{
			State:         models.StatePhone,
			Prompt:        phonePrompt,
			RequiresInput: true,
			Validate:      validatePhone,
			Next:          always(models.StateChannel),
		},
		{
			State:         models.StateChannel,
			Prompt:        channelPrompt,
			QuickReplies:  ChannelOptions,
			RequiresInput: true,
			Validate:      validateChannel,
			Next:          always(models.StateTimeslot),
		},
		{
			State:         models.StateTimeslot,
			Prompt:        timeslotPrompt,
			QuickReplies:  TimeslotOptions,
			RequiresInput: true,
			Validate:      validateTimeslot,
			Next:          nextAfterTimeslot,
		},
		{
			State:         models.StateCustomTime,
			Prompt:        customTimePrompt,
			RequiresInput: true,
			Validate:      validateCustomTime,
			Next:          always(models.StateComplete),
		},
		{
			State:  models.StateComplete,
			Prompt: completePrompt,
		},
		{
			State:         models.StateNudge,
			Prompt:        nudgePrompt,
			QuickReplies:  NudgeOptions,
			RequiresInput: true,
		},
	}
}

// Process validates input for state and computes the transition.
//
// On failure the retry counter in the returned data is incremented; once it
// reaches MaxRetries the result is escalated back to welcome. Terminal and
// nudge states have no forward rule here and return the input unchanged.
func (m *Machine) Process(state models.StateType, input string, data models.UserData) TransitionResult {
	def, ok := m.states[state]
	if !ok || def.Next == nil {
		return TransitionResult{NextState: state, UserData: data.Clone()}
	}

	res := ValidationResult{Valid: true}
	if def.Validate != nil {
		res = def.Validate(input, data)
	}

	if !res.Valid {
		retries := RetryCount(data) + 1
		if retries >= MaxRetries {
			next := data.Without(models.DataKeyRetryCount)
			if m.policy == EscalationClear {
				next = models.UserData{}
			}
			return TransitionResult{
				NextState: models.StateWelcome,
				UserData:  next,
				Error:     res.Error,
				ErrorKind: res.ErrorKind,
				Escalated: true,
			}
		}
		return TransitionResult{
			NextState: state,
			UserData:  data.Merge(models.UserData{models.DataKeyRetryCount: strconv.Itoa(retries)}),
			Error:     res.Error,
			ErrorKind: res.ErrorKind,
		}
	}

	next := data.Without(models.DataKeyRetryCount).Merge(res.Fields)
	return TransitionResult{
		Success:   true,
		NextState: def.Next(input, next),
		UserData:  next,
	}
}

// RetryCount reads the consecutive failure counter from data.
func RetryCount(data models.UserData) int {
	n, err := strconv.Atoi(data[models.DataKeyRetryCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Render substitutes {name} placeholders with values from vars.
// Unknown or empty placeholders are left as written.
func Render(template string, vars models.UserData) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(ph string) string {
		if v := vars[models.DataKey(ph[1:len(ph)-1])]; v != "" {
			return v
		}
		return ph
	})
}

// Render renders the prompt template for state.
func (m *Machine) Render(state models.StateType, vars models.UserData) string {
	def, ok := m.states[state]
	if !ok {
		return ""
	}
	return Render(def.Prompt, vars)
}

func always(s models.StateType) NextFunc {
	return func(string, models.UserData) models.StateType { return s }
}

func nextAfterMajor(input string, _ models.UserData) models.StateType {
	if strings.EqualFold(strings.TrimSpace(input), MajorOtherOption) {
		return models.StateMajorOther
	}
	return models.StatePhone
}

func nextAfterTimeslot(input string, _ models.UserData) models.StateType {
	if strings.EqualFold(strings.TrimSpace(input), TimeslotOtherOption) {
		return models.StateCustomTime
	}
	return models.StateComplete
}

func validateMajor(input string, _ models.UserData) ValidationResult {
	in := strings.TrimSpace(input)
	if in == "" {
		return invalid(msgMajorEmpty, models.ErrorKindEmptyInput)
	}
	if strings.EqualFold(in, MajorOtherOption) {
		return ValidationResult{Valid: true}
	}
	if opt, ok := matchOption(in, MajorOptions); ok {
		in = opt
	}
	return ValidationResult{Valid: true, Fields: models.UserData{models.DataKeyMajor: in}}
}

func validateMajorOther(input string, _ models.UserData) ValidationResult {
	in := strings.TrimSpace(input)
	if r := lengthCheck(in, 2, 100, msgMajorOtherShort, msgMajorOtherLong); !r.Valid {
		return r
	}
	return ValidationResult{Valid: true, Fields: models.UserData{models.DataKeyMajor: in}}
}

func validatePhone(input string, _ models.UserData) ValidationResult {
	r := phone.Validate(input)
	if !r.IsValid {
		return invalid(phone.Message(r.ErrorKind), r.ErrorKind)
	}
	return ValidationResult{Valid: true, Fields: models.UserData{
		models.DataKeyPhone:             strings.TrimSpace(input),
		models.DataKeyPhoneCleaned:      r.CleanedInput,
		models.DataKeyPhoneStandardized: r.StandardizedForm,
		models.DataKeyPhoneNetwork:      string(r.NetworkClass),
	}}
}

func validateChannel(input string, _ models.UserData) ValidationResult {
	opt, ok := matchOption(input, ChannelOptions)
	if !ok {
		if strings.TrimSpace(input) == "" {
			return invalid(msgChannelInvalid, models.ErrorKindEmptyInput)
		}
		return invalid(msgChannelInvalid, models.ErrorKindInvalidOption)
	}
	return ValidationResult{Valid: true, Fields: models.UserData{models.DataKeyChannel: opt}}
}

func validateTimeslot(input string, _ models.UserData) ValidationResult {
	in := strings.TrimSpace(input)
	if in == "" {
		return invalid(msgTimeslotEmpty, models.ErrorKindEmptyInput)
	}
	if strings.EqualFold(in, TimeslotOtherOption) {
		return ValidationResult{Valid: true}
	}
	if opt, ok := matchOption(in, TimeslotOptions); ok {
		in = opt
	}
	return ValidationResult{Valid: true, Fields: models.UserData{models.DataKeyTimeslot: in}}
}

func validateCustomTime(input string, _ models.UserData) ValidationResult {
	in := strings.TrimSpace(input)
	if r := lengthCheck(in, 3, 100, msgCustomTimeShort, msgCustomTimeLong); !r.Valid {
		return r
	}
	return ValidationResult{Valid: true, Fields: models.UserData{models.DataKeyTimeslot: in}}
}

func lengthCheck(in string, min, max int, shortMsg, longMsg string) ValidationResult {
	n := utf8.RuneCountInString(in)
	switch {
	case n == 0:
		return invalid(shortMsg, models.ErrorKindEmptyInput)
	case n < min:
		return invalid(shortMsg, models.ErrorKindTooShort)
	case n > max:
		return invalid(longMsg, models.ErrorKindTooLong)
	}
	return ValidationResult{Valid: true}
}

func invalid(msg string, kind models.ErrorKind) ValidationResult {
	return ValidationResult{Error: msg, ErrorKind: kind}
}
