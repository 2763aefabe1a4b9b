package flow

import (
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Menu options offered as quick replies.
var (
	MajorOptions = []string{
		"CNTT",
		"Business Administration",
		"Marketing",
		"Graphic Design",
		"Hospitality Management",
		MajorOtherOption,
	}
	ChannelOptions  = []string{"Phone call", "Zalo", "SMS"}
	TimeslotOptions = []string{"Morning", "Afternoon", "Evening", TimeslotOtherOption}
	WelcomeOptions  = []string{"Yes, I'm interested", "Tell me more"}
	NudgeOptions    = []string{"Yes, continue", "No, thanks"}
)

// Sentinel menu entries that branch into free-text states.
const (
	MajorOtherOption    = "Other"
	TimeslotOtherOption = "Choose another time"
)

// Template variables that are not part of UserData.
const (
	VarName    models.DataKey = "name"
	VarHotline models.DataKey = "hotline"
)

// Default fallbacks for template variables.
const (
	DefaultDisplayName = "there"
	DefaultMajorPhrase = "our programs"
	DefaultHotline     = "1800 6770"
)

const (
	welcomePrompt    = "Hello {name}! Welcome to the admissions desk. Are you thinking about studying with us this year?"
	majorPrompt      = "Great! Which major are you most interested in?"
	majorOtherPrompt = "No problem. Please type the major you have in mind."
	phonePrompt      = "{major} is a great choice. What phone number can our admissions team reach you on?"
	channelPrompt    = "Thanks! How would you like us to contact you?"
	timeslotPrompt   = "When is the best time for a {channel} consultation?"
	customTimePrompt = "Please tell us a time that suits you, for example \"Saturday morning\"."
	completePrompt   = "Thank you, {name}! An admissions advisor will contact you via {channel} ({timeslot}) about {major}."
	nudgePrompt      = "Are you still there? We'd love to help you explore {major}. Shall we continue?"

	continuationPrefix = "Welcome back! "
	declinedMessage    = "No problem at all. If you change your mind, just send us a message. Have a great day!"
	completedMessage   = "This conversation has ended. Send a new message from the website to start again."
	escalationMessage  = "It seems we're having trouble with that. Please call our admissions hotline on {hotline} to talk to an advisor, or let's start over."
)

// Messages for non-phone validation failures.
const (
	msgMajorEmpty      = "Please choose a major from the list or type the one you are interested in."
	msgMajorOtherShort = "Please enter at least 2 characters for your major."
	msgMajorOtherLong  = "Please keep the major name under 100 characters."
	msgChannelInvalid  = "Please choose one of: Phone call, Zalo or SMS."
	msgTimeslotEmpty   = "Please choose a time slot or tell us a time that suits you."
	msgCustomTimeShort = "Please describe the time in at least 3 characters."
	msgCustomTimeLong  = "Please keep the time description under 100 characters."
)

// matchOption returns the canonical option equal to input ignoring case and
// surrounding space.
func matchOption(input string, options []string) (string, bool) {
	in := strings.TrimSpace(input)
	for _, opt := range options {
		if strings.EqualFold(in, opt) {
			return opt, true
		}
	}
	return "", false
}
