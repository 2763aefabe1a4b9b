package flow

import "github.com/BTreeMap/LeadPipe/internal/models"

// requiredSteps pairs each data-collecting state with the field it fills, in flow order.
var requiredSteps = []struct {
	state models.StateType
	key   models.DataKey
}{
	{models.StateMajor, models.DataKeyMajor},
	{models.StatePhone, models.DataKeyPhone},
	{models.StateChannel, models.DataKeyChannel},
	{models.StateTimeslot, models.DataKeyTimeslot},
}

// ResumeState returns the earliest state whose field is still missing, or
// complete when every required field has been collected.
func ResumeState(data models.UserData) models.StateType {
	for _, step := range requiredSteps {
		if !data.Has(step.key) {
			return step.state
		}
	}
	return models.StateComplete
}

// IsQualified reports whether all required lead fields are present.
func IsQualified(data models.UserData) bool {
	return ResumeState(data) == models.StateComplete
}
