package phone

import (
	"fmt"
)

// Status is the traffic-light outcome of ValidateProgressive.
type Status string

const (
	StatusNeutral Status = "neutral"
	StatusValid   Status = "valid"
	StatusInvalid Status = "invalid"
)

// minProgressiveLength is the cleaned length below which input is never judged.
const minProgressiveLength = 3

// Feedback is the partial-input verdict shown while the user types.
type Feedback struct {
	Status Status `json:"status"`
	Hint   string `json:"hint"`
	Result Result `json:"result"`
}

// ValidateProgressive judges possibly incomplete input.
//
// It never reports StatusInvalid for a proper prefix of a number that can
// still become valid under either accepted form.
func ValidateProgressive(raw string) Feedback {
	cleaned := Clean(raw)
	if len(cleaned) < minProgressiveLength {
		return Feedback{Status: StatusNeutral, Hint: "Keep typing your phone number..."}
	}

	if expected, ok := partialTarget(cleaned); ok {
		remaining := expected - len(cleaned)
		return Feedback{Status: StatusNeutral, Hint: moreDigitsHint(remaining)}
	}

	result := Validate(raw)
	if result.IsValid {
		return Feedback{
			Status: StatusValid,
			Hint:   fmt.Sprintf("Looks good (%s).", result.NetworkClass),
			Result: result,
		}
	}
	return Feedback{Status: StatusInvalid, Hint: Message(result.ErrorKind), Result: result}
}

// partialTarget reports the expected total length when cleaned is a strict,
// non-length-violating prefix of one of the accepted forms.
func partialTarget(cleaned string) (int, bool) {
	switch {
	case intlPartial.MatchString(cleaned) && len(cleaned) < InternationalLength:
		return InternationalLength, true
	case domesticPartial.MatchString(cleaned) && len(cleaned) < DomesticLength:
		return DomesticLength, true
	}
	return 0, false
}

func moreDigitsHint(n int) string {
	if n == 1 {
		return "1 more digit"
	}
	return fmt.Sprintf("%d more digits", n)
}
