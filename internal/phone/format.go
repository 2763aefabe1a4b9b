package phone

import "errors"

// ErrNotValidated is returned when formatting a result that failed validation.
var ErrNotValidated = errors.New("phone number is not valid")

// Formats holds the presentation forms of a validated number.
type Formats struct {
	Domestic      string `json:"domestic"`      // 0901234567
	International string `json:"international"` // +84901234567
	Display       string `json:"display"`       // 0901 234 567
}

// Format renders the three presentation forms of a validated number.
func Format(r Result) (Formats, error) {
	if !r.IsValid || len(r.StandardizedForm) != DomesticLength {
		return Formats{}, ErrNotValidated
	}
	d := r.StandardizedForm
	return Formats{
		Domestic:      d,
		International: CountryCode + d[len(DomesticPrefix):],
		Display:       d[:4] + " " + d[4:7] + " " + d[7:],
	}, nil
}
