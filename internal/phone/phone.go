// Package phone validates and normalizes Vietnamese mobile numbers.
//
// Two input forms are accepted: the domestic form (leading 0, 10 digits) and
// the international form (+84 prefix, 12 characters). Both standardize to the
// domestic form, whose first three digits select a carrier class.
package phone

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

const (
	// CountryCode is the international prefix accepted on input.
	CountryCode = "+84"
	// DomesticPrefix is the leading digit of the canonical form.
	DomesticPrefix = "0"
	// DomesticLength is the total length of a domestic number.
	DomesticLength = 10
	// InternationalLength is the total length of a +84 number.
	InternationalLength = 12
	// carrierPrefixLength is how many leading digits select the carrier.
	carrierPrefixLength = 3
)

var (
	formatPattern   = regexp.MustCompile(`^(\+84|0)[0-9]+$`)
	separatorStrip  = strings.NewReplacer("-", "", "(", "", ")", "", ".", "")
	domesticPartial = regexp.MustCompile(`^0[0-9]*$`)
	intlPartial     = regexp.MustCompile(`^\+84[0-9]*$`)
)

// Network is a carrier class label.
type Network string

// Carrier classes. Their prefix sets are disjoint.
const (
	NetworkViettel      Network = "Viettel"
	NetworkVinaphone    Network = "Vinaphone"
	NetworkMobifone     Network = "Mobifone"
	NetworkVietnamobile Network = "Vietnamobile"
	NetworkGmobile      Network = "Gmobile"
)

var carrierPrefixes = map[Network][]string{
	NetworkViettel:      {"032", "033", "034", "035", "036", "037", "038", "039", "086", "096", "097", "098"},
	NetworkVinaphone:    {"081", "082", "083", "084", "085", "088", "091", "094"},
	NetworkMobifone:     {"070", "076", "077", "078", "079", "089", "090", "093"},
	NetworkVietnamobile: {"052", "056", "058", "092"},
	NetworkGmobile:      {"059", "099"},
}

// prefixIndex maps a 3-digit prefix to its carrier.
var prefixIndex = func() map[string]Network {
	idx := make(map[string]Network)
	for network, prefixes := range carrierPrefixes {
		for _, p := range prefixes {
			if other, dup := idx[p]; dup {
				panic(fmt.Sprintf("phone: prefix %s assigned to both %s and %s", p, other, network))
			}
			idx[p] = network
		}
	}
	return idx
}()

// Result is the outcome of Validate.
type Result struct {
	IsValid          bool             `json:"is_valid"`
	CleanedInput     string           `json:"cleaned_input,omitempty"`
	StandardizedForm string           `json:"standardized_form,omitempty"`
	NetworkClass     Network          `json:"network_class,omitempty"`
	ErrorKind        models.ErrorKind `json:"error_kind,omitempty"`
}

// Clean strips whitespace, hyphens, parentheses and periods.
func Clean(raw string) string {
	return separatorStrip.Replace(strings.Join(strings.Fields(raw), ""))
}

// Validate checks raw against the accepted formats and classifies the carrier.
func Validate(raw string) Result {
	cleaned := Clean(raw)
	if cleaned == "" {
		return Result{ErrorKind: models.ErrorKindEmpty}
	}
	if !formatPattern.MatchString(cleaned) {
		return Result{CleanedInput: cleaned, ErrorKind: models.ErrorKindBadCharacters}
	}

	var standardized string
	switch {
	case strings.HasPrefix(cleaned, CountryCode):
		if len(cleaned) != InternationalLength {
			return Result{CleanedInput: cleaned, ErrorKind: models.ErrorKindBadLengthIntl}
		}
		standardized = DomesticPrefix + cleaned[len(CountryCode):]
	case strings.HasPrefix(cleaned, DomesticPrefix):
		if len(cleaned) != DomesticLength {
			return Result{CleanedInput: cleaned, ErrorKind: models.ErrorKindBadLengthDomestic}
		}
		standardized = cleaned
	default:
		return Result{CleanedInput: cleaned, ErrorKind: models.ErrorKindBadPrefix}
	}

	network, ok := Classify(standardized)
	if !ok {
		return Result{CleanedInput: cleaned, StandardizedForm: standardized, ErrorKind: models.ErrorKindUnassignedPrefix}
	}

	return Result{
		IsValid:          true,
		CleanedInput:     cleaned,
		StandardizedForm: standardized,
		NetworkClass:     network,
	}
}

// Classify looks up the carrier for a standardized number.
func Classify(standardized string) (Network, bool) {
	if len(standardized) < carrierPrefixLength {
		return "", false
	}
	network, ok := prefixIndex[standardized[:carrierPrefixLength]]
	return network, ok
}

// Standardize returns the canonical domestic form, or "" when raw is invalid.
func Standardize(raw string) string {
	r := Validate(raw)
	if !r.IsValid {
		return ""
	}
	return r.StandardizedForm
}

// Message returns user-facing guidance for an error kind.
func Message(kind models.ErrorKind) string {
	switch kind {
	case models.ErrorKindEmpty:
		return "Please enter your phone number."
	case models.ErrorKindBadCharacters:
		return "Phone numbers may only contain digits and must start with 0 or +84."
	case models.ErrorKindBadPrefix:
		return "Phone numbers must start with 0 or +84."
	case models.ErrorKindBadLengthIntl:
		return "Numbers starting with +84 must have 12 characters, for example +84901234567."
	case models.ErrorKindBadLengthDomestic:
		return "Numbers starting with 0 must have exactly 10 digits, for example 0901234567."
	case models.ErrorKindUnassignedPrefix:
		return "That prefix does not belong to any Vietnamese mobile network. Please check the number."
	default:
		return "That phone number does not look right. Please try again."
	}
}
