package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestValidate_DomesticForms(t *testing.T) {
	tests := []struct {
		input   string
		network Network
	}{
		{"0901234567", NetworkMobifone},
		{"0961234567", NetworkViettel},
		{"0331234567", NetworkViettel},
		{"0911234567", NetworkVinaphone},
		{"0921234567", NetworkVietnamobile},
		{"0991234567", NetworkGmobile},
		{"090 123 4567", NetworkMobifone},
		{"090-123-4567", NetworkMobifone},
		{"(090) 123.4567", NetworkMobifone},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			r := Validate(tt.input)
			require.True(t, r.IsValid, "error kind %s", r.ErrorKind)
			assert.Equal(t, r.CleanedInput, r.StandardizedForm)
			assert.Equal(t, tt.network, r.NetworkClass)
			assert.Empty(t, r.ErrorKind)
		})
	}
}

func TestValidate_EveryReservedPrefixIsValid(t *testing.T) {
	for network, prefixes := range carrierPrefixes {
		for _, p := range prefixes {
			number := p + "1234567"
			r := Validate(number)
			require.True(t, r.IsValid, number)
			assert.Equal(t, number, r.StandardizedForm)
			assert.Equal(t, network, r.NetworkClass)
		}
	}
}

func TestValidate_InternationalEquivalence(t *testing.T) {
	for _, domestic := range []string{"0901234567", "0981112233", "0851234567"} {
		intl := CountryCode + domestic[1:]
		a := Validate(intl)
		b := Validate(domestic)
		require.True(t, a.IsValid)
		require.True(t, b.IsValid)
		assert.Equal(t, b.StandardizedForm, a.StandardizedForm)
		assert.Equal(t, b.NetworkClass, a.NetworkClass)
		assert.Equal(t, intl, a.CleanedInput)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  models.ErrorKind
	}{
		{"empty", "", models.ErrorKindEmpty},
		{"only separators", " - ( ) . ", models.ErrorKindEmpty},
		{"letters", "09012abc67", models.ErrorKindBadCharacters},
		{"wrong country code", "+85901234567", models.ErrorKindBadCharacters},
		{"no leading zero", "901234567", models.ErrorKindBadCharacters},
		{"domestic too short", "090123456", models.ErrorKindBadLengthDomestic},
		{"domestic too long", "09012345678", models.ErrorKindBadLengthDomestic},
		{"intl too short", "+8490123456", models.ErrorKindBadLengthIntl},
		{"intl too long", "+849012345678", models.ErrorKindBadLengthIntl},
		{"unassigned prefix", "0121234567", models.ErrorKindUnassignedPrefix},
		{"unassigned prefix intl", "+84121234567", models.ErrorKindUnassignedPrefix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(tt.input)
			assert.False(t, r.IsValid)
			assert.Equal(t, tt.kind, r.ErrorKind)
			assert.NotEmpty(t, Message(r.ErrorKind))
		})
	}
}

func TestStandardize(t *testing.T) {
	assert.Equal(t, "0901234567", Standardize("+84901234567"))
	assert.Equal(t, "0901234567", Standardize("0901 234 567"))
	assert.Empty(t, Standardize("0121234567"))
}

func TestPrefixSetsAreDisjoint(t *testing.T) {
	seen := map[string]Network{}
	for network, prefixes := range carrierPrefixes {
		for _, p := range prefixes {
			other, dup := seen[p]
			assert.False(t, dup, "prefix %s in %s and %s", p, network, other)
			seen[p] = network
		}
	}
	assert.Len(t, carrierPrefixes, 5)
}

func TestFormat(t *testing.T) {
	f, err := Format(Validate("+84901234567"))
	require.NoError(t, err)
	assert.Equal(t, Formats{
		Domestic:      "0901234567",
		International: "+84901234567",
		Display:       "0901 234 567",
	}, f)

	_, err = Format(Validate("0121234567"))
	assert.ErrorIs(t, err, ErrNotValidated)
}
