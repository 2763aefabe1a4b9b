package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateProgressive_ShortInputIsNeutral(t *testing.T) {
	for _, in := range []string{"", "0", "09", "+8", " 0 9 "} {
		fb := ValidateProgressive(in)
		assert.Equal(t, StatusNeutral, fb.Status, in)
		assert.NotEmpty(t, fb.Hint)
	}
}

func TestValidateProgressive_RemainingDigits(t *testing.T) {
	tests := []struct {
		input string
		hint  string
	}{
		{"090", "7 more digits"},
		{"090123456", "1 more digit"},
		{"+84", "9 more digits"},
		{"+8490123", "4 more digits"},
		{"090-123", "4 more digits"},
	}
	for _, tt := range tests {
		fb := ValidateProgressive(tt.input)
		assert.Equal(t, StatusNeutral, fb.Status, tt.input)
		assert.Equal(t, tt.hint, fb.Hint, tt.input)
	}
}

func TestValidateProgressive_Complete(t *testing.T) {
	fb := ValidateProgressive("0901234567")
	assert.Equal(t, StatusValid, fb.Status)
	assert.Equal(t, "0901234567", fb.Result.StandardizedForm)

	fb = ValidateProgressive("0121234567")
	assert.Equal(t, StatusInvalid, fb.Status)
	assert.Equal(t, Message(fb.Result.ErrorKind), fb.Hint)

	fb = ValidateProgressive("abc")
	assert.Equal(t, StatusInvalid, fb.Status)
}

func TestValidateProgressive_PrefixMonotonicity(t *testing.T) {
	full := []string{"0901234567", "+84901234567", "0961112233", "+84331234567", "090 123 4567"}
	for _, number := range full {
		for i := 1; i < len(number); i++ {
			prefix := number[:i]
			fb := ValidateProgressive(prefix)
			assert.NotEqual(t, StatusInvalid, fb.Status, "prefix %q of %q", prefix, number)
		}
		assert.Equal(t, StatusValid, ValidateProgressive(number).Status, number)
	}
}
