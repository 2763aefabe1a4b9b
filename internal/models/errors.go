package models

// ErrorKind classifies a user-correctable validation failure.
type ErrorKind string

// Phone validation error kinds.
const (
	ErrorKindEmpty             ErrorKind = "EMPTY"
	ErrorKindBadCharacters     ErrorKind = "BAD_CHARACTERS"
	ErrorKindBadPrefix         ErrorKind = "BAD_PREFIX"
	ErrorKindBadLengthIntl     ErrorKind = "BAD_LENGTH_INTL"
	ErrorKindBadLengthDomestic ErrorKind = "BAD_LENGTH_DOMESTIC"
	ErrorKindUnassignedPrefix  ErrorKind = "UNASSIGNED_PREFIX"
)

// Conversation input error kinds.
const (
	ErrorKindEmptyInput    ErrorKind = "EMPTY_INPUT"
	ErrorKindInvalidOption ErrorKind = "INVALID_OPTION"
	ErrorKindTooShort      ErrorKind = "TOO_SHORT"
	ErrorKindTooLong       ErrorKind = "TOO_LONG"
)
