package arcade

import "errors"

// Kind groups domain errors by how they are surfaced to the chat.
type Kind int

const (
	KindUnknown    Kind = iota
	KindValidation      // malformed input, replied to the user, nothing mutated
	KindNotFound        // unknown venue or alias, replied to the user, nothing mutated
	KindConflict        // the target already exists
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a domain error with a stable identity; compare with errors.Is.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, msg: msg} }

var (
	ErrMalformedCommand = newErr(KindValidation, "malformed command")
	ErrInvalidName      = newErr(KindValidation, "invalid venue name")
	ErrInvalidCount     = newErr(KindValidation, "player count is not a non-negative integer")
	ErrAmbiguousVenue   = newErr(KindValidation, "report matches more than one venue")
	ErrVenueNotFound    = newErr(KindNotFound, "venue not found")
	ErrAliasNotFound    = newErr(KindNotFound, "alias not found")
	ErrVenueExists      = newErr(KindConflict, "venue already exists")
)

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
