package primitive

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTypeMismatch is matched by errors from a decoder handed a record of
	// another variant.
	ErrTypeMismatch = errors.New("primitive type mismatch")

	// ErrUnknownPrimitive is matched by errors for records whose name has no
	// registered decoder.
	ErrUnknownPrimitive = errors.New("unknown primitive")

	// ErrDuplicateRegistration is returned when a name is registered twice.
	ErrDuplicateRegistration = errors.New("primitive already registered")

	// ErrMalformedPayload is matched by errors for records whose parameters
	// or flags do not fit the variant's layout.
	ErrMalformedPayload = errors.New("malformed primitive payload")
)

// TypeMismatchError reports a record decoded as the wrong variant.
type TypeMismatchError struct {
	Want string
	Got  string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("primitive type mismatch: %s decoder got %q record", e.Want, e.Got)
}

func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// UnknownPrimitiveError reports a record name with no registered decoder.
type UnknownPrimitiveError struct {
	Name string
}

func (e *UnknownPrimitiveError) Error() string {
	return fmt.Sprintf("unknown primitive %q", e.Name)
}

func (e *UnknownPrimitiveError) Is(target error) bool { return target == ErrUnknownPrimitive }

// PayloadError reports a parameter or flag sequence of the wrong length.
type PayloadError struct {
	Name  string
	Field string // "parameters" or "flags"
	Want  int
	Got   int
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s primitive: %s must have %d entries, got %d", e.Name, e.Field, e.Want, e.Got)
}

func (e *PayloadError) Is(target error) bool { return target == ErrMalformedPayload }

// NonFiniteError reports a NaN or infinite parameter. Such values have no JSON
// encoding and never compare equal to themselves.
type NonFiniteError struct {
	Name  string
	Index int
	Value float64
}

func (e *NonFiniteError) Error() string {
	return fmt.Sprintf("%s primitive: parameter %d is not finite (%v)", e.Name, e.Index, e.Value)
}

func (e *NonFiniteError) Is(target error) bool { return target == ErrMalformedPayload }

// CheckLayout validates a record against a variant's fixed parameter and flag
// counts and rejects non-finite parameters. Decoders call it after
// ValidateMessage.
func CheckLayout(msg Message, params, flags int) error {
	if len(msg.Parameters) != params {
		return &PayloadError{Name: msg.Name, Field: "parameters", Want: params, Got: len(msg.Parameters)}
	}
	if len(msg.Flags) != flags {
		return &PayloadError{Name: msg.Name, Field: "flags", Want: flags, Got: len(msg.Flags)}
	}
	for i, v := range msg.Parameters {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &NonFiniteError{Name: msg.Name, Index: i, Value: v}
		}
	}
	return nil
}
