// Package primitive defines robot primitives, the smallest unit of work a
// robot can be told to do (move to a point, pivot, kick), and the flat wire
// record they travel as.
//
// Every variant implements Primitive and registers a Decoder under its name.
// Encode turns any variant into a Message; Decode looks the message name up in
// the registry and hands the record to that variant's decoder.
package primitive

import "slices"

// Primitive is implemented by every primitive variant. Implementations are
// immutable once constructed.
type Primitive interface {
	// Name is the variant's wire discriminant. It is constant per type.
	Name() string
	// RobotID is the robot this primitive is addressed to.
	RobotID() uint32
	// Parameters returns the variant's numeric parameters in their fixed order.
	Parameters() []float64
	// Flags returns the variant's boolean toggles in their fixed order.
	Flags() []bool
}

// Message is the transport-neutral wire record for a primitive.
type Message struct {
	Name       string    `json:"name"`
	RobotID    uint32    `json:"robot_id"`
	Parameters []float64 `json:"parameters"`
	Flags      []bool    `json:"flags"`
}

// Encode copies a primitive's state into a wire record.
func Encode(p Primitive) Message {
	msg := Message{
		Name:       p.Name(),
		RobotID:    p.RobotID(),
		Parameters: slices.Clone(p.Parameters()),
		Flags:      slices.Clone(p.Flags()),
	}
	if msg.Parameters == nil {
		msg.Parameters = []float64{}
	}
	if msg.Flags == nil {
		msg.Flags = []bool{}
	}
	return msg
}

// ValidateMessage checks that msg was encoded from the variant called name.
func ValidateMessage(msg Message, name string) error {
	if msg.Name != name {
		return &TypeMismatchError{Want: name, Got: msg.Name}
	}
	return nil
}

// Equal reports whether two primitives carry the same name, robot id,
// parameters and flags. Parameters compare with ==, so a NaN never equals
// itself; Decode refuses non-finite parameters, so decoded primitives are
// always comparable.
func Equal(a, b Primitive) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Name() == b.Name() &&
		a.RobotID() == b.RobotID() &&
		slices.Equal(a.Parameters(), b.Parameters()) &&
		slices.Equal(a.Flags(), b.Flags())
}
