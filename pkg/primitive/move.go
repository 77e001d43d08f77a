package primitive

// MoveName is the wire name of the Move primitive.
const MoveName = "Move"

const (
	moveParamCount = 3
	moveFlagCount  = 2
)

func init() {
	defaultRegistry.MustRegister(MoveName, DecodeMove)
}

// Point is a field position in metres.
type Point struct {
	X float64
	Y float64
}

// MoveParams are the arguments of a Move primitive.
type MoveParams struct {
	Destination Point
	// FinalOrientation is the heading in radians the robot should end at.
	FinalOrientation float64
	Dribbler         bool
	Autokick         bool
}

// Move drives a robot straight to a destination.
//
// Parameters: [dest_x, dest_y, final_orientation]. Flags: [dribbler, autokick].
type Move struct {
	robotID uint32
	params  MoveParams
}

var _ Primitive = (*Move)(nil)

// NewMove builds a Move for robotID.
func NewMove(robotID uint32, params MoveParams) *Move {
	return &Move{robotID: robotID, params: params}
}

// DecodeMove rebuilds a Move from its wire record.
func DecodeMove(msg Message) (Primitive, error) {
	if err := ValidateMessage(msg, MoveName); err != nil {
		return nil, err
	}
	if err := CheckLayout(msg, moveParamCount, moveFlagCount); err != nil {
		return nil, err
	}
	return NewMove(msg.RobotID, MoveParams{
		Destination:      Point{X: msg.Parameters[0], Y: msg.Parameters[1]},
		FinalOrientation: msg.Parameters[2],
		Dribbler:         msg.Flags[0],
		Autokick:         msg.Flags[1],
	}), nil
}

func (m *Move) Name() string    { return MoveName }
func (m *Move) RobotID() uint32 { return m.robotID }

func (m *Move) Parameters() []float64 {
	return []float64{m.params.Destination.X, m.params.Destination.Y, m.params.FinalOrientation}
}

func (m *Move) Flags() []bool {
	return []bool{m.params.Dribbler, m.params.Autokick}
}

// Destination is where the robot should end up.
func (m *Move) Destination() Point        { return m.params.Destination }
func (m *Move) FinalOrientation() float64 { return m.params.FinalOrientation }
func (m *Move) Dribbler() bool            { return m.params.Dribbler }
func (m *Move) Autokick() bool            { return m.params.Autokick }
