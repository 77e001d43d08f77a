package protocol

// Registration is published on primbus.registry when a robot agent starts.
type Registration struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	RobotID    uint32   `json:"robot_id"`
	Primitives []string `json:"primitives"`
}
