package protocol

import "time"

// Heartbeat is published on primbus.heartbeat.<robot-name> every 30s.
type Heartbeat struct {
	Name          string    `json:"name"`
	RobotID       uint32    `json:"robot_id"`
	Status        string    `json:"status"`
	LastPrimitive time.Time `json:"last_primitive"`
	Executed      int64     `json:"executed"`
	Rejected      int64     `json:"rejected"`
}
