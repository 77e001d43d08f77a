package protocol

import "fmt"

// NATS subject constants and helpers.
const (
	SubjectRegistry        = "primbus.registry"
	SubjectHeartbeatPrefix = "primbus.heartbeat."
	SubjectHeartbeatAll    = SubjectHeartbeatPrefix + ">"
	SubjectPrimitivesAll   = "primbus.primitives.>"
)

// SubjectPrimitives is where primitives addressed to robotID are published.
func SubjectPrimitives(robotID uint32) string {
	return fmt.Sprintf("primbus.primitives.%d", robotID)
}

func SubjectHeartbeat(robotName string) string {
	return SubjectHeartbeatPrefix + robotName
}
