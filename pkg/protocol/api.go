package protocol

import (
	"errors"
	"time"

	"github.com/sekia-ai/primbus/pkg/primitive"
)

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Status         string    `json:"status"`
	Uptime         string    `json:"uptime"`
	NATSRunning    bool      `json:"nats_running"`
	StartedAt      time.Time `json:"started_at"`
	RobotCount     int       `json:"robot_count"`
	PrimitiveTypes int       `json:"primitive_types"`
	Dispatched     int64     `json:"dispatched"`
	BehaviorCount  int       `json:"behavior_count"`
}

// RobotInfo is one entry in the GET /api/v1/robots response.
type RobotInfo struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	RobotID       uint32    `json:"robot_id"`
	Status        string    `json:"status"`
	Primitives    []string  `json:"primitives"`
	RegisteredAt  time.Time `json:"registered_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Executed      int64     `json:"executed"`
	Rejected      int64     `json:"rejected"`
}

// RobotsResponse is returned by GET /api/v1/robots.
type RobotsResponse struct {
	Robots []RobotInfo `json:"robots"`
}

// PrimitiveTypesResponse is returned by GET /api/v1/primitives/types.
type PrimitiveTypesResponse struct {
	Types []string `json:"types"`
}

// DispatchResponse is returned by POST /api/v1/primitives.
type DispatchResponse struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	Name    string `json:"name"`
	RobotID uint32 `json:"robot_id"`
}

// HistoryEntry is one journaled primitive.
type HistoryEntry struct {
	Sequence    uint64            `json:"sequence"`
	ID          string            `json:"id,omitempty"`
	Subject     string            `json:"subject"`
	PublishedAt time.Time         `json:"published_at"`
	Message     primitive.Message `json:"message"`
}

// HistoryResponse is returned by GET /api/v1/primitives/history.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// BehaviorInfo describes a loaded behavior script.
type BehaviorInfo struct {
	Name       string    `json:"name"`
	FilePath   string    `json:"file_path"`
	Handlers   int       `json:"handlers"`
	Patterns   []string  `json:"patterns"`
	LoadedAt   time.Time `json:"loaded_at"`
	Events     int64     `json:"events"`
	Errors     int64     `json:"errors"`
	Dispatched int64     `json:"dispatched"`
}

// BehaviorsResponse is returned by GET /api/v1/behaviors.
type BehaviorsResponse struct {
	Behaviors []BehaviorInfo `json:"behaviors"`
}

// ReloadResponse is returned by the config and behavior reload endpoints.
type ReloadResponse struct {
	Status string `json:"status"`
}

// Error kinds reported in ErrorResponse.Kind.
const (
	ErrorKindBadRequest       = "bad_request"
	ErrorKindUnknownPrimitive = "unknown_primitive"
	ErrorKindTypeMismatch     = "type_mismatch"
	ErrorKindMalformed        = "malformed_payload"
	ErrorKindPublish          = "publish_failed"
	ErrorKindUnavailable      = "unavailable"
	ErrorKindReload           = "reload_failed"
)

// ErrorKind classifies a dispatch or decode error for ErrorResponse.Kind and
// metric labels.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, primitive.ErrUnknownPrimitive):
		return ErrorKindUnknownPrimitive
	case errors.Is(err, primitive.ErrTypeMismatch):
		return ErrorKindTypeMismatch
	case errors.Is(err, primitive.ErrMalformedPayload):
		return ErrorKindMalformed
	default:
		return ErrorKindBadRequest
	}
}
