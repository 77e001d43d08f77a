// Package registry tracks the robots announcing themselves on the bus.
package registry

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

// robotState holds the combined registration + last heartbeat data.
type robotState struct {
	Registration  protocol.Registration
	RegisteredAt  time.Time
	LastHeartbeat protocol.Heartbeat
	LastSeen      time.Time
}

// Registry tracks connected robots, keyed by robot agent name.
type Registry struct {
	mu     sync.RWMutex
	robots map[string]*robotState
	logger zerolog.Logger
	subs   []*nats.Subscription
}

// New creates a Registry and subscribes to the registry and heartbeat subjects.
func New(nc *nats.Conn, logger zerolog.Logger) (*Registry, error) {
	r := &Registry{
		robots: make(map[string]*robotState),
		logger: logger.With().Str("component", "registry").Logger(),
	}

	regSub, err := nc.Subscribe(protocol.SubjectRegistry, r.handleRegistration)
	if err != nil {
		return nil, err
	}
	hbSub, err := nc.Subscribe(protocol.SubjectHeartbeatAll, r.handleHeartbeat)
	if err != nil {
		regSub.Unsubscribe()
		return nil, err
	}
	r.subs = []*nats.Subscription{regSub, hbSub}

	r.logger.Info().Msg("robot registry started")
	return r, nil
}

func (r *Registry) handleRegistration(msg *nats.Msg) {
	var reg protocol.Registration
	if err := json.Unmarshal(msg.Data, &reg); err != nil {
		r.logger.Error().Err(err).Msg("bad registration message")
		return
	}
	if reg.Name == "" {
		r.logger.Warn().Uint32("robot_id", reg.RobotID).Msg("registration without a name ignored")
		return
	}
	now := time.Now()
	r.mu.Lock()
	if existing, ok := r.robots[reg.Name]; ok {
		existing.Registration = reg
		existing.LastSeen = now
	} else {
		r.robots[reg.Name] = &robotState{
			Registration: reg,
			RegisteredAt: now,
			LastSeen:     now,
		}
	}
	r.mu.Unlock()
	r.logger.Info().
		Str("robot", reg.Name).
		Uint32("robot_id", reg.RobotID).
		Str("version", reg.Version).
		Strs("primitives", reg.Primitives).
		Msg("robot registered")
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.logger.Error().Err(err).Msg("bad heartbeat message")
		return
	}
	if hb.Name == "" {
		return
	}
	now := time.Now()
	r.mu.Lock()
	if state, ok := r.robots[hb.Name]; ok {
		state.LastHeartbeat = hb
		state.LastSeen = now
	} else {
		// Heartbeat from a robot whose registration we missed (daemon restart).
		r.robots[hb.Name] = &robotState{
			Registration:  protocol.Registration{Name: hb.Name, RobotID: hb.RobotID},
			RegisteredAt:  now,
			LastHeartbeat: hb,
			LastSeen:      now,
		}
	}
	r.mu.Unlock()
}

// Robots returns a snapshot of all known robots ordered by robot id, then name.
func (r *Registry) Robots() []protocol.RobotInfo {
	r.mu.RLock()
	result := make([]protocol.RobotInfo, 0, len(r.robots))
	for _, s := range r.robots {
		status := "unknown"
		if s.LastHeartbeat.Status != "" {
			status = s.LastHeartbeat.Status
		}
		result = append(result, protocol.RobotInfo{
			Name:          s.Registration.Name,
			Version:       s.Registration.Version,
			RobotID:       s.Registration.RobotID,
			Status:        status,
			Primitives:    s.Registration.Primitives,
			RegisteredAt:  s.RegisteredAt,
			LastHeartbeat: s.LastSeen,
			Executed:      s.LastHeartbeat.Executed,
			Rejected:      s.LastHeartbeat.Rejected,
		})
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].RobotID != result[j].RobotID {
			return result[i].RobotID < result[j].RobotID
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// Count returns the number of known robots.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.robots)
}

// Close unsubscribes from NATS.
func (r *Registry) Close() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
}
