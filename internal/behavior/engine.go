// Package behavior runs sandboxed Lua scripts inside primd. Scripts react to
// robot registrations and heartbeats and dispatch primitives in response.
package behavior

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"

	"github.com/sekia-ai/primbus/internal/dispatch"
	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
)

// Dispatcher is the part of the primitive dispatcher scripts can reach.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg primitive.Message) (dispatch.Result, error)
	Types() []string
}

// behaviorState tracks a loaded script and its isolated Lua VM.
type behaviorState struct {
	name           string
	filePath       string
	L              *lua.LState
	mod            *module
	loadedAt       time.Time
	events         atomic.Int64
	errors         atomic.Int64
	handlerTimeout time.Duration

	eventCh chan *nats.Msg
	done    chan struct{}
}

// Engine loads behavior scripts and routes robot events to their handlers.
type Engine struct {
	mu              sync.RWMutex
	behaviors       map[string]*behaviorState
	nc              *nats.Conn
	dispatcher      Dispatcher
	logger          zerolog.Logger
	dir             string
	subs            []*nats.Subscription
	watcher         *fsnotify.Watcher
	handlerTimeout  time.Duration
	verifyIntegrity bool
}

// New creates a behavior engine. Does not start it.
// handlerTimeout limits how long a single Lua handler call may run (0 = no limit).
func New(nc *nats.Conn, d Dispatcher, dir string, handlerTimeout time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		behaviors:      make(map[string]*behaviorState),
		nc:             nc,
		dispatcher:     d,
		logger:         logger.With().Str("component", "behavior").Logger(),
		dir:            dir,
		handlerTimeout: handlerTimeout,
	}
}

// Start subscribes to robot registration and heartbeat subjects. Scripts are
// loaded separately by LoadDir.
func (e *Engine) Start() error {
	for _, subject := range []string{protocol.SubjectRegistry, protocol.SubjectHeartbeatAll} {
		sub, err := e.nc.Subscribe(subject, e.handleEvent)
		if err != nil {
			e.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		e.subs = append(e.subs, sub)
	}

	e.logger.Info().Str("dir", e.dir).Msg("behavior engine started")
	return nil
}

func (e *Engine) unsubscribe() {
	for _, sub := range e.subs {
		sub.Unsubscribe()
	}
	e.subs = nil
}

// Stop unsubscribes, stops every script goroutine, and closes the Lua states.
func (e *Engine) Stop() {
	e.unsubscribe()
	if e.watcher != nil {
		e.watcher.Close()
	}

	e.mu.Lock()
	old := e.behaviors
	e.behaviors = make(map[string]*behaviorState)
	e.mu.Unlock()

	for _, bs := range old {
		stopBehavior(bs)
	}

	e.logger.Info().Msg("behavior engine stopped")
}

// Behaviors returns a snapshot of all loaded scripts.
func (e *Engine) Behaviors() []protocol.BehaviorInfo {
	e.mu.RLock()
	defer e.mu.RUnlock()

	infos := make([]protocol.BehaviorInfo, 0, len(e.behaviors))
	for _, bs := range e.behaviors {
		patterns := make([]string, len(bs.mod.handlers))
		for i, h := range bs.mod.handlers {
			patterns[i] = h.Pattern
		}
		infos = append(infos, protocol.BehaviorInfo{
			Name:       bs.name,
			FilePath:   bs.filePath,
			Handlers:   len(bs.mod.handlers),
			Patterns:   patterns,
			LoadedAt:   bs.loadedAt,
			Events:     bs.events.Load(),
			Errors:     bs.errors.Load(),
			Dispatched: bs.mod.dispatched.Load(),
		})
	}
	return infos
}

func (e *Engine) names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.behaviors))
	for name := range e.behaviors {
		names = append(names, name)
	}
	return names
}

// Count returns the number of loaded scripts.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.behaviors)
}

// SetVerifyIntegrity enables SHA256 manifest verification for script loading.
func (e *Engine) SetVerifyIntegrity(v bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.verifyIntegrity = v
}

// LoadBehavior loads a single Lua file, replacing any script of the same
// name. On failure the previous version stays loaded.
func (e *Engine) LoadBehavior(name, filePath string) error {
	manifest, err := e.integrityManifest()
	if err != nil {
		return err
	}
	return e.loadScript(name, filePath, manifest)
}

// integrityManifest returns the manifest scripts must match, or nil when
// verification is off.
func (e *Engine) integrityManifest() (Manifest, error) {
	e.mu.RLock()
	verify := e.verifyIntegrity
	e.mu.RUnlock()
	if !verify {
		return nil, nil
	}
	manifest, err := LoadManifest(e.dir)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if manifest == nil {
		return nil, fmt.Errorf("integrity verification enabled but %s not found in %s", ManifestFilename, e.dir)
	}
	return manifest, nil
}

func (e *Engine) loadScript(name, filePath string, manifest Manifest) error {
	bLogger := e.logger.With().Str("behavior", name).Logger()
	if manifest != nil {
		if err := manifest.Verify(filepath.Base(filePath), filePath); err != nil {
			return fmt.Errorf("integrity check failed: %w", err)
		}
	}

	L := NewSandboxedState(bLogger)
	mod := &module{
		name:       name,
		dispatcher: e.dispatcher,
		logger:     bLogger,
	}
	registerModule(L, mod)

	if err := L.DoFile(filePath); err != nil {
		L.Close()
		return fmt.Errorf("load %s: %w", filePath, err)
	}

	bs := &behaviorState{
		name:           name,
		filePath:       filePath,
		L:              L,
		mod:            mod,
		loadedAt:       time.Now(),
		handlerTimeout: e.handlerTimeout,
		eventCh:        make(chan *nats.Msg, 1024),
		done:           make(chan struct{}),
	}
	go bs.run()

	e.mu.Lock()
	old := e.behaviors[name]
	e.behaviors[name] = bs
	e.mu.Unlock()

	if old != nil {
		stopBehavior(old)
	}

	bLogger.Info().Int("handlers", len(mod.handlers)).Msg("loaded behavior")
	return nil
}

// UnloadBehavior stops and removes a script by name.
func (e *Engine) UnloadBehavior(name string) {
	e.mu.Lock()
	bs, ok := e.behaviors[name]
	if ok {
		delete(e.behaviors, name)
	}
	e.mu.Unlock()

	if ok {
		stopBehavior(bs)
		e.logger.Info().Str("behavior", name).Msg("unloaded behavior")
	}
}

// handleEvent fans a registry or heartbeat message out to matching scripts.
func (e *Engine) handleEvent(msg *nats.Msg) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, bs := range e.behaviors {
		if !bs.mod.matches(msg.Subject) {
			continue
		}
		select {
		case bs.eventCh <- msg:
		default:
			bs.errors.Add(1)
			e.logger.Warn().
				Str("behavior", bs.name).
				Str("subject", msg.Subject).
				Msg("event channel full, dropping event")
		}
	}
}

// run processes one script's events sequentially; a Lua state is not safe
// for concurrent use.
func (bs *behaviorState) run() {
	defer close(bs.done)

	for msg := range bs.eventCh {
		ev, err := decodeEvent(msg.Subject, msg.Data)
		if err != nil {
			bs.errors.Add(1)
			bs.mod.logger.Error().Err(err).Str("subject", msg.Subject).Msg("decode event")
			continue
		}
		tbl := EventToLua(bs.L, ev)

		for _, h := range bs.mod.handlers {
			if !SubjectMatches(h.Pattern, msg.Subject) {
				continue
			}
			bs.callHandler(h, msg.Subject, tbl)
		}
		bs.events.Add(1)
	}
}

// callHandler invokes one Lua handler, bounded by the handler timeout.
func (bs *behaviorState) callHandler(h handlerEntry, subject string, eventTable *lua.LTable) {
	var cancel context.CancelFunc
	if bs.handlerTimeout > 0 {
		var ctx context.Context
		ctx, cancel = context.WithTimeout(context.Background(), bs.handlerTimeout)
		bs.L.SetContext(ctx)
	}

	err := bs.L.CallByParam(lua.P{
		Fn:      h.Fn,
		NRet:    0,
		Protect: true,
	}, eventTable)

	if cancel != nil {
		timedOut := bs.L.Context() != nil && bs.L.Context().Err() != nil
		cancel()
		bs.L.RemoveContext()
		if err != nil && timedOut {
			bs.errors.Add(1)
			bs.mod.logger.Error().
				Dur("timeout", bs.handlerTimeout).
				Str("pattern", h.Pattern).
				Str("subject", subject).
				Msg("handler timed out")
			return
		}
	}

	if err != nil {
		bs.errors.Add(1)
		bs.mod.logger.Error().
			Err(err).
			Str("pattern", h.Pattern).
			Str("subject", subject).
			Msg("handler error")
	}
}

func stopBehavior(bs *behaviorState) {
	close(bs.eventCh)
	<-bs.done
	bs.L.Close()
}

// Event is a robot bus message as scripts see it.
type Event struct {
	Subject      string
	Kind         string // "registration" or "heartbeat"
	Registration *protocol.Registration
	Heartbeat    *protocol.Heartbeat
}

func decodeEvent(subject string, data []byte) (Event, error) {
	ev := Event{Subject: subject}
	switch {
	case subject == protocol.SubjectRegistry:
		var reg protocol.Registration
		if err := json.Unmarshal(data, &reg); err != nil {
			return ev, fmt.Errorf("unmarshal registration: %w", err)
		}
		ev.Kind = "registration"
		ev.Registration = &reg
	case strings.HasPrefix(subject, protocol.SubjectHeartbeatPrefix):
		var hb protocol.Heartbeat
		if err := json.Unmarshal(data, &hb); err != nil {
			return ev, fmt.Errorf("unmarshal heartbeat: %w", err)
		}
		ev.Kind = "heartbeat"
		ev.Heartbeat = &hb
	default:
		return ev, fmt.Errorf("unexpected subject %s", subject)
	}
	return ev, nil
}

// SubjectMatches implements NATS-style subject matching.
// Patterns use '.' as delimiter, '*' matches a single token, '>' matches the rest.
func SubjectMatches(pattern, subject string) bool {
	patternParts := strings.Split(pattern, ".")
	subjectParts := strings.Split(subject, ".")

	for i, pp := range patternParts {
		if pp == ">" {
			return true
		}
		if i >= len(subjectParts) {
			return false
		}
		if pp != "*" && pp != subjectParts[i] {
			return false
		}
	}
	return len(patternParts) == len(subjectParts)
}
