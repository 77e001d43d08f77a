// Package robotagent is the robot-side process: it receives primitives
// addressed to one robot, decodes them, and hands them to an Executor.
package robotagent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/internal/metrics"
	"github.com/sekia-ai/primbus/pkg/primitive"
	"github.com/sekia-ai/primbus/pkg/protocol"
	"github.com/sekia-ai/primbus/pkg/robot"
)

const (
	agentVersion   = "0.1.0"
	executeTimeout = 5 * time.Second
)

// Rejection reasons beyond the protocol error kinds.
const (
	reasonSignature  = "signature"
	reasonWrongRobot = "wrong_robot"
	reasonExecute    = "execute_failed"
)

// RobotAgent subscribes to one robot's primitive subject.
type RobotAgent struct {
	cfg      Config
	cfgFile  string
	executor Executor
	registry *primitive.Registry
	client   *robot.Client
	logger   zerolog.Logger
	stopCh   chan struct{}
	readyCh  chan struct{}

	secretMu sync.RWMutex
	secret   string

	// Overridable for testing.
	natsOpts []nats.Option
}

// NewAgent creates a RobotAgent. A nil executor logs primitives. Call Run() to start.
func NewAgent(cfg Config, exec Executor, logger zerolog.Logger) *RobotAgent {
	l := logger.With().Str("component", "robot-agent").Logger()
	if exec == nil {
		exec = LogExecutor{Logger: l}
	}
	return &RobotAgent{
		cfg:      cfg,
		executor: exec,
		registry: primitive.Default(),
		logger:   l,
		secret:   cfg.Security.CommandSecret,
		stopCh:   make(chan struct{}),
		readyCh:  make(chan struct{}),
	}
}

// NewTestAgent creates a RobotAgent wired to in-process NATS options.
func NewTestAgent(natsURL string, natsOpts []nats.Option, robotID uint32, secret string, exec Executor, logger zerolog.Logger) *RobotAgent {
	ra := NewAgent(Config{
		NATS:     NATSConfig{URL: natsURL},
		Robot:    RobotConfig{ID: robotID, Name: fmt.Sprintf("robot-%d", robotID)},
		Security: SecurityConfig{CommandSecret: secret},
	}, exec, logger)
	ra.natsOpts = natsOpts
	return ra
}

// WatchConfig makes Run hot-reload the command secret when path changes.
func (ra *RobotAgent) WatchConfig(path string) { ra.cfgFile = path }

// Run connects, subscribes, and blocks until signal or Stop().
func (ra *RobotAgent) Run() error {
	// 1. Connect to NATS via the robot client.
	natsOpts := ra.natsOpts
	switch {
	case ra.cfg.NATS.Token != "":
		natsOpts = append(natsOpts, nats.Token(ra.cfg.NATS.Token))
	case ra.cfg.NATS.User != "":
		natsOpts = append(natsOpts, nats.UserInfo(ra.cfg.NATS.User, ra.cfg.NATS.Password))
	}
	c, err := robot.New(robot.Config{
		NATSUrl:  ra.cfg.NATS.URL,
		NATSOpts: natsOpts,
	}, robot.Identity{
		Name:       ra.cfg.Robot.Name,
		Version:    agentVersion,
		RobotID:    ra.cfg.Robot.ID,
		Primitives: ra.registry.Names(),
	}, ra.logger)
	if err != nil {
		return fmt.Errorf("connect robot client: %w", err)
	}
	ra.client = c

	// 2. Subscribe to this robot's primitives.
	subject := protocol.SubjectPrimitives(ra.cfg.Robot.ID)
	if _, err := c.Conn().Subscribe(subject, ra.handleMessage); err != nil {
		c.Close()
		return fmt.Errorf("subscribe primitives: %w", err)
	}
	if err := c.Conn().Flush(); err != nil {
		c.Close()
		return fmt.Errorf("flush subscription: %w", err)
	}

	// 3. Optional metrics endpoint and config watcher.
	var metricsSrv *http.Server
	if ra.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: ra.cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				ra.logger.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if ra.cfgFile != "" {
		if err := ra.startWatcher(ctx, ra.cfgFile); err != nil {
			ra.logger.Warn().Err(err).Msg("config watch disabled")
		}
	}

	ra.logger.Info().
		Str("nats", ra.cfg.NATS.URL).
		Str("subject", subject).
		Strs("primitives", ra.registry.Names()).
		Msg("robot agent started")
	close(ra.readyCh)

	// 4. Block on signal or stop.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		ra.logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ra.stopCh:
		ra.logger.Info().Msg("stop requested, shutting down")
	}

	if metricsSrv != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		metricsSrv.Shutdown(shutdownCtx)
		done()
	}
	ra.client.Close()
	return nil
}

// Ready is closed once the agent is subscribed.
func (ra *RobotAgent) Ready() <-chan struct{} { return ra.readyCh }

// Stop signals the agent to shut down. Safe to call from another goroutine.
func (ra *RobotAgent) Stop() {
	close(ra.stopCh)
}

// Client returns the bus client; nil before Run.
func (ra *RobotAgent) Client() *robot.Client { return ra.client }

func (ra *RobotAgent) setSecret(secret string) {
	ra.secretMu.Lock()
	ra.secret = secret
	ra.secretMu.Unlock()
}

func (ra *RobotAgent) currentSecret() string {
	ra.secretMu.RLock()
	defer ra.secretMu.RUnlock()
	return ra.secret
}

// handleMessage never lets a bad message take the agent down: every failure
// is logged, counted, and dropped.
func (ra *RobotAgent) handleMessage(msg *nats.Msg) {
	id := msg.Header.Get(protocol.HeaderMsgID)

	if !protocol.Verify(msg.Data, msg.Header.Get(protocol.HeaderSignature), ra.currentSecret()) {
		ra.reject(reasonSignature, id, errors.New("invalid or missing signature"))
		return
	}

	p, err := ra.registry.Unmarshal(msg.Data)
	if err != nil {
		ra.reject(protocol.ErrorKind(err), id, err)
		return
	}

	if p.RobotID() != ra.cfg.Robot.ID {
		ra.reject(reasonWrongRobot, id, fmt.Errorf("primitive addressed to robot %d", p.RobotID()))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()

	start := time.Now()
	err = ra.executor.Execute(ctx, p)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		metrics.ObserveExecute(p.Name(), metrics.ResultFailed, elapsed)
		ra.reject(reasonExecute, id, err)
		return
	}
	metrics.ObserveExecute(p.Name(), metrics.ResultOK, elapsed)
	ra.client.RecordExecuted()
}

func (ra *RobotAgent) reject(reason, id string, err error) {
	metrics.ObserveRejected(reason)
	ra.client.RecordRejected()
	ra.logger.Warn().Err(err).Str("reason", reason).Str("id", id).Msg("dropped primitive")
}
