// Package natsserver runs the bus primd and its robots share: an embedded
// NATS server with JetStream for the primitive journal.
//
// Access is either open, guarded by one shared token, or split into
// per-robot accounts. A robot account may publish only its registration and
// its own heartbeat, and may subscribe only to the primitives addressed to
// its robot id.
package natsserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/pkg/protocol"
)

// daemonUser is the account primd itself connects with when robot accounts
// are configured.
const daemonUser = "primd"

// Config holds settings for the embedded NATS server.
type Config struct {
	StoreDir string
	Host     string // empty keeps the server in-process only
	Port     int
	Token    string // shared token; excludes Robots
	Robots   []RobotAccount
}

// RobotAccount is the NATS login of one robot.
type RobotAccount struct {
	Name     string `mapstructure:"name"`
	RobotID  uint32 `mapstructure:"robot_id"`
	Password string `mapstructure:"password"`
}

func (a RobotAccount) user() *server.User {
	return &server.User{
		Username: a.Name,
		Password: a.Password,
		Permissions: &server.Permissions{
			Publish: &server.SubjectPermission{
				Allow: []string{protocol.SubjectRegistry, protocol.SubjectHeartbeat(a.Name)},
			},
			Subscribe: &server.SubjectPermission{
				Allow: []string{protocol.SubjectPrimitives(a.RobotID)},
			},
		},
	}
}

// validateRobots rejects accounts whose name would widen the heartbeat
// permission or collide with another login.
func validateRobots(robots []RobotAccount) error {
	seen := map[string]bool{daemonUser: true}
	for _, r := range robots {
		switch {
		case r.Name == "" || strings.ContainsAny(r.Name, ".*> \t"):
			return fmt.Errorf("robot account %q: name must be a single subject token", r.Name)
		case r.Password == "":
			return fmt.Errorf("robot account %q: password is required", r.Name)
		case seen[r.Name]:
			return fmt.Errorf("robot account %q: duplicate or reserved name", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// Server wraps an embedded NATS server and primd's own connection to it.
type Server struct {
	ns       *server.Server
	nc       *nats.Conn
	js       jetstream.JetStream
	token    string
	password string // daemonUser password in robot-account mode
	logger   zerolog.Logger
}

// New creates and starts the embedded NATS server.
func New(cfg Config, logger zerolog.Logger) (*Server, error) {
	if cfg.Token != "" && len(cfg.Robots) > 0 {
		return nil, errors.New("nats token and robot accounts are mutually exclusive")
	}
	if err := validateRobots(cfg.Robots); err != nil {
		return nil, err
	}

	opts := &server.Options{
		ServerName:    "primd",
		JetStream:     true,
		StoreDir:      cfg.StoreDir,
		DontListen:    cfg.Host == "",
		Host:          cfg.Host,
		Port:          cfg.Port,
		NoLog:         true,
		NoSigs:        true,
		Authorization: cfg.Token,
	}

	s := &Server{token: cfg.Token, logger: logger}
	if len(cfg.Robots) > 0 {
		s.password = uuid.NewString()
		opts.Users = append(opts.Users, &server.User{Username: daemonUser, Password: s.password})
		for _, r := range cfg.Robots {
			opts.Users = append(opts.Users, r.user())
		}
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("nats server create: %w", err)
	}
	ns.SetLoggerV2(newZerologAdapter(logger), false, false, false)

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server failed to become ready")
	}
	s.ns = ns

	nc, err := nats.Connect(ns.ClientURL(), append(s.ConnectOpts(), nats.Name("primd"))...)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	s.nc = nc
	s.js = js

	logger.Info().
		Str("client_url", ns.ClientURL()).
		Bool("tcp", !opts.DontListen).
		Int("robot_accounts", len(cfg.Robots)).
		Msg("embedded NATS started")
	return s, nil
}

// ConnectOpts returns what a client inside primd needs to reach the server
// with full permissions.
func (s *Server) ConnectOpts() []nats.Option {
	var opts []nats.Option
	if s.ns.Addr() == nil {
		opts = append(opts, nats.InProcessServer(s.ns))
	}
	switch {
	case s.token != "":
		opts = append(opts, nats.Token(s.token))
	case s.password != "":
		opts = append(opts, nats.UserInfo(daemonUser, s.password))
	}
	return opts
}

// Conn returns primd's connection.
func (s *Server) Conn() *nats.Conn { return s.nc }

// JetStream returns the JetStream handle.
func (s *Server) JetStream() jetstream.JetStream { return s.js }

// ClientURL returns the NATS client connection URL.
func (s *Server) ClientURL() string { return s.ns.ClientURL() }

// Shutdown drains primd's connection and stops the server.
func (s *Server) Shutdown() {
	s.logger.Info().Msg("shutting down embedded NATS")
	s.nc.Drain()
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}
