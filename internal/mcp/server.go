// Package mcp exposes primd to MCP clients over stdio. Every tool goes
// through the daemon API, so primitives are validated and signed by primd.
package mcp

import (
	"context"
	"log"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// MCPServer serves the primbus tool set.
type MCPServer struct {
	api     DaemonAPI
	logger  zerolog.Logger
	version string
}

// New creates an MCPServer. Call Run() to start serving on stdio.
func New(cfg Config, version string, logger zerolog.Logger) *MCPServer {
	return &MCPServer{
		api:     NewAPIClient(cfg.Daemon.Socket),
		logger:  logger.With().Str("component", "mcp").Logger(),
		version: version,
	}
}

// SetDaemonAPI overrides the daemon API client. Intended for testing with a mock.
func (s *MCPServer) SetDaemonAPI(api DaemonAPI) {
	s.api = api
}

// Run registers the tools and serves on stdio until stdin closes or ctx is
// cancelled.
func (s *MCPServer) Run(ctx context.Context) error {
	srv := s.newServer()

	stdio := mcpserver.NewStdioServer(srv)
	stdio.SetErrorLogger(log.New(os.Stderr, "", log.LstdFlags))

	s.logger.Info().Msg("MCP server starting on stdio")
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *MCPServer) newServer() *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer("primbus", s.version, mcpserver.WithRecovery())
	s.registerTools(srv)
	return srv
}

func (s *MCPServer) registerTools(srv *mcpserver.MCPServer) {
	srv.AddTool(
		mcplib.NewTool("get_status",
			mcplib.WithDescription("Get primd status: uptime, robot count, registered primitive types, dispatch and behavior counts"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleGetStatus,
	)

	srv.AddTool(
		mcplib.NewTool("list_robots",
			mcplib.WithDescription("List registered robots with their ids, supported primitives, last heartbeat, and executed/rejected counts"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListRobots,
	)

	srv.AddTool(
		mcplib.NewTool("list_primitive_types",
			mcplib.WithDescription("List the primitive names primd can decode and dispatch"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListTypes,
	)

	srv.AddTool(
		mcplib.NewTool("primitive_history",
			mcplib.WithDescription("Show the most recently dispatched primitives, oldest first"),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithNumber("limit", mcplib.Description("Number of entries to return (default 20)")),
		),
		s.handleHistory,
	)

	srv.AddTool(
		mcplib.NewTool("send_primitive",
			mcplib.WithDescription("Dispatch a raw primitive record to a robot. The record is rejected if its name is unknown or its parameter/flag counts do not match the primitive's layout"),
			mcplib.WithString("name", mcplib.Required(), mcplib.Description("Primitive name, e.g. \"Move\"")),
			mcplib.WithNumber("robot_id", mcplib.Required(), mcplib.Description("Target robot id")),
			mcplib.WithArray("parameters", mcplib.Required(), mcplib.Description("Ordered numeric parameters"),
				mcplib.Items(map[string]any{"type": "number"})),
			mcplib.WithArray("flags", mcplib.Required(), mcplib.Description("Ordered boolean flags"),
				mcplib.Items(map[string]any{"type": "boolean"})),
		),
		s.handleSendPrimitive,
	)

	srv.AddTool(
		mcplib.NewTool("move",
			mcplib.WithDescription("Send a Move primitive: drive a robot to (x, y) and finish at the given orientation"),
			mcplib.WithNumber("robot_id", mcplib.Required(), mcplib.Description("Target robot id")),
			mcplib.WithNumber("x", mcplib.Required(), mcplib.Description("Destination x in metres")),
			mcplib.WithNumber("y", mcplib.Required(), mcplib.Description("Destination y in metres")),
			mcplib.WithNumber("orientation", mcplib.Description("Final orientation in radians (default 0)")),
			mcplib.WithBoolean("dribbler", mcplib.Description("Run the dribbler while moving")),
			mcplib.WithBoolean("autokick", mcplib.Description("Kick automatically when the ball is reached")),
		),
		s.handleMove,
	)

	srv.AddTool(
		mcplib.NewTool("list_behaviors",
			mcplib.WithDescription("List loaded Lua behaviors with their handler patterns and event, error, and dispatch counts"),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		s.handleListBehaviors,
	)

	srv.AddTool(
		mcplib.NewTool("reload_behaviors",
			mcplib.WithDescription("Hot-reload all Lua behavior files from disk"),
		),
		s.handleReloadBehaviors,
	)

	srv.AddTool(
		mcplib.NewTool("reload_config",
			mcplib.WithDescription("Make primd re-read its config file and apply the command secret"),
		),
		s.handleReloadConfig,
	)
}
