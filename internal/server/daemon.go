package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/sekia-ai/primbus/internal/api"
	"github.com/sekia-ai/primbus/internal/behavior"
	"github.com/sekia-ai/primbus/internal/dispatch"
	"github.com/sekia-ai/primbus/internal/journal"
	"github.com/sekia-ai/primbus/internal/natsserver"
	"github.com/sekia-ai/primbus/internal/registry"
	"github.com/sekia-ai/primbus/internal/web"
)

// Daemon is the primd process.
type Daemon struct {
	cfg        Config
	cfgFile    string
	logger     zerolog.Logger
	nats       *natsserver.Server
	journal    *journal.Journal
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	behaviors  *behavior.Engine
	apiServer  *api.Server
	webServer  *web.Server
	startedAt  time.Time
	stopCh     chan struct{}
	readyCh    chan struct{}
}

// NewDaemon creates a Daemon from config.
func NewDaemon(cfg Config, logger zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		stopCh:  make(chan struct{}),
		readyCh: make(chan struct{}),
	}
}

// SetConfigFile records the file SIGHUP reloads from.
func (d *Daemon) SetConfigFile(path string) { d.cfgFile = path }

// Run starts all subsystems and blocks until a signal is received or Stop is called.
func (d *Daemon) Run() error {
	d.startedAt = time.Now()

	// 1. Start embedded NATS.
	ns, err := natsserver.New(natsserver.Config{
		StoreDir: d.cfg.NATS.DataDir,
		Host:     d.cfg.NATS.Host,
		Port:     d.cfg.NATS.Port,
		Token:    d.cfg.NATS.Token,
		Robots:   d.cfg.NATS.Robots,
	}, d.logger)
	if err != nil {
		return fmt.Errorf("start nats: %w", err)
	}
	d.nats = ns

	// 2. Primitive journal.
	var history api.History
	if d.cfg.Journal.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		j, err := journal.New(ctx, ns.JetStream(), journal.Config{
			MaxMsgs:    d.cfg.Journal.MaxMsgs,
			MaxAge:     d.cfg.Journal.MaxAge,
			Duplicates: d.cfg.Journal.Duplicates,
		}, d.logger)
		cancel()
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("start journal: %w", err)
		}
		d.journal = j
		history = j
	}

	// 3. Robot registry.
	reg, err := registry.New(ns.Conn(), d.logger)
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("start registry: %w", err)
	}
	d.registry = reg

	// 4. Dispatcher.
	d.dispatcher = dispatch.New(ns.Conn(), nil, d.cfg.Security.CommandSecret, d.logger)

	// 5. Behavior engine (optional).
	if d.cfg.Behaviors.Enabled {
		if err := d.startBehaviors(ns.Conn()); err != nil {
			reg.Close()
			ns.Shutdown()
			return fmt.Errorf("start behaviors: %w", err)
		}
	}

	// 6. API server.
	d.apiServer = api.New(d.cfg.Server.Socket, reg, d.dispatcher, history, d.startedAt, d.logger)
	d.apiServer.SetReloader(d.reload)
	if d.behaviors != nil {
		d.apiServer.SetBehaviors(d.behaviors)
	}
	apiErrCh := make(chan error, 1)
	go func() {
		apiErrCh <- d.apiServer.Start()
	}()

	// 7. Web dashboard (optional).
	if d.cfg.Web.Listen != "" {
		var b web.Behaviors
		if d.behaviors != nil {
			b = d.behaviors
		}
		d.webServer = web.New(web.Config{
			Listen:   d.cfg.Web.Listen,
			Username: d.cfg.Web.Username,
			Password: d.cfg.Web.Password,
		}, reg, b, ns.Conn(), d.startedAt, d.logger)
		go func() {
			if err := d.webServer.Start(); err != nil {
				d.logger.Error().Err(err).Msg("web server error")
			}
		}()
	}

	d.logger.Info().
		Str("socket", d.cfg.Server.Socket).
		Str("nats", ns.ClientURL()).
		Bool("journal", d.journal != nil).
		Bool("behaviors", d.behaviors != nil).
		Str("web", d.cfg.Web.Listen).
		Bool("signed", d.cfg.Security.CommandSecret != "").
		Msg("primd started")
	close(d.readyCh)

	// 8. Wait for signal, stop call, or API error. SIGHUP reloads the secret.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				if err := d.reload(); err != nil {
					d.logger.Error().Err(err).Msg("config reload failed, keeping current config")
				}
				continue
			}
			d.logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case <-d.stopCh:
			d.logger.Info().Msg("stop requested, shutting down")
		case err := <-apiErrCh:
			if err != nil {
				d.logger.Error().Err(err).Msg("API server error")
			}
		}
		return d.shutdown()
	}
}

func (d *Daemon) startBehaviors(nc *nats.Conn) error {
	eng := behavior.New(nc, d.dispatcher, d.cfg.Behaviors.Dir, d.cfg.Behaviors.HandlerTimeout, d.logger)
	eng.SetVerifyIntegrity(d.cfg.Behaviors.VerifyIntegrity)
	if err := eng.Start(); err != nil {
		return err
	}
	report, err := eng.LoadDir()
	if err != nil {
		eng.Stop()
		return err
	}
	if len(report.Failed) > 0 {
		d.logger.Warn().Err(report.Err()).Msg("some behaviors failed to load")
	}
	if d.cfg.Behaviors.HotReload {
		if err := eng.StartWatcher(); err != nil {
			d.logger.Warn().Err(err).Msg("behavior hot reload disabled")
		}
	}
	d.behaviors = eng
	return nil
}

// reload re-reads the config file and applies the settings that can change
// at runtime. Only the command secret is hot; everything else needs a restart.
func (d *Daemon) reload() error {
	cfg, err := LoadConfig(d.cfgFile)
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	d.dispatcher.SetSecret(cfg.Security.CommandSecret)
	d.logger.Info().Bool("signed", cfg.Security.CommandSecret != "").Msg("config reloaded")
	return nil
}

// Ready is closed once every subsystem is up.
func (d *Daemon) Ready() <-chan struct{} { return d.readyCh }

// Stop signals the daemon to shut down. Safe to call from another goroutine.
func (d *Daemon) Stop() {
	close(d.stopCh)
}

// NATSClientURL returns the embedded NATS server's client URL.
func (d *Daemon) NATSClientURL() string {
	if d.nats == nil {
		return ""
	}
	return d.nats.ClientURL()
}

// NATSConnectOpts returns NATS connection options for in-process connections.
func (d *Daemon) NATSConnectOpts() []nats.Option {
	if d.nats == nil {
		return nil
	}
	return d.nats.ConnectOpts()
}

func (d *Daemon) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if d.webServer != nil {
		d.webServer.Shutdown(ctx)
	}
	if d.apiServer != nil {
		d.apiServer.Shutdown(ctx)
	}
	if d.behaviors != nil {
		d.behaviors.Stop()
	}
	if d.registry != nil {
		d.registry.Close()
	}
	if d.nats != nil {
		d.nats.Shutdown()
	}
	return nil
}
