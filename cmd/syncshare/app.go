package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/broker"
	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/database"
	"github.com/pamuduchat/syncshare/internal/hashing"
	"github.com/pamuduchat/syncshare/internal/history"
	"github.com/pamuduchat/syncshare/internal/network/connection"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/observability"
	syncer "github.com/pamuduchat/syncshare/internal/sync"
)

const seedFile = "device.seed"

// app holds everything a subcommand needs, built from the config
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	db       *database.DB
	history  *history.Log
	metrics  *observability.Metrics
	deviceID string

	direct  *connection.DirectManager
	classic *connection.ClassicManager
	broker  *broker.Broker

	shutdown []func() error
}

// appOptions tweak what newApp wires up
type appOptions struct {
	cfg       *config.Config // loaded from flags when nil
	console   bool           // human readable logs on stderr
	quiet     bool           // discard logs
	telemetry bool
	muter     syncer.PathMuter
	acceptDir string
}

func loadConfig() (*config.Config, error) {
	path := flags.ConfigFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".syncshare", "config.yaml")
		}
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if flags.LogLevel != "" {
		cfg.Observability.LogLevel = flags.LogLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, opts appOptions) (*observability.Logger, error) {
	if opts.quiet {
		return observability.NewNopLogger(), nil
	}
	if opts.console {
		return observability.NewConsoleLogger(cfg.Observability.LogLevel)
	}
	return observability.NewLogger(cfg.Observability.LogLevel)
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg := opts.cfg
	if cfg == nil {
		var err error
		if cfg, err = loadConfig(); err != nil {
			return nil, err
		}
	}
	if opts.acceptDir != "" {
		cfg.Sync.AcceptDir = opts.acceptDir
	}

	logger, err := newLogger(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx, opts); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, opts appOptions) error {
	cfg := a.cfg
	if err := os.MkdirAll(cfg.Device.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	db, err := database.NewDB(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db
	a.shutdown = append(a.shutdown, db.Close)
	a.logger.Debug("Database initialized", zap.String("path", cfg.DatabasePath()))

	if a.history, err = history.NewLog(db, a.logger.Logger); err != nil {
		return err
	}

	if opts.telemetry {
		if err := a.initTelemetry(ctx); err != nil {
			return err
		}
	}

	if a.deviceID, err = loadDeviceID(cfg); err != nil {
		return err
	}

	a.direct = connection.NewDirectManager(cfg.Direct, discovery.NewMDNSSource(discovery.MDNSConfig{
		Instance:    a.deviceID,
		DisplayName: cfg.Device.Name,
		Service:     cfg.Direct.MDNSService,
		Domain:      cfg.Direct.MDNSDomain,
		Port:        cfg.Direct.Port,
	}, a.logger.Named("mdns").Logger), a.logger.Logger, a.metrics)

	a.classic = connection.NewClassicManager(cfg.Classic, discovery.NewBroadcastSource(discovery.BroadcastConfig{
		Instance:       a.deviceID,
		DisplayName:    cfg.Device.Name,
		Service:        cfg.ServiceID(),
		DiscoveryPort:  cfg.Classic.DiscoveryPort,
		BroadcastAddr:  cfg.Classic.BroadcastAddr,
		ListenAddr:     net.JoinHostPort("", strconv.Itoa(cfg.Classic.QUICPort)),
		QUICPort:       cfg.Classic.QUICPort,
		ConnectTimeout: cfg.Classic.ConnectTimeout,
	}, a.logger.Named("udp").Logger), a.logger.Logger, a.metrics)

	a.broker = broker.New(broker.Options{
		Config:    cfg,
		HashCache: db,
		Mappings:  db,
		Peers:     db,
		History:   a.history,
		Muter:     opts.muter,
		Logger:    a.logger.Logger,
		Metrics:   a.metrics,
	})
	return nil
}

func (a *app) initTelemetry(ctx context.Context) error {
	cfg := a.cfg.Observability
	if cfg.MetricsEnabled {
		provider, shutdown, err := observability.InitMetricsProvider(ctx, cfg.OTELendpoint, AppName)
		if err != nil {
			return fmt.Errorf("failed to initialize metrics provider: %w", err)
		}
		a.shutdown = append(a.shutdown, shutdown)

		if a.metrics, err = observability.NewMetrics(provider, AppName); err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
	}
	if cfg.TracingEnabled {
		_, shutdown, err := observability.InitTracing(ctx, cfg.OTELendpoint, AppName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.shutdown = append(a.shutdown, shutdown)
	}
	return nil
}

// managers returns the enabled connection managers
func (a *app) managers() []connection.Manager {
	var out []connection.Manager
	if a.cfg.Direct.Enabled {
		out = append(out, a.direct)
	}
	if a.cfg.Classic.Enabled {
		out = append(out, a.classic)
	}
	return out
}

func (a *app) close() {
	if a.broker != nil {
		a.broker.Disconnect()
	}
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](); err != nil {
			a.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	a.logger.Sync()
}

// loadDeviceID derives the device id from the install seed, creating
// the seed on first use
func loadDeviceID(cfg *config.Config) (string, error) {
	path := filepath.Join(cfg.Device.DataDir, seedFile)
	seed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if seed, err = hashing.NewSeed(); err != nil {
			return "", err
		}
		if err := os.WriteFile(path, seed, 0o600); err != nil {
			return "", fmt.Errorf("failed to write device seed: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("failed to read device seed: %w", err)
	}
	return hashing.DeviceID(cfg.Device.Name, seed), nil
}
