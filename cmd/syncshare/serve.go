package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/filesystem"
	"github.com/pamuduchat/syncshare/internal/monitoring"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

// ServeFlags holds serve command flags
type ServeFlags struct {
	Watch      bool
	AcceptDir  string
	StatusAddr string
}

var serveFlags ServeFlags

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Wait for peers and answer their sync requests",
		Long: `Listen on every enabled link, advertise this device and answer sync
requests for the configured folders. With --watch, local changes start a
sync of the changed folder while a peer is connected.`,
		RunE: runServe,
	}

	cmd.Flags().BoolVarP(&serveFlags.Watch, "watch", "w", false, "sync a folder when its files change")
	cmd.Flags().StringVar(&serveFlags.AcceptDir, "accept-dir", "", "store unknown remote folders under this directory")
	cmd.Flags().StringVar(&serveFlags.StatusAddr, "status-addr", "", "serve JSON status on this address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// The watcher must exist before the broker so engines can mute it.
	var watcher *filesystem.FolderWatcher
	opts := appOptions{cfg: cfg, telemetry: true, acceptDir: serveFlags.AcceptDir}
	if serveFlags.Watch {
		roots := make(map[string]string, len(cfg.Folders))
		for _, f := range cfg.Folders {
			roots[f.Name] = f.Path
		}
		if watcher, err = filesystem.NewFolderWatcher(roots, cfg.Sync.WatchDebounce, nil); err != nil {
			return fmt.Errorf("failed to watch folders: %w", err)
		}
		opts.muter = watcher
	}

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger.Named("serve")

	logger.Info("Starting syncshare",
		zap.String("version", AppVersion),
		zap.String("device_id", a.deviceID),
		zap.Int("folders", len(a.cfg.Folders)))
	if mappings, err := a.db.FolderMappings(); err == nil {
		for remote, local := range mappings {
			logger.Debug("Folder mapping", zap.String("remote", remote), zap.String("path", local))
		}
	}

	managers := a.managers()
	if len(managers) == 0 {
		return errors.New("no link enabled in config")
	}
	for _, m := range managers {
		handle := func(peer discovery.PeerDescriptor, stream transport.Stream) {
			_, err := a.broker.Attach(ctx, peer, stream, false, func() { m.Disconnect() })
			if err != nil {
				m.Disconnect()
			}
		}
		if err := m.StartListening(ctx, handle); err != nil {
			return fmt.Errorf("failed to listen on %s link: %w", m.Kind(), err)
		}
		logger.Info("Listening", zap.String("kind", string(m.Kind())), zap.String("status", m.Status().Get()))
	}

	if watcher != nil {
		go watcher.Run(ctx, func(folder string) {
			link := a.broker.Active()
			if link == nil {
				return
			}
			folderLog := logger.WithFolder(folder)
			err := link.Engine().StartSync(folder)
			switch {
			case err == nil:
				folderLog.Info("Change detected, syncing")
			case errors.Is(err, syncerr.ErrSessionActive):
				folderLog.Debug("Sync already running")
			default:
				folderLog.Warn("Failed to start sync", zap.Error(err))
			}
		})
	}

	statusAddr := a.cfg.Observability.StatusAddr
	if serveFlags.StatusAddr != "" {
		statusAddr = serveFlags.StatusAddr
	}
	if statusAddr != "" {
		server := monitoring.NewServer(a.broker, a.history, managers, a.logger.Logger)
		if err := server.Start(statusAddr); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Stop(shutdownCtx)
		}()
	}

	go logLinkChanges(ctx, a)

	<-ctx.Done()
	logger.Info("Shutting down")
	return nil
}

// logLinkChanges reports each connect and disconnect until ctx is done
func logLinkChanges(ctx context.Context, a *app) {
	updates, unsubscribe := a.broker.Status().Subscribe()
	defer unsubscribe()
	logger := a.logger.Named("link")

	for {
		select {
		case <-ctx.Done():
			return
		case status := <-updates:
			switch {
			case status.Connected:
				logger.WithPeerID(status.PeerID).Info("Peer connected",
					zap.String("name", status.PeerName),
					zap.String("kind", string(status.Kind)),
					zap.Bool("secure", status.Secure))
			case status.PeerID != "":
				logger.WithPeerID(status.PeerID).Info("Peer disconnected", zap.String("error", status.Error))
			}
		}
	}
}
