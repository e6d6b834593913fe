package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/broker"
	"github.com/pamuduchat/syncshare/internal/network/connection"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	"github.com/pamuduchat/syncshare/internal/observability"
	syncer "github.com/pamuduchat/syncshare/internal/sync"
	"github.com/pamuduchat/syncshare/internal/sync/conflict"
)

// SyncFlags holds sync command flags
type SyncFlags struct {
	OnConflict string
	Link       string
	NoProgress bool
}

var syncFlags SyncFlags

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <peer> <folder>",
		Short: "Connect to a peer and sync one folder",
		Long: `Find the peer by id or display name, connect to it and run one sync
session for the folder. Conflicts are resolved with --on-conflict, or
interactively when it is not set.`,
		Args: cobra.ExactArgs(2),
		RunE: runSync,
	}

	cmd.Flags().StringVar(&syncFlags.OnConflict, "on-conflict", "", "resolve every conflict with: keep-local, use-remote, keep-both, skip")
	cmd.Flags().StringVar(&syncFlags.Link, "link", "any", "link to use: direct, classic, any")
	cmd.Flags().BoolVar(&syncFlags.NoProgress, "no-progress", false, "do not draw progress bars")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	peerArg, folder := args[0], args[1]

	var option conflict.Option
	if syncFlags.OnConflict != "" {
		var err error
		if option, err = conflict.ParseOption(syncFlags.OnConflict); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{console: true, telemetry: true})
	if err != nil {
		return err
	}
	defer a.close()

	if _, ok := a.cfg.Folder(folder); !ok {
		return fmt.Errorf("folder %q is not configured", folder)
	}

	managers, err := selectManagers(a, syncFlags.Link)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Looking for %s...\n", peerArg)
	manager, peer, err := findPeer(ctx, managers, peerArg)
	if err != nil {
		return err
	}

	stream, err := manager.Connect(ctx, peer)
	if err != nil {
		return err
	}
	link, err := a.broker.Attach(ctx, peer, stream, true, func() { manager.Disconnect() })
	if err != nil {
		manager.Disconnect()
		return err
	}
	defer link.Disconnect()
	fmt.Fprintf(os.Stderr, "Connected to %s over the %s link\n", peer.Label(), peer.Kind)

	engine := link.Engine()
	if err := engine.StartSync(folder); err != nil {
		return err
	}

	s := &sessionWatcher{
		engine:      engine,
		coordinator: conflict.NewCoordinator(engine),
		folder:      folder,
		option:      option,
		input:       bufio.NewReader(os.Stdin),
		progress:    !syncFlags.NoProgress,
		logger:      a.logger.Named("sync").WithFolder(folder),
	}
	info, err := s.wait(ctx, link)
	if err != nil {
		return err
	}
	fmt.Printf("Synced %s with %s: %d file(s) transferred in %s\n",
		folder, peer.Label(), info.Transferred, time.Since(info.StartedAt).Round(time.Millisecond))
	return nil
}

func selectManagers(a *app, name string) ([]connection.Manager, error) {
	switch name {
	case "any", "":
		return a.managers(), nil
	case string(transport.KindDirect):
		return []connection.Manager{a.direct}, nil
	case string(transport.KindClassic):
		return []connection.Manager{a.classic}, nil
	}
	return nil, fmt.Errorf("unknown link %q", name)
}

// sessionWatcher follows one session to its end, drawing progress and
// answering conflicts
type sessionWatcher struct {
	engine      *syncer.Engine
	coordinator *conflict.Coordinator
	folder      string
	option      conflict.Option // empty means ask
	input       *bufio.Reader
	progress    bool
	logger      *observability.Logger

	bar     *pb.ProgressBar
	barPath string
}

func (s *sessionWatcher) wait(ctx context.Context, link *broker.Link) (syncer.SessionInfo, error) {
	sessions, unsubscribe := s.engine.Sessions().Subscribe()
	defer unsubscribe()
	conflicts, unsubscribeConflicts := s.engine.Conflicts().Subscribe()
	defer unsubscribeConflicts()
	progress, unsubscribeProgress := s.engine.Progress().Subscribe()
	defer unsubscribeProgress()
	defer s.finishBar()

	for {
		select {
		case <-ctx.Done():
			return syncer.SessionInfo{}, ctx.Err()
		case <-link.Done():
			if err := link.Err(); err != nil {
				return syncer.SessionInfo{}, err
			}
			return syncer.SessionInfo{}, errors.New("peer disconnected")
		case snap := <-sessions:
			info, ok := snap[s.folder]
			if !ok {
				continue
			}
			log := s.logger.WithSession(info.ID)
			switch info.Phase {
			case syncer.PhaseCompleted:
				log.Debug("Session completed", zap.Int("files", info.Transferred))
				return info, nil
			case syncer.PhaseError:
				log.Debug("Session failed", zap.String("error", info.Error))
				return info, errors.New(info.Error)
			}
		case t := <-progress:
			s.showProgress(t)
		case <-conflicts:
			if err := s.resolvePending(); err != nil {
				return syncer.SessionInfo{}, err
			}
		}
	}
}

func (s *sessionWatcher) resolvePending() error {
	head := s.coordinator.PendingConflict()
	if head == nil || head.Folder != s.folder {
		return nil
	}

	option := s.option
	if option == "" {
		s.finishBar()
		var err error
		if option, err = s.ask(*head); err != nil {
			return err
		}
	}

	err := s.coordinator.Resolve(*head, option)
	if errors.Is(err, conflict.ErrNotPending) {
		// the peer decided first
		return nil
	}
	return err
}

func (s *sessionWatcher) ask(c conflict.FileConflict) (conflict.Option, error) {
	fmt.Fprintf(os.Stderr, "\nConflict on %s\n", c.RelativePath)
	if c.Local != nil {
		fmt.Fprintf(os.Stderr, "  local:  %d bytes, modified %s\n", c.Local.Size, time.UnixMilli(c.Local.LastModified).Format(time.DateTime))
	}
	if c.Remote != nil {
		fmt.Fprintf(os.Stderr, "  remote: %d bytes, modified %s\n", c.Remote.Size, time.UnixMilli(c.Remote.LastModified).Format(time.DateTime))
	}

	for {
		fmt.Fprint(os.Stderr, "Keep [l]ocal, use [r]emote, keep [b]oth or [s]kip? ")
		line, err := s.input.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}
		answer := strings.TrimSpace(line)
		switch answer {
		case "l":
			return conflict.KeepLocal, nil
		case "r":
			return conflict.UseRemote, nil
		case "b":
			return conflict.KeepBoth, nil
		case "s":
			return conflict.Skip, nil
		}
		if option, err := conflict.ParseOption(answer); err == nil {
			return option, nil
		}
	}
}

func (s *sessionWatcher) showProgress(t syncer.Transfer) {
	if !s.progress || t.Path == "" || t.Folder != s.folder {
		return
	}
	if t.Path != s.barPath {
		s.finishBar()
		s.barPath = t.Path
		arrow := "<-"
		if t.Direction == "sent" {
			arrow = "->"
		}
		s.bar = pb.Full.Start64(t.Total)
		s.bar.Set(pb.Bytes, true)
		s.bar.Set("prefix", fmt.Sprintf("%s %s ", arrow, path.Base(t.Path)))
	}
	if s.bar == nil {
		return
	}
	s.bar.SetCurrent(t.Done)
	if t.Done >= t.Total {
		s.finishBar()
	}
}

func (s *sessionWatcher) finishBar() {
	if s.bar != nil {
		s.bar.Finish()
		s.bar = nil
	}
}
