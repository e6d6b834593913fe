package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pamuduchat/syncshare/internal/network/connection"
	"github.com/pamuduchat/syncshare/internal/network/discovery"
)

// DiscoverFlags holds discover command flags
type DiscoverFlags struct {
	Known bool
}

var discoverFlags DiscoverFlags

func newDiscoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Scan for nearby peers",
		RunE:  runDiscover,
	}
	cmd.Flags().BoolVar(&discoverFlags.Known, "known", false, "list peers connected before instead of scanning")
	return cmd
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{console: true})
	if err != nil {
		return err
	}
	defer a.close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if discoverFlags.Known {
		peers, err := a.db.GetRecentPeers(50)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "ID\tNAME\tKIND\tLAST SEEN")
		for _, p := range peers {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.PeerID, p.DisplayName, p.Kind, p.LastSeen.Format(time.RFC3339))
		}
		return nil
	}

	managers := a.managers()
	scan(ctx, managers)

	fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATE")
	for _, m := range managers {
		for _, p := range m.Peers().Get() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.DisplayName, p.Kind, p.State)
		}
		if err := m.LastError(); err != nil {
			fmt.Fprintf(os.Stderr, "%s link: %s\n", m.Kind(), m.Status().Get())
		}
	}
	return nil
}

// scan runs discovery on every manager and returns when all have stopped
// scanning or ctx is done
func scan(ctx context.Context, managers []connection.Manager) {
	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.StartDiscovery(ctx); err != nil {
				return
			}
			waitScanned(ctx, m)
		}()
	}
	wg.Wait()
}

// waitScanned blocks until m's scanning flag is false
func waitScanned(ctx context.Context, m connection.Manager) {
	updates, unsubscribe := m.Scanning().Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			m.StopDiscovery(context.Background())
			return
		case scanning := <-updates:
			if !scanning {
				return
			}
		}
	}
}

// findPeer scans until a peer matching idOrName shows up on one of the
// managers, then stops every scan
func findPeer(ctx context.Context, managers []connection.Manager, idOrName string) (connection.Manager, discovery.PeerDescriptor, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type match struct {
		manager connection.Manager
		peer    discovery.PeerDescriptor
	}
	found := make(chan match, len(managers))

	var wg sync.WaitGroup
	for _, m := range managers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.StartDiscovery(ctx); err != nil {
				return
			}
			peers, unsubscribe := m.Peers().Subscribe()
			defer unsubscribe()
			scanning, unsubscribeScan := m.Scanning().Subscribe()
			defer unsubscribeScan()

			for {
				select {
				case <-ctx.Done():
					m.StopDiscovery(context.Background())
					return
				case <-peers:
					if p, ok := m.Registry().Find(idOrName); ok {
						found <- match{m, p}
						return
					}
				case active := <-scanning:
					if !active {
						if p, ok := m.Registry().Find(idOrName); ok {
							found <- match{m, p}
						}
						return
					}
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	res, ok := <-found
	if !ok {
		return nil, discovery.PeerDescriptor{}, fmt.Errorf("peer %q not found", idOrName)
	}
	cancel()
	res.manager.StopDiscovery(context.Background())
	return res.manager, res.peer, nil
}
