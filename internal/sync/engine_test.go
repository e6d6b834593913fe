package sync_test

import (
	"context"
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/hashing"
	"github.com/pamuduchat/syncshare/internal/history"
	"github.com/pamuduchat/syncshare/internal/network/channel"
	"github.com/pamuduchat/syncshare/internal/network/messages"
	"github.com/pamuduchat/syncshare/internal/network/transport"
	syncer "github.com/pamuduchat/syncshare/internal/sync"
	"github.com/pamuduchat/syncshare/internal/sync/conflict"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

const waitTimeout = 10 * time.Second

func channelPair(t *testing.T) (*channel.Channel, *channel.Channel) {
	t.Helper()
	a, b := transport.Pipe(transport.KindDirect)
	left, err := channel.New(channel.Options{})
	if err != nil {
		t.Fatal(err)
	}
	right, err := channel.New(channel.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if err := left.Initialize(a); err != nil {
		t.Fatal(err)
	}
	if err := right.Initialize(b); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		left.Cleanup()
		right.Cleanup()
	})
	return left, right
}

func startEngine(t *testing.T, ch syncer.Channel, folders map[string]string, mutate func(*syncer.Options)) *syncer.Engine {
	t.Helper()
	opts := syncer.Options{
		Sync:     config.DefaultConfig().Sync,
		Folders:  folders,
		PeerName: "test-peer",
	}
	if mutate != nil {
		mutate(&opts)
	}
	engine, err := syncer.NewEngine(ch, opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return engine
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitPhase(t *testing.T, e *syncer.Engine, folder string, want syncer.Phase) {
	t.Helper()
	waitFor(t, string(want), func() bool { return e.Phase(folder) == want })
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func lastHistory(t *testing.T, e *syncer.Engine) history.Entry {
	t.Helper()
	entries := e.History().Entries()
	if len(entries) == 0 {
		t.Fatal("empty history")
	}
	return entries[len(entries)-1]
}

// conflictingPair starts two engines that both hold Photos/x.txt with
// different content and waits until A has the conflict queued.
func conflictingPair(t *testing.T) (a, b *syncer.Engine, dirA, dirB string) {
	t.Helper()
	dirA, dirB = t.TempDir(), t.TempDir()
	writeFile(t, dirA, "x.txt", "from A")
	writeFile(t, dirB, "x.txt", "from B, longer")

	chA, chB := channelPair(t)
	a = startEngine(t, chA, map[string]string{"Photos": dirA}, nil)
	b = startEngine(t, chB, map[string]string{"Photos": dirB}, nil)

	if err := a.StartSync("Photos"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "conflict on A", func() bool { return len(a.Conflicts().Get()) == 1 })
	waitFor(t, "conflict on B", func() bool { return len(b.Conflicts().Get()) == 1 })
	return a, b, dirA, dirB
}

func TestSyncUseRemote(t *testing.T) {
	a, b, dirA, dirB := conflictingPair(t)

	coordinator := conflict.NewCoordinator(a)
	pending := coordinator.PendingConflict()
	if pending == nil || pending.RelativePath != "Photos/x.txt" {
		t.Fatalf("unexpected pending conflict %+v", pending)
	}
	if err := coordinator.Resolve(*pending, conflict.UseRemote); err != nil {
		t.Fatal(err)
	}

	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	if got := readFile(t, dirA, "x.txt"); got != "from B, longer" {
		t.Errorf("A holds %q", got)
	}
	hashA, _ := hashing.FileHash(filepath.Join(dirA, "x.txt"))
	hashB, _ := hashing.FileHash(filepath.Join(dirB, "x.txt"))
	if hashA != hashB {
		t.Error("content hashes differ after sync")
	}

	for name, e := range map[string]*syncer.Engine{"A": a, "B": b} {
		last := lastHistory(t, e)
		if last.Status != history.StatusCompleted || last.Details != "1 file(s) transferred" {
			t.Errorf("%s: unexpected last history entry %+v", name, last)
		}
		if len(e.Conflicts().Get()) != 0 {
			t.Errorf("%s: conflict still queued", name)
		}
	}
}

func TestSyncKeepBoth(t *testing.T) {
	a, b, dirA, _ := conflictingPair(t)

	c := a.Conflicts().Get()[0]
	if err := a.ResolveConflict(c, conflict.KeepBoth); err != nil {
		t.Fatal(err)
	}

	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	if got := readFile(t, dirA, "x.txt"); got != "from A" {
		t.Errorf("local copy changed to %q", got)
	}
	if got := readFile(t, dirA, "x (conflict 1).txt"); got != "from B, longer" {
		t.Errorf("conflict copy holds %q", got)
	}
}

func TestSyncKeepLocal(t *testing.T) {
	a, b, _, dirB := conflictingPair(t)

	c := a.Conflicts().Get()[0]
	if err := a.ResolveConflict(c, conflict.KeepLocal); err != nil {
		t.Fatal(err)
	}

	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	if got := readFile(t, dirB, "x.txt"); got != "from A" {
		t.Errorf("B holds %q", got)
	}
}

func TestSyncSkip(t *testing.T) {
	a, b, dirA, dirB := conflictingPair(t)

	c := a.Conflicts().Get()[0]
	if err := a.ResolveConflict(c, conflict.Skip); err != nil {
		t.Fatal(err)
	}

	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	if readFile(t, dirA, "x.txt") != "from A" || readFile(t, dirB, "x.txt") != "from B, longer" {
		t.Error("skip changed a file")
	}
	if last := lastHistory(t, a); last.Details != "0 file(s) transferred" {
		t.Errorf("unexpected details %q", last.Details)
	}
	if len(a.Conflicts().Get()) != 0 || len(b.Conflicts().Get()) != 0 {
		t.Error("skipped conflict surfaced again")
	}
	if err := a.ResolveConflict(c, conflict.Skip); !errors.Is(err, conflict.ErrNotPending) {
		t.Errorf("expected ErrNotPending, got %v", err)
	}
}

func TestSyncWithoutCandidates(t *testing.T) {
	chA, chB := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Docs": t.TempDir()}, nil)
	b := startEngine(t, chB, map[string]string{"Docs": t.TempDir()}, nil)

	if err := a.StartSync("Docs"); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, a, "Docs", syncer.PhaseCompleted)
	waitPhase(t, b, "Docs", syncer.PhaseCompleted)

	if last := lastHistory(t, b); last.Details != "0 file(s) transferred" {
		t.Errorf("unexpected details %q", last.Details)
	}

	// A finished session does not block the next one.
	if err := a.StartSync("Docs"); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, "second session", func() bool {
		info := a.Sessions().Get()["Docs"]
		return info.Phase == syncer.PhaseCompleted && len(a.History().Entries()) >= 4
	})
}

func TestSyncPushesAndPullsNestedFiles(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeFile(t, dirA, "a/one.txt", "one")
	writeFile(t, dirB, "b/c/two.txt", "two")
	writeFile(t, dirA, "same.txt", "same")
	writeFile(t, dirB, "same.txt", "same")

	chA, chB := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dirA}, nil)
	b := startEngine(t, chB, map[string]string{"Photos": dirB}, nil)

	if err := a.StartSync("Photos"); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	if readFile(t, dirB, "a/one.txt") != "one" || readFile(t, dirA, "b/c/two.txt") != "two" {
		t.Error("files not exchanged")
	}
	if last := lastHistory(t, a); last.Details != "2 file(s) transferred" {
		t.Errorf("unexpected details %q", last.Details)
	}
}

func TestSyncLargeFile(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	payload := make([]byte, 20<<20)
	if _, err := rand.Read(payload); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dirA, "big.bin"), payload, 0o644); err != nil {
		t.Fatal(err)
	}

	chA, chB := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Video": dirA}, nil)
	b := startEngine(t, chB, map[string]string{"Video": dirB}, nil)

	if err := a.StartSync("Video"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Minute)
	for b.Phase("Video") != syncer.PhaseCompleted || a.Phase("Video") != syncer.PhaseCompleted {
		if time.Now().After(deadline) {
			t.Fatalf("large transfer did not finish: A=%s B=%s", a.Phase("Video"), b.Phase("Video"))
		}
		time.Sleep(20 * time.Millisecond)
	}

	want, _ := hashing.FileHash(filepath.Join(dirA, "big.bin"))
	got, err := hashing.FileHash(filepath.Join(dirB, "big.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Error("large file corrupted in transit")
	}
}

func TestSingleSessionPerFolderAndMapping(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeFile(t, dirA, "x.txt", "hello")

	chA, chB := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dirA}, nil)
	b := startEngine(t, chB, nil, nil)

	if err := a.StartSync("Photos"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "mapping request", func() bool {
		reqs := b.MappingRequests().Get()
		return len(reqs) == 1 && reqs[0] == "Photos"
	})

	if err := a.StartSync("Photos"); !errors.Is(err, syncerr.ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive, got %v", err)
	}

	if err := b.MapFolder("Photos", dirB); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	if readFile(t, dirB, "x.txt") != "hello" {
		t.Error("file not delivered to mapped folder")
	}
	if len(b.MappingRequests().Get()) != 0 {
		t.Error("mapping request still published")
	}
}

func TestAcceptDirMapsAutomatically(t *testing.T) {
	dirA, accept := t.TempDir(), t.TempDir()
	writeFile(t, dirA, "x.txt", "hello")

	chA, chB := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dirA}, nil)
	b := startEngine(t, chB, nil, func(o *syncer.Options) { o.Sync.AcceptDir = accept })

	if err := a.StartSync("Photos"); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)
	if readFile(t, filepath.Join(accept, "Photos"), "x.txt") != "hello" {
		t.Error("file not delivered under accept dir")
	}
}

func receive(t *testing.T, ch *channel.Channel) messages.SyncMessage {
	t.Helper()
	select {
	case msg, ok := <-ch.Messages():
		if !ok {
			t.Fatal("inbound sequence closed")
		}
		return msg
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for message")
	}
	return messages.SyncMessage{}
}

func receiveType(t *testing.T, ch *channel.Channel, want messages.Type) messages.SyncMessage {
	t.Helper()
	for {
		msg := receive(t, ch)
		if msg.Type == messages.TypeReceivedAck {
			t.Fatalf("unexpected acknowledgement %v", msg)
		}
		if msg.Type == want {
			return msg
		}
	}
}

func TestTruncatedTransferIsNeverAcknowledged(t *testing.T) {
	dir := t.TempDir()
	chA, raw := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dir}, nil)

	content := []byte("0123456789")
	listing := []messages.FileMetadata{{
		RelativePath: "Photos/x.txt",
		Name:         "x.txt",
		Size:         int64(len(content)),
		LastModified: time.Now().UnixMilli(),
		ContentHash:  hashing.HashString(content),
	}}
	if err := raw.Send(messages.RequestMetadata("Photos", listing)); err != nil {
		t.Fatal(err)
	}
	requested := receiveType(t, raw, messages.TypeFilesRequested)
	if len(requested.RequestedFilePaths) != 1 || requested.RequestedFilePaths[0] != "Photos/x.txt" {
		t.Fatalf("unexpected request %v", requested)
	}

	for _, msg := range []messages.SyncMessage{
		messages.TransferStart("Photos", "Photos/x.txt", 10),
		messages.Chunk("Photos", 0, content[:5]),
		messages.TransferEnd("Photos", "Photos/x.txt", 10),
	} {
		if err := raw.Send(msg); err != nil {
			t.Fatal(err)
		}
	}

	errMsg := receiveType(t, raw, messages.TypeError)
	if errMsg.FolderName != "Photos" {
		t.Errorf("error for folder %q", errMsg.FolderName)
	}
	waitPhase(t, a, "Photos", syncer.PhaseError)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected transfer left %d file(s) behind", len(entries))
	}
	if last := lastHistory(t, a); last.Status != history.StatusError {
		t.Errorf("expected error history, got %+v", last)
	}
}

func TestUnrequestedTransferFailsSession(t *testing.T) {
	dir := t.TempDir()
	chA, raw := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dir}, nil)

	if err := raw.Send(messages.RequestMetadata("Photos", nil)); err != nil {
		t.Fatal(err)
	}
	receiveType(t, raw, messages.TypeMetadataResponse)
	if err := raw.Send(messages.TransferStart("Photos", "Photos/evil.txt", 3)); err != nil {
		t.Fatal(err)
	}
	receiveType(t, raw, messages.TypeError)
	waitPhase(t, a, "Photos", syncer.PhaseError)
}

func TestPeerErrorWithoutFolderFailsAll(t *testing.T) {
	chA, raw := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": t.TempDir(), "Docs": t.TempDir()}, nil)

	if err := a.StartSync("Photos"); err != nil {
		t.Fatal(err)
	}
	if err := a.StartSync("Docs"); err != nil {
		t.Fatal(err)
	}
	receiveType(t, raw, messages.TypeRequestMetadata)
	receiveType(t, raw, messages.TypeRequestMetadata)

	if err := raw.Send(messages.Error("", "boom")); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, a, "Photos", syncer.PhaseError)
	waitPhase(t, a, "Docs", syncer.PhaseError)

	if info := a.Sessions().Get()["Photos"]; info.Error == "" {
		t.Error("expected an error status")
	}
}

func TestRejectsListingOutsideFolder(t *testing.T) {
	chA, raw := channelPair(t)
	startEngine(t, chA, map[string]string{"Photos": t.TempDir()}, nil)

	listing := []messages.FileMetadata{{
		RelativePath: "Photos/../../etc/passwd",
		Name:         "passwd",
		ContentHash:  hashing.HashString(nil),
	}}
	if err := raw.Send(messages.RequestMetadata("Photos", listing)); err != nil {
		t.Fatal(err)
	}
	receiveType(t, raw, messages.TypeError)
}

func TestStartSyncUnknownFolder(t *testing.T) {
	chA, _ := channelPair(t)
	a := startEngine(t, chA, nil, nil)
	if err := a.StartSync("Nope"); err == nil {
		t.Error("expected an error for an unknown folder")
	}
}

func TestSyncSkipsNonUTF8Names(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs a filesystem that accepts arbitrary name bytes")
	}
	dirA, dirB := t.TempDir(), t.TempDir()
	writeFile(t, dirA, "caf\xe9.txt", "latin1 name")
	writeFile(t, dirA, "ok.txt", "fine")

	chA, chB := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dirA}, nil)
	b := startEngine(t, chB, map[string]string{"Photos": dirB}, nil)

	if err := a.StartSync("Photos"); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	if readFile(t, dirB, "ok.txt") != "fine" {
		t.Error("valid file not delivered")
	}
	entries, err := os.ReadDir(dirB)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only ok.txt on B, got %d entries", len(entries))
	}
	if last := lastHistory(t, a); last.Details != "1 file(s) transferred" {
		t.Errorf("unexpected details %q", last.Details)
	}
}

func TestFailedSessionDropsQueuedFiles(t *testing.T) {
	dir := t.TempDir()
	blob := make([]byte, 4<<20)
	if _, err := rand.Read(blob); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a.bin", "b.bin"} {
		if err := os.WriteFile(filepath.Join(dir, name), blob, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	chA, raw := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dir}, func(o *syncer.Options) {
		o.Sync.MaxBandwidth = 1 << 20
	})

	if err := raw.Send(messages.RequestMetadata("Photos", nil)); err != nil {
		t.Fatal(err)
	}
	receiveType(t, raw, messages.TypeMetadataResponse)
	if err := raw.Send(messages.FilesRequested("Photos", []string{"Photos/a.bin", "Photos/b.bin"})); err != nil {
		t.Fatal(err)
	}
	first := receiveType(t, raw, messages.TypeTransferStart)

	announced := make(chan string, 4)
	go func() {
		for msg := range raw.Messages() {
			if msg.Type == messages.TypeTransferStart {
				announced <- msg.Path()
			}
		}
	}()
	if err := raw.Send(messages.Error("Photos", "disk full")); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, a, "Photos", syncer.PhaseError)

	select {
	case p := <-announced:
		t.Errorf("failed session announced %s after %s", p, first.Path())
	case <-time.After(500 * time.Millisecond):
	}
}

func TestSentFileLogsChunkCount(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	writeFile(t, dirA, "x.bin", string(make([]byte, 20000)))

	core, logs := observer.New(zapcore.DebugLevel)
	chA, chB := channelPair(t)
	a := startEngine(t, chA, map[string]string{"Photos": dirA}, func(o *syncer.Options) {
		o.Logger = zap.New(core)
	})
	b := startEngine(t, chB, map[string]string{"Photos": dirB}, nil)

	if err := a.StartSync("Photos"); err != nil {
		t.Fatal(err)
	}
	waitPhase(t, a, "Photos", syncer.PhaseCompleted)
	waitPhase(t, b, "Photos", syncer.PhaseCompleted)

	sent := logs.FilterMessage("File sent").All()
	if len(sent) != 1 {
		t.Fatalf("expected one sent file, got %d", len(sent))
	}
	if chunks := sent[0].ContextMap()["chunks"]; chunks != int64(3) {
		t.Errorf("expected 3 chunks, got %v", chunks)
	}
}
