// Package sync drives folder sync sessions over one communication channel:
// metadata exchange, diffing, conflict handling and chunked transfer.
package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pamuduchat/syncshare/internal/chunking"
	"github.com/pamuduchat/syncshare/internal/config"
	"github.com/pamuduchat/syncshare/internal/filesystem"
	"github.com/pamuduchat/syncshare/internal/hashing"
	"github.com/pamuduchat/syncshare/internal/history"
	"github.com/pamuduchat/syncshare/internal/network/flowcontrol"
	"github.com/pamuduchat/syncshare/internal/network/messages"
	"github.com/pamuduchat/syncshare/internal/observability"
	"github.com/pamuduchat/syncshare/internal/state"
	"github.com/pamuduchat/syncshare/internal/sync/conflict"
	"github.com/pamuduchat/syncshare/internal/syncerr"
)

const (
	directionSent     = "sent"
	directionReceived = "received"

	// muteGrace keeps a freshly written file muted until its own
	// watcher events have drained.
	muteGrace = 500 * time.Millisecond
)

// Channel is the message transport the engine runs on
type Channel interface {
	Send(msg messages.SyncMessage) error
	Messages() <-chan messages.SyncMessage
}

// MappingStore persists where remote folder names land locally
type MappingStore interface {
	FolderMapping(remoteName string) (string, bool, error)
	SaveFolderMapping(remoteName, localPath string) error
}

// PathMuter suppresses watcher events for paths the engine writes
type PathMuter interface {
	Mute(path string)
	Unmute(path string)
}

// Options configures an Engine
type Options struct {
	Sync config.SyncConfig
	// Folders maps local folder names to their directories
	Folders   map[string]string
	HashCache filesystem.HashCache
	Mappings  MappingStore
	History   *history.Log
	PeerName  string
	Muter     PathMuter
	Logger    *zap.Logger
	Metrics   *observability.Metrics
	Tracer    oteltrace.Tracer
}

// Engine runs sync sessions for one connected peer. All session state is
// owned by the Run loop; other goroutines reach it through commands.
type Engine struct {
	channel Channel
	opts    Options
	logger  *zap.Logger
	metrics *observability.Metrics
	tracer  oteltrace.Tracer
	history *history.Log

	folders map[string]string
	chunker *chunking.Chunker
	limiter *flowcontrol.RateLimiter

	outbox  *outboxQueue
	results chan sendResult
	cmds    chan func()
	stopped chan struct{}
	started atomic.Bool
	ctx     context.Context

	// owned by the Run loop
	sessions map[string]*session
	queue    []conflict.FileConflict
	mappings map[string]string
	waiting  []string

	sessionView     *state.Value[map[string]SessionInfo]
	conflicts       *state.Value[[]conflict.FileConflict]
	mappingRequests *state.Value[[]string]
	progress        *state.Value[Transfer]
}

// NewEngine creates an engine over channel. Call Run to start it.
func NewEngine(channel Channel, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.Tracer()
	}

	log := opts.History
	if log == nil {
		var err error
		if log, err = history.NewLog(nil, logger); err != nil {
			return nil, err
		}
	}

	folders := make(map[string]string, len(opts.Folders))
	for name, dir := range opts.Folders {
		if err := validateFolderName(name); err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve folder %s: %w", name, err)
		}
		folders[name] = abs
	}

	return &Engine{
		channel:         channel,
		opts:            opts,
		logger:          logger.Named("engine"),
		metrics:         opts.Metrics,
		tracer:          tracer,
		history:         log,
		folders:         folders,
		chunker:         chunking.NewChunker(opts.Sync.ChunkSize),
		limiter:         flowcontrol.NewRateLimiter(opts.Sync.MaxBandwidth, 0),
		outbox:          newOutboxQueue(),
		results:         make(chan sendResult),
		cmds:            make(chan func()),
		stopped:         make(chan struct{}),
		ctx:             context.Background(),
		sessions:        make(map[string]*session),
		mappings:        make(map[string]string),
		sessionView:     state.NewValue(map[string]SessionInfo{}),
		conflicts:       state.NewValue([]conflict.FileConflict(nil)),
		mappingRequests: state.NewValue([]string(nil)),
		progress:        state.NewValue(Transfer{}),
	}, nil
}

// Sessions publishes every session by folder name
func (e *Engine) Sessions() *state.Value[map[string]SessionInfo] { return e.sessionView }

// Conflicts publishes the conflict queue, head first
func (e *Engine) Conflicts() *state.Value[[]conflict.FileConflict] { return e.conflicts }

// MappingRequests publishes remote folder names waiting for MapFolder
func (e *Engine) MappingRequests() *state.Value[[]string] { return e.mappingRequests }

// Progress publishes the file currently moving in either direction
func (e *Engine) Progress() *state.Value[Transfer] { return e.progress }

// History returns the log the engine writes to
func (e *Engine) History() *history.Log { return e.history }

// Phase returns the phase of folder's latest session
func (e *Engine) Phase(folder string) Phase {
	if info, ok := e.sessionView.Get()[folder]; ok {
		return info.Phase
	}
	return PhaseIdle
}

// Run processes inbound messages and commands until the channel's message
// sequence ends or ctx is done. Every session still active is then moved
// to Error.
func (e *Engine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.ctx = ctx
	defer close(e.stopped)

	go e.runSender(ctx)

	inbound := e.channel.Messages()
	for {
		select {
		case <-ctx.Done():
			e.failAll(fmt.Errorf("sync stopped: %w", ctx.Err()), false)
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				e.failAll(syncerr.Framing(errors.New("channel closed")), false)
				return nil
			}
			e.handle(msg)
		case res := <-e.results:
			e.handleResult(res)
		case cmd := <-e.cmds:
			cmd()
		}
	}
}

// do runs fn on the Run loop and returns its error. It blocks until Run
// has started.
func (e *Engine) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case e.cmds <- func() { reply <- fn() }:
	case <-e.stopped:
		return syncerr.ErrClosed
	}
	return <-reply
}

// StartSync opens a session for a configured local folder. It returns
// syncerr.ErrSessionActive while that folder's session is not terminal.
func (e *Engine) StartSync(folder string) error {
	return e.do(func() error { return e.startSession(folder) })
}

// ResolveConflict applies option to a queued conflict
func (e *Engine) ResolveConflict(c conflict.FileConflict, option conflict.Option) error {
	return e.do(func() error { return e.resolve(c, option) })
}

// MapFolder sets the local directory for a remote folder name. A session
// paused on that name resumes.
func (e *Engine) MapFolder(remoteName, localPath string) error {
	return e.do(func() error { return e.mapFolder(remoteName, localPath) })
}

func (e *Engine) startSession(folder string) error {
	root, ok := e.folders[folder]
	if !ok {
		return fmt.Errorf("unknown folder %q", folder)
	}
	if s, ok := e.sessions[folder]; ok && !s.phase.Terminal() {
		return syncerr.ErrSessionActive
	}

	s := e.openSession(folder, true)
	s.root = root
	list, err := e.scan(s)
	if err != nil {
		e.fail(s, err, false)
		return err
	}

	e.send(s, messages.RequestMetadata(folder, list))
	e.publish()
	return nil
}

func (e *Engine) openSession(folder string, initiator bool) *session {
	s := newSession(e.ctx, uuid.NewString(), folder, initiator)
	s.ctx, s.span = e.tracer.Start(s.ctx, "sync.session", oteltrace.WithAttributes(
		attribute.String("folder", folder),
		attribute.String("session", s.id),
		attribute.Bool("initiator", initiator),
	))
	e.sessions[folder] = s
	e.metrics.SessionStarted(s.ctx, folder)

	details := "Sync started"
	if !initiator {
		details = "Sync requested by peer"
	}
	e.record(s, history.StatusStarted, details)
	e.logger.Info("Session started",
		zap.String("folder", folder),
		zap.String("session", s.id),
		zap.Bool("initiator", initiator))
	return s
}

func (e *Engine) scan(s *session) ([]messages.FileMetadata, error) {
	if err := filesystem.EnsureDirectory(s.root); err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", s.root, err)
	}
	list, err := filesystem.ScanFolder(s.root, s.folder, e.opts.HashCache, e.logger)
	if err != nil {
		return nil, err
	}
	s.local = indexListing(list)
	return list, nil
}

// send queues msg for the sender goroutine
func (e *Engine) send(s *session, msg messages.SyncMessage) {
	if s != nil && msg.Type != messages.TypeComplete {
		s.announced = false
	}
	e.outbox.Enqueue(outbound{msg: &msg})
}

func (e *Engine) handle(msg messages.SyncMessage) {
	switch msg.Type {
	case messages.TypeDisconnect:
		e.failAll(errors.New("peer disconnected"), false)
		return
	case messages.TypeError:
		err := fmt.Errorf("%w: %s", syncerr.ErrApplication, msg.ErrorMessage)
		if msg.FolderName == "" {
			e.failAll(err, false)
		} else if s := e.sessions[msg.FolderName]; s != nil {
			e.fail(s, err, false)
		}
		return
	case messages.TypeRequestMetadata:
		e.onRequestMetadata(msg)
		return
	}

	s := e.sessions[msg.FolderName]
	if s == nil {
		e.logger.Warn("Message for unknown folder", zap.Stringer("message", msg))
		e.send(nil, messages.Error(msg.FolderName, "no active sync for folder"))
		return
	}
	if s.phase.Terminal() {
		e.logger.Debug("Dropped message for finished session", zap.Stringer("message", msg))
		return
	}

	if msg.Type == messages.TypeComplete {
		s.peerIdle = true
	} else {
		s.peerIdle = false
		s.announced = false
	}

	var err error
	switch msg.Type {
	case messages.TypeMetadataResponse:
		err = e.onMetadataResponse(s, msg)
	case messages.TypeFilesRequested:
		err = e.onFilesRequested(s, msg)
	case messages.TypeTransferStart:
		err = e.onTransferStart(s, msg)
	case messages.TypeChunk:
		err = e.onChunk(s, msg)
	case messages.TypeTransferEnd:
		err = e.onTransferEnd(s, msg)
	case messages.TypeReceivedAck:
		err = e.onReceivedAck(s, msg)
	case messages.TypeConflictResolved:
		e.onConflictResolved(s, msg)
	}
	if err != nil {
		e.fail(s, err, true)
		return
	}
	e.advance(s)
}

func (e *Engine) onRequestMetadata(msg messages.SyncMessage) {
	folder := msg.FolderName
	if err := validateListing(folder, msg.FileMetadataList); err != nil {
		if s := e.sessions[folder]; s != nil && !s.phase.Terminal() {
			e.fail(s, err, true)
			return
		}
		e.send(nil, messages.Error(folder, err.Error()))
		return
	}

	if s := e.sessions[folder]; s != nil && !s.phase.Terminal() {
		if s.initiator && s.remote == nil && s.local != nil {
			// Both sides started at once. Each request doubles as the
			// other side's response.
			s.remote = indexListing(msg.FileMetadataList)
			s.peerIdle, s.announced = false, false
			e.diff(s)
			e.advance(s)
			return
		}
		e.send(nil, messages.Error(folder, syncerr.ErrSessionActive.Error()))
		return
	}

	s := e.openSession(folder, false)
	s.remote = indexListing(msg.FileMetadataList)

	root, ok, err := e.resolveRoot(folder)
	if err != nil {
		e.fail(s, err, true)
		return
	}
	if !ok {
		s.awaitingMapping = true
		e.waiting = append(e.waiting, folder)
		e.mappingRequests.Set(append([]string(nil), e.waiting...))
		e.logger.Info("Waiting for folder mapping", zap.String("folder", folder))
		e.publish()
		return
	}
	e.respond(s, root)
}

// respond answers a RequestMetadata once the local directory is known
func (e *Engine) respond(s *session, root string) {
	s.root = root
	s.awaitingMapping = false
	list, err := e.scan(s)
	if err != nil {
		e.fail(s, err, true)
		return
	}
	e.send(s, messages.MetadataResponse(s.folder, list))
	e.diff(s)
	e.advance(s)
}

func (e *Engine) onMetadataResponse(s *session, msg messages.SyncMessage) error {
	if !s.initiator || s.remote != nil {
		return fmt.Errorf("unexpected metadata response for %s", s.folder)
	}
	if err := validateListing(s.folder, msg.FileMetadataList); err != nil {
		return err
	}
	s.remote = indexListing(msg.FileMetadataList)
	e.diff(s)
	return nil
}

// diff partitions the listings, queues conflicts and sends this side's
// initial request list
func (e *Engine) diff(s *session) {
	res := Diff(s.folder, s.local, s.remote, e.opts.Sync.PresenceMismatchConflict)
	for _, p := range res.Pull {
		s.requested[p] = true
	}
	for _, c := range res.Conflicts {
		e.enqueueConflict(c)
	}

	e.logger.Info("Listings compared",
		zap.String("folder", s.folder),
		zap.Bool("identical", listingDigest(s.local) == listingDigest(s.remote)),
		zap.Int("push", len(res.Push)),
		zap.Int("pull", len(res.Pull)),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.Int("unchanged", res.Unchanged))

	e.send(s, messages.FilesRequested(s.folder, res.Pull))
}

func (e *Engine) onFilesRequested(s *session, msg messages.SyncMessage) error {
	if !s.diffed() {
		return fmt.Errorf("files requested before listings were exchanged for %s", s.folder)
	}
	s.peerListKnown = true

	for _, p := range msg.RequestedFilePaths {
		if _, ok := s.local[p]; !ok {
			return fmt.Errorf("peer requested unknown file %s", p)
		}
		if s.streaming[p] || s.awaitingAck[p] {
			continue
		}
		diskPath, err := e.diskPath(s, p)
		if err != nil {
			return err
		}
		s.streaming[p] = true
		e.outbox.Enqueue(outbound{file: &fileJob{
			ctx:       s.ctx,
			sessionID: s.id,
			folder:    s.folder,
			path:      p,
			diskPath:  diskPath,
		}})
		s.announced = false
	}
	return nil
}

func (e *Engine) onReceivedAck(s *session, msg messages.SyncMessage) error {
	p := msg.Path()
	if !s.streaming[p] && !s.awaitingAck[p] {
		return fmt.Errorf("unexpected acknowledgement for %s", p)
	}
	// The ack can overtake the sender's own completion report.
	delete(s.streaming, p)
	delete(s.awaitingAck, p)
	s.transferred++

	var size int64
	if msg.FileTransferInfo != nil {
		size = msg.FileTransferInfo.Size
	}
	e.metrics.FileTransferred(s.ctx, directionSent, size)
	e.logger.Debug("File acknowledged", zap.String("path", p), zap.Int64("size", size))
	return nil
}

func (e *Engine) handleResult(res sendResult) {
	s := e.sessions[res.folder]
	if s == nil || s.id != res.sessionID || s.phase.Terminal() {
		return
	}
	if res.err != nil {
		e.fail(s, res.err, true)
		return
	}
	if s.streaming[res.path] {
		delete(s.streaming, res.path)
		s.awaitingAck[res.path] = true
	}
	e.advance(s)
}

func (e *Engine) enqueueConflict(c conflict.FileConflict) {
	for _, queued := range e.queue {
		if queued.Same(c) {
			return
		}
	}
	e.queue = append(e.queue, c)
	e.metrics.ConflictDetected(e.ctx)
	e.publishConflicts()
}

func (e *Engine) dequeueConflict(c conflict.FileConflict) (conflict.FileConflict, bool) {
	for i, queued := range e.queue {
		if queued.Same(c) {
			e.queue = append(e.queue[:i:i], e.queue[i+1:]...)
			e.publishConflicts()
			return queued, true
		}
	}
	return conflict.FileConflict{}, false
}

func (e *Engine) hasConflicts(folder string) bool {
	for _, c := range e.queue {
		if c.Folder == folder {
			return true
		}
	}
	return false
}

func (e *Engine) resolve(c conflict.FileConflict, option conflict.Option) error {
	s := e.sessions[c.Folder]
	if s == nil || s.phase.Terminal() {
		return conflict.ErrNotPending
	}
	queued, ok := e.dequeueConflict(c)
	if !ok {
		return conflict.ErrNotPending
	}

	p := queued.RelativePath
	effective := queued.Effective(option)
	e.send(s, messages.ConflictResolved(s.folder, p, effective.Wire()))

	switch effective {
	case conflict.UseRemote:
		s.requested[p] = true
		e.send(s, messages.FilesRequested(s.folder, []string{p}))
	case conflict.KeepBoth:
		s.renames[p] = conflict.CopyName(p, e.taken(s))
		s.requested[p] = true
		e.send(s, messages.FilesRequested(s.folder, []string{p}))
	}

	details := fmt.Sprintf("%s: %s", p, effective)
	if effective == conflict.KeepBoth {
		details += " as " + s.renames[p]
	}
	e.record(s, history.StatusConflictResolved, details)
	e.advance(s)
	return nil
}

func (e *Engine) onConflictResolved(s *session, msg messages.SyncMessage) {
	p := msg.Path()
	if _, ok := e.dequeueConflict(conflict.FileConflict{Folder: s.folder, RelativePath: p}); !ok {
		// Both sides decided at once; our own decision stands.
		e.logger.Debug("Conflict already settled", zap.String("path", p))
		return
	}

	// The peer's resolution is worded from its side.
	if msg.Resolution == messages.ResolutionKeepLocal {
		s.requested[p] = true
		e.send(s, messages.FilesRequested(s.folder, []string{p}))
	}
	e.record(s, history.StatusConflictResolved, fmt.Sprintf("%s: peer chose %s", p, msg.Resolution))
}

// taken reports whether a KeepBoth copy name is already used
func (e *Engine) taken(s *session) func(string) bool {
	return func(candidate string) bool {
		if _, ok := s.local[candidate]; ok {
			return true
		}
		if _, ok := s.remote[candidate]; ok {
			return true
		}
		for _, r := range s.renames {
			if r == candidate {
				return true
			}
		}
		diskPath, err := e.diskPath(s, candidate)
		return err != nil || filesystem.FileExists(diskPath)
	}
}

func (e *Engine) mapFolder(remoteName, localPath string) error {
	if err := validateFolderName(remoteName); err != nil {
		return err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", localPath, err)
	}
	if e.opts.Mappings != nil {
		if err := e.opts.Mappings.SaveFolderMapping(remoteName, abs); err != nil {
			return err
		}
	}
	e.mappings[remoteName] = abs

	for i, name := range e.waiting {
		if name == remoteName {
			e.waiting = append(e.waiting[:i:i], e.waiting[i+1:]...)
			e.mappingRequests.Set(append([]string(nil), e.waiting...))
			break
		}
	}

	if s := e.sessions[remoteName]; s != nil && s.awaitingMapping && !s.phase.Terminal() {
		e.logger.Info("Folder mapped, resuming", zap.String("folder", remoteName), zap.String("path", abs))
		e.respond(s, abs)
	}
	return nil
}

// resolveRoot finds the local directory for a folder named by the peer
func (e *Engine) resolveRoot(folder string) (string, bool, error) {
	if root, ok := e.folders[folder]; ok {
		return root, true, nil
	}
	if root, ok := e.mappings[folder]; ok {
		return root, true, nil
	}
	if e.opts.Mappings != nil {
		root, ok, err := e.opts.Mappings.FolderMapping(folder)
		if err != nil {
			return "", false, err
		}
		if ok {
			e.mappings[folder] = root
			return root, true, nil
		}
	}
	if e.opts.Sync.AcceptDir != "" {
		root := filepath.Join(e.opts.Sync.AcceptDir, folder)
		if err := e.mapFolder(folder, root); err != nil {
			return "", false, err
		}
		return e.mappings[folder], true, nil
	}
	return "", false, nil
}

// advance publishes the derived phase and runs the completion handshake
func (e *Engine) advance(s *session) {
	if s.phase.Terminal() {
		return
	}
	s.phase = s.activePhase()

	if !s.busy() && !e.hasConflicts(s.folder) {
		if !s.announced {
			e.send(s, messages.Complete(s.folder))
			s.announced = true
		}
		if s.peerIdle {
			e.complete(s)
			return
		}
	}
	e.publish()
}

func (e *Engine) complete(s *session) {
	s.phase = PhaseCompleted
	e.record(s, history.StatusCompleted, fmt.Sprintf("%d file(s) transferred", s.transferred))
	e.metrics.SessionFinished(s.ctx, s.folder, "completed", time.Since(s.started))
	s.span.SetAttributes(attribute.Int("files", s.transferred))
	s.span.End()
	s.cancel()

	e.logger.Info("Session completed", zap.String("folder", s.folder), zap.Int("files", s.transferred))
	e.publish()
}

// fail moves s to Error. With notify the peer is told so its session ends too.
func (e *Engine) fail(s *session, err error, notify bool) {
	if s.phase.Terminal() {
		return
	}

	if cur := s.current; cur != nil {
		cur.assembler.Abort()
		e.unmute(cur.diskPath)
		s.current = nil
	}

	s.phase = PhaseError
	s.lastError = syncerr.Status(err)

	if s.awaitingMapping {
		for i, name := range e.waiting {
			if name == s.folder {
				e.waiting = append(e.waiting[:i:i], e.waiting[i+1:]...)
				e.mappingRequests.Set(append([]string(nil), e.waiting...))
				break
			}
		}
	}

	kept := e.queue[:0:0]
	for _, c := range e.queue {
		if c.Folder != s.folder {
			kept = append(kept, c)
		}
	}
	if len(kept) != len(e.queue) {
		e.queue = kept
		e.publishConflicts()
	}

	e.record(s, history.StatusError, s.lastError)
	e.metrics.SessionFinished(s.ctx, s.folder, "error", time.Since(s.started))
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.span.End()
	s.cancel()

	if notify {
		e.send(nil, messages.Error(s.folder, err.Error()))
	}
	e.logger.Warn("Session failed", zap.String("folder", s.folder), zap.Error(err))
	e.publish()
}

func (e *Engine) failAll(err error, notify bool) {
	for _, s := range e.sessions {
		e.fail(s, err, notify)
	}
}

func (e *Engine) record(s *session, status, details string) {
	e.history.Append(history.Entry{
		FolderName:      s.folder,
		Status:          status,
		Details:         details,
		PeerDisplayName: e.opts.PeerName,
	})
}

func (e *Engine) publish() {
	view := make(map[string]SessionInfo, len(e.sessions))
	for name, s := range e.sessions {
		view[name] = s.info()
	}
	e.sessionView.Set(view)
}

func (e *Engine) publishConflicts() {
	e.conflicts.Set(append([]conflict.FileConflict(nil), e.queue...))
}

// diskPath maps a folder-prefixed relative path into the session's directory
func (e *Engine) diskPath(s *session, rel string) (string, error) {
	rest, ok := strings.CutPrefix(rel, s.folder+"/")
	if !ok {
		return "", fmt.Errorf("%w: %q outside folder %s", filesystem.ErrUnsafePath, rel, s.folder)
	}
	return filesystem.ResolvePath(s.root, rest)
}

func (e *Engine) mute(p string) {
	if e.opts.Muter != nil {
		e.opts.Muter.Mute(p)
	}
}

func (e *Engine) unmute(p string) {
	if e.opts.Muter != nil {
		muter := e.opts.Muter
		time.AfterFunc(muteGrace, func() { muter.Unmute(p) })
	}
}

// listingDigest summarizes an indexed listing independent of order
func listingDigest(listing map[string]messages.FileMetadata) string {
	entries := make([]hashing.ListingEntry, 0, len(listing))
	for p, f := range listing {
		entries = append(entries, hashing.ListingEntry{Path: p, Hash: f.ContentHash})
	}
	return hashing.ListingDigest(entries)
}

func validateFolderName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid folder name %q", filesystem.ErrUnsafePath, name)
	}
	return nil
}

// validateListing checks a peer's listing before any of it is trusted
func validateListing(folder string, list []messages.FileMetadata) error {
	if err := validateFolderName(folder); err != nil {
		return err
	}
	seen := make(map[string]bool, len(list))
	for _, f := range list {
		rest, ok := strings.CutPrefix(f.RelativePath, folder+"/")
		if !ok {
			return fmt.Errorf("%w: %q outside folder %s", filesystem.ErrUnsafePath, f.RelativePath, folder)
		}
		if _, err := filesystem.ResolvePath("/", rest); err != nil {
			return err
		}
		if f.Size < 0 {
			return fmt.Errorf("invalid size %d for %s", f.Size, f.RelativePath)
		}
		if !hashing.ValidContentHash(f.ContentHash) {
			return fmt.Errorf("invalid content hash for %s", f.RelativePath)
		}
		if seen[f.RelativePath] {
			return fmt.Errorf("duplicate path %s in listing", f.RelativePath)
		}
		seen[f.RelativePath] = true
	}
	return nil
}
