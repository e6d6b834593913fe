package sync

import (
	"context"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/pamuduchat/syncshare/internal/chunking"
	"github.com/pamuduchat/syncshare/internal/network/messages"
)

// Phase is the state of one folder's session
type Phase string

const (
	PhaseIdle             Phase = "Idle"
	PhaseMetadataExchange Phase = "MetadataExchange"
	PhaseDiffed           Phase = "Diffed"
	PhaseRequesting       Phase = "Requesting"
	PhaseTransferring     Phase = "Transferring"
	PhaseAcking           Phase = "Acking"
	PhaseCompleted        Phase = "Completed"
	PhaseError            Phase = "Error"
)

// Terminal reports whether a new session may start from this phase
func (p Phase) Terminal() bool {
	return p == PhaseIdle || p == PhaseCompleted || p == PhaseError
}

// SessionInfo is the published view of a session
type SessionInfo struct {
	ID          string    `json:"id"`
	Folder      string    `json:"folder"`
	Phase       Phase     `json:"phase"`
	Initiator   bool      `json:"initiator"`
	Transferred int       `json:"transferred"`
	StartedAt   time.Time `json:"startedAt"`
	Error       string    `json:"error,omitempty"`
}

// Transfer is the published progress of the file currently moving
type Transfer struct {
	Folder    string `json:"folder"`
	Path      string `json:"path"`
	Direction string `json:"direction"` // "sent" or "received"
	Done      int64  `json:"done"`
	Total     int64  `json:"total"`
}

// incoming is the file being received for a session
type incoming struct {
	path      string // path announced by the sender
	target    string // relative path written locally
	diskPath  string
	size      int64
	remote    messages.FileMetadata
	assembler *chunking.Assembler
}

type session struct {
	id        string
	folder    string
	root      string // local directory, empty while waiting for a mapping
	initiator bool
	phase     Phase
	started   time.Time

	ctx    context.Context // cancelled when the session ends
	cancel context.CancelFunc
	span   oteltrace.Span

	local  map[string]messages.FileMetadata
	remote map[string]messages.FileMetadata

	awaitingMapping bool
	peerListKnown   bool // peer's initial FilesRequested arrived

	requested map[string]bool   // pulls not yet received
	renames   map[string]string // incoming path -> local path for KeepBoth
	current   *incoming

	streaming   map[string]bool // queued or being streamed to the peer
	awaitingAck map[string]bool

	announced   bool // our latest message for the folder was Complete
	peerIdle    bool // the peer's latest message for the folder was Complete
	transferred int
	lastError   string
}

func newSession(ctx context.Context, id, folder string, initiator bool) *session {
	ctx, cancel := context.WithCancel(ctx)
	return &session{
		id:          id,
		folder:      folder,
		initiator:   initiator,
		phase:       PhaseMetadataExchange,
		started:     time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		requested:   make(map[string]bool),
		renames:     make(map[string]string),
		streaming:   make(map[string]bool),
		awaitingAck: make(map[string]bool),
	}
}

func (s *session) diffed() bool {
	return s.remote != nil && s.local != nil && !s.awaitingMapping
}

// busy reports whether this side still has work for the session, not
// counting conflicts which live in the engine queue.
func (s *session) busy() bool {
	return !s.diffed() || !s.peerListKnown || s.current != nil ||
		len(s.requested) > 0 || len(s.streaming) > 0 || len(s.awaitingAck) > 0
}

// activePhase derives the non-terminal phase from outstanding work
func (s *session) activePhase() Phase {
	switch {
	case !s.diffed():
		return PhaseMetadataExchange
	case s.current != nil || len(s.streaming) > 0:
		return PhaseTransferring
	case len(s.awaitingAck) > 0:
		return PhaseAcking
	case len(s.requested) > 0:
		return PhaseRequesting
	default:
		return PhaseDiffed
	}
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:          s.id,
		Folder:      s.folder,
		Phase:       s.phase,
		Initiator:   s.initiator,
		Transferred: s.transferred,
		StartedAt:   s.started,
		Error:       s.lastError,
	}
}
