package messages

// Type tags a SyncMessage variant
type Type string

// Message type constants
const (
	TypeRequestMetadata  Type = "request_metadata"
	TypeMetadataResponse Type = "metadata_response"
	TypeFilesRequested   Type = "files_requested"
	TypeTransferStart    Type = "transfer_start"
	TypeChunk            Type = "chunk"
	TypeTransferEnd      Type = "transfer_end"
	TypeReceivedAck      Type = "received_ack"
	TypeComplete         Type = "complete"
	TypeError            Type = "error"
	TypeDisconnect       Type = "disconnect"
	TypeConflictResolved Type = "conflict_resolved"
)

// Valid reports whether t is a known tag.
func (t Type) Valid() bool {
	switch t {
	case TypeRequestMetadata, TypeMetadataResponse, TypeFilesRequested,
		TypeTransferStart, TypeChunk, TypeTransferEnd, TypeReceivedAck,
		TypeComplete, TypeError, TypeDisconnect, TypeConflictResolved:
		return true
	}
	return false
}

// FileMetadata is the snapshot of one file taken at metadata-exchange time
type FileMetadata struct {
	RelativePath string `json:"relative_path"`
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	LastModified int64  `json:"last_modified"` // epoch millis UTC
	ContentHash  string `json:"content_hash"`  // SHA-256, lowercase hex
}

// FileTransferInfo announces a file about to be streamed
type FileTransferInfo struct {
	RelativePath string `json:"relative_path"`
	Size         int64  `json:"size"`
}

// Resolution is a conflict decision carried by TypeConflictResolved,
// expressed from the sender's side.
type Resolution string

const (
	ResolutionKeepLocal Resolution = "keep_local"
	ResolutionUseRemote Resolution = "use_remote"
	ResolutionKeepBoth  Resolution = "keep_both"
	ResolutionSkip      Resolution = "skip"
)
