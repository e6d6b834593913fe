package messages

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidText is returned for a string field that is not valid UTF-8.
// JSON would replace the bad bytes, so the field could not round-trip.
var ErrInvalidText = errors.New("text is not valid UTF-8")

// SyncMessage is the tagged union exchanged over a channel. Each variant
// only populates the fields relevant to its tag.
type SyncMessage struct {
	Type               Type              `json:"type"`
	FolderName         string            `json:"folder_name,omitempty"`
	FileMetadataList   []FileMetadata    `json:"file_metadata_list,omitempty"`
	RequestedFilePaths []string          `json:"requested_file_paths,omitempty"`
	FileTransferInfo   *FileTransferInfo `json:"file_transfer_info,omitempty"`
	ChunkBytes         []byte            `json:"chunk_bytes,omitempty"`
	ChunkOffset        int64             `json:"chunk_offset,omitempty"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	Resolution         Resolution        `json:"resolution,omitempty"`
}

// RequestMetadata opens a session for folder with the initiator's listing
func RequestMetadata(folder string, local []FileMetadata) SyncMessage {
	return SyncMessage{Type: TypeRequestMetadata, FolderName: folder, FileMetadataList: local}
}

// MetadataResponse answers RequestMetadata with the responder's listing
func MetadataResponse(folder string, remote []FileMetadata) SyncMessage {
	return SyncMessage{Type: TypeMetadataResponse, FolderName: folder, FileMetadataList: remote}
}

// FilesRequested lists the paths the sender wants to pull
func FilesRequested(folder string, paths []string) SyncMessage {
	return SyncMessage{Type: TypeFilesRequested, FolderName: folder, RequestedFilePaths: paths}
}

// TransferStart announces a file
func TransferStart(folder, path string, size int64) SyncMessage {
	return SyncMessage{
		Type:             TypeTransferStart,
		FolderName:       folder,
		FileTransferInfo: &FileTransferInfo{RelativePath: path, Size: size},
	}
}

// Chunk carries one slice of the current file
func Chunk(folder string, offset int64, data []byte) SyncMessage {
	return SyncMessage{Type: TypeChunk, FolderName: folder, ChunkOffset: offset, ChunkBytes: data}
}

// TransferEnd closes the current file
func TransferEnd(folder, path string, size int64) SyncMessage {
	return SyncMessage{
		Type:             TypeTransferEnd,
		FolderName:       folder,
		FileTransferInfo: &FileTransferInfo{RelativePath: path, Size: size},
	}
}

// ReceivedAck confirms a verified file
func ReceivedAck(folder, path string, size int64) SyncMessage {
	return SyncMessage{
		Type:             TypeReceivedAck,
		FolderName:       folder,
		FileTransferInfo: &FileTransferInfo{RelativePath: path, Size: size},
	}
}

// Complete tells the peer this side has nothing left to do for folder
func Complete(folder string) SyncMessage {
	return SyncMessage{Type: TypeComplete, FolderName: folder}
}

// Error reports a failure. An empty folder applies to every session.
// Invalid UTF-8 in text is replaced since it is only ever displayed.
func Error(folder, text string) SyncMessage {
	return SyncMessage{Type: TypeError, FolderName: folder, ErrorMessage: strings.ToValidUTF8(text, "\uFFFD")}
}

// Disconnect announces an orderly close
func Disconnect() SyncMessage {
	return SyncMessage{Type: TypeDisconnect}
}

// ConflictResolved tells the peer how a conflicting path was settled
func ConflictResolved(folder, path string, resolution Resolution) SyncMessage {
	return SyncMessage{
		Type:             TypeConflictResolved,
		FolderName:       folder,
		FileTransferInfo: &FileTransferInfo{RelativePath: path},
		Resolution:       resolution,
	}
}

// Path returns the relative path carried by the transfer info, if any
func (m SyncMessage) Path() string {
	if m.FileTransferInfo == nil {
		return ""
	}
	return m.FileTransferInfo.RelativePath
}

// Equal compares messages structurally, including chunk payload bytes.
// Nil and empty slices compare equal.
func (m SyncMessage) Equal(o SyncMessage) bool {
	if m.Type != o.Type || m.FolderName != o.FolderName || m.ChunkOffset != o.ChunkOffset ||
		m.ErrorMessage != o.ErrorMessage || m.Resolution != o.Resolution {
		return false
	}
	if !bytes.Equal(m.ChunkBytes, o.ChunkBytes) {
		return false
	}
	if (m.FileTransferInfo == nil) != (o.FileTransferInfo == nil) {
		return false
	}
	if m.FileTransferInfo != nil && *m.FileTransferInfo != *o.FileTransferInfo {
		return false
	}
	if len(m.FileMetadataList) != len(o.FileMetadataList) {
		return false
	}
	for i := range m.FileMetadataList {
		if m.FileMetadataList[i] != o.FileMetadataList[i] {
			return false
		}
	}
	if len(m.RequestedFilePaths) != len(o.RequestedFilePaths) {
		return false
	}
	for i := range m.RequestedFilePaths {
		if m.RequestedFilePaths[i] != o.RequestedFilePaths[i] {
			return false
		}
	}
	return true
}

// String is a compact form for logs. Chunk payloads are summarized.
func (m SyncMessage) String() string {
	switch m.Type {
	case TypeChunk:
		return fmt.Sprintf("%s{%s @%d +%d}", m.Type, m.FolderName, m.ChunkOffset, len(m.ChunkBytes))
	case TypeError:
		return fmt.Sprintf("%s{%s %q}", m.Type, m.FolderName, m.ErrorMessage)
	default:
		return fmt.Sprintf("%s{%s %s}", m.Type, m.FolderName, m.Path())
	}
}

// Validate checks that every string field survives encoding unchanged
func (m SyncMessage) Validate() error {
	check := func(field, v string) error {
		if !utf8.ValidString(v) {
			return fmt.Errorf("%w: %s %q", ErrInvalidText, field, v)
		}
		return nil
	}
	if err := check("folder", m.FolderName); err != nil {
		return err
	}
	for _, f := range m.FileMetadataList {
		if err := check("path", f.RelativePath); err != nil {
			return err
		}
		if err := check("name", f.Name); err != nil {
			return err
		}
		if err := check("hash", f.ContentHash); err != nil {
			return err
		}
	}
	for _, p := range m.RequestedFilePaths {
		if err := check("requested path", p); err != nil {
			return err
		}
	}
	if m.FileTransferInfo != nil {
		if err := check("transfer path", m.FileTransferInfo.RelativePath); err != nil {
			return err
		}
	}
	if err := check("error", m.ErrorMessage); err != nil {
		return err
	}
	return check("resolution", string(m.Resolution))
}

// Encode encodes the message to JSON
func (m SyncMessage) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// AppendEncode appends the JSON encoding of m to buf
func (m SyncMessage) AppendEncode(buf *bytes.Buffer) error {
	if err := m.Validate(); err != nil {
		return err
	}
	enc := json.NewEncoder(buf)
	return enc.Encode(m)
}

// DecodeMessage decodes a JSON message and checks its tag
func DecodeMessage(data []byte) (SyncMessage, error) {
	var msg SyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SyncMessage{}, fmt.Errorf("failed to decode message: %w", err)
	}
	if !msg.Type.Valid() {
		return SyncMessage{}, fmt.Errorf("unknown message type: %q", msg.Type)
	}
	return msg, nil
}
