package messages_test

import (
	"crypto/rand"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/pamuduchat/syncshare/internal/network/messages"
)

func sampleMetadata() []messages.FileMetadata {
	return []messages.FileMetadata{
		{RelativePath: "Photos/x.txt", Name: "x.txt", Size: 12, LastModified: 1700000000000, ContentHash: strings.Repeat("a", 64)},
		{RelativePath: "Photos/sub/y.bin", Name: "y.bin", Size: 0, LastModified: 1, ContentHash: strings.Repeat("b", 64)},
	}
}

func TestRoundTripEveryVariant(t *testing.T) {
	big := make([]byte, 256*1024)
	if _, err := rand.Read(big); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		msg  messages.SyncMessage
	}{
		{"request metadata", messages.RequestMetadata("Photos", sampleMetadata())},
		{"request metadata empty", messages.RequestMetadata("Photos", nil)},
		{"metadata response", messages.MetadataResponse("Photos", sampleMetadata())},
		{"files requested", messages.FilesRequested("Photos", []string{"Photos/x.txt", "a b/ü.txt"})},
		{"files requested empty", messages.FilesRequested("Photos", nil)},
		{"transfer start", messages.TransferStart("Photos", "Photos/x.txt", 20<<20)},
		{"chunk empty", messages.Chunk("Photos", 0, nil)},
		{"chunk small", messages.Chunk("Photos", 8192, []byte{0, 1, 2, 255})},
		{"chunk large random", messages.Chunk("Photos", 1<<40, big)},
		{"transfer end", messages.TransferEnd("Photos", "Photos/x.txt", 0)},
		{"received ack", messages.ReceivedAck("Photos", "Photos/x.txt", 3)},
		{"complete", messages.Complete("Photos")},
		{"error", messages.Error("", "connection lost: EOF")},
		{"disconnect", messages.Disconnect()},
		{"conflict resolved", messages.ConflictResolved("Photos", "Photos/x.txt", messages.ResolutionKeepBoth)},
		{"maximal", messages.SyncMessage{
			Type:               messages.TypeChunk,
			FolderName:         "F",
			FileMetadataList:   sampleMetadata(),
			RequestedFilePaths: []string{"p"},
			FileTransferInfo:   &messages.FileTransferInfo{RelativePath: "p", Size: 9},
			ChunkBytes:         []byte("payload"),
			ChunkOffset:        7,
			ErrorMessage:       "e",
			Resolution:         messages.ResolutionSkip,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.msg.Encode()
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			got, err := messages.DecodeMessage(data)
			if err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if !got.Equal(tt.msg) {
				t.Errorf("round trip mismatch: got %s, want %s", got, tt.msg)
			}
		})
	}
}

func TestEqualComparesChunkBytes(t *testing.T) {
	a := messages.Chunk("F", 0, []byte{1, 2, 3})
	b := messages.Chunk("F", 0, []byte{1, 2, 4})
	if a.Equal(b) {
		t.Error("messages with different payloads compare equal")
	}
	if !a.Equal(messages.Chunk("F", 0, []byte{1, 2, 3})) {
		t.Error("identical messages compare unequal")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := messages.DecodeMessage([]byte(`{"type":"bogus"}`)); err == nil {
		t.Error("expected error for unknown type")
	}
	if _, err := messages.DecodeMessage([]byte(`{`)); err == nil {
		t.Error("expected error for malformed json")
	}
}

func TestStringSummarizesChunks(t *testing.T) {
	s := messages.Chunk("F", 10, make([]byte, 4096)).String()
	if len(s) > 64 {
		t.Errorf("chunk string not summarized: %q", s)
	}
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		msg  messages.SyncMessage
	}{
		{"requested path", messages.FilesRequested("Photos", []string{"Photos/caf\xe9.txt"})},
		{"listing path", messages.MetadataResponse("Photos", []messages.FileMetadata{{RelativePath: "Photos/\xff", Name: "ok"}})},
		{"listing name", messages.RequestMetadata("Photos", []messages.FileMetadata{{RelativePath: "Photos/a", Name: "\xff"}})},
		{"transfer path", messages.TransferStart("Photos", "Photos/caf\xe9.txt", 1)},
		{"folder", messages.Complete("Ph\xffotos")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.msg.Encode(); !errors.Is(err, messages.ErrInvalidText) {
				t.Errorf("expected ErrInvalidText, got %v", err)
			}
		})
	}
}

func TestErrorTextIsMadeValid(t *testing.T) {
	msg := messages.Error("Photos", "cannot open caf\xe9.txt")
	if !utf8.ValidString(msg.ErrorMessage) {
		t.Fatalf("error text still invalid: %q", msg.ErrorMessage)
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := messages.DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(msg) {
		t.Errorf("round trip mismatch: got %s, want %s", got, msg)
	}
}
