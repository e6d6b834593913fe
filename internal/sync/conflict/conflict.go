// Package conflict holds the conflict types shared with the sync engine
// and the coordinator that exposes the head of the engine's queue.
package conflict

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/pamuduchat/syncshare/internal/network/messages"
)

// Option is the user's decision for one conflict
type Option messages.Resolution

const (
	KeepLocal = Option(messages.ResolutionKeepLocal)
	UseRemote = Option(messages.ResolutionUseRemote)
	KeepBoth  = Option(messages.ResolutionKeepBoth)
	Skip      = Option(messages.ResolutionSkip)
)

// ErrNotPending means the conflict is no longer the one awaiting a decision
var ErrNotPending = errors.New("conflict is not pending")

// ParseOption accepts the wire names and their dashed CLI spelling
func ParseOption(s string) (Option, error) {
	switch strings.ReplaceAll(strings.ToLower(s), "-", "_") {
	case "keep_local", "local":
		return KeepLocal, nil
	case "use_remote", "remote":
		return UseRemote, nil
	case "keep_both", "both":
		return KeepBoth, nil
	case "skip":
		return Skip, nil
	}
	return "", fmt.Errorf("unknown conflict option %q", s)
}

func (o Option) String() string { return string(o) }

// Wire returns the resolution carried by ConflictResolved
func (o Option) Wire() messages.Resolution { return messages.Resolution(o) }

// FileConflict is a path whose content differs between the two sides, or
// that only one side has when presence mismatch counts as a conflict.
type FileConflict struct {
	Folder       string                 `json:"folder"`
	RelativePath string                 `json:"relativePath"`
	Local        *messages.FileMetadata `json:"localMetadata,omitempty"`
	Remote       *messages.FileMetadata `json:"remoteMetadata,omitempty"`
}

// Same reports whether c and o describe the same queued conflict
func (c FileConflict) Same(o FileConflict) bool {
	return c.Folder == o.Folder && c.RelativePath == o.RelativePath
}

// Effective narrows option to what can actually happen: keeping or taking a
// side that does not exist is a skip, and keeping both when there is no
// local copy is a plain pull.
func (c FileConflict) Effective(option Option) Option {
	switch {
	case option == KeepLocal && c.Local == nil:
		return Skip
	case option == UseRemote && c.Remote == nil:
		return Skip
	case option == KeepBoth && c.Remote == nil:
		return Skip
	case option == KeepBoth && c.Local == nil:
		return UseRemote
	}
	return option
}

// CopyName returns the path the incoming copy is stored at for KeepBoth:
// "dir/name (conflict N).ext" with the smallest N >= 1 for which taken
// reports false.
func CopyName(rel string, taken func(string) bool) string {
	dir, base := path.Split(rel)
	ext := path.Ext(base)
	if ext == base {
		// dotfile without extension, e.g. ".profile"
		ext = ""
	}
	stem := strings.TrimSuffix(base, ext)

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%s (conflict %d)%s", dir, stem, n, ext)
		if !taken(candidate) {
			return candidate
		}
	}
}
