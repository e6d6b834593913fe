package sync

import (
	"sort"

	"github.com/pamuduchat/syncshare/internal/network/messages"
	"github.com/pamuduchat/syncshare/internal/sync/conflict"
)

// DiffResult partitions two listings of one folder
type DiffResult struct {
	Push      []string // only local, offered to the peer
	Pull      []string // only remote, requested from the peer
	Conflicts []conflict.FileConflict
	Unchanged int
}

// Diff compares listings by relative path. With presenceConflict, paths
// that only one side has become conflicts instead of push or pull.
// Results are sorted by path.
func Diff(folder string, local, remote map[string]messages.FileMetadata, presenceConflict bool) DiffResult {
	var res DiffResult

	for p, l := range local {
		r, ok := remote[p]
		switch {
		case !ok && presenceConflict:
			res.Conflicts = append(res.Conflicts, conflict.FileConflict{Folder: folder, RelativePath: p, Local: &l})
		case !ok:
			res.Push = append(res.Push, p)
		case l.ContentHash == r.ContentHash:
			res.Unchanged++
		default:
			res.Conflicts = append(res.Conflicts, conflict.FileConflict{Folder: folder, RelativePath: p, Local: &l, Remote: &r})
		}
	}

	for p, r := range remote {
		if _, ok := local[p]; ok {
			continue
		}
		if presenceConflict {
			res.Conflicts = append(res.Conflicts, conflict.FileConflict{Folder: folder, RelativePath: p, Remote: &r})
			continue
		}
		res.Pull = append(res.Pull, p)
	}

	sort.Strings(res.Push)
	sort.Strings(res.Pull)
	sort.Slice(res.Conflicts, func(i, j int) bool {
		return res.Conflicts[i].RelativePath < res.Conflicts[j].RelativePath
	})
	return res
}

func indexListing(list []messages.FileMetadata) map[string]messages.FileMetadata {
	out := make(map[string]messages.FileMetadata, len(list))
	for _, f := range list {
		out[f.RelativePath] = f
	}
	return out
}
