//go:build unix

package scanner

import (
	"fmt"
	"io/fs"
	"syscall"

	"github.com/putplace/assist/internal/store"
)

// extractAttrs pulls uid/gid and the change key (size, mtime in
// nanoseconds) out of a Unix stat_t, mirroring the original source's
// get_file_stats which read st_uid/st_gid/st_mtime directly.
func extractAttrs(info fs.FileInfo) (store.DiscoveredAttrs, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return store.DiscoveredAttrs{}, fmt.Errorf("cannot extract stat data: expected *syscall.Stat_t, got %T", info.Sys())
	}

	return store.DiscoveredAttrs{
		Size:    info.Size(),
		MtimeNs: stat.Mtim.Sec*1e9 + stat.Mtim.Nsec,
		// the raw st_mode, not info.Mode().Perm() — the wire metadata
		// record sends this straight through (file_mode: 33188 means
		// 0o100644, S_IFREG included), so the file-type and
		// setuid/setgid/sticky bits have to survive the trip.
		Mode: uint32(stat.Mode),
		UID:  stat.Uid,
		GID:  stat.Gid,
	}, nil
}
