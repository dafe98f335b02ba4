package hasher

import (
	"fmt"
	"os"
	"syscall"
)

// hashStat builds the metadata pre-check digest over size, mtime and
// inode-or-equivalent. The inode component is best-effort: platforms whose
// os.FileInfo.Sys() does not expose one simply omit it, degrading to a
// size+mtime check (still a valid optimistic pre-check, just coarser).
func hashStat(fi os.FileInfo) Digest {
	var inode uint64
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		inode = uint64(st.Ino)
	}
	return HashStrings(
		fmt.Sprintf("%d", fi.Size()),
		fmt.Sprintf("%d", fi.ModTime().UnixNano()),
		fmt.Sprintf("%d", inode),
	)
}
