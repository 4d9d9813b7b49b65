//go:build unix

package audit

import (
	"os"

	"golang.org/x/sys/unix"
)

// openAuditFile opens the audit file for append, refusing to follow a
// symlink at path (O_NOFOLLOW) and restricting it to owner read/write.
func openAuditFile(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_CREATE|unix.O_APPEND|unix.O_WRONLY|unix.O_NOFOLLOW, 0o600)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}
