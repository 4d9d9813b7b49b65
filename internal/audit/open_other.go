//go:build !unix

package audit

import "os"

// openAuditFile opens the audit file for append. Platforms without a
// NOFOLLOW open flag rely on the symlink check in appendToPath instead.
func openAuditFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}
