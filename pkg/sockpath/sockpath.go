// Package sockpath provides the default Unix socket path for the primd daemon.
// primd and primctl use this to agree on the default.
package sockpath

import (
	"os"
	"path/filepath"
)

// DefaultSocketPath returns the default path for the primd Unix socket.
// It prefers $XDG_RUNTIME_DIR/primbus/primd.sock, falling back to
// ~/.config/primbus/primd.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "primbus", "primd.sock")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "primbus", "primd.sock")
}
