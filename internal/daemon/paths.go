package daemon

import (
	"path/filepath"
)

// protectedDir holds the pid/lock/addr files under <home>/protected, out of
// the way of the user-editable roster, settings, and docs at the home root.
func protectedDir(home string) string {
	return filepath.Join(home, "protected")
}

func pidPath(home string) string {
	return filepath.Join(protectedDir(home), "daemon.pid")
}

func lockPath(home string) string {
	return filepath.Join(protectedDir(home), "daemon.lock")
}

func addrPath(home string) string {
	return filepath.Join(protectedDir(home), "daemon.addr")
}
