package memory

import (
	"os"
)

// ReadPriorities returns the contents of <home>/priorities.md. Returns empty
// string if missing.
func ReadPriorities(home string) (string, error) {
	data, err := os.ReadFile(PrioritiesPath(home))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

// WritePriorities writes the priorities document. Creates home if needed.
func WritePriorities(home, content string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	return os.WriteFile(PrioritiesPath(home), []byte(content), 0o644)
}

const defaultPriorities = `# Company Priorities

Edit this file; every agent reads it at the start of each run.

1. (add your current top priority)
2.
3.
`

// EnsurePriorities writes the starter priorities template if the file does
// not exist yet. Never overwrites an edited document.
func EnsurePriorities(home string) error {
	if _, err := os.Stat(PrioritiesPath(home)); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return WritePriorities(home, defaultPriorities)
}
