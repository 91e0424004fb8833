package memory

import (
	"path/filepath"
	"strings"
	"time"
)

// SafeAgentID returns a filesystem-safe version of an agent id for
// directory names.
func SafeAgentID(agentID string) string {
	return strings.ReplaceAll(strings.TrimSpace(agentID), " ", "_")
}

// Root returns the memory tree root: <home>/memory/.
func Root(home string) string {
	return filepath.Join(home, "memory")
}

// AgentDir returns an agent's memory directory: <home>/memory/<agent>/.
func AgentDir(home, agentID string) string {
	return filepath.Join(Root(home), SafeAgentID(agentID))
}

// OutputsDir returns the raw-output directory: <agentDir>/outputs/.
func OutputsDir(agentDir string) string {
	return filepath.Join(agentDir, "outputs")
}

// OutputFileName names a raw output file after its timestamp, so a plain
// directory listing sorts chronologically.
func OutputFileName(t time.Time) string {
	return t.UTC().Format("20060102_150405") + ".md"
}

// RawRef returns the home-relative path stored on a memory row for a raw
// output file. Always slash-separated regardless of platform.
func RawRef(agentID, fileName string) string {
	return "memory/" + SafeAgentID(agentID) + "/outputs/" + fileName
}

// RawPath resolves a home-relative raw ref to an absolute path.
func RawPath(home, rawRef string) string {
	return filepath.Join(home, filepath.FromSlash(rawRef))
}

// PrioritiesPath returns the human-editable priorities document:
// <home>/priorities.md.
func PrioritiesPath(home string) string {
	return filepath.Join(home, "priorities.md")
}

// AgentConfigPath returns an agent's per-agent override file:
// <agentDir>/config.yaml.
func AgentConfigPath(agentDir string) string {
	return filepath.Join(agentDir, "config.yaml")
}
