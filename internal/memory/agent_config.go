package memory

import (
	"os"

	"gopkg.in/yaml.v3"
)

// AgentConfig holds per-agent overrides layered on top of the roster: a
// concrete model name and a max-token ceiling. Humans drop a config.yaml
// into the agent's memory directory to pin them.
type AgentConfig struct {
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// LoadAgentConfig loads <home>/memory/<agent>/config.yaml. Returns nil
// config and nil error if the file is missing.
func LoadAgentConfig(home, agentID string) (*AgentConfig, error) {
	data, err := os.ReadFile(AgentConfigPath(AgentDir(home, agentID)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveAgentConfig writes the agent override file, creating the directory if
// needed.
func SaveAgentConfig(home, agentID string, cfg *AgentConfig) error {
	dir := AgentDir(home, agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(AgentConfigPath(dir), data, 0o644)
}
