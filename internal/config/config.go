// Package config resolves the orchestrator's tunables: agent binary paths,
// concurrency cap, default timeout, and checkpoint root. Environment
// variables always take precedence over an optional JSON config file.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/spf13/viper"
)

// Config carries every runtime tunable the orchestration engine reads.
type Config struct {
	AgentBinaries   map[string]string // agent name -> resolved binary path/name
	MaxConcurrent   int
	DefaultTimeout  int // seconds
	CheckpointDir   string
	ContinueOnError bool
}

// defaultAgents are the agent names known out of the box; AgentBinaries
// defaults each of these to its own name (resolved via $PATH) unless
// overridden.
var defaultAgents = []string{"claude", "codex", "gemini"}

// Defaults returns the built-in defaults before any environment or file
// overrides are applied.
func Defaults() Config {
	bins := make(map[string]string, len(defaultAgents))
	for _, name := range defaultAgents {
		bins[name] = name
	}
	return Config{
		AgentBinaries:   bins,
		MaxConcurrent:   10,
		DefaultTimeout:  120,
		CheckpointDir:   ".orchestrator/checkpoints",
		ContinueOnError: false,
	}
}

// Load builds a Config from defaults, an optional "orchestrator-config"
// JSON file (searched via viper in $HOME and the working directory), and
// finally environment variables, which always win.
func Load() (Config, error) {
	cfg := Defaults()

	v := viper.New()
	v.SetConfigName("orchestrator-config")
	v.SetConfigType("json")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err == nil {
		if dir := v.GetString("checkpoint_dir"); dir != "" {
			cfg.CheckpointDir = dir
		}
		if n := v.GetInt("max_concurrent"); n > 0 {
			cfg.MaxConcurrent = n
		}
		if t := v.GetInt("default_timeout"); t > 0 {
			cfg.DefaultTimeout = t
		}
		if v.IsSet("continue_on_error") {
			cfg.ContinueOnError = v.GetBool("continue_on_error")
		}
	}

	for _, name := range defaultAgents {
		envKey := agentBinEnvKey(name)
		if bin := os.Getenv(envKey); bin != "" {
			cfg.AgentBinaries[name] = bin
		}
	}
	if n := os.Getenv("ORCHESTRATOR_MAX_CONCURRENT"); n != "" {
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid ORCHESTRATOR_MAX_CONCURRENT %q: %w", n, err)
		}
		cfg.MaxConcurrent = parsed
	}
	if t := os.Getenv("ORCHESTRATOR_DEFAULT_TIMEOUT"); t != "" {
		parsed, err := strconv.Atoi(t)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid ORCHESTRATOR_DEFAULT_TIMEOUT %q: %w", t, err)
		}
		cfg.DefaultTimeout = parsed
	}
	if dir := os.Getenv("ORCHESTRATOR_CHECKPOINT_DIR"); dir != "" {
		cfg.CheckpointDir = dir
	}

	return cfg, nil
}

func agentBinEnvKey(agentName string) string {
	upper := make([]byte, len(agentName))
	for i := 0; i < len(agentName); i++ {
		c := agentName[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		upper[i] = c
	}
	return string(upper) + "_BIN"
}

// Validate checks that MaxConcurrent and DefaultTimeout are positive, that
// every configured agent binary resolves via $PATH or is an existing file,
// and that a checkpoint directory is set. The directory itself is not
// checked for existence or writability.
func (c Config) Validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("config: max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	if c.DefaultTimeout <= 0 {
		return fmt.Errorf("config: default_timeout must be positive, got %d", c.DefaultTimeout)
	}
	for name, bin := range c.AgentBinaries {
		if _, err := exec.LookPath(bin); err != nil {
			if _, statErr := os.Stat(bin); statErr != nil {
				return fmt.Errorf("config: agent %q binary %q not resolvable: %w", name, bin, err)
			}
		}
	}
	if c.CheckpointDir == "" {
		return fmt.Errorf("config: checkpoint_dir is required")
	}
	return nil
}

// BinaryFor returns the resolved binary path for an agent name, or an empty
// string if the agent is unknown.
func (c Config) BinaryFor(agentName string) string {
	return c.AgentBinaries[agentName]
}
