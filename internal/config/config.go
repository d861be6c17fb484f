package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// VaultPath is the folder of markdown documents Tend operates over.
	// Defaults to baseDir/vault when empty.
	VaultPath string `json:"vault_path,omitempty"`

	// ProtocolsDir is the vault subdirectory holding review protocol
	// documents.
	ProtocolsDir string `json:"protocols_dir,omitempty"`

	// Model is the model identifier sent to the coach transport.
	Model string `json:"model,omitempty"`

	// MaxTokens caps the model response size per turn.
	MaxTokens int `json:"max_tokens,omitempty"`

	// APIBaseURL is the messages API endpoint.
	APIBaseURL string `json:"api_base_url,omitempty"`

	// APIKeyEnv names the environment variable holding the API key.
	// The key itself never lives in config files.
	APIKeyEnv string `json:"api_key_env,omitempty"`

	// CompletionMarker is appended (with a date) to a checkbox line when an
	// action is completed.
	CompletionMarker string `json:"completion_marker,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is
	// locked" errors). 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ProtocolsDir:     "protocols",
		Model:            "claude-sonnet-4-5",
		MaxTokens:        4096,
		APIBaseURL:       "https://api.anthropic.com/v1",
		APIKeyEnv:        "ANTHROPIC_API_KEY",
		CompletionMarker: "✅",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.tend.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if merged.VaultPath == "" {
		merged.VaultPath = filepath.Join(baseDir, "vault")
	}
	return merged, nil
}

// LoadWithRepo loads configuration from both global (~/.tend) and repo
// (.tend) directories. Repo config is found by walking upward from startDir
// to find the nearest .tend/config.json. Repo config takes precedence for
// scalar values; arrays are merged (deduplicated). Either or both configs
// may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	merged := Merge(Merge(DefaultConfig(), global), repo)
	if merged.VaultPath == "" {
		merged.VaultPath = filepath.Join(globalDir, "vault")
	}
	return merged, nil
}

// FindRepoConfig walks upward from startDir to find the nearest
// .tend/config.json. Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".tend", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root, not found
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and
// deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.VaultPath = overlayString(base.VaultPath, overlay.VaultPath)
	result.ProtocolsDir = overlayString(base.ProtocolsDir, overlay.ProtocolsDir)
	result.Model = overlayString(base.Model, overlay.Model)
	result.APIBaseURL = overlayString(base.APIBaseURL, overlay.APIBaseURL)
	result.APIKeyEnv = overlayString(base.APIKeyEnv, overlay.APIKeyEnv)
	result.CompletionMarker = overlayString(base.CompletionMarker, overlay.CompletionMarker)

	result.MaxTokens = overlay.MaxTokens
	if result.MaxTokens == 0 {
		result.MaxTokens = base.MaxTokens
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// APIKey resolves the configured API key from the environment.
// Empty when unset, which the coach reports as a configuration error.
func (c *Config) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APIKeyEnv))
}

func overlayString(base, overlay string) string {
	if overlay != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes
// duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
