package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Model != "claude-sonnet-4-5" {
		t.Errorf("Model = %q, want default", cfg.Model)
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want 4096", cfg.MaxTokens)
	}
	if cfg.CompletionMarker != "✅" {
		t.Errorf("CompletionMarker = %q, want ✅", cfg.CompletionMarker)
	}
	if want := filepath.Join(tmpDir, "vault"); cfg.VaultPath != want {
		t.Errorf("VaultPath = %q, want %q", cfg.VaultPath, want)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	content := `{"vault_path": "/notes", "max_tokens": 2048, "disabled_tools": ["focus_reorder"]}`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.VaultPath != "/notes" {
		t.Errorf("VaultPath = %q, want /notes", cfg.VaultPath)
	}
	if cfg.MaxTokens != 2048 {
		t.Errorf("MaxTokens = %d, want 2048", cfg.MaxTokens)
	}
	// Unset fields keep defaults
	if cfg.ProtocolsDir != "protocols" {
		t.Errorf("ProtocolsDir = %q, want protocols", cfg.ProtocolsDir)
	}
	if len(cfg.DisabledTools) != 1 || cfg.DisabledTools[0] != "focus_reorder" {
		t.Errorf("DisabledTools = %v", cfg.DisabledTools)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "config.json"), []byte("{not json"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(tmpDir); err == nil {
		t.Error("Load with invalid JSON should fail")
	}
}

func TestLoadWithRepoPrecedence(t *testing.T) {
	globalDir := t.TempDir()
	repoRoot := t.TempDir()
	nested := filepath.Join(repoRoot, "a", "b")
	if err := os.MkdirAll(nested, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	globalCfg := `{"model": "global-model", "max_tokens": 1000, "disabled_tools": ["focus_pin"]}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalCfg), 0600); err != nil {
		t.Fatalf("write global config: %v", err)
	}

	repoDir := filepath.Join(repoRoot, ".tend")
	if err := os.MkdirAll(repoDir, 0700); err != nil {
		t.Fatalf("mkdir repo config: %v", err)
	}
	repoCfg := `{"model": "repo-model", "disabled_tools": ["focus_remove"]}`
	if err := os.WriteFile(filepath.Join(repoDir, "config.json"), []byte(repoCfg), 0600); err != nil {
		t.Fatalf("write repo config: %v", err)
	}

	// Repo config is found by walking up from the nested dir
	cfg, err := LoadWithRepo(globalDir, nested)
	if err != nil {
		t.Fatalf("LoadWithRepo failed: %v", err)
	}

	if cfg.Model != "repo-model" {
		t.Errorf("Model = %q, want repo-model", cfg.Model)
	}
	if cfg.MaxTokens != 1000 {
		t.Errorf("MaxTokens = %d, want 1000 (from global)", cfg.MaxTokens)
	}
	if len(cfg.DisabledTools) != 2 {
		t.Errorf("DisabledTools = %v, want merged pair", cfg.DisabledTools)
	}
}

func TestMergeDeduplicatesArrays(t *testing.T) {
	base := &Config{DisabledTools: []string{"a", "b"}}
	overlay := &Config{DisabledTools: []string{" b ", "c", ""}}

	merged := Merge(base, overlay)
	want := []string{"a", "b", "c"}
	if len(merged.DisabledTools) != len(want) {
		t.Fatalf("DisabledTools = %v, want %v", merged.DisabledTools, want)
	}
	for i, s := range want {
		if merged.DisabledTools[i] != s {
			t.Errorf("DisabledTools[%d] = %q, want %q", i, merged.DisabledTools[i], s)
		}
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKeyEnv = "TEND_TEST_API_KEY"
	t.Setenv("TEND_TEST_API_KEY", "  sk-test  ")

	if got := cfg.APIKey(); got != "sk-test" {
		t.Errorf("APIKey() = %q, want sk-test", got)
	}

	cfg.APIKeyEnv = ""
	if got := cfg.APIKey(); got != "" {
		t.Errorf("APIKey() with empty env name = %q, want empty", got)
	}
}
