package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forgeday/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Automation.Mode != "auto" || cfg.Automation.CommitStrategy != "smart" {
		t.Fatalf("unexpected automation defaults: %+v", cfg.Automation)
	}
	if len(cfg.Skills.Catalog) == 0 {
		t.Fatalf("default catalog empty")
	}
}

func TestApplyDefaultsFillsGaps(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`skills:
  catalog:
    backend:
      - name: REST APIs
        technologies: [go]
`))
	if err != nil {
		t.Fatalf("minimal config rejected: %v", err)
	}
	if cfg.Quality.MinLines != 100 || cfg.Quality.MinScore != 60 {
		t.Fatalf("quality defaults %+v", cfg.Quality)
	}
	if cfg.Quality.Weights.Lines+cfg.Quality.Weights.Tests+cfg.Quality.Weights.Docs != 100 {
		t.Fatalf("weights do not sum to 100: %+v", cfg.Quality.Weights)
	}
	if cfg.Novelty.WindowDays != 7 || cfg.Novelty.MaxRetries != 3 {
		t.Fatalf("novelty defaults %+v", cfg.Novelty)
	}
	if cfg.Push.MaxAttempts != 3 || cfg.Push.BaseBackoffSeconds != 2 {
		t.Fatalf("push defaults %+v", cfg.Push)
	}
}

func TestValidateRejections(t *testing.T) {
	base := `skills:
  catalog:
    backend:
      - name: REST APIs
        technologies: [go]
`
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"bad mode",
			"automation:\n  mode: yolo\n" + base,
			"automation.mode",
		},
		{
			"bad strategy",
			"automation:\n  commit_strategy: chaotic\n" + base,
			"commit_strategy",
		},
		{
			"bad not_before",
			"schedule:\n  not_before: \"25:99\"\n" + base,
			"not_before",
		},
		{
			"weights sum",
			"quality:\n  weights:\n    lines: 50\n    tests: 30\n    docs: 30\n" + base,
			"weights",
		},
		{
			"bad advancement rate",
			base + "  advancement_rate: warp\n",
			"advancement_rate",
		},
		{
			"focus area not in catalog",
			base + "  focus_areas:\n    frontend: 100\n",
			"focus area",
		},
		{
			"focus areas sum",
			base + "  focus_areas:\n    backend: 50\n",
			"sum to 100",
		},
		{
			"empty catalog",
			"automation:\n  mode: auto\n",
			"catalog",
		},
		{
			"skill without technologies",
			"skills:\n  catalog:\n    backend:\n      - name: REST APIs\n        technologies: []\n",
			"technologies",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.FromYAML([]byte(tc.yaml))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestEnvInterpolation(t *testing.T) {
	t.Setenv("FORGEDAY_TEST_TOKEN", "tok-123")
	cfg, err := config.FromYAML([]byte(`remote:
  owner: tester
  token: "${FORGEDAY_TEST_TOKEN}"
skills:
  catalog:
    backend:
      - name: REST APIs
        technologies: [go]
`))
	if err != nil {
		t.Fatalf("config rejected: %v", err)
	}
	if cfg.Remote.Token != "tok-123" {
		t.Fatalf("token %q, want tok-123", cfg.Remote.Token)
	}
}

func TestEnvInterpolationLeavesUnsetRefs(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`remote:
  token: "${FORGEDAY_DEFINITELY_UNSET_VAR}"
skills:
  catalog:
    backend:
      - name: REST APIs
        technologies: [go]
`))
	if err != nil {
		t.Fatalf("config rejected: %v", err)
	}
	if cfg.Remote.Token != "${FORGEDAY_DEFINITELY_UNSET_VAR}" {
		t.Fatalf("token %q, want unresolved reference preserved", cfg.Remote.Token)
	}
}

func TestLoadOptionalFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load optional: %v", err)
	}
	if cfg.Automation.Mode != "auto" {
		t.Fatalf("expected default config, got mode %q", cfg.Automation.Mode)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgeday.yml")
	if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Automation.CommitStrategy != "smart" {
		t.Fatalf("strategy %q, want smart", cfg.Automation.CommitStrategy)
	}

	if _, err := config.Load(t.TempDir()); err == nil {
		t.Fatalf("expected error for missing config")
	}
}
