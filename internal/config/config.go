package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models forgeday.yml.
type Config struct {
	Automation struct {
		Mode           string `yaml:"mode"`
		CommitStrategy string `yaml:"commit_strategy"`
	} `yaml:"automation"`
	Schedule struct {
		Timezone  string `yaml:"timezone"`
		NotBefore string `yaml:"not_before"`
	} `yaml:"schedule"`
	Quality struct {
		MinLines     int  `yaml:"min_lines"`
		RequireTests bool `yaml:"require_tests"`
		RequireDocs  bool `yaml:"require_docs"`
		MinScore     int  `yaml:"min_score"`
		Weights      struct {
			Lines int `yaml:"lines"`
			Tests int `yaml:"tests"`
			Docs  int `yaml:"docs"`
		} `yaml:"weights"`
	} `yaml:"quality"`
	Novelty struct {
		WindowDays      int `yaml:"window_days"`
		MaxRetries      int `yaml:"max_retries"`
		SameTechGapDays int `yaml:"same_tech_gap_days"`
	} `yaml:"novelty"`
	Streak struct {
		GraceSkipsPerWeek int `yaml:"grace_skips_per_week"`
	} `yaml:"streak"`
	Skills struct {
		AdvancementRate string             `yaml:"advancement_rate"`
		FocusAreas      map[string]int     `yaml:"focus_areas"`
		Catalog         map[string][]Skill `yaml:"catalog"`
	} `yaml:"skills"`
	Generate struct {
		OutputDir   string `yaml:"output_dir"`
		FileRetries int    `yaml:"file_retries"`
	} `yaml:"generate"`
	Push struct {
		MaxAttempts        int `yaml:"max_attempts"`
		BaseBackoffSeconds int `yaml:"base_backoff_seconds"`
	} `yaml:"push"`
	Remote struct {
		Owner      string `yaml:"owner"`
		BaseURL    string `yaml:"base_url"`
		Token      string `yaml:"token"`
		Visibility string `yaml:"visibility"`
	} `yaml:"remote"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// Skill is one catalog entry under a category.
type Skill struct {
	Name         string   `yaml:"name"`
	Technologies []string `yaml:"technologies"`
}

// WebhookConfig describes one notification endpoint tailing the event log.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fd config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns Default() if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "forgeday.yml")
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references from the environment, leaving
// unset references intact so Validate can report them where required.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return m
	})
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(expandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) applyDefaults() {
	if c.Automation.Mode == "" {
		c.Automation.Mode = "auto"
	}
	if c.Automation.CommitStrategy == "" {
		c.Automation.CommitStrategy = "smart"
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = "Local"
	}
	if c.Quality.MinLines == 0 {
		c.Quality.MinLines = 100
	}
	if c.Quality.MinScore == 0 {
		c.Quality.MinScore = 60
	}
	if c.Quality.Weights.Lines == 0 && c.Quality.Weights.Tests == 0 && c.Quality.Weights.Docs == 0 {
		c.Quality.Weights.Lines = 40
		c.Quality.Weights.Tests = 30
		c.Quality.Weights.Docs = 30
	}
	if c.Novelty.WindowDays == 0 {
		c.Novelty.WindowDays = 7
	}
	if c.Novelty.MaxRetries == 0 {
		c.Novelty.MaxRetries = 3
	}
	if c.Novelty.SameTechGapDays == 0 {
		c.Novelty.SameTechGapDays = 1
	}
	if c.Skills.AdvancementRate == "" {
		c.Skills.AdvancementRate = "moderate"
	}
	if c.Generate.OutputDir == "" {
		c.Generate.OutputDir = "generated"
	}
	if c.Generate.FileRetries == 0 {
		c.Generate.FileRetries = 2
	}
	if c.Push.MaxAttempts == 0 {
		c.Push.MaxAttempts = 3
	}
	if c.Push.BaseBackoffSeconds == 0 {
		c.Push.BaseBackoffSeconds = 2
	}
	if c.Remote.Visibility == "" {
		c.Remote.Visibility = "public"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Automation.Mode {
	case "auto", "review", "manual":
	default:
		return fmt.Errorf("automation.mode must be auto, review or manual")
	}
	switch c.Automation.CommitStrategy {
	case "single", "smart", "detailed":
	default:
		return fmt.Errorf("automation.commit_strategy must be single, smart or detailed")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Schedule.NotBefore != "" {
		if _, err := time.Parse("15:04", c.Schedule.NotBefore); err != nil {
			return fmt.Errorf("schedule.not_before must be HH:MM")
		}
	}
	if c.Quality.MinScore < 0 || c.Quality.MinScore > 100 {
		return fmt.Errorf("quality.min_score must be within 0-100")
	}
	w := c.Quality.Weights
	if w.Lines < 0 || w.Tests < 0 || w.Docs < 0 || w.Lines+w.Tests+w.Docs != 100 {
		return fmt.Errorf("quality.weights must be non-negative and sum to 100")
	}
	if c.Novelty.SameTechGapDays < 0 || c.Novelty.WindowDays < 1 {
		return fmt.Errorf("novelty window/gap out of range")
	}
	if c.Streak.GraceSkipsPerWeek < 0 {
		return fmt.Errorf("streak.grace_skips_per_week must be >= 0")
	}
	switch c.Skills.AdvancementRate {
	case "slow", "moderate", "fast":
	default:
		return fmt.Errorf("skills.advancement_rate must be slow, moderate or fast")
	}
	if len(c.Skills.Catalog) == 0 {
		return fmt.Errorf("skills.catalog must define at least one category")
	}
	total := 0
	for category, weight := range c.Skills.FocusAreas {
		if _, ok := c.Skills.Catalog[category]; !ok {
			return fmt.Errorf("focus area %s not present in skills.catalog", category)
		}
		if weight < 0 {
			return fmt.Errorf("focus area %s has negative weight", category)
		}
		total += weight
	}
	if len(c.Skills.FocusAreas) > 0 && total != 100 {
		return fmt.Errorf("skills.focus_areas must sum to 100, got %d", total)
	}
	for category, skills := range c.Skills.Catalog {
		if len(skills) == 0 {
			return fmt.Errorf("category %s has no skills", category)
		}
		for _, s := range skills {
			if s.Name == "" {
				return fmt.Errorf("category %s has a skill without a name", category)
			}
			if len(s.Technologies) == 0 {
				return fmt.Errorf("skill %s has no technologies", s.Name)
			}
		}
	}
	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" || c.Schedule.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

// ActiveCategories lists catalog categories with a non-zero focus weight,
// or every catalog category when no focus areas are configured.
func (c *Config) ActiveCategories() []string {
	var out []string
	for category := range c.Skills.Catalog {
		if len(c.Skills.FocusAreas) > 0 {
			if c.Skills.FocusAreas[category] == 0 {
				continue
			}
		}
		out = append(out, category)
	}
	return out
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `automation:
  mode: auto
  commit_strategy: smart

schedule:
  timezone: Local
  not_before: ""

quality:
  min_lines: 100
  require_tests: true
  require_docs: true
  min_score: 60
  weights:
    lines: 40
    tests: 30
    docs: 30

novelty:
  window_days: 7
  max_retries: 3
  same_tech_gap_days: 1

streak:
  grace_skips_per_week: 0

skills:
  advancement_rate: moderate
  focus_areas:
    backend: 35
    data: 25
    systems: 25
    security: 15
  catalog:
    backend:
      - name: REST APIs
        technologies: [go, chi, openapi]
      - name: Database Design
        technologies: [sqlite, postgres, migrations]
      - name: Web Services
        technologies: [http, grpc, websockets]
    data:
      - name: Data Pipelines
        technologies: [etl, parquet, csv]
      - name: Analytics
        technologies: [sql, aggregation, timeseries]
    systems:
      - name: Caching
        technologies: [lru, redis, memcached]
      - name: Message Queues
        technologies: [queues, pubsub, workers]
      - name: Rate Limiting
        technologies: [token-bucket, leaky-bucket, middleware]
    security:
      - name: Authentication
        technologies: [jwt, oauth, sessions]
      - name: Encryption
        technologies: [aes, rsa, hashing]

generate:
  output_dir: generated
  file_retries: 2

push:
  max_attempts: 3
  base_backoff_seconds: 2

remote:
  owner: ""
  base_url: ""
  token: "${FORGEDAY_REMOTE_TOKEN}"
  visibility: public
`
