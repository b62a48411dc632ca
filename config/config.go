// ABOUTME: Service configuration from an optional YAML file and RCA_* environment
// ABOUTME: variables; the environment always wins.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds everything the service needs to run. JIRA settings are
// optional; leaving them empty disables ticket enrichment.
type Config struct {
	Bind     string `yaml:"bind"`
	Database string `yaml:"database"`

	// SFURL is the Software Factory base URL hosting LogJuicer and the
	// weeder export.
	SFURL string `yaml:"sf_url"`

	LLM struct {
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"llm"`

	Jira struct {
		URL      string   `yaml:"url"`
		APIKey   string   `yaml:"api_key"`
		Projects []string `yaml:"projects"`
	} `yaml:"jira"`
}

// Load builds the configuration: defaults, then the YAML file named by
// RCA_CONFIG (when set), then RCA_* environment variables on top.
func Load() (*Config, error) {
	cfg := &Config{
		Bind:     "127.0.0.1:8090",
		Database: defaultDatabasePath(),
	}

	if path := os.Getenv("RCA_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.Bind, "RCA_BIND")
	setString(&cfg.Database, "RCA_DATABASE")
	setString(&cfg.SFURL, "RCA_SF_URL")
	setString(&cfg.LLM.APIKey, "RCA_LLM_API_KEY")
	setString(&cfg.LLM.Model, "RCA_LLM_MODEL")
	setString(&cfg.LLM.BaseURL, "RCA_LLM_BASE_URL")
	setString(&cfg.Jira.URL, "RCA_JIRA_URL")
	setString(&cfg.Jira.APIKey, "RCA_JIRA_API_KEY")

	if v := os.Getenv("RCA_JIRA_PROJECTS"); v != "" {
		var projects []string
		for _, project := range strings.Split(v, ",") {
			if project = strings.TrimSpace(project); project != "" {
				projects = append(projects, project)
			}
		}
		cfg.Jira.Projects = projects
	}
}

// Validate checks the settings an analysis cannot run without.
func (c *Config) Validate() error {
	if c.SFURL == "" {
		return fmt.Errorf("RCA_SF_URL is required")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("RCA_LLM_API_KEY is required")
	}
	return nil
}

// JiraEnabled reports whether ticket enrichment is configured.
func (c *Config) JiraEnabled() bool {
	return c.Jira.URL != "" && c.Jira.APIKey != ""
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rca.sqlite3"
	}
	return filepath.Join(home, ".rca-mcp", "rca.sqlite3")
}
