// Package config provides application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	TestRepo string // owner/name receiving PRs, releases and the index
	ForkRepo string // owner/name receiving per-version branches
	BotName  string

	// Either BotToken or the three GitHub App fields are set.
	BotToken             string
	GitHubAppID          int64
	GitHubInstallationID int64
	GitHubPrivateKey     string // PEM file contents

	PRBaseBranch      string
	VendorTypes       []string
	ProdBranch        string
	IndexSourceBranch string
	ChartsDir         string
	RepoPath          string

	PollAttempts      uint
	PollInterval      time.Duration
	MergePollAttempts uint
	MergePollInterval time.Duration
	VerifyConcurrency int
	SubmitConcurrency int

	WorkflowDevelopment bool
	LogLevel            string

	// OpenTelemetry (optional)
	OTelEnabled bool // OTEL_ENABLED feature flag
}

// UsesApp reports whether GitHub App credentials are configured.
func (c Config) UsesApp() bool {
	return c.GitHubAppID != 0
}

// IndexBranch is the branch the CI publishes the index to during a run.
func (c Config) IndexBranch() string {
	return c.PRBaseBranch + "-gh-pages"
}

func defaults() Config {
	return Config{
		PRBaseBranch:      "test-charts",
		VendorTypes:       []string{"partner"},
		ProdBranch:        "main",
		IndexSourceBranch: "dev-gh-pages",
		ChartsDir:         "charts",
		RepoPath:          ".",
		LogLevel:          "info",
	}
}

// LoadTree reads only the settings needed to scan a local chart tree:
// CHARTS_DIR, REPO_PATH, VENDOR_TYPE and LOG_LEVEL.
func LoadTree() (Config, error) {
	cfg := defaults()
	if err := loadTreeConfig(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads configuration from environment variables, validates required
// fields, and applies defaults.
func Load() (Config, error) {
	cfg := defaults()

	if err := loadTreeConfig(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadRepoConfig(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadAuthConfig(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadPollConfig(&cfg); err != nil {
		return Config{}, err
	}

	var err error
	if cfg.WorkflowDevelopment, err = parseBool("WORKFLOW_DEVELOPMENT"); err != nil {
		return Config{}, err
	}

	loadOTelConfig(&cfg)

	return cfg, nil
}

func loadRepoConfig(cfg *Config) error {
	cfg.TestRepo = os.Getenv("TEST_REPO")
	if cfg.TestRepo == "" {
		return errors.New("TEST_REPO is required")
	}
	if err := validateRepo("TEST_REPO", cfg.TestRepo); err != nil {
		return err
	}

	cfg.ForkRepo = getEnvOrDefault("FORK_REPO", cfg.TestRepo)
	if err := validateRepo("FORK_REPO", cfg.ForkRepo); err != nil {
		return err
	}
	owner, _, _ := strings.Cut(cfg.ForkRepo, "/")
	cfg.BotName = getEnvOrDefault("BOT_NAME", owner)

	cfg.PRBaseBranch = getEnvOrDefault("PR_BASE_BRANCH", cfg.PRBaseBranch)
	cfg.ProdBranch = getEnvOrDefault("PROD_BRANCH", cfg.ProdBranch)
	cfg.IndexSourceBranch = getEnvOrDefault("INDEX_SOURCE_BRANCH", cfg.IndexSourceBranch)
	return nil
}

func loadTreeConfig(cfg *Config) error {
	cfg.ChartsDir = getEnvOrDefault("CHARTS_DIR", cfg.ChartsDir)
	cfg.RepoPath = getEnvOrDefault("REPO_PATH", cfg.RepoPath)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("VENDOR_TYPE"); v != "" {
		cfg.VendorTypes = ParseList(v)
		if len(cfg.VendorTypes) == 0 {
			return fmt.Errorf("invalid VENDOR_TYPE %q: no vendor types", v)
		}
	}
	return nil
}

func loadAuthConfig(cfg *Config) error {
	cfg.BotToken = os.Getenv("BOT_TOKEN")

	appID := os.Getenv("GITHUB_APP_ID")
	installationID := os.Getenv("GITHUB_INSTALLATION_ID")
	cfg.GitHubPrivateKey = os.Getenv("GITHUB_PRIVATE_KEY")

	set := 0
	for _, v := range []string{appID, installationID, cfg.GitHubPrivateKey} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0 && cfg.BotToken == "":
		return errors.New("BOT_TOKEN or GITHUB_APP_ID, GITHUB_INSTALLATION_ID and GITHUB_PRIVATE_KEY are required")
	case set == 0:
		return nil
	case set < 3:
		return errors.New("GITHUB_APP_ID, GITHUB_INSTALLATION_ID and GITHUB_PRIVATE_KEY must be set together")
	}

	var err error
	cfg.GitHubAppID, err = parseRequiredInt64("GITHUB_APP_ID")
	if err != nil {
		return err
	}
	cfg.GitHubInstallationID, err = parseRequiredInt64("GITHUB_INSTALLATION_ID")
	if err != nil {
		return err
	}
	return nil
}

func loadPollConfig(cfg *Config) error {
	var err error
	if cfg.PollAttempts, err = parseUintOrDefault("POLL_ATTEMPTS", 60); err != nil {
		return err
	}
	if cfg.PollInterval, err = parseDurationOrDefault("POLL_INTERVAL", 30*time.Second); err != nil {
		return err
	}
	if cfg.MergePollAttempts, err = parseUintOrDefault("MERGE_POLL_ATTEMPTS", 3); err != nil {
		return err
	}
	if cfg.MergePollInterval, err = parseDurationOrDefault("MERGE_POLL_INTERVAL", 10*time.Second); err != nil {
		return err
	}

	verify, err := parseUintOrDefault("VERIFY_CONCURRENCY", 4)
	if err != nil {
		return err
	}
	submit, err := parseUintOrDefault("SUBMIT_CONCURRENCY", 1)
	if err != nil {
		return err
	}
	if verify == 0 || submit == 0 {
		return errors.New("VERIFY_CONCURRENCY and SUBMIT_CONCURRENCY must be at least 1")
	}
	cfg.VerifyConcurrency = int(verify)
	cfg.SubmitConcurrency = int(submit)
	return nil
}

func loadOTelConfig(cfg *Config) {
	cfg.OTelEnabled = os.Getenv("OTEL_ENABLED") == "true"
}

// ParseList splits a comma separated list, trimming blanks and dropping
// empty items.
func ParseList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func validateRepo(envKey, repo string) error {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid %s %q: want owner/name", envKey, repo)
	}
	return nil
}

func parseRequiredInt64(envKey string) (int64, error) {
	v := os.Getenv(envKey)
	if v == "" {
		return 0, fmt.Errorf("%s is required", envKey)
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return id, nil
}

func parseUintOrDefault(envKey string, defaultValue uint) (uint, error) {
	v := os.Getenv(envKey)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return uint(n), nil
}

func parseBool(envKey string) (bool, error) {
	v := os.Getenv(envKey)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return b, nil
}

func getEnvOrDefault(envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return defaultValue
}

func parseDurationOrDefault(envKey string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(envKey)
	if v == "" {
		return defaultValue, nil
	}
	dur, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", envKey, v, err)
	}
	return dur, nil
}
