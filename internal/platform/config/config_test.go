package config

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var allKeys = []string{
	"TEST_REPO", "FORK_REPO", "BOT_NAME", "BOT_TOKEN",
	"GITHUB_APP_ID", "GITHUB_INSTALLATION_ID", "GITHUB_PRIVATE_KEY",
	"PR_BASE_BRANCH", "VENDOR_TYPE", "PROD_BRANCH", "INDEX_SOURCE_BRANCH",
	"CHARTS_DIR", "REPO_PATH", "POLL_ATTEMPTS", "POLL_INTERVAL",
	"MERGE_POLL_ATTEMPTS", "MERGE_POLL_INTERVAL", "VERIFY_CONCURRENCY",
	"SUBMIT_CONCURRENCY", "WORKFLOW_DEVELOPMENT", "LOG_LEVEL", "OTEL_ENABLED",
}

// setEnv clears every variable Load reads, then applies env.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestLoad(t *testing.T) {
	defaults := Config{
		TestRepo:          "openshift-helm-charts/sandbox",
		ForkRepo:          "openshift-helm-charts/sandbox",
		BotName:           "openshift-helm-charts",
		BotToken:          "tok",
		PRBaseBranch:      "test-charts",
		VendorTypes:       []string{"partner"},
		ProdBranch:        "main",
		IndexSourceBranch: "dev-gh-pages",
		ChartsDir:         "charts",
		RepoPath:          ".",
		PollAttempts:      60,
		PollInterval:      30 * time.Second,
		MergePollAttempts: 3,
		MergePollInterval: 10 * time.Second,
		VerifyConcurrency: 4,
		SubmitConcurrency: 1,
		LogLevel:          "info",
	}

	tests := []struct {
		name    string
		env     map[string]string
		want    func(c Config) Config
		wantErr string
	}{
		{
			name: "defaults with token auth",
			env:  map[string]string{"TEST_REPO": "openshift-helm-charts/sandbox", "BOT_TOKEN": "tok"},
			want: func(c Config) Config { return c },
		},
		{
			name: "all overrides",
			env: map[string]string{
				"TEST_REPO":            "openshift-helm-charts/sandbox",
				"FORK_REPO":            "abai-test-bot/sandbox",
				"BOT_NAME":             "abai-test-bot",
				"BOT_TOKEN":            "tok",
				"PR_BASE_BRANCH":       "recheck",
				"VENDOR_TYPE":          " partner, redhat ,,community",
				"PROD_BRANCH":          "release",
				"INDEX_SOURCE_BRANCH":  "gh-pages",
				"CHARTS_DIR":           "src/charts",
				"REPO_PATH":            "/work/repo",
				"POLL_ATTEMPTS":        "5",
				"POLL_INTERVAL":        "1s",
				"MERGE_POLL_ATTEMPTS":  "2",
				"MERGE_POLL_INTERVAL":  "500ms",
				"VERIFY_CONCURRENCY":   "8",
				"SUBMIT_CONCURRENCY":   "2",
				"WORKFLOW_DEVELOPMENT": "true",
				"LOG_LEVEL":            "debug",
				"OTEL_ENABLED":         "true",
			},
			want: func(c Config) Config {
				c.ForkRepo = "abai-test-bot/sandbox"
				c.BotName = "abai-test-bot"
				c.PRBaseBranch = "recheck"
				c.VendorTypes = []string{"partner", "redhat", "community"}
				c.ProdBranch = "release"
				c.IndexSourceBranch = "gh-pages"
				c.ChartsDir = "src/charts"
				c.RepoPath = "/work/repo"
				c.PollAttempts = 5
				c.PollInterval = time.Second
				c.MergePollAttempts = 2
				c.MergePollInterval = 500 * time.Millisecond
				c.VerifyConcurrency = 8
				c.SubmitConcurrency = 2
				c.WorkflowDevelopment = true
				c.LogLevel = "debug"
				c.OTelEnabled = true
				return c
			},
		},
		{
			name: "bot name defaults to fork owner",
			env: map[string]string{
				"TEST_REPO": "openshift-helm-charts/sandbox",
				"FORK_REPO": "my-bot/sandbox-fork",
				"BOT_TOKEN": "tok",
			},
			want: func(c Config) Config {
				c.ForkRepo = "my-bot/sandbox-fork"
				c.BotName = "my-bot"
				return c
			},
		},
		{
			name: "github app auth",
			env: map[string]string{
				"TEST_REPO":              "openshift-helm-charts/sandbox",
				"GITHUB_APP_ID":          "123456",
				"GITHUB_INSTALLATION_ID": "789012",
				"GITHUB_PRIVATE_KEY":     "test-key",
			},
			want: func(c Config) Config {
				c.BotToken = ""
				c.GitHubAppID = 123456
				c.GitHubInstallationID = 789012
				c.GitHubPrivateKey = "test-key"
				return c
			},
		},
		{
			name:    "missing TEST_REPO",
			env:     map[string]string{"BOT_TOKEN": "tok"},
			wantErr: "TEST_REPO is required",
		},
		{
			name:    "malformed TEST_REPO",
			env:     map[string]string{"TEST_REPO": "sandbox", "BOT_TOKEN": "tok"},
			wantErr: "invalid TEST_REPO",
		},
		{
			name:    "no credentials",
			env:     map[string]string{"TEST_REPO": "o/r"},
			wantErr: "BOT_TOKEN or GITHUB_APP_ID",
		},
		{
			name: "partial app credentials",
			env: map[string]string{
				"TEST_REPO":     "o/r",
				"GITHUB_APP_ID": "1",
			},
			wantErr: "must be set together",
		},
		{
			name: "invalid app id",
			env: map[string]string{
				"TEST_REPO":              "o/r",
				"GITHUB_APP_ID":          "not-a-number",
				"GITHUB_INSTALLATION_ID": "2",
				"GITHUB_PRIVATE_KEY":     "k",
			},
			wantErr: "invalid GITHUB_APP_ID",
		},
		{
			name:    "invalid poll interval",
			env:     map[string]string{"TEST_REPO": "o/r", "BOT_TOKEN": "t", "POLL_INTERVAL": "soon"},
			wantErr: "invalid POLL_INTERVAL",
		},
		{
			name:    "invalid poll attempts",
			env:     map[string]string{"TEST_REPO": "o/r", "BOT_TOKEN": "t", "POLL_ATTEMPTS": "-1"},
			wantErr: "invalid POLL_ATTEMPTS",
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"TEST_REPO": "o/r", "BOT_TOKEN": "t", "VERIFY_CONCURRENCY": "0"},
			wantErr: "must be at least 1",
		},
		{
			name:    "empty vendor type list",
			env:     map[string]string{"TEST_REPO": "o/r", "BOT_TOKEN": "t", "VENDOR_TYPE": " , "},
			wantErr: "invalid VENDOR_TYPE",
		},
		{
			name:    "invalid workflow development flag",
			env:     map[string]string{"TEST_REPO": "o/r", "BOT_TOKEN": "t", "WORKFLOW_DEVELOPMENT": "maybe"},
			wantErr: "invalid WORKFLOW_DEVELOPMENT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			got, err := Load()
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() expected error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("Load() error = %q, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want(defaults), got); diff != "" {
				t.Errorf("Load() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadTree(t *testing.T) {
	setEnv(t, map[string]string{
		"CHARTS_DIR":  "charts",
		"VENDOR_TYPE": "all",
		"LOG_LEVEL":   "warn",
	})

	got, err := LoadTree()
	if err != nil {
		t.Fatalf("LoadTree() without TEST_REPO: %v", err)
	}
	if diff := cmp.Diff([]string{"all"}, got.VendorTypes); diff != "" {
		t.Errorf("VendorTypes mismatch (-want +got):\n%s", diff)
	}
	if got.RepoPath != "." || got.LogLevel != "warn" {
		t.Errorf("RepoPath = %q, LogLevel = %q", got.RepoPath, got.LogLevel)
	}
}

func TestConfigHelpers(t *testing.T) {
	t.Parallel()

	c := Config{PRBaseBranch: "test-charts"}
	if got := c.IndexBranch(); got != "test-charts-gh-pages" {
		t.Errorf("IndexBranch() = %q", got)
	}
	if c.UsesApp() {
		t.Error("UsesApp() should be false without an app id")
	}
	c.GitHubAppID = 1
	if !c.UsesApp() {
		t.Error("UsesApp() should be true with an app id")
	}
}

func TestParseList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"partner", []string{"partner"}},
		{"partner,redhat", []string{"partner", "redhat"}},
		{" a , ,b ", []string{"a", "b"}},
		{"", nil},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, ParseList(tt.in)); diff != "" {
			t.Errorf("ParseList(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
