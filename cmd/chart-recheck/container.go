package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nathantilsley/chart-recheck/internal/platform/config"
	ghclient "github.com/nathantilsley/chart-recheck/internal/platform/github"
	"github.com/nathantilsley/chart-recheck/internal/platform/telemetry"
	charttree "github.com/nathantilsley/chart-recheck/internal/recheck/adapters/chart_tree"
	gitcli "github.com/nathantilsley/chart-recheck/internal/recheck/adapters/git_cli"
	githubapi "github.com/nathantilsley/chart-recheck/internal/recheck/adapters/github_api"
	indexgit "github.com/nathantilsley/chart-recheck/internal/recheck/adapters/index_git"
	ownerstmpl "github.com/nathantilsley/chart-recheck/internal/recheck/adapters/owners_tmpl"
	summaryout "github.com/nathantilsley/chart-recheck/internal/recheck/adapters/summary_out"
	"github.com/nathantilsley/chart-recheck/internal/recheck/app"
	"github.com/nathantilsley/chart-recheck/internal/recheck/ports"
)

// Container holds all application dependencies.
type Container struct {
	Config    config.Config
	Logger    *slog.Logger
	Telemetry *telemetry.Telemetry
	Pipeline  ports.PipelineUseCase
}

// NewContainer builds and wires all dependencies. The report is written
// to out.
func NewContainer(ctx context.Context, cfg config.Config, log *slog.Logger, out io.Writer) (*Container, error) {
	// Platform dependencies
	tel, err := telemetry.New(ctx, cfg.OTelEnabled, Version)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	client, err := newGitHubClient(cfg)
	if err != nil {
		return nil, err
	}
	token, err := client.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining push token: %w", err)
	}
	testRemote := ghclient.PushURL(cfg.TestRepo, token)
	forkRemote := ghclient.PushURL(cfg.ForkRepo, token)

	// Adapters
	host := githubapi.New(client.API, log)
	vcs := gitcli.New(cfg.RepoPath, log)
	inventory := charttree.New(log)
	descriptors, err := ownerstmpl.New(ownerstmpl.DefaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing OWNERS template: %w", err)
	}
	index, err := indexgit.New(ghclient.RemoteURL(cfg.TestRepo), cfg.IndexBranch(), indexgit.DefaultFile,
		indexgit.TokenFunc(client.Token), log)
	if err != nil {
		return nil, fmt.Errorf("creating index reader: %w", err)
	}
	reporter := summaryout.New(out)

	// Application services
	driver := app.NewDriver(vcs, descriptors, host, app.DriverConfig{
		BotName:       cfg.BotName,
		TestRepo:      cfg.TestRepo,
		ForkRepo:      cfg.ForkRepo,
		StagingBranch: cfg.PRBaseBranch,
		ChartsDir:     cfg.ChartsDir,
		TestRemoteURL: testRemote,
		ForkRemoteURL: forkRemote,
	}, log, tel.Meter, tel.Tracer)

	engine := app.NewEngine(host, index, app.EngineConfig{
		TestRepo:      cfg.TestRepo,
		PollAttempts:  cfg.PollAttempts,
		PollInterval:  cfg.PollInterval,
		MergeAttempts: cfg.MergePollAttempts,
		MergeInterval: cfg.MergePollInterval,
		Concurrency:   cfg.VerifyConcurrency,
	}, log, tel.Meter, tel.Tracer)

	pipeline := app.NewPipeline(inventory, vcs, host, driver, engine, reporter, app.PipelineConfig{
		TestRepo:            cfg.TestRepo,
		ForkRepo:            cfg.ForkRepo,
		StagingBranch:       cfg.PRBaseBranch,
		IndexBranch:         cfg.IndexBranch(),
		IndexSourceBranch:   cfg.IndexSourceBranch,
		ProdBranch:          cfg.ProdBranch,
		ChartsDir:           cfg.ChartsDir,
		VendorTypes:         cfg.VendorTypes,
		TestRemoteURL:       testRemote,
		SubmitConcurrency:   cfg.SubmitConcurrency,
		WorkflowDevelopment: cfg.WorkflowDevelopment,
	}, log)

	return &Container{
		Config:    cfg,
		Logger:    log,
		Telemetry: tel,
		Pipeline:  pipeline,
	}, nil
}

func newGitHubClient(cfg config.Config) (*ghclient.Client, error) {
	if !cfg.UsesApp() {
		return ghclient.NewTokenClient(cfg.BotToken), nil
	}
	client, err := ghclient.NewAppClient(cfg.GitHubAppID, cfg.GitHubInstallationID, cfg.GitHubPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("creating github client: %w", err)
	}
	return client, nil
}
