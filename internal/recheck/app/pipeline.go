package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
	"github.com/nathantilsley/chart-recheck/internal/recheck/ports"
)

// PipelineConfig holds the repository layout and branch names of a run.
type PipelineConfig struct {
	TestRepo          string
	ForkRepo          string
	StagingBranch     string
	IndexBranch       string // created for the run, receives the published index
	IndexSourceBranch string // branch IndexBranch is cut from
	ProdBranch        string
	ChartsDir         string
	VendorTypes       []string
	TestRemoteURL     string // fetch URL of TestRepo
	SubmitConcurrency int
	// WorkflowDevelopment commits pending local changes before the run so
	// the worktree picks up in-development workflow files.
	WorkflowDevelopment bool
}

// Pipeline implements ports.PipelineUseCase:
// scan → submit → verify → report → teardown.
type Pipeline struct {
	inventory ports.InventoryPort
	vcs       ports.VersionControlPort
	refs      ports.RefPort
	driver    *Driver
	engine    *Engine
	reporter  ports.ReportingPort
	cfg       PipelineConfig
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline from its components.
func NewPipeline(
	inventory ports.InventoryPort,
	vcs ports.VersionControlPort,
	refs ports.RefPort,
	driver *Driver,
	engine *Engine,
	reporter ports.ReportingPort,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	if cfg.SubmitConcurrency <= 0 {
		cfg.SubmitConcurrency = 1
	}
	return &Pipeline{
		inventory: inventory,
		vcs:       vcs,
		refs:      refs,
		driver:    driver,
		engine:    engine,
		reporter:  reporter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run executes one full recheck. The report is returned even when the run
// is aborted; the error then is a *domain.BatchAbortedError.
func (p *Pipeline) Run(ctx context.Context) (domain.Report, error) {
	if p.cfg.WorkflowDevelopment {
		p.logger.Info("workflow development enabled")
		if err := p.vcs.Checkpoint(ctx, "Checkpoint"); err != nil {
			return domain.Report{}, fmt.Errorf("checkpointing local changes: %w", err)
		}
	}

	if err := p.createIndexBranch(ctx); err != nil {
		return domain.Report{}, err
	}

	var forkBranches []string
	defer func() {
		p.teardown(context.WithoutCancel(ctx), forkBranches)
	}()

	if err := p.vcs.Prepare(ctx, p.cfg.TestRemoteURL, p.cfg.ProdBranch, p.cfg.ChartsDir); err != nil {
		return domain.Report{}, fmt.Errorf("preparing worktree: %w", err)
	}
	p.logger.Info("worktree prepared", "dir", p.vcs.Root())

	records, err := p.collect()
	if err != nil {
		return domain.Report{}, err
	}
	p.logger.Info("found charts", "vendorTypes", p.cfg.VendorTypes, "count", len(records))
	for _, rec := range records {
		forkBranches = append(forkBranches, rec.ForkBranch(p.cfg.StagingBranch))
	}

	results, tickets, submitErr := p.submitAll(ctx, records)

	var verifyErr error
	if submitErr != nil {
		for _, it := range tickets {
			results[it.index] = domain.UnresolvedResult(it.ticket)
		}
	} else {
		var verified []domain.VerificationResult
		verified, verifyErr = p.engine.VerifyAll(ctx, ticketsOf(tickets))
		for i, res := range verified {
			results[tickets[i].index] = res
		}
	}

	report := domain.Report{Results: results}
	if err := p.reporter.WriteReport(report); err != nil {
		p.logger.Error("failed to write report", "error", err)
	}

	if cause := abortCause(submitErr, verifyErr); cause != nil {
		return report, &domain.BatchAbortedError{Unresolved: report.Unresolved(), Err: cause}
	}
	return report, nil
}

func abortCause(submitErr, verifyErr error) error {
	if submitErr != nil {
		return submitErr
	}
	var aborted *domain.BatchAbortedError
	if errors.As(verifyErr, &aborted) {
		return aborted.Err
	}
	return verifyErr
}

func (p *Pipeline) createIndexBranch(ctx context.Context) error {
	p.logger.Info("creating index branch",
		"branch", p.cfg.TestRepo+":"+p.cfg.IndexBranch,
		"from", p.cfg.TestRepo+":"+p.cfg.IndexSourceBranch,
	)
	sha, err := p.refs.GetBranchSHA(ctx, p.cfg.TestRepo, p.cfg.IndexSourceBranch)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", p.cfg.IndexSourceBranch, err)
	}
	if err := p.refs.CreateBranch(ctx, p.cfg.TestRepo, p.cfg.IndexBranch, sha); err != nil {
		return fmt.Errorf("creating %s: %w", p.cfg.IndexBranch, err)
	}
	return nil
}

// collect drains the inventory. Malformed entries are skipped by the
// scanner; an error here means the tree itself has the wrong shape.
func (p *Pipeline) collect() ([]domain.ChartRecord, error) {
	root := filepath.Join(p.vcs.Root(), filepath.FromSlash(p.cfg.ChartsDir))
	var records []domain.ChartRecord
	for rec, err := range p.inventory.Scan(root, p.cfg.VendorTypes) {
		if err != nil {
			return nil, fmt.Errorf("scanning charts: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

type indexedTicket struct {
	index  int
	ticket domain.PipelineTicket
}

func ticketsOf(its []indexedTicket) []domain.PipelineTicket {
	out := make([]domain.PipelineTicket, len(its))
	for i, it := range its {
		out[i] = it.ticket
	}
	return out
}

// submitAll submits every record. Failed submissions become results
// straight away; the returned tickets keep their record position. Only a
// connectivity loss stops the remaining submissions.
func (p *Pipeline) submitAll(ctx context.Context, records []domain.ChartRecord) ([]domain.VerificationResult, []indexedTicket, error) {
	results := make([]domain.VerificationResult, len(records))
	submitted := make([]*domain.PipelineTicket, len(records))
	attempted := make([]bool, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SubmitConcurrency)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			attempted[i] = true
			ticket, err := p.driver.Submit(gctx, rec)
			if err != nil {
				p.logger.Error("submission failed", "chart", rec.String(), "error", err)
				results[i] = domain.SubmissionFailedResult(domain.Failed{Chart: rec, Err: err})
				if domain.IsUnreachable(err) {
					return err
				}
				return nil
			}
			submitted[i] = &ticket
			return nil
		})
	}
	err := g.Wait()

	var tickets []indexedTicket
	for i, rec := range records {
		switch {
		case submitted[i] != nil:
			tickets = append(tickets, indexedTicket{index: i, ticket: *submitted[i]})
		case !attempted[i]:
			results[i] = domain.UnresolvedResult(domain.PipelineTicket{Chart: rec})
		}
	}
	return results, tickets, err
}

func (p *Pipeline) teardown(ctx context.Context, forkBranches []string) {
	if err := p.vcs.Close(ctx); err != nil {
		p.logger.Warn("failed to remove worktree", "error", err)
	}

	p.logger.Info("deleting index branch", "branch", p.cfg.TestRepo+":"+p.cfg.IndexBranch)
	if err := p.refs.DeleteBranch(ctx, p.cfg.TestRepo, p.cfg.IndexBranch); err != nil {
		p.logger.Warn("failed to delete index branch", "branch", p.cfg.IndexBranch, "error", err)
	}
	for _, b := range forkBranches {
		p.logger.Info("deleting fork branch", "branch", p.cfg.ForkRepo+":"+b)
		if err := p.refs.DeleteBranch(ctx, p.cfg.ForkRepo, b); err != nil {
			p.logger.Warn("failed to delete fork branch", "branch", b, "error", err)
		}
	}
}
