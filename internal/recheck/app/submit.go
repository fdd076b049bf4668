package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
	"github.com/nathantilsley/chart-recheck/internal/recheck/ports"
)

const (
	// actionsBotName is the identity GitHub uses for workflow tokens. PRs
	// opened by it use a bare head branch.
	actionsBotName = "github-actions[bot]"

	// stagingLine is the local branch accumulating descriptor commits.
	stagingLine = "recheck-staging"

	descriptorFile = "OWNERS"
)

// DriverConfig holds the run-scoped identity and repository settings of the
// submission driver.
type DriverConfig struct {
	BotName       string
	TestRepo      string // owner/name receiving pull requests
	ForkRepo      string // owner/name receiving per-version branches
	StagingBranch string
	ChartsDir     string
	TestRemoteURL string // authenticated push URL of TestRepo
	ForkRemoteURL string // authenticated push URL of ForkRepo
}

// Driver turns chart records into pipeline tickets: it pushes the ownership
// descriptor to the staging branch, pushes the chart version to a fork
// branch, and opens the pull request.
type Driver struct {
	vcs         ports.VersionControlPort
	descriptors ports.DescriptorPort
	prs         ports.PullRequestPort
	cfg         DriverConfig
	logger      *slog.Logger
	tracer      trace.Tracer
	submissions metric.Int64Counter

	dirs *dirLocks
	wt   sync.Mutex // serializes use of the single working copy

	pushedMu sync.Mutex
	pushed   map[domain.DirKey]bool
}

// NewDriver creates a Driver wired with its driven ports.
func NewDriver(
	vcs ports.VersionControlPort,
	descriptors ports.DescriptorPort,
	prs ports.PullRequestPort,
	cfg DriverConfig,
	logger *slog.Logger,
	meter metric.Meter,
	tracer trace.Tracer,
) *Driver {
	submissions, _ := meter.Int64Counter("chart_recheck.submissions",
		metric.WithDescription("Chart submissions by result"),
	)
	return &Driver{
		vcs:         vcs,
		descriptors: descriptors,
		prs:         prs,
		cfg:         cfg,
		logger:      logger,
		tracer:      tracer,
		submissions: submissions,
		dirs:        newDirLocks(),
		pushed:      make(map[domain.DirKey]bool),
	}
}

// Submit materializes the fork/branch/PR side of the pipeline for one chart
// version. Safe for concurrent use; versions of the same chart directory are
// serialized.
func (d *Driver) Submit(ctx context.Context, rec domain.ChartRecord) (domain.PipelineTicket, error) {
	ctx, span := d.tracer.Start(ctx, "submit chart",
		trace.WithAttributes(attribute.String("chart", rec.String())),
	)
	defer span.End()

	ticket, err := d.submit(ctx, rec)
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	return ticket, err
}

func (d *Driver) submit(ctx context.Context, rec domain.ChartRecord) (domain.PipelineTicket, error) {
	unlock := d.dirs.lock(rec.Dir())
	defer unlock()

	ticket := domain.PipelineTicket{
		Chart:            rec,
		ForkBranch:       rec.ForkBranch(d.cfg.StagingBranch),
		DescriptorPushed: d.isPushed(rec.Dir()),
	}

	descriptor, err := d.descriptors.Render(map[string]string{
		"bot_name":   d.cfg.BotName,
		"vendor":     rec.VendorName,
		"chart_name": rec.ChartName,
	})
	if err != nil {
		return ticket, &domain.SubmissionError{Chart: rec, Step: "render descriptor", Err: err}
	}

	if err := d.pushBranches(ctx, &ticket, descriptor); err != nil {
		return ticket, err
	}

	head := ticket.ForkBranch
	if d.cfg.BotName != actionsBotName {
		head = d.cfg.BotName + ":" + ticket.ForkBranch
	}
	d.logger.Info("creating pull request",
		"chart", rec.String(),
		"head", d.cfg.ForkRepo+":"+ticket.ForkBranch,
		"base", d.cfg.TestRepo+":"+d.cfg.StagingBranch,
	)
	pr, err := d.prs.CreatePullRequest(ctx, d.cfg.TestRepo, head, d.cfg.StagingBranch, ticket.ForkBranch)
	if err != nil {
		return ticket, &domain.SubmissionError{Chart: rec, Step: "create pull request", Err: err}
	}
	ticket.PRNumber = pr.Number
	ticket.HeadSHA = pr.HeadSHA
	ticket.OpenedAt = pr.CreatedAt
	d.logger.Info("pull request opened", "chart", rec.String(), "pr", pr.Number, "head_sha", pr.HeadSHA)
	return ticket, nil
}

// pushBranches performs the working copy side of a submission: the shared
// descriptor commit on first touch of a directory, then the per-version
// fork branch.
func (d *Driver) pushBranches(ctx context.Context, ticket *domain.PipelineTicket, descriptor []byte) error {
	d.wt.Lock()
	defer d.wt.Unlock()

	rec := ticket.Chart
	fail := func(step string, err error) error {
		return &domain.SubmissionError{Chart: rec, Step: step, Err: err}
	}

	if err := d.vcs.Checkout(ctx, stagingLine, ""); err != nil {
		return fail("checkout staging line", err)
	}

	if !ticket.DescriptorPushed {
		if err := d.pushDescriptor(ctx, rec, descriptor); err != nil {
			return err
		}
	} else {
		d.logger.Debug("descriptor already pushed for chart directory", "chart", rec.String())
	}

	if err := d.vcs.Checkout(ctx, ticket.ForkBranch, stagingLine); err != nil {
		return fail("create fork branch", err)
	}
	msg := fmt.Sprintf("Add %s %s %s %s chart files", rec.VendorType, rec.VendorName, rec.ChartName, rec.ChartVersion)
	if err := d.vcs.Commit(ctx, msg, rec.VersionPath(d.cfg.ChartsDir)); err != nil {
		return fail("commit chart files", err)
	}
	d.logger.Info("pushing chart files", "chart", rec.String(), "branch", d.cfg.ForkRepo+":"+ticket.ForkBranch)
	if err := d.vcs.ForcePush(ctx, d.cfg.ForkRemoteURL, ticket.ForkBranch); err != nil {
		return fail("push fork branch", err)
	}

	if err := d.vcs.Checkout(ctx, stagingLine, ""); err != nil {
		return fail("return to staging line", err)
	}
	return nil
}

func (d *Driver) pushDescriptor(ctx context.Context, rec domain.ChartRecord, descriptor []byte) error {
	fail := func(step string, err error) error {
		return &domain.SubmissionError{Chart: rec, Step: step, Err: err}
	}

	rel := rec.Dir().Path(d.cfg.ChartsDir) + "/" + descriptorFile
	if _, err := d.descriptors.Write(filepath.Join(d.vcs.Root(), filepath.FromSlash(rel)), descriptor); err != nil {
		return fail("write descriptor", err)
	}
	// The file on disk may match while the staging line lacks it, so the
	// index decides whether a commit is needed.
	msg := fmt.Sprintf("Add %s %s %s OWNERS file", rec.VendorType, rec.VendorName, rec.ChartName)
	committed, err := d.vcs.CommitChanges(ctx, msg, rel)
	if err != nil {
		return fail("commit descriptor", err)
	}
	if !committed {
		d.logger.Debug("descriptor already on staging line, nothing to commit", "chart", rec.String())
	}

	d.logger.Info("pushing descriptor", "chart", rec.String(), "branch", d.cfg.TestRepo+":"+d.cfg.StagingBranch)
	if err := d.vcs.ForcePush(ctx, d.cfg.TestRemoteURL, d.cfg.StagingBranch); err != nil {
		return fail("push descriptor", err)
	}
	d.markPushed(rec.Dir())
	return nil
}

func (d *Driver) isPushed(key domain.DirKey) bool {
	d.pushedMu.Lock()
	defer d.pushedMu.Unlock()
	return d.pushed[key]
}

func (d *Driver) markPushed(key domain.DirKey) {
	d.pushedMu.Lock()
	defer d.pushedMu.Unlock()
	d.pushed[key] = true
}
