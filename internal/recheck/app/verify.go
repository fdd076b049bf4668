package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
	"github.com/nathantilsley/chart-recheck/internal/recheck/ports"
)

var (
	errRunNotFound  = errors.New("workflow run not found")
	errRunPending   = errors.New("workflow run not completed")
	errNotMergedYet = errors.New("pull request not merged")
)

// EngineConfig holds the polling budgets of the verification engine.
type EngineConfig struct {
	TestRepo      string
	PollAttempts  uint
	PollInterval  time.Duration
	MergeAttempts uint
	MergeInterval time.Duration
	Concurrency   int
}

// VerifyHost is the subset of the source-hosting API the engine reads and
// cleans up through.
type VerifyHost interface {
	ports.CIPort
	ports.PullRequestPort
	ports.ReleasePort
	DeleteTag(ctx context.Context, repo, tag string) error
}

// Engine runs one verification state machine per ticket.
type Engine struct {
	host     VerifyHost
	index    ports.IndexPort
	cfg      EngineConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	outcomes metric.Int64Counter

	// newBackOff builds the delay policy between polls.
	newBackOff func(interval time.Duration) backoff.BackOff
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithBackOff replaces the constant-interval polling policy.
func WithBackOff(fn func(interval time.Duration) backoff.BackOff) EngineOption {
	return func(e *Engine) {
		e.newBackOff = fn
	}
}

// NewEngine creates a verification Engine.
func NewEngine(
	host VerifyHost,
	index ports.IndexPort,
	cfg EngineConfig,
	logger *slog.Logger,
	meter metric.Meter,
	tracer trace.Tracer,
	opts ...EngineOption,
) *Engine {
	outcomes, _ := meter.Int64Counter("chart_recheck.verification.outcomes",
		metric.WithDescription("Verification outcomes by code"),
	)
	e := &Engine{
		host:     host,
		index:    index,
		cfg:      cfg,
		logger:   logger,
		tracer:   tracer,
		outcomes: outcomes,
		newBackOff: func(interval time.Duration) backoff.BackOff {
			return backoff.NewConstantBackOff(interval)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.Concurrency <= 0 {
		e.cfg.Concurrency = 1
	}
	if e.cfg.PollAttempts == 0 {
		e.cfg.PollAttempts = 1
	}
	if e.cfg.MergeAttempts == 0 {
		e.cfg.MergeAttempts = 1
	}
	return e
}

// VerifyAll verifies every ticket independently and returns one result per
// ticket, in ticket order. The only error is a *domain.BatchAbortedError when
// connectivity is lost; unfinished tickets are then reported as unresolved.
func (e *Engine) VerifyAll(ctx context.Context, tickets []domain.PipelineTicket) ([]domain.VerificationResult, error) {
	results := make([]domain.VerificationResult, len(tickets))
	finished := make([]bool, len(tickets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, t := range tickets {
		g.Go(func() error {
			res, err := e.Verify(gctx, t)
			if err != nil {
				return err
			}
			results[i] = res
			finished[i] = true
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		return results, nil
	}

	unresolved := 0
	for i, t := range tickets {
		if !finished[i] {
			results[i] = domain.UnresolvedResult(t)
			unresolved++
		}
	}
	e.logger.Error("verification aborted", "unresolved", unresolved, "error", err)
	return results, &domain.BatchAbortedError{Unresolved: unresolved, Err: err}
}

// Verify advances one ticket through the machine until it is done. Stage
// failures are recorded in the result; an error is returned only when the
// ticket could not be resolved because the context ended or a remote
// collaborator became unreachable.
func (e *Engine) Verify(ctx context.Context, t domain.PipelineTicket) (domain.VerificationResult, error) {
	ctx, span := e.tracer.Start(ctx, "verify ticket",
		trace.WithAttributes(
			attribute.String("chart", t.Chart.String()),
			attribute.Int("pr", t.PRNumber),
		),
	)
	defer span.End()

	res := domain.NewResult(t)
	e.logger.Info("verification started", "chart", t.Chart.String(), "pr", t.PRNumber, "stage", res.Stage.String())

	for !res.Done() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		from := res.Stage
		var err error
		switch res.Stage {
		case domain.StageAwaitCI:
			res, err = e.awaitCI(ctx, res)
		case domain.StageCheckMerge:
			res, err = e.checkMerge(ctx, res)
		case domain.StageCheckIndex:
			res, err = e.checkIndex(ctx, res)
		case domain.StageCheckRelease:
			res, err = e.checkRelease(ctx, res)
		case domain.StageCheckAsset:
			res, err = e.checkAsset(ctx, res)
		default:
			return res, fmt.Errorf("ticket %s in unexpected stage %s", t.Chart, res.Stage)
		}
		if err != nil {
			span.RecordError(err)
			return res, err
		}
		span.AddEvent(from.String(), trace.WithAttributes(attribute.String("next", res.Stage.String())))
		e.logTransition(from, res)
	}

	e.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(res.Outcome))))
	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))
	return res, nil
}

func (e *Engine) logTransition(from domain.Stage, res domain.VerificationResult) {
	chart := res.Ticket.Chart.String()
	if !res.Done() {
		e.logger.Info("stage passed", "chart", chart, "stage", from.String(), "next", res.Stage.String())
		return
	}
	if res.Outcome == domain.OutcomeSuccess {
		e.logger.Info("verification succeeded", "chart", chart, "stage", from.String(), "outcome", string(res.Outcome))
		return
	}
	e.logger.Warn("verification stopped",
		"chart", chart,
		"stage", from.String(),
		"outcome", string(res.Outcome),
		"reason", res.Reason,
	)
}

// abort reports whether err ends the ticket without a verdict.
func abort(ctx context.Context, err error) bool {
	return domain.IsUnreachable(err) || ctx.Err() != nil
}

func (e *Engine) awaitCI(ctx context.Context, res domain.VerificationResult) (domain.VerificationResult, error) {
	t := res.Ticket
	poll := func() (domain.CIRun, error) {
		run, found, err := e.host.FindRun(ctx, e.cfg.TestRepo, t)
		switch {
		case domain.IsUnreachable(err):
			return run, backoff.Permanent(err)
		case err != nil:
			return run, err
		case !found:
			return run, errRunNotFound
		case !run.Completed():
			return run, errRunPending
		}
		return run, nil
	}

	run, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(e.newBackOff(e.cfg.PollInterval)),
		backoff.WithMaxTries(e.cfg.PollAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.Debug("waiting for workflow run", "chart", t.Chart.String(), "pr", t.PRNumber, "reason", err, "next", next)
		}),
	)
	if err != nil && abort(ctx, err) {
		return res, err
	}
	if err == nil {
		e.logger.Info("workflow run completed", "chart", t.Chart.String(), "runID", run.ID, "conclusion", run.Conclusion)
	}
	return domain.StepCI(res, run, err != nil), nil
}

func (e *Engine) checkMerge(ctx context.Context, res domain.VerificationResult) (domain.VerificationResult, error) {
	t := res.Ticket
	poll := func() (bool, error) {
		merged, err := e.host.IsMerged(ctx, e.cfg.TestRepo, t.PRNumber)
		switch {
		case domain.IsUnreachable(err):
			return false, backoff.Permanent(err)
		case err != nil:
			return false, err
		case !merged:
			return false, errNotMergedYet
		}
		return true, nil
	}

	merged, err := backoff.Retry(ctx, poll,
		backoff.WithBackOff(e.newBackOff(e.cfg.MergeInterval)),
		backoff.WithMaxTries(e.cfg.MergeAttempts),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil && abort(ctx, err) {
		return res, err
	}
	res = domain.StepMerge(res, merged)
	if err != nil && !errors.Is(err, errNotMergedYet) {
		res.Reason = fmt.Sprintf("%s: %v", res.Reason, err)
	}
	return res, nil
}

func (e *Engine) checkIndex(ctx context.Context, res domain.VerificationResult) (domain.VerificationResult, error) {
	idx, err := e.index.ReadIndex(ctx)
	if err != nil && abort(ctx, err) {
		return res, err
	}
	if err != nil {
		e.logger.Warn("error reading index", "chart", res.Ticket.Chart.String(), "error", err)
	}
	return domain.StepIndex(res, idx, err), nil
}

func (e *Engine) checkRelease(ctx context.Context, res domain.VerificationResult) (domain.VerificationResult, error) {
	releases, err := e.host.ListReleases(ctx, e.cfg.TestRepo)
	if err != nil {
		if abort(ctx, err) {
			return res, err
		}
		res, _ = domain.StepRelease(res, nil)
		res.Reason = fmt.Sprintf("listing releases: %v", err)
		return res, nil
	}

	res, duplicates := domain.StepRelease(res, releases)
	if duplicates > 0 {
		e.logger.Warn("multiple releases carry the expected tag, using the first",
			"chart", res.Ticket.Chart.String(),
			"tag", res.Ticket.Chart.ReleaseTag(),
			"duplicates", duplicates,
		)
	}
	if res.Stage == domain.StageCheckAsset {
		e.logger.Info("release found", "chart", res.Ticket.Chart.String(), "tag", res.Ticket.Chart.ReleaseTag(), "releaseID", res.ReleaseID)
	}
	return res, nil
}

// checkAsset verifies the release asset and then deletes the release and its
// tag whatever the asset verdict.
func (e *Engine) checkAsset(ctx context.Context, res domain.VerificationResult) (domain.VerificationResult, error) {
	names, err := e.host.ListAssetNames(ctx, e.cfg.TestRepo, res.ReleaseID)
	if err != nil && abort(ctx, err) {
		return res, err
	}
	res = domain.StepAsset(res, names)
	if err != nil {
		res.Reason = fmt.Sprintf("%s: listing assets: %v", res.Reason, err)
	}

	// A sibling ticket aborting the batch must not leave the release behind.
	if res.NeedsCleanup() {
		res.CleanedUp = e.cleanup(context.WithoutCancel(ctx), res)
	}
	return res, nil
}

func (e *Engine) cleanup(ctx context.Context, res domain.VerificationResult) bool {
	chart := res.Ticket.Chart.String()
	tag := res.Ticket.Chart.ReleaseTag()
	ok := true

	e.logger.Info("deleting release", "chart", chart, "tag", tag, "releaseID", res.ReleaseID)
	if err := e.host.DeleteRelease(ctx, e.cfg.TestRepo, res.ReleaseID); err != nil {
		e.logger.Error("failed to delete release", "chart", chart, "releaseID", res.ReleaseID, "error", err)
		ok = false
	}
	e.logger.Info("deleting release tag", "chart", chart, "tag", tag)
	if err := e.host.DeleteTag(ctx, e.cfg.TestRepo, tag); err != nil {
		e.logger.Error("failed to delete release tag", "chart", chart, "tag", tag, "error", err)
		ok = false
	}
	return ok
}
