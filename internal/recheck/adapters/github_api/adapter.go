// Package githubapi implements the source-hosting ports with the GitHub REST
// API: branches, tags, pull requests, workflow runs and releases.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/v68/github"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

// ciEvent is the trigger of the certification workflow on submitted PRs.
const ciEvent = "pull_request_target"

const perPage = 100

// Adapter implements ports.SourceHostPort. Repositories are addressed as
// "owner/name".
type Adapter struct {
	client *gogithub.Client
	logger *slog.Logger
}

// New creates a GitHub source-hosting adapter.
func New(client *gogithub.Client, logger *slog.Logger) *Adapter {
	return &Adapter{client: client, logger: logger}
}

// GetBranchSHA returns the commit the branch points at.
func (a *Adapter) GetBranchSHA(ctx context.Context, repo, branch string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	ref, _, err := a.client.Git.GetRef(ctx, owner, name, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("getting branch %s of %s: %w", branch, repo, classify(ctx, err))
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates branch at sha.
func (a *Adapter) CreateBranch(ctx context.Context, repo, branch, sha string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = a.client.Git.CreateRef(ctx, owner, name, &gogithub.Reference{
		Ref:    gogithub.Ptr("refs/heads/" + branch),
		Object: &gogithub.GitObject{SHA: gogithub.Ptr(sha)},
	})
	if err != nil {
		return fmt.Errorf("creating branch %s of %s: %w", branch, repo, classify(ctx, err))
	}
	a.logger.Info("branch created", "repo", repo, "branch", branch, "sha", sha)
	return nil
}

// DeleteBranch deletes branch.
func (a *Adapter) DeleteBranch(ctx context.Context, repo, branch string) error {
	return a.deleteRef(ctx, repo, "heads/"+branch)
}

// DeleteTag deletes tag.
func (a *Adapter) DeleteTag(ctx context.Context, repo, tag string) error {
	return a.deleteRef(ctx, repo, "tags/"+tag)
}

func (a *Adapter) deleteRef(ctx context.Context, repo, ref string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	if _, err := a.client.Git.DeleteRef(ctx, owner, name, ref); err != nil {
		return fmt.Errorf("deleting %s of %s: %w", ref, repo, classify(ctx, err))
	}
	a.logger.Debug("ref deleted", "repo", repo, "ref", ref)
	return nil
}

// CreatePullRequest opens a pull request and returns its number and the
// head commit it was opened at.
func (a *Adapter) CreatePullRequest(ctx context.Context, repo, head, base, title string) (domain.PullRequest, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return domain.PullRequest{}, err
	}
	pr, _, err := a.client.PullRequests.Create(ctx, owner, name, &gogithub.NewPullRequest{
		Title: gogithub.Ptr(title),
		Head:  gogithub.Ptr(head),
		Base:  gogithub.Ptr(base),
	})
	if err != nil {
		return domain.PullRequest{}, fmt.Errorf("creating pull request %s -> %s: %w", head, base, classify(ctx, err))
	}
	return domain.PullRequest{
		Number:    pr.GetNumber(),
		HeadSHA:   pr.GetHead().GetSHA(),
		CreatedAt: pr.GetCreatedAt().Time,
	}, nil
}

// IsMerged reports whether the pull request has been merged.
func (a *Adapter) IsMerged(ctx context.Context, repo string, number int) (bool, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return false, err
	}
	merged, _, err := a.client.PullRequests.IsMerged(ctx, owner, name, number)
	if err != nil {
		return false, fmt.Errorf("checking merge of PR #%d: %w", number, classify(ctx, err))
	}
	return merged, nil
}

// FindRun returns the newest certification run for the ticket's pull
// request. The listing is narrowed to the ticket's head commit, so runs left
// on the same fork branch by an earlier submission never match. Runs that
// list their pull requests must also include the ticket's PR number.
func (a *Adapter) FindRun(ctx context.Context, repo string, t domain.PipelineTicket) (domain.CIRun, bool, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return domain.CIRun{}, false, err
	}

	opts := &gogithub.ListWorkflowRunsOptions{
		Event:       ciEvent,
		HeadSHA:     t.HeadSHA,
		ListOptions: gogithub.ListOptions{PerPage: perPage},
	}
	for {
		runs, resp, err := a.client.Actions.ListRepositoryWorkflowRuns(ctx, owner, name, opts)
		if err != nil {
			return domain.CIRun{}, false, fmt.Errorf("listing workflow runs: %w", classify(ctx, err))
		}

		// The API returns runs newest first.
		for _, run := range runs.WorkflowRuns {
			if !runMatches(run, t) {
				continue
			}
			return domain.CIRun{
				ID:         run.GetID(),
				Status:     run.GetStatus(),
				Conclusion: run.GetConclusion(),
			}, true, nil
		}
		if resp.NextPage == 0 {
			return domain.CIRun{}, false, nil
		}
		opts.Page = resp.NextPage
	}
}

func runMatches(run *gogithub.WorkflowRun, t domain.PipelineTicket) bool {
	if t.HeadSHA != "" && run.GetHeadSHA() != t.HeadSHA {
		return false
	}
	if !t.OpenedAt.IsZero() && run.GetCreatedAt().Before(t.OpenedAt) {
		return false
	}
	if len(run.PullRequests) == 0 {
		// Runs from forks list no pull requests. Without a commit to pin
		// them to, the branch name alone is not enough.
		return t.HeadSHA != "" && run.GetHeadBranch() == t.ForkBranch
	}
	for _, pr := range run.PullRequests {
		if pr.GetNumber() == t.PRNumber {
			return true
		}
	}
	return false
}

// ListReleases returns every release of the repository.
func (a *Adapter) ListReleases(ctx context.Context, repo string) ([]domain.Release, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var out []domain.Release
	opts := &gogithub.ListOptions{PerPage: perPage}
	for {
		releases, resp, err := a.client.Repositories.ListReleases(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("listing releases of %s: %w", repo, classify(ctx, err))
		}
		for _, r := range releases {
			out = append(out, domain.Release{ID: r.GetID(), Tag: r.GetTagName()})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListAssetNames returns the file names of the release's assets.
func (a *Adapter) ListAssetNames(ctx context.Context, repo string, releaseID int64) ([]string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return nil, err
	}

	var out []string
	opts := &gogithub.ListOptions{PerPage: perPage}
	for {
		assets, resp, err := a.client.Repositories.ListReleaseAssets(ctx, owner, name, releaseID, opts)
		if err != nil {
			return nil, fmt.Errorf("listing assets of release %d: %w", releaseID, classify(ctx, err))
		}
		for _, asset := range assets {
			out = append(out, asset.GetName())
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// DeleteRelease deletes the release. Its tag is left in place.
func (a *Adapter) DeleteRelease(ctx context.Context, repo string, releaseID int64) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	if _, err := a.client.Repositories.DeleteRelease(ctx, owner, name, releaseID); err != nil {
		return fmt.Errorf("deleting release %d: %w", releaseID, classify(ctx, err))
	}
	return nil
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q, want owner/name", repo)
	}
	return owner, name, nil
}

// classify marks transport failures as loss of connectivity. API errors and
// caller cancellation pass through.
func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	}
	return err
}
