// Package gitcli implements the version control port with the git binary,
// working in a disposable worktree of the local clone.
package gitcli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nathantilsley/chart-recheck/internal/platform/gitrepo"
)

// Adapter implements ports.VersionControlPort.
type Adapter struct {
	wt     *gitrepo.Worktree
	logger *slog.Logger
}

// New creates an Adapter for the clone at repoPath.
func New(repoPath string, logger *slog.Logger) *Adapter {
	return &Adapter{
		wt:     gitrepo.New(repoPath, "chart-recheck-", logger),
		logger: logger,
	}
}

// Prepare adds the worktree and brings chartsDir from prodBranch of
// remoteURL into it as unstaged changes.
func (a *Adapter) Prepare(ctx context.Context, remoteURL, prodBranch, chartsDir string) error {
	if err := a.wt.Start(ctx); err != nil {
		return fmt.Errorf("adding worktree: %w", err)
	}

	ref := "refs/remotes/recheck/" + prodBranch
	if _, err := a.wt.Git(ctx, "fetch", "--force", remoteURL, "refs/heads/"+prodBranch+":"+ref); err != nil {
		return fmt.Errorf("fetching %s: %w", prodBranch, redact(err, remoteURL))
	}
	if _, err := a.wt.Git(ctx, "checkout", ref, "--", chartsDir); err != nil {
		return fmt.Errorf("checking out %s from %s: %w", chartsDir, prodBranch, err)
	}
	if _, err := a.wt.Git(ctx, "restore", "--staged", chartsDir); err != nil {
		return fmt.Errorf("unstaging %s: %w", chartsDir, err)
	}
	a.logger.Info("worktree prepared", "dir", a.wt.Path(), "branch", prodBranch, "charts", chartsDir)
	return nil
}

// Root returns the worktree directory.
func (a *Adapter) Root() string {
	return a.wt.Path()
}

// Checkout switches to branch. With a start point the branch is created or
// reset there; without one it is created at HEAD if missing.
func (a *Adapter) Checkout(ctx context.Context, branch, startPoint string) error {
	if startPoint != "" {
		if _, err := a.wt.Git(ctx, "checkout", "-B", branch, startPoint); err != nil {
			return fmt.Errorf("resetting branch %s to %s: %w", branch, startPoint, err)
		}
		return nil
	}

	if _, err := a.wt.Git(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch); err != nil {
		if _, err := a.wt.Git(ctx, "checkout", "-b", branch); err != nil {
			return fmt.Errorf("creating branch %s: %w", branch, err)
		}
		return nil
	}
	if _, err := a.wt.Git(ctx, "checkout", branch); err != nil {
		return fmt.Errorf("checking out branch %s: %w", branch, err)
	}
	return nil
}

// Commit stages paths (slash separated, relative to Root) and commits them.
// An empty commit is recorded when nothing changed.
func (a *Adapter) Commit(ctx context.Context, message string, paths ...string) error {
	if err := a.stage(ctx, paths); err != nil {
		return err
	}
	if _, err := a.wt.Git(ctx, "commit", "--allow-empty", "--no-verify", "-m", message); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// CommitChanges stages paths and commits only when the index differs from
// HEAD afterwards. Files copied in untracked by Prepare are committed even
// when their content already matches what the caller wants.
func (a *Adapter) CommitChanges(ctx context.Context, message string, paths ...string) (bool, error) {
	if err := a.stage(ctx, paths); err != nil {
		return false, err
	}
	_, err := a.wt.Git(ctx, append([]string{"diff", "--cached", "--quiet", "--"}, nativePaths(paths)...)...)
	if err == nil {
		return false, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 1 {
		return false, fmt.Errorf("checking staged changes: %w", err)
	}
	if _, err := a.wt.Git(ctx, "commit", "--no-verify", "-m", message); err != nil {
		return false, fmt.Errorf("committing: %w", err)
	}
	return true, nil
}

func (a *Adapter) stage(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if _, err := a.wt.Git(ctx, append([]string{"add", "--"}, nativePaths(paths)...)...); err != nil {
		return fmt.Errorf("staging %s: %w", strings.Join(paths, ", "), err)
	}
	return nil
}

func nativePaths(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.FromSlash(p)
	}
	return out
}

// ForcePush pushes HEAD to branch of remoteURL, replacing its history.
func (a *Adapter) ForcePush(ctx context.Context, remoteURL, branch string) error {
	if _, err := a.wt.Git(ctx, "push", "--force", remoteURL, "HEAD:refs/heads/"+branch); err != nil {
		return fmt.Errorf("pushing %s: %w", branch, redact(err, remoteURL))
	}
	return nil
}

// Checkpoint commits every pending change of the source clone.
func (a *Adapter) Checkpoint(ctx context.Context, message string) error {
	if _, err := a.wt.GitSource(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("staging checkpoint: %w", err)
	}
	if _, err := a.wt.GitSource(ctx, "commit", "--allow-empty", "--no-verify", "-m", message); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}
	a.logger.Info("checkpoint committed", "repo", a.wt.SourcePath(), "message", message)
	return nil
}

// Close removes the worktree.
func (a *Adapter) Close(ctx context.Context) error {
	return a.wt.Stop(ctx)
}

// redact strips credentials embedded in remoteURL from git error output.
func redact(err error, remoteURL string) error {
	msg := err.Error()
	if !strings.Contains(msg, remoteURL) {
		return err
	}
	return fmt.Errorf("%s", strings.ReplaceAll(msg, remoteURL, stripUserinfo(remoteURL)))
}

func stripUserinfo(remoteURL string) string {
	scheme, rest, ok := strings.Cut(remoteURL, "://")
	if !ok {
		return remoteURL
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
