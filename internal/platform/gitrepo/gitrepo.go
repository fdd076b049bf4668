// Package gitrepo manages a disposable git worktree of a local clone: add,
// run git commands inside it, and remove it.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ErrNotStarted is returned when a command is run before Start.
var ErrNotStarted = errors.New("worktree not started")

// Worktree owns the add/run/remove lifecycle of one detached worktree.
type Worktree struct {
	sourcePath string // existing clone the worktree is attached to
	prefix     string
	logger     *slog.Logger

	dir   string
	ready atomic.Bool
	mu    sync.Mutex // serializes git commands in the worktree
}

// New creates a Worktree of the clone at sourcePath. No I/O is performed;
// call Start to create it.
func New(sourcePath, prefix string, logger *slog.Logger) *Worktree {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	if prefix == "" {
		prefix = "worktree-"
	}
	return &Worktree{
		sourcePath: sourcePath,
		prefix:     prefix,
		logger:     logger,
	}
}

// Start adds a detached worktree at HEAD of the source clone in a new
// temporary directory.
func (w *Worktree) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ready.Load() {
		return nil
	}

	dir, err := os.MkdirTemp("", w.prefix)
	if err != nil {
		return fmt.Errorf("creating worktree dir: %w", err)
	}
	if _, err := run(ctx, w.sourcePath, "worktree", "add", "--detach", dir, "HEAD"); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}

	w.dir = dir
	w.ready.Store(true)
	w.logger.Info("worktree added", "source", w.sourcePath, "dir", dir)
	return nil
}

// Ready returns true after Start has created the worktree.
func (w *Worktree) Ready() bool {
	return w.ready.Load()
}

// Path returns the worktree directory, or "" before Start.
func (w *Worktree) Path() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dir
}

// SourcePath returns the clone the worktree belongs to.
func (w *Worktree) SourcePath() string {
	return w.sourcePath
}

// Git runs a git command inside the worktree and returns its combined output.
func (w *Worktree) Git(ctx context.Context, args ...string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.ready.Load() {
		return "", ErrNotStarted
	}
	return run(ctx, w.dir, args...)
}

// GitSource runs a git command in the source clone.
func (w *Worktree) GitSource(ctx context.Context, args ...string) (string, error) {
	return run(ctx, w.sourcePath, args...)
}

// Stop removes the worktree and its directory. Calling Stop on a worktree
// that was never started is a no-op.
func (w *Worktree) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.ready.Load() {
		return nil
	}
	w.ready.Store(false)

	_, err := run(ctx, w.sourcePath, "worktree", "remove", "--force", w.dir)
	if rmErr := os.RemoveAll(w.dir); rmErr != nil && err == nil {
		err = fmt.Errorf("removing worktree dir: %w", rmErr)
	}
	w.logger.Info("worktree removed", "dir", w.dir)
	return err
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	//nolint:gosec // G204: arguments come from configuration, not user input
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s failed: %w\noutput: %s", args[0], err, output)
	}
	return string(output), nil
}
