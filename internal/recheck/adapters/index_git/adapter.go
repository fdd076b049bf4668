// Package indexgit reads the published chart index from a branch of the
// target repository. The branch is fetched into an in-memory repository, so
// reads never touch a working tree.
package indexgit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

const (
	remoteName = "origin"
	localRef   = "refs/recheck/index"

	// DefaultFile is the index document path on the index branch.
	DefaultFile = "index.yaml"
)

// TokenFunc returns the credential used for fetching. An empty token
// fetches anonymously.
type TokenFunc func(ctx context.Context) (string, error)

// Adapter implements ports.IndexPort.
type Adapter struct {
	branch string
	file   string
	token  TokenFunc
	logger *slog.Logger

	mu   sync.Mutex // serializes fetches into repo
	repo *git.Repository
}

// New creates an Adapter reading file from branch of remoteURL.
func New(remoteURL, branch, file string, token TokenFunc, logger *slog.Logger) (*Adapter, error) {
	repo, err := git.Init(memory.NewStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("initializing index repository: %w", err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{
		Name: remoteName,
		URLs: []string{remoteURL},
	}); err != nil {
		return nil, fmt.Errorf("adding index remote: %w", err)
	}
	if file == "" {
		file = DefaultFile
	}
	return &Adapter{
		branch: branch,
		file:   file,
		token:  token,
		logger: logger,
		repo:   repo,
	}, nil
}

// ReadIndex fetches the index branch and decodes the index document at its
// tip.
func (a *Adapter) ReadIndex(ctx context.Context) (domain.Index, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	content, err := a.fetchFile(ctx)
	if err != nil {
		return domain.Index{}, err
	}
	return Parse(content)
}

func (a *Adapter) fetchFile(ctx context.Context) (string, error) {
	auth, err := a.auth(ctx)
	if err != nil {
		return "", err
	}

	spec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:%s", a.branch, localRef))
	switch err := a.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       auth,
		Tags:       git.NoTags,
	}); {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
	default:
		return "", fmt.Errorf("fetching index branch %s: %w", a.branch, classify(ctx, err))
	}

	ref, err := a.repo.Reference(plumbing.ReferenceName(localRef), true)
	if err != nil {
		return "", fmt.Errorf("resolving index branch %s: %w", a.branch, err)
	}
	commit, err := a.repo.CommitObject(ref.Hash())
	if err != nil {
		return "", fmt.Errorf("reading index commit %s: %w", ref.Hash(), err)
	}
	f, err := commit.File(a.file)
	if err != nil {
		return "", fmt.Errorf("reading %s at %s: %w", a.file, ref.Hash(), err)
	}
	content, err := f.Contents()
	if err != nil {
		return "", fmt.Errorf("reading %s contents: %w", a.file, err)
	}
	a.logger.Debug("index fetched", "branch", a.branch, "commit", ref.Hash().String(), "bytes", len(content))
	return content, nil
}

func (a *Adapter) auth(ctx context.Context) (transport.AuthMethod, error) {
	if a.token == nil {
		return nil, nil
	}
	token, err := a.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtaining fetch token: %w", err)
	}
	if token == "" {
		return nil, nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token}, nil
}

type indexFile struct {
	Entries map[string][]struct {
		Version string `yaml:"version"`
	} `yaml:"entries"`
}

// Parse decodes a chart repository index document. Decoding failures are
// returned as *domain.IndexParseError.
func Parse(content string) (domain.Index, error) {
	var doc indexFile
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return domain.Index{}, &domain.IndexParseError{Err: err}
	}
	idx := domain.Index{Entries: make(map[string][]domain.IndexVersion, len(doc.Entries))}
	for name, versions := range doc.Entries {
		out := make([]domain.IndexVersion, 0, len(versions))
		for _, v := range versions {
			out = append(out, domain.IndexVersion{Version: v.Version})
		}
		idx.Entries[name] = out
	}
	return idx, nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return err
	}
	var urlErr *url.Error
	var opErr *net.OpError
	if errors.As(err, &urlErr) || errors.As(err, &opErr) {
		return fmt.Errorf("%w: %w", domain.ErrUnreachable, err)
	}
	return err
}
