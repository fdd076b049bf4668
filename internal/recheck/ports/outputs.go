package ports

import (
	"context"
	"iter"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

// InventoryPort enumerates the charts present in a source tree. The returned
// sequence is lazy and can be ranged over more than once; each pass rescans.
type InventoryPort interface {
	Scan(root string, vendorTypes []string) iter.Seq2[domain.ChartRecord, error]
}

// DescriptorPort renders the ownership descriptor for a chart directory.
type DescriptorPort interface {
	Render(vars map[string]string) ([]byte, error)
	// Write stores content at path and reports whether the file changed.
	Write(path string, content []byte) (changed bool, err error)
}

// VersionControlPort abstracts the local git operations of a submission run.
// Implementations operate on a single working copy; callers serialize use.
type VersionControlPort interface {
	// Prepare creates the isolated working copy and checks out chartsDir
	// from prodBranch of remoteURL without staging it.
	Prepare(ctx context.Context, remoteURL, prodBranch, chartsDir string) error
	// Root returns the working copy directory.
	Root() string
	// Checkout switches to branch, creating or resetting it at startPoint
	// when startPoint is not empty.
	Checkout(ctx context.Context, branch, startPoint string) error
	// Commit stages paths and commits them with message.
	Commit(ctx context.Context, message string, paths ...string) error
	// CommitChanges stages paths and commits them only when the index then
	// differs from HEAD. It reports whether a commit was made.
	CommitChanges(ctx context.Context, message string, paths ...string) (bool, error)
	// ForcePush pushes HEAD to refs/heads/branch of remoteURL.
	ForcePush(ctx context.Context, remoteURL, branch string) error
	// Checkpoint commits all pending changes of the source clone.
	Checkpoint(ctx context.Context, message string) error
	// Close removes the working copy.
	Close(ctx context.Context) error
}

// RefPort manages branches and tags on the source-hosting service.
type RefPort interface {
	GetBranchSHA(ctx context.Context, repo, branch string) (string, error)
	CreateBranch(ctx context.Context, repo, branch, sha string) error
	DeleteBranch(ctx context.Context, repo, branch string) error
	DeleteTag(ctx context.Context, repo, tag string) error
}

// PullRequestPort opens pull requests and reports their merge state.
type PullRequestPort interface {
	CreatePullRequest(ctx context.Context, repo, head, base, title string) (domain.PullRequest, error)
	IsMerged(ctx context.Context, repo string, number int) (bool, error)
}

// CIPort locates the CI run validating a pull request.
type CIPort interface {
	// FindRun returns the latest run for the ticket's pull request, if any.
	// Runs for another commit than the ticket's HeadSHA never match.
	FindRun(ctx context.Context, repo string, t domain.PipelineTicket) (domain.CIRun, bool, error)
}

// ReleasePort lists and deletes releases of the target repository.
type ReleasePort interface {
	ListReleases(ctx context.Context, repo string) ([]domain.Release, error)
	ListAssetNames(ctx context.Context, repo string, releaseID int64) ([]string, error)
	DeleteRelease(ctx context.Context, repo string, releaseID int64) error
}

// SourceHostPort groups the source-hosting operations the pipeline consumes.
type SourceHostPort interface {
	RefPort
	PullRequestPort
	CIPort
	ReleasePort
}

// IndexPort reads the published index document. A decoding failure is
// returned as *domain.IndexParseError.
type IndexPort interface {
	ReadIndex(ctx context.Context) (domain.Index, error)
}

// ReportingPort renders the aggregated report.
type ReportingPort interface {
	WriteReport(report domain.Report) error
}
