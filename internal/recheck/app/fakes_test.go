package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/nathantilsley/chart-recheck/internal/platform/logger"
	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
	"github.com/nathantilsley/chart-recheck/internal/recheck/ports"
)

// Fake adapters for testing

var (
	_ ports.SourceHostPort     = (*fakeHost)(nil)
	_ ports.IndexPort          = (*fakeIndex)(nil)
	_ ports.VersionControlPort = (*fakeVCS)(nil)
	_ ports.DescriptorPort     = (*fakeDescriptors)(nil)
	_ ports.InventoryPort      = (*fakeInventory)(nil)
	_ ports.ReportingPort      = (*fakeReporter)(nil)
)

func testLogger() *slog.Logger {
	return logger.New("error", io.Discard)
}

var (
	noopMeter  = noopmetric.NewMeterProvider().Meter("test")
	noopTracer = nooptrace.NewTracerProvider().Tracer("test")
)

var prOpenedAt = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

func zeroBackOff(time.Duration) backoff.BackOff {
	return &backoff.ZeroBackOff{}
}

func record(vendor, chart, version string) domain.ChartRecord {
	return domain.ChartRecord{VendorType: "partner", VendorName: vendor, ChartName: chart, ChartVersion: version}
}

type fakeHost struct {
	mu sync.Mutex

	// findRun overrides the default completed/success run.
	findRun  func(pr, call int) (domain.CIRun, bool, error)
	runCalls map[int]int

	merged     map[int]bool // missing PR numbers count as merged
	mergeCalls int

	releases     []domain.Release
	releasesErr  error
	releaseCalls int
	assets       map[int64][]string
	// onAssets runs inside ListAssetNames.
	onAssets func()

	createPRErr error
	prHeads     []string
	nextPR      int

	sourceSHA       string
	createdBranches []string
	deletedBranches []string
	deletedReleases []int64
	deletedTags     []string
	deleteTagErr    error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		runCalls:  make(map[int]int),
		merged:    make(map[int]bool),
		assets:    make(map[int64][]string),
		nextPR:    100,
		sourceSHA: "abc123",
	}
}

// publish makes rec look fully released under id.
func (f *fakeHost) publish(rec domain.ChartRecord, id int64) {
	f.releases = append(f.releases, domain.Release{ID: id, Tag: rec.ReleaseTag()})
	f.assets[id] = []string{rec.ReleaseAsset()}
}

func (f *fakeHost) GetBranchSHA(_ context.Context, _, _ string) (string, error) {
	return f.sourceSHA, nil
}

func (f *fakeHost) CreateBranch(_ context.Context, repo, branch, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createdBranches = append(f.createdBranches, repo+":"+branch)
	return nil
}

func (f *fakeHost) DeleteBranch(_ context.Context, repo, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedBranches = append(f.deletedBranches, repo+":"+branch)
	return nil
}

func (f *fakeHost) DeleteTag(ctx context.Context, _, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.deleteTagErr != nil {
		return f.deleteTagErr
	}
	f.deletedTags = append(f.deletedTags, tag)
	return nil
}

func (f *fakeHost) CreatePullRequest(_ context.Context, _, head, _, _ string) (domain.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createPRErr != nil {
		return domain.PullRequest{}, f.createPRErr
	}
	f.prHeads = append(f.prHeads, head)
	f.nextPR++
	return domain.PullRequest{
		Number:    f.nextPR,
		HeadSHA:   fmt.Sprintf("sha-%d", f.nextPR),
		CreatedAt: prOpenedAt,
	}, nil
}

func (f *fakeHost) IsMerged(_ context.Context, _ string, number int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mergeCalls++
	merged, ok := f.merged[number]
	return merged || !ok, nil
}

func (f *fakeHost) FindRun(_ context.Context, _ string, t domain.PipelineTicket) (domain.CIRun, bool, error) {
	pr := t.PRNumber
	f.mu.Lock()
	f.runCalls[pr]++
	call := f.runCalls[pr]
	fn := f.findRun
	f.mu.Unlock()
	if fn != nil {
		return fn(pr, call)
	}
	return domain.CIRun{ID: int64(pr), Status: "completed", Conclusion: "success"}, true, nil
}

func (f *fakeHost) ListReleases(_ context.Context, _ string) ([]domain.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return f.releases, f.releasesErr
}

func (f *fakeHost) ListAssetNames(_ context.Context, _ string, id int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onAssets != nil {
		f.onAssets()
	}
	return f.assets[id], nil
}

func (f *fakeHost) DeleteRelease(ctx context.Context, _ string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	f.deletedReleases = append(f.deletedReleases, id)
	return nil
}

type fakeIndex struct {
	mu    sync.Mutex
	idx   domain.Index
	errs  []error // returned by successive calls, then nil
	calls int
}

func indexOf(recs ...domain.ChartRecord) *fakeIndex {
	idx := domain.Index{Entries: make(map[string][]domain.IndexVersion)}
	for _, r := range recs {
		idx.Entries[r.IndexEntry()] = append(idx.Entries[r.IndexEntry()], domain.IndexVersion{Version: r.ChartVersion})
	}
	return &fakeIndex{idx: idx}
}

func (f *fakeIndex) ReadIndex(_ context.Context) (domain.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.Index{}, err
		}
	}
	return f.idx, nil
}

type fakeVCS struct {
	mu      sync.Mutex
	root    string
	ops     []string
	pushErr func(remote, branch string) error
	closed  bool
	// staged lists every CommitChanges call; committed tracks path sets
	// already on HEAD.
	staged    []string
	committed map[string]bool
}

func (f *fakeVCS) log(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op)
}

func (f *fakeVCS) Prepare(_ context.Context, remoteURL, prodBranch, chartsDir string) error {
	f.log("prepare " + remoteURL + " " + prodBranch + " " + chartsDir)
	return nil
}

func (f *fakeVCS) Root() string { return f.root }

func (f *fakeVCS) Checkout(_ context.Context, branch, startPoint string) error {
	f.log(strings.TrimSpace("checkout " + branch + " " + startPoint))
	return nil
}

func (f *fakeVCS) Commit(_ context.Context, _ string, paths ...string) error {
	f.log("commit " + strings.Join(paths, " "))
	return nil
}

// CommitChanges commits a path set the first time it is seen, standing in
// for an index that only differs from HEAD once.
func (f *fakeVCS) CommitChanges(_ context.Context, _ string, paths ...string) (bool, error) {
	key := strings.Join(paths, " ")
	f.mu.Lock()
	f.staged = append(f.staged, key)
	if f.committed == nil {
		f.committed = make(map[string]bool)
	}
	done := f.committed[key]
	f.committed[key] = true
	f.mu.Unlock()
	if done {
		return false, nil
	}
	f.log("commit " + key)
	return true, nil
}

func (f *fakeVCS) ForcePush(_ context.Context, remoteURL, branch string) error {
	f.mu.Lock()
	fn := f.pushErr
	f.mu.Unlock()
	if fn != nil {
		if err := fn(remoteURL, branch); err != nil {
			return err
		}
	}
	f.log("push " + remoteURL + " " + branch)
	return nil
}

func (f *fakeVCS) Checkpoint(_ context.Context, message string) error {
	f.log("checkpoint " + message)
	return nil
}

func (f *fakeVCS) Close(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// count returns how many recorded operations start with prefix.
func (f *fakeVCS) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, op := range f.ops {
		if strings.HasPrefix(op, prefix) {
			n++
		}
	}
	return n
}

type fakeDescriptors struct {
	mu        sync.Mutex
	renderErr error
	files     map[string][]byte
	writes    map[string]int
}

func newFakeDescriptors() *fakeDescriptors {
	return &fakeDescriptors{files: make(map[string][]byte), writes: make(map[string]int)}
}

func (f *fakeDescriptors) Render(vars map[string]string) ([]byte, error) {
	if f.renderErr != nil {
		return nil, f.renderErr
	}
	return []byte("bot=" + vars["bot_name"] + " vendor=" + vars["vendor"] + " chart=" + vars["chart_name"]), nil
}

func (f *fakeDescriptors) Write(path string, content []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes[path]++
	changed := string(f.files[path]) != string(content)
	f.files[path] = content
	return changed, nil
}

type fakeInventory struct {
	records []domain.ChartRecord
	err     error
}

func (f *fakeInventory) Scan(_ string, _ []string) iter.Seq2[domain.ChartRecord, error] {
	return func(yield func(domain.ChartRecord, error) bool) {
		if f.err != nil {
			yield(domain.ChartRecord{}, f.err)
			return
		}
		for _, r := range f.records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

type fakeReporter struct {
	reports []domain.Report
	err     error
}

func (f *fakeReporter) WriteReport(r domain.Report) error {
	f.reports = append(f.reports, r)
	return f.err
}

var errUnreachable = errors.Join(domain.ErrUnreachable, errors.New("dial tcp: connection refused"))
