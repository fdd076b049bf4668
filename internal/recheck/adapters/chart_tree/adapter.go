// Package charttree enumerates submitted charts from a
// charts/{vendorType}/{vendorName}/{chartName}/{version} directory tree.
package charttree

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

// AllVendorTypes selects every vendor type directory under the root.
const AllVendorTypes = "all"

// Adapter implements ports.InventoryPort by walking the local filesystem.
type Adapter struct {
	logger *slog.Logger
}

// New creates a new chart tree adapter.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{logger: logger}
}

// Scan returns the chart versions under root for the given vendor types in
// lexicographic path order. Malformed entries are logged and skipped. A
// missing root or vendor type directory is yielded as a *domain.InventoryError
// and ends the sequence.
func (a *Adapter) Scan(root string, vendorTypes []string) iter.Seq2[domain.ChartRecord, error] {
	return func(yield func(domain.ChartRecord, error) bool) {
		if err := requireDir(root); err != nil {
			yield(domain.ChartRecord{}, err)
			return
		}

		types, err := a.resolveVendorTypes(root, vendorTypes)
		if err != nil {
			yield(domain.ChartRecord{}, err)
			return
		}

		for _, vendorType := range types {
			typeDir := filepath.Join(root, vendorType)
			if err := requireDir(typeDir); err != nil {
				yield(domain.ChartRecord{}, err)
				return
			}
			for _, vendor := range a.subdirs(typeDir) {
				vendorDir := filepath.Join(typeDir, vendor)
				for _, chart := range a.subdirs(vendorDir) {
					chartDir := filepath.Join(vendorDir, chart)
					versions := a.versions(chartDir)
					if len(versions) == 0 {
						a.logger.Warn("skipping chart without versions", "path", chartDir)
						continue
					}
					for _, version := range versions {
						rec := domain.ChartRecord{
							VendorType:   vendorType,
							VendorName:   vendor,
							ChartName:    chart,
							ChartVersion: version,
						}
						if !yield(rec, nil) {
							return
						}
					}
				}
			}
		}
	}
}

// resolveVendorTypes expands "all" into the directories present under root
// and de-duplicates the requested list, sorted.
func (a *Adapter) resolveVendorTypes(root string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, &domain.InventoryError{Path: root, Reason: "no vendor type requested"}
	}
	for _, vt := range requested {
		if vt == AllVendorTypes {
			return a.subdirs(root), nil
		}
	}

	seen := make(map[string]struct{}, len(requested))
	var types []string
	for _, vt := range requested {
		vt = strings.TrimSpace(vt)
		if vt == "" || strings.ContainsRune(vt, filepath.Separator) {
			return nil, &domain.InventoryError{Path: root, Reason: fmt.Sprintf("invalid vendor type %q", vt)}
		}
		if _, ok := seen[vt]; ok {
			continue
		}
		seen[vt] = struct{}{}
		types = append(types, vt)
	}
	slices.Sort(types)
	return types, nil
}

// subdirs lists the directories of dir in name order, warning about
// unexpected files.
func (a *Adapter) subdirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		a.logger.Warn("skipping unreadable directory", "path", dir, "error", err)
		return nil
	}
	var names []string
	for _, e := range entries {
		if skipSilently(e) {
			continue
		}
		if !e.IsDir() {
			a.logger.Warn("skipping unexpected file", "path", filepath.Join(dir, e.Name()))
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

// versions lists the version directories of a chart directory. Names that
// are not semantic versions are skipped.
func (a *Adapter) versions(chartDir string) []string {
	var out []string
	for _, name := range a.subdirs(chartDir) {
		if _, err := semver.NewVersion(name); err != nil {
			a.logger.Warn("skipping malformed chart version", "path", filepath.Join(chartDir, name), "error", err)
			continue
		}
		out = append(out, name)
	}
	return out
}

// skipSilently reports entries that legitimately live next to chart
// directories: hidden files and the ownership descriptor.
func skipSilently(e fs.DirEntry) bool {
	name := e.Name()
	return strings.HasPrefix(name, ".") || (!e.IsDir() && name == "OWNERS")
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &domain.InventoryError{Path: path, Reason: "directory does not exist"}
		}
		return &domain.InventoryError{Path: path, Reason: err.Error()}
	}
	if !info.IsDir() {
		return &domain.InventoryError{Path: path, Reason: "not a directory"}
	}
	return nil
}
