package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/nathantilsley/chart-recheck/internal/platform/config"
	"github.com/nathantilsley/chart-recheck/internal/platform/logger"
	charttree "github.com/nathantilsley/chart-recheck/internal/recheck/adapters/chart_tree"
	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

const shutdownTimeout = 30 * time.Second

// runPipeline executes one recheck. SIGINT/SIGTERM cancel the run; teardown
// still happens.
func runPipeline(parent context.Context, cfg config.Config, out io.Writer) error {
	log := logger.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := NewContainer(ctx, cfg, log, out)
	if err != nil {
		return fmt.Errorf("building container: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := container.Telemetry.Shutdown(sctx); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	log.Info("starting recheck",
		"testRepo", cfg.TestRepo,
		"forkRepo", cfg.ForkRepo,
		"stagingBranch", cfg.PRBaseBranch,
		"vendorTypes", cfg.VendorTypes,
	)
	report, err := container.Pipeline.Run(ctx)
	if err != nil {
		var aborted *domain.BatchAbortedError
		if errors.As(err, &aborted) {
			log.Error("run aborted", "unresolved", aborted.Unresolved, "error", aborted.Err)
		}
		return err
	}

	counts := report.CountByOutcome()
	log.Info("recheck finished", "total", len(report.Results), "succeeded", counts[domain.OutcomeSuccess])
	if !report.Succeeded() {
		return errChartsFailed
	}
	return nil
}

// listInventory prints the chart versions found under the local clone.
func listInventory(cfg config.Config, out io.Writer) error {
	log := logger.New(cfg.LogLevel, os.Stderr)
	root := filepath.Join(cfg.RepoPath, filepath.FromSlash(cfg.ChartsDir))

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"VENDOR TYPE", "VENDOR", "CHART", "VERSION"})
	n := 0
	for rec, err := range charttree.New(log).Scan(root, cfg.VendorTypes) {
		if err != nil {
			return fmt.Errorf("scanning %s: %w", root, err)
		}
		t.AppendRow(table.Row{rec.VendorType, rec.VendorName, rec.ChartName, rec.ChartVersion})
		n++
	}
	t.AppendFooter(table.Row{"", "", "TOTAL", n})
	t.Render()
	return nil
}
