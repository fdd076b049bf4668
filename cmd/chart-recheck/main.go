// Command chart-recheck re-submits every published chart version through
// the certification pipeline and verifies the published outcome.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nathantilsley/chart-recheck/internal/platform/config"
)

// Version is set at build time.
var Version = "dev"

// errChartsFailed signals a completed run in which some chart versions did
// not reach the success outcome.
var errChartsFailed = errors.New("one or more chart versions failed recertification")

type options struct {
	vendorType string
	repoPath   string
}

// apply overrides configuration with flags the user set explicitly.
func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("vendor-type") {
		cfg.VendorTypes = config.ParseList(o.vendorType)
	}
	if cmd.Flags().Changed("repo-path") {
		cfg.RepoPath = o.repoPath
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "chart-recheck",
		Short: "Re-run certification for every published chart version",
		Long: `chart-recheck walks the charts tree of a chart repository, opens one pull
request per chart version against a staging branch, and verifies that the
certification workflow merged it and published the index entry, release and
package. Results are printed as a table; the exit code is non-zero when any
chart version did not pass.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.vendorType, "vendor-type", "",
		`comma separated vendor types to include, or "all" (overrides VENDOR_TYPE)`)
	cmd.PersistentFlags().StringVar(&opts.repoPath, "repo-path", "",
		"local clone of the test repository (overrides REPO_PATH)")

	cmd.AddCommand(newRunCmd(opts), newInventoryCmd(opts))
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Submit and verify every chart version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			opts.apply(cmd, &cfg)
			return runPipeline(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func newInventoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inventory",
		Short: "List the chart versions a run would submit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadTree()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			opts.apply(cmd, &cfg)
			return listInventory(cfg, cmd.OutOrStdout())
		},
	}
}
