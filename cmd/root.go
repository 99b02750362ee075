// Package cmd defines the docs2pdf command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs2pdf",
		Short: "Convert a documentation site to PDF from its sitemap.",
		Long: `docs2pdf reads a site's sitemap, renders every listed page with headless
Chrome and writes one PDF per page, or a single merged document. Runs can be
interrupted and resumed from a checkpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String("config", "", "YAML config file")
	cmd.AddCommand(newConvertCmd())
	return cmd
}

// Execute runs the CLI until it finishes or SIGINT/SIGTERM arrives, and exits
// non-zero on a fatal error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "docs2pdf: %v\n", err)
		os.Exit(1)
	}
}
