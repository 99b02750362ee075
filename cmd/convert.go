package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs2pdf/internal/api"
	"github.com/JakeFAU/docs2pdf/internal/app"
	"github.com/JakeFAU/docs2pdf/internal/config"
	"github.com/JakeFAU/docs2pdf/internal/logging"
)

// errInterrupted marks a run stopped by a signal; the checkpoint allows
// resuming it.
var errInterrupted = errors.New("conversion interrupted; rerun with --resume to continue")

// newServices builds the run's collaborators. Tests replace it.
var newServices = app.NewServices

// newLogger builds the process logger. Tests replace it.
var newLogger = logging.New

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Render every page listed in a sitemap",
		Example: `  docs2pdf convert --url https://docs.example.com/sitemap.xml --output-dir ./pdf
  docs2pdf convert --url https://docs.example.com/sitemap.xml --merge --merge-order sitemap
  docs2pdf convert --url https://docs.example.com/sitemap.xml --resume --exclude '/blog/'`,
		Args: cobra.NoArgs,
		RunE: runConvertCommand,
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runConvertCommand(cmd *cobra.Command, _ []string) error {
	cfgPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("read --config: %w", err)
	}
	cfg, err := config.Load(cfgPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logging.Sync(logger) }()

	ctx := cmd.Context()
	svc, err := newServices(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize services: %w", err)
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.Warn("failed to close services", zap.Error(cerr))
		}
	}()

	stopServer := startStatusServer(ctx, cfg.Server.Addr, svc, logger)
	summary, err := svc.Runner.Run(ctx)
	stopServer()
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	logger.Info("conversion finished",
		zap.String("run_id", summary.RunID),
		zap.Int64("total", summary.Stats.Total),
		zap.Int64("successful", summary.Stats.Successful),
		zap.Int64("failed", summary.Stats.Failed),
		zap.Int64("skipped", summary.Stats.Skipped),
		zap.Int64("bytes", summary.Stats.TotalSizeBytes),
		zap.Duration("mean_page", summary.Stats.MeanDuration()),
		zap.Duration("elapsed", summary.Elapsed))
	if summary.Interrupted {
		return errInterrupted
	}
	return nil
}

// startStatusServer serves progress and metrics while the run lasts. The
// returned func stops the server and waits for it.
func startStatusServer(ctx context.Context, addr string, svc *app.Services, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	server := api.NewServer(svc.Runner.RunID(), svc.Runner, svc.Sites, svc.Registry, logger.Named("api"))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(srvCtx, addr); err != nil {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func printSummary(w io.Writer, s app.Summary) {
	ran := s.Stats.Successful + s.Stats.Failed
	fmt.Fprintf(w, "Run %s\n", s.RunID)
	fmt.Fprintf(w, "  pages:     %d total, %d converted, %d failed, %d skipped\n",
		s.Stats.Total, s.Stats.Successful, s.Stats.Failed, s.Stats.Skipped)
	if s.Stats.TotalSizeBytes > 0 {
		fmt.Fprintf(w, "  size:      %s\n", humanize.IBytes(uint64(s.Stats.TotalSizeBytes)))
	}
	if ran > 0 {
		fmt.Fprintf(w, "  mean page: %s\n", s.Stats.MeanDuration())
	}
	fmt.Fprintf(w, "  elapsed:   %s\n", s.Elapsed.Round(time.Millisecond))
	if s.MergedURI != "" {
		fmt.Fprintf(w, "  merged:    %s\n", s.MergedURI)
	}
	if s.MergedPDFURI != "" {
		fmt.Fprintf(w, "  pdf:       %s\n", s.MergedPDFURI)
	}
	if s.Interrupted {
		fmt.Fprintf(w, "  interrupted with %d pages pending\n", s.Pending)
	}
}
