package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-deposit/internal/envconfig"
	"github.com/tendant/simple-deposit/pkg/deposit/config"
	"github.com/tendant/simple-deposit/pkg/deposit/entities"
	"github.com/tendant/simple-deposit/pkg/deposit/queue"
	"github.com/tendant/simple-deposit/pkg/deposit/scan"
	"github.com/tendant/simple-deposit/pkg/deposit/service"
)

var (
	entitySource  string
	outboxURL     string
	packageFormat string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "deposit: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Build and package manuscript submissions for repository deposit",
		Long: `deposit resolves a submission's entity graph, builds the normalized submission
model and streams it as a deposit package. Settings are read from the environment
(DEPOSIT_* variables, optionally from a .env file); flags override them.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&entitySource, "entities", "", "Entity source URL (memory, file://fixture.json or postgres://...)")
	cmd.PersistentFlags().StringVar(&outboxURL, "outbox", "", "Outbox store URL for deposits")
	cmd.PersistentFlags().StringVar(&packageFormat, "format", "", "Package format: tar.gz or zip")
	cmd.AddCommand(
		newBuildCmd(),
		newPackageCmd(),
		newDepositCmd(),
		newEnqueueCmd(),
		newScanCmd(),
	)
	return cmd
}

// loadConfig merges environment settings with the command line flags.
func loadConfig() (*config.Config, *slog.Logger, *envconfig.Runtime, error) {
	rt, err := envconfig.Read()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := rt.Logger(os.Stderr)
	if err != nil {
		return nil, nil, nil, err
	}

	var opts []config.Option
	if entitySource != "" {
		opts = append(opts, config.WithEntitySourceURL(entitySource))
	}
	if outboxURL != "" {
		opts = append(opts, config.WithOutboxURL(outboxURL))
	}
	if packageFormat != "" {
		opts = append(opts, config.WithPackageFormat(packageFormat))
	}

	cfg, err := rt.LoadConfig(logger, opts...)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logger, rt, nil
}

func buildService() (service.Service, error) {
	cfg, _, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.BuildService()
}

func newBuildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <submission-id>",
		Short: "Print the normalized submission model as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService()
			if err != nil {
				return err
			}
			sub, err := svc.Build(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sub)
		},
	}
}

func newPackageCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "package <submission-id>",
		Short: "Stream the deposit package to a file or stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService()
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err := svc.Package(cmd.Context(), args[0], cmd.OutOrStdout())
				return err
			}
			return packageToFile(cmd.Context(), svc, args[0], output, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the package to this file instead of stdout")
	return cmd
}

// packageToFile writes the package next to path and renames it into place
// once complete, so a failed run never leaves a truncated package behind.
func packageToFile(ctx context.Context, svc service.Service, submissionID, path string, status io.Writer) (err error) {
	tmp := path + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(tmp)
			return
		}
		err = os.Rename(tmp, path)
	}()

	pkg, err := svc.Package(ctx, submissionID, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(status, "wrote package %s (%d files) to %s\n", pkg.ID, len(pkg.Resources), path)
	return nil
}

func newDepositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <submission-id>",
		Short: "Package the submission into the outbox and print the receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := buildService()
			if err != nil {
				return err
			}
			receipt, err := svc.Deposit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), receipt)
		},
	}
}

func newEnqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <submission-id>...",
		Short: "Schedule background deposits on the worker queue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, rt, err := loadConfig()
			if err != nil {
				return err
			}
			client := queue.NewClient(envconfig.RedisOpt(cfg), queue.WithQueue(rt.Queue), queue.WithMaxRetry(rt.MaxRetry))
			defer client.Close()

			var errs []error
			for _, id := range args {
				taskID, err := client.Enqueue(cmd.Context(), id)
				if err != nil {
					logger.Error("Failed to enqueue deposit", "submission_id", id, "err", err)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, taskID)
			}
			return errors.Join(errs...)
		},
	}
}

func newScanCmd() *cobra.Command {
	var (
		opts  scan.Options
		async bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Deposit every submission matching the filters",
		Long: `scan pages through the submissions of the entity source and deposits each
one that matches, either directly or by enqueueing a background deposit (--async).
Failures are reported and the scan continues.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, rt, err := loadConfig()
			if err != nil {
				return err
			}
			source, err := cfg.BuildEntitySource(ctx)
			if err != nil {
				return err
			}
			lister, ok := source.(entities.Lister)
			if !ok {
				return fmt.Errorf("entity source %s cannot list submissions", cfg.EntitySourceURL)
			}

			switch {
			case opts.DryRun:
			case async:
				client := queue.NewClient(envconfig.RedisOpt(cfg), queue.WithQueue(rt.Queue), queue.WithMaxRetry(rt.MaxRetry))
				defer client.Close()
				opts.Processor = scan.Scheduler(client)
			default:
				cfg.EntitySource = source
				svc, err := cfg.BuildService()
				if err != nil {
					return err
				}
				opts.Processor = scan.Depositor(svc)
			}

			result, err := scan.New(lister, logger).Scan(ctx, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "found %d, processed %d, failed %d\n",
				result.TotalFound, result.TotalProcessed, result.TotalFailed)
			if result.TotalFailed > 0 {
				return fmt.Errorf("%d submissions failed: %v", result.TotalFailed, result.FailedIDs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Filter.SubmittedOnly, "submitted", true, "Only submissions that were submitted")
	cmd.Flags().StringVar(&opts.Filter.Status, "status", "not-started", "Aggregated deposit status to match (empty for any)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", scan.DefaultBatchSize, "Submissions listed per batch")
	cmd.Flags().IntVar(&opts.Max, "max", 0, "Stop after this many submissions (0 for no limit)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Only report what would be deposited")
	cmd.Flags().BoolVar(&async, "async", false, "Enqueue background deposits instead of depositing directly")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
