// Command replimux is the CLI entry point, grounded on Pieczasz-smf's
// cmd/smf/main.go cobra wiring: a root command carrying global
// --config/--log-level flags and one subcommand per operating mode.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/spf13/cobra"

	"github.com/replimux/replimux/internal/config"
	"github.com/replimux/replimux/internal/logutil"
	"github.com/replimux/replimux/internal/precheck"
)

var (
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:           "replimux",
		Short:         "heterogeneous data-replication engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the task's TOML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	root.MarkPersistentFlagRequired("config")

	root.AddCommand(runCmd(), precheckCmd(), structCmd(), checkCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if isConfigErr(err) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func isConfigErr(err error) bool {
	_, ok := err.(configError)
	return ok
}

func loadConfig() (*config.TaskConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configError{err}
	}
	return cfg, nil
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "start the replication pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logutil.New(logLevel, "run")
			log.Info("starting pipeline")
			return runPipeline(cmd.Context(), cfg)
		},
	}
}

func precheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "precheck",
		Short: "run offline connectivity and capability checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runPrecheck(cmd.Context(), cfg)
		},
	}
}

func structCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "struct",
		Short: "migrate source schema structure to the sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			return err
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "run a row-level consistency check against the sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			return err
		},
	}
}

func runPrecheck(ctx context.Context, cfg *config.TaskConfig) error {
	db, err := sql.Open("mysql", cfg.Extractor.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	checker := precheck.NewFromConfig(ctx, cfg, db, true, nil)
	results := checker.Run(ctx)

	failed := false
	for _, r := range results {
		switch {
		case r.Error != "":
			failed = true
			fmt.Printf("FAIL  %-30s %s\n", r.Item, r.Error)
		case r.Warning != "":
			fmt.Printf("WARN  %-30s %s\n", r.Item, r.Warning)
		default:
			fmt.Printf("OK    %-30s\n", r.Item)
		}
	}
	if failed {
		os.Exit(2)
	}
	return nil
}
