package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		exitWithError(err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "defender-report",
		Short:         "Build Microsoft Defender signature compliance reports per department",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			if err := loadEnvironment(v, ".env"); err != nil {
				return err
			}
			opts, err := optionsFromViper(v, time.Now())
			if err != nil {
				return err
			}

			log, closeLog, err := newLogger(logConfig{Verbose: opts.Verbose, File: opts.LogFile, Console: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("log file: %w", err)
			}
			defer closeLog()

			report, err := runPipeline(cmd.Context(), opts, runtimeDeps{
				log:      log,
				resolver: net.DefaultResolver,
			})
			if report.TotalRows > 0 || len(report.Outputs) > 0 {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	registerFlags(cmd.Flags())
	cmd.AddCommand(newInitDBCmd())
	return cmd
}

func newInitDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the Postgres schema and tables for stored runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnvironment(viper.New(), ".env"); err != nil {
				return err
			}
			schema, _ := cmd.Flags().GetString("db-schema")
			if err := initDatabase(cmd.Context(), DBConfig{URL: dbURLFromEnv(), Schema: schema}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized Postgres schema %s\n", schema)
			return nil
		},
	}
	cmd.Flags().String("db-schema", defaultDBSchema, "Postgres schema for report tables")
	return cmd
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
