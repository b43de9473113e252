package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/config"
	"github.com/nnnkkk7/duckbench/pkg/logger"
)

// Version is set via ldflags during build.
var Version = "dev"

// app holds the state shared by every subcommand.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "duckbench",
		Short: "Paginated, cancellable SQL workbench",
		Long: `duckbench runs SQL against DuckDB (or PostgreSQL) one page at a time.
Queries can be cancelled at any point, paged forwards and backwards, and
exported in full to CSV, JSON Lines, JSON or Parquet.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (YAML)")
	flags.String("driver", config.DriverDuckDB, "engine driver: duckdb, postgres, pgx")
	flags.String("dsn", config.DefaultDSN, "engine DSN; empty opens an in-memory DuckDB")
	flags.String("log-level", config.DefaultLogLevel, "log level: debug, info, warn, error")
	flags.String("log-format", config.DefaultLogFormat, "log format: json, console")
	_ = a.v.BindPFlag("engine.driver", flags.Lookup("driver"))
	_ = a.v.BindPFlag("engine.dsn", flags.Lookup("dsn"))
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCmd(a),
		newQueryCmd(a),
		newExportCmd(a),
		newLoadCmd(a),
		newTransformCmd(a),
		newTablesCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the configuration and builds the logger.
func (a *app) load() error {
	cfg, err := config.LoadWith(a.v, a.cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the duckbench version",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "duckbench %s\n", Version)
		},
	}
}
