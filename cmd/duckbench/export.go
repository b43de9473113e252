package main

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/nnnkkk7/duckbench/pkg/connection"
	"github.com/nnnkkk7/duckbench/pkg/dataset"
	"github.com/nnnkkk7/duckbench/pkg/export"
	"github.com/nnnkkk7/duckbench/pkg/session"
)

type exportFlags struct {
	format      string
	compression string
	level       int
	load        string
}

func newExportCmd(a *app) *cobra.Command {
	var f exportFlags

	cmd := &cobra.Command{
		Use:   "export SQL DESTINATION",
		Short: "Export the complete result of SQL to a file or s3://bucket/key",
		Long: `Fetch every row of SQL and write it to DESTINATION. The format and
compression are inferred from the extension (out.csv, out.jsonl.zst,
out.parquet, ...) unless given explicitly.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runExport(cmd.Context(), args[0], args[1], f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.format, "format", "", "csv, jsonl, json or parquet")
	flags.StringVar(&f.compression, "compression", "", "none, zstd, lz4 or gzip")
	flags.IntVar(&f.level, "level", 0, "compression level; 0 uses the default")
	flags.StringVar(&f.load, "load", "", "load a CSV, TSV, Parquet or JSON file into table \"data\" first")
	return cmd
}

func (a *app) runExport(ctx context.Context, sql, destination string, f exportFlags) error {
	opts, err := export.InferOptions(destination)
	if err != nil && f.format == "" {
		return err
	}
	opts.Destination = destination
	if f.format != "" {
		opts.Format = f.format
	}
	if f.compression != "" {
		opts.Compression = f.compression
	}
	opts.Level = f.level

	engine, err := connection.Open(a.cfg.Engine)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	if f.load != "" {
		if _, err := dataset.NewLoader(engine, a.logger).Load(ctx, f.load, "", ""); err != nil {
			return err
		}
	}

	sess := session.New("cli-export", engine, session.OptionsFromConfig(a.cfg.Query), a.logger)
	defer func() { _ = sess.Close() }()

	if err := sess.Export(sql); err != nil {
		return err
	}

	bar, _ := pterm.DefaultProgressbar.WithTotal(100).WithTitle("Exporting").WithRemoveWhenDone(true).Start()
	done := 0
	ev, err := awaitTerminal(ctx, sess, session.SourceExport, func(p int) {
		if bar != nil && p > done {
			bar.Add(p - done)
			done = p
		}
	})
	if bar != nil {
		_, _ = bar.Stop()
	}
	if err != nil {
		return err
	}
	if ev.Err != nil {
		return ev.Err
	}

	res, err := export.NewExporter(a.uploader(), a.logger).Write(ctx, ev.Batch, opts)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Exported %d rows to %s (%s, %s, %d bytes)",
		res.Rows, res.Destination, res.Format, res.Compression, res.Bytes)
	return nil
}
