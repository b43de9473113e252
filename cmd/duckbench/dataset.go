package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/nnnkkk7/duckbench/pkg/connection"
	"github.com/nnnkkk7/duckbench/pkg/dataset"
)

func newLoadCmd(a *app) *cobra.Command {
	var table, format string

	cmd := &cobra.Command{
		Use:   "load FILE",
		Short: "Load a CSV, TSV, Parquet, JSON or Excel file into a DuckDB table",
		Long: `Load FILE into a table, replacing any table of the same name. Use a
file-backed --dsn to keep the table for later commands. Excel workbooks
are read from their first sheet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := connection.Open(a.cfg.Engine)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			info, err := dataset.NewLoader(engine, a.logger).Load(cmd.Context(), args[0], table, format)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Loaded %d rows into %q", info.RowCount, info.Name)
			renderColumns(cmd, info)
			return nil
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", dataset.DefaultTable, "target table")
	cmd.Flags().StringVar(&format, "format", "", "csv, tsv, parquet, json or excel; inferred from the extension when empty")
	return cmd
}

func newTransformCmd(a *app) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "transform SQL",
		Short: "Replace a table with the result of a query",
		Long: `Save the result of a SELECT or WITH statement as --table, replacing it.
Any other single statement, such as DELETE or ALTER, runs as is.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := connection.Open(a.cfg.Engine)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			info, err := dataset.NewLoader(engine, a.logger).Transform(cmd.Context(), table, args[0])
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Transformed %q, %d rows", info.Name, info.RowCount)
			renderColumns(cmd, info)
			return nil
		},
	}

	cmd.Flags().StringVarP(&table, "table", "t", dataset.DefaultTable, "target table")
	return cmd
}

func newTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables [TABLE]",
		Short: "List tables, or describe one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := connection.Open(a.cfg.Engine)
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			loader := dataset.NewLoader(engine, a.logger)
			if len(args) == 1 {
				info, err := loader.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				renderColumns(cmd, info)
				fmt.Fprintf(cmd.OutOrStdout(), "%d rows\n", info.RowCount)
				return nil
			}

			tables, err := loader.Tables(cmd.Context())
			if err != nil {
				return err
			}
			if len(tables) == 0 {
				pterm.Info.Println("No tables")
				return nil
			}
			for _, t := range tables {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func renderColumns(cmd *cobra.Command, info *dataset.TableInfo) {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"column", "type", "nullable"})
	table.SetAutoFormatHeaders(false)
	for _, c := range info.Columns {
		table.Append([]string{c.Name, c.Type, strconv.FormatBool(c.Nullable)})
	}
	table.Render()
}
