package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/connection"
	"github.com/nnnkkk7/duckbench/pkg/dataset"
	"github.com/nnnkkk7/duckbench/pkg/query"
	"github.com/nnnkkk7/duckbench/pkg/session"
)

var errQuit = errors.New("quit")

const interactiveHelp = `commands: n(ext) p(rev) f(irst) l(ast) g N (goto page N, 1-based) s SIZE (page size) c(ancel) q(uit)`

type queryFlags struct {
	pageSize    int
	interactive bool
	load        string
}

func newQueryCmd(a *app) *cobra.Command {
	var f queryFlags

	cmd := &cobra.Command{
		Use:   "query SQL",
		Short: "Run SQL and print the first page",
		Long: `Run one or more ';'-separated statements. Earlier statements run once;
the last one is paged. With --interactive, navigation commands are read
from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), args[0], f)
		},
	}

	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "rows per page (one of the configured page sizes)")
	cmd.Flags().BoolVarP(&f.interactive, "interactive", "i", false, "read navigation commands from stdin")
	cmd.Flags().StringVar(&f.load, "load", "", "load a CSV, TSV, Parquet or JSON file into table \"data\" first")
	return cmd
}

func (a *app) runQuery(ctx context.Context, in io.Reader, out io.Writer, sql string, f queryFlags) error {
	engine, err := connection.Open(a.cfg.Engine)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	if f.load != "" {
		info, err := dataset.NewLoader(engine, a.logger).Load(ctx, f.load, "", "")
		if err != nil {
			return err
		}
		pterm.Info.Printfln("Loaded %d rows into %q", info.RowCount, info.Name)
	}

	sess := session.New("cli", engine, session.OptionsFromConfig(a.cfg.Query), a.logger)
	defer func() { _ = sess.Close() }()

	if f.pageSize > 0 {
		if err := sess.SetPageSize(f.pageSize); err != nil {
			return fmt.Errorf("%w: choose one of %v", err, sess.PageSizes())
		}
	}

	if err := sess.Submit(sql); err != nil {
		return err
	}
	if err := showPage(ctx, out, sess); err != nil && !f.interactive {
		return err
	}
	if !f.interactive {
		return nil
	}

	fmt.Fprintln(out, interactiveHelp)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		c, err := parseCommand(sess, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err == nil {
			err = c.run()
		}
		if err != nil {
			pterm.Error.Println(err)
			continue
		}
		if !c.reruns {
			continue
		}
		if err := showPage(ctx, out, sess); err != nil {
			pterm.Error.Println(err)
		}
	}
}

// command is one parsed interactive command. reruns reports whether it
// starts a new page fetch.
type command struct {
	run    func() error
	reruns bool
}

// parseCommand maps an interactive command line to a session operation.
func parseCommand(sess *session.Session, line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, errors.New(interactiveHelp)
	}

	arg := func() (int, error) {
		if len(fields) != 2 {
			return 0, fmt.Errorf("%s needs one number", fields[0])
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", fields[1])
		}
		return n, nil
	}

	switch strings.ToLower(fields[0]) {
	case "n", "next":
		return command{run: sess.NextPage, reruns: true}, nil
	case "p", "prev":
		return command{run: sess.PrevPage, reruns: true}, nil
	case "f", "first":
		return command{run: sess.FirstPage, reruns: true}, nil
	case "l", "last":
		return command{run: sess.LastPage, reruns: true}, nil
	case "c", "cancel":
		return command{run: sess.Cancel}, nil
	case "g", "goto":
		n, err := arg()
		if err != nil {
			return command{}, err
		}
		return command{run: func() error { return sess.GotoPage(n - 1) }, reruns: true}, nil
	case "s", "size":
		n, err := arg()
		if err != nil {
			return command{}, err
		}
		// Only a row-producing query is re-run on a page size change.
		return command{run: func() error { return sess.SetPageSize(n) }, reruns: sess.Snapshot().RowProducing}, nil
	case "q", "quit", "exit":
		return command{}, errQuit
	default:
		return command{}, fmt.Errorf("unknown command %q; %s", fields[0], interactiveHelp)
	}
}

// showPage waits for the page fetch just started and prints it.
func showPage(ctx context.Context, out io.Writer, sess *session.Session) error {
	spinner, _ := pterm.DefaultSpinner.WithRemoveWhenDone(true).Start("Running query")
	ev, err := awaitTerminal(ctx, sess, session.SourceQuery, func(p int) {
		if spinner != nil {
			spinner.UpdateText(fmt.Sprintf("Running query (%d%%)", p))
		}
	})
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return err
	}
	if ev.Err != nil {
		return ev.Err
	}

	snap := sess.Snapshot()
	if b := ev.Batch; !snap.RowProducing && len(b.Columns) == 1 && b.Columns[0] == query.AckColumn && len(b.Rows) == 1 {
		pterm.Success.Println(b.Rows[0][0])
		return nil
	}
	renderBatch(out, ev.Batch)
	fmt.Fprintln(out, pageFooter(snap, ev.Batch))
	return nil
}

// awaitTerminal drains session events until src's worker finishes.
func awaitTerminal(ctx context.Context, sess *session.Session, src session.Source, progress func(int)) (session.Event, error) {
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				return session.Event{}, session.ErrSessionClosed
			}
			if ev.Source != src {
				continue
			}
			if ev.Type == query.EventProgress && progress != nil {
				progress(ev.Progress)
			}
			if ev.Terminal() {
				return ev, nil
			}
		case <-ctx.Done():
			if err := sess.Cancel(); err != nil {
				zap.L().Debug("cancel on interrupt failed", zap.Error(err))
			}
			return session.Event{}, ctx.Err()
		}
	}
}

func pageFooter(snap session.Snapshot, b *query.Batch) string {
	first := b.Offset + 1
	last := b.Offset + int64(b.RowCount())
	if b.RowCount() == 0 {
		first = 0
	}

	total := "unknown"
	if snap.TotalRows >= 0 {
		total = strconv.FormatInt(snap.TotalRows, 10)
	}
	pages := "?"
	if snap.TotalPages >= 0 {
		pages = strconv.FormatInt(snap.TotalPages, 10)
	}
	return fmt.Sprintf("rows %d-%d of %s, page %d/%s", first, last, total, snap.CurrentPage+1, pages)
}
