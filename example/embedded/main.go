// Example: Using duckbench sessions as an embedded library
//
// This example drives a session directly, without the HTTP server: it
// submits a query, pages through the result, and runs a full export.
//
// Run this example:
//
//	go run ./example/embedded
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/nnnkkk7/duckbench/pkg/connection"
	"github.com/nnnkkk7/duckbench/pkg/export"
	"github.com/nnnkkk7/duckbench/pkg/session"
)

func main() {
	fmt.Println("=== duckbench Embedded Example ===")

	db, err := sql.Open("duckdb", "")
	if err != nil {
		log.Fatalf("Failed to open DuckDB: %v", err)
	}
	defer db.Close()

	engine := connection.NewManager(db)
	logger := zap.NewNop()

	opts := session.DefaultOptions()
	opts.PageSizes = []int{25, 100}
	opts.DefaultPageSize = 25

	sess := session.New("embedded", engine, opts, logger)
	defer sess.Close()

	// Setup statements run once; only the last statement is paged.
	if err := sess.Submit(`
		CREATE TABLE events AS SELECT range AS id, 'event-' || range AS name FROM range(60);
		SELECT * FROM events ORDER BY id`); err != nil {
		log.Fatalf("Submit failed: %v", err)
	}
	printPage(sess)

	for _, step := range []struct {
		name string
		fn   func() error
	}{
		{"next", sess.NextPage},
		{"last", sess.LastPage},
		{"prev", sess.PrevPage},
	} {
		fmt.Printf("\n-- %s page --\n", step.name)
		if err := step.fn(); err != nil {
			log.Fatalf("%s failed: %v", step.name, err)
		}
		printPage(sess)
	}

	fmt.Println("\n-- full export --")
	if err := sess.Export("SELECT * FROM events ORDER BY id"); err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	ev := wait(sess, session.SourceExport)
	if ev.Err != nil {
		log.Fatalf("Export failed: %v", ev.Err)
	}

	dest := filepath.Join(os.TempDir(), "duckbench-events.csv.zst")
	exportOpts, err := export.InferOptions(dest)
	if err != nil {
		log.Fatalf("InferOptions failed: %v", err)
	}
	exportOpts.Destination = dest
	res, err := export.NewExporter(nil, logger).Write(context.Background(), ev.Batch, exportOpts)
	if err != nil {
		log.Fatalf("Write failed: %v", err)
	}
	fmt.Printf("Exported %d rows to %s (%d bytes)\n", res.Rows, res.Destination, res.Bytes)
}

func printPage(sess *session.Session) {
	ev := wait(sess, session.SourceQuery)
	if ev.Err != nil {
		log.Fatalf("Query failed: %v", ev.Err)
	}
	snap := sess.Snapshot()
	b := ev.Batch
	fmt.Printf("page %d/%d, rows %d-%d of %d\n",
		snap.CurrentPage+1, snap.TotalPages, b.Offset+1, b.Offset+int64(b.RowCount()), snap.TotalRows)
	for i, row := range b.Rows {
		if i == 3 {
			fmt.Println("  ...")
			break
		}
		fmt.Printf("  %v\n", row)
	}
}

// wait drains session events until src's worker finishes.
func wait(sess *session.Session, src session.Source) session.Event {
	for ev := range sess.Events() {
		if ev.Source == src && ev.Terminal() {
			return ev
		}
	}
	log.Fatal("session closed")
	return session.Event{}
}
