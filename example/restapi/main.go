// Example: Using the duckbench REST API
//
// This example opens a session over HTTP, submits a query, pages through
// the result and downloads the full result as CSV.
//
// Start the server:
//
//	go run ./cmd/duckbench serve
//
// Then run this example:
//
//	go run ./example/restapi
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/nnnkkk7/duckbench/pkg/session"
	"github.com/nnnkkk7/duckbench/server/types"
)

var baseURL = getBaseURL()

func getBaseURL() string {
	host := os.Getenv("DUCKBENCH_HOST")
	if host == "" {
		host = "localhost:8080"
	}
	return fmt.Sprintf("http://%s/api/v1", host)
}

func main() {
	fmt.Println("=== duckbench REST API Example ===")

	var sess types.SessionResponse
	mustDo(http.MethodPost, "/sessions", nil, http.StatusCreated, &sess)
	id := sess.Data.ID
	fmt.Printf("Opened session %s (page sizes %v)\n", id, sess.PageSizes)
	defer mustDo(http.MethodDelete, "/sessions/"+id, nil, http.StatusNoContent, nil)

	mustDo(http.MethodPut, "/sessions/"+id+"/page-size", types.PageSizeRequest{PageSize: 100}, http.StatusAccepted, nil)

	mustDo(http.MethodPost, "/sessions/"+id+"/submit",
		types.SubmitRequest{SQL: "SELECT range AS id, range * range AS square FROM range(250)"},
		http.StatusAccepted, nil)
	printResult(id, 0)

	for _, req := range []types.PageRequest{
		{Action: types.PageNext},
		{Action: types.PageLast},
		{Action: types.PageGoto, Page: 1},
	} {
		fmt.Printf("\n-- %s --\n", req.Action)
		mustDo(http.MethodPost, "/sessions/"+id+"/page", req, http.StatusAccepted, nil)
		want := int64(100 * req.Page)
		switch req.Action {
		case types.PageNext:
			want = 100
		case types.PageLast:
			want = 200
		}
		printResult(id, want)
	}

	fmt.Println("\n-- export --")
	mustDo(http.MethodPost, "/sessions/"+id+"/export", types.ExportRequest{SQL: "SELECT * FROM range(5)", Format: "csv"}, http.StatusAccepted, nil)
	for i := 0; i < 50; i++ {
		resp, err := http.Get(baseURL + "/sessions/" + id + "/export/download?format=csv")
		if err != nil {
			log.Fatalf("Download failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Print(string(body))
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Fatal("export did not finish")
}

// printResult polls the query result until the page at offset is ready.
func printResult(id string, offset int64) {
	for i := 0; i < 50; i++ {
		var res types.ResultResponse
		status := do(http.MethodGet, "/sessions/"+id+"/result", nil, &res)
		if status == http.StatusOK && res.Status == string(session.ResultStatusFailed) {
			log.Fatalf("Query failed: %s", res.Message)
		}
		if status == http.StatusOK && res.Batch != nil && res.Batch.Offset == offset &&
			res.Status == string(session.ResultStatusSuccess) {
			b := res.Batch
			fmt.Printf("rows %d-%d of %d, more=%v\n", b.Offset+1, b.Offset+int64(len(b.Rows)), b.TotalCount, b.HasMore)
			if len(b.Rows) > 0 {
				fmt.Printf("  first row: %v\n", b.Rows[0])
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Fatalf("page at offset %d did not arrive", offset)
}

func mustDo(method, path string, body any, want int, out any) {
	if status := do(method, path, body, out); status != want {
		log.Fatalf("%s %s: status %d, want %d", method, path, status, want)
	}
}

func do(method, path string, body any, out any) int {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("Failed to marshal request: %v", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		log.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("Failed to decode response: %v", err)
		}
	}
	return resp.StatusCode
}
