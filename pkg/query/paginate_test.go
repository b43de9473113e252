package query

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPaginate(t *testing.T) {
	tests := []struct {
		name     string
		stmt     string
		pageSize int64
		offset   int64
		want     Paginated
	}{
		{
			name:     "NoLimit",
			stmt:     "SELECT * FROM t",
			pageSize: 10,
			offset:   20,
			want: Paginated{
				Query:      "SELECT * FROM t LIMIT 10 OFFSET 20",
				CountQuery: "SELECT COUNT(*) FROM (SELECT * FROM t) AS count_subquery",
			},
		},
		{
			name:     "TrailingSemicolons",
			stmt:     "  SELECT * FROM t ;; ",
			pageSize: 100,
			offset:   0,
			want: Paginated{
				Query:      "SELECT * FROM t LIMIT 100 OFFSET 0",
				CountQuery: "SELECT COUNT(*) FROM (SELECT * FROM t) AS count_subquery",
			},
		},
		{
			name:     "ExistingLimit",
			stmt:     "SELECT * FROM t LIMIT 5",
			pageSize: 10,
			offset:   0,
			want: Paginated{
				Query:      "SELECT * FROM (SELECT * FROM t LIMIT 5) AS paginated_subquery LIMIT 10 OFFSET 0",
				CountQuery: "SELECT COUNT(*) FROM (SELECT * FROM t LIMIT 5) AS count_subquery",
				Wrapped:    true,
			},
		},
		{
			name:     "LowercaseLimit",
			stmt:     "select * from t order by id limit\n 7",
			pageSize: 3,
			offset:   3,
			want: Paginated{
				Query:      "SELECT * FROM (select * from t order by id limit\n 7) AS paginated_subquery LIMIT 3 OFFSET 3",
				CountQuery: "SELECT COUNT(*) FROM (select * from t order by id limit\n 7) AS count_subquery",
				Wrapped:    true,
			},
		},
		{
			name:     "ExistingOffset",
			stmt:     "SELECT * FROM t OFFSET 25",
			pageSize: 10,
			offset:   0,
			want: Paginated{
				Query:      "SELECT * FROM (SELECT * FROM t OFFSET 25) AS paginated_subquery LIMIT 10 OFFSET 0",
				CountQuery: "SELECT COUNT(*) FROM (SELECT * FROM t OFFSET 25) AS count_subquery",
				Wrapped:    true,
			},
		},
		{
			name:     "ExistingFetchFirst",
			stmt:     "SELECT * FROM t ORDER BY id FETCH FIRST 3 ROWS ONLY",
			pageSize: 10,
			offset:   10,
			want: Paginated{
				Query:      "SELECT * FROM (SELECT * FROM t ORDER BY id FETCH FIRST 3 ROWS ONLY) AS paginated_subquery LIMIT 10 OFFSET 10",
				CountQuery: "SELECT COUNT(*) FROM (SELECT * FROM t ORDER BY id FETCH FIRST 3 ROWS ONLY) AS count_subquery",
				Wrapped:    true,
			},
		},
		{
			name:     "LimitInStringLiteral",
			stmt:     "SELECT 'limit 5' AS note FROM t",
			pageSize: 10,
			offset:   0,
			want: Paginated{
				Query:      "SELECT 'limit 5' AS note FROM t LIMIT 10 OFFSET 0",
				CountQuery: "SELECT COUNT(*) FROM (SELECT 'limit 5' AS note FROM t) AS count_subquery",
			},
		},
		{
			name:     "LimitInIdentifier",
			stmt:     "SELECT rate_limit 5 FROM t",
			pageSize: 10,
			offset:   0,
			want: Paginated{
				Query:      "SELECT rate_limit 5 FROM t LIMIT 10 OFFSET 0",
				CountQuery: "SELECT COUNT(*) FROM (SELECT rate_limit 5 FROM t) AS count_subquery",
			},
		},
		{
			name:     "LimitInQuotedIdentifier",
			stmt:     `SELECT "limit 1" FROM t`,
			pageSize: 10,
			offset:   0,
			want: Paginated{
				Query:      `SELECT "limit 1" FROM t LIMIT 10 OFFSET 0`,
				CountQuery: `SELECT COUNT(*) FROM (SELECT "limit 1" FROM t) AS count_subquery`,
			},
		},
		{
			name:     "TrailingLineComment",
			stmt:     "SELECT * FROM t -- all rows",
			pageSize: 10,
			offset:   0,
			want: Paginated{
				Query:      "SELECT * FROM t -- all rows\n LIMIT 10 OFFSET 0",
				CountQuery: "SELECT COUNT(*) FROM (SELECT * FROM t -- all rows\n) AS count_subquery",
			},
		},
		{
			name:     "LimitInComment",
			stmt:     "SELECT * FROM t /* limit 3 */",
			pageSize: 10,
			offset:   10,
			want: Paginated{
				Query:      "SELECT * FROM t /* limit 3 */ LIMIT 10 OFFSET 10",
				CountQuery: "SELECT COUNT(*) FROM (SELECT * FROM t /* limit 3 */) AS count_subquery",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Paginate(tt.stmt, tt.pageSize, tt.offset)
			if err != nil {
				t.Fatalf("Paginate() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Paginate() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPaginate_NoLimitKeepsOriginal(t *testing.T) {
	got, err := Paginate("SELECT * FROM t", 10, 20)
	if err != nil {
		t.Fatalf("Paginate() error = %v", err)
	}
	if !strings.HasSuffix(got.Query, "LIMIT 10 OFFSET 20") {
		t.Errorf("Query = %q, want suffix %q", got.Query, "LIMIT 10 OFFSET 20")
	}
	if !strings.HasPrefix(got.Query, "SELECT * FROM t") {
		t.Errorf("Query = %q, want original statement as prefix", got.Query)
	}
}

func TestPaginate_PreparationErrors(t *testing.T) {
	tests := []struct {
		name     string
		stmt     string
		pageSize int64
		offset   int64
	}{
		{name: "Empty", stmt: "  ; ", pageSize: 10, offset: 0},
		{name: "ZeroPageSize", stmt: "SELECT 1", pageSize: 0, offset: 0},
		{name: "NegativeOffset", stmt: "SELECT 1", pageSize: 10, offset: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Paginate(tt.stmt, tt.pageSize, tt.offset)
			if !IsKind(err, ErrorKindPreparation) {
				t.Errorf("Paginate() error = %v, want preparation error", err)
			}
		})
	}
}

func TestHasLimit(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"SELECT * FROM t LIMIT 5", true},
		{"SELECT * FROM t limit 5 offset 2", true},
		{"SELECT * FROM t LIMIT ALL", true},
		{"SELECT * FROM t OFFSET 25", true},
		{"SELECT * FROM t fetch next 3 rows only", true},
		{"SELECT fetch_first, offset_at FROM t", false},
		{"SELECT 'OFFSET 1' AS note", false},
		{"SELECT limit_col FROM t", false},
		{"SELECT 'LIMIT 5'", false},
		{"SELECT 1 -- LIMIT 5", false},
		{"SELECT * FROM (SELECT * FROM t LIMIT 2) s", true},
	}

	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			if got := HasLimit(tt.stmt); got != tt.want {
				t.Errorf("HasLimit(%q) = %v, want %v", tt.stmt, got, tt.want)
			}
		})
	}
}
