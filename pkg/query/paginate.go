package query

import (
	"fmt"
	"regexp"
	"strings"
)

// limitPattern matches a clause that already bounds the rows: LIMIT,
// OFFSET or FETCH FIRST/NEXT.
var limitPattern = regexp.MustCompile(`(?i)\b(?:LIMIT|OFFSET)\b|\bFETCH\s+(?:FIRST|NEXT)\b`)

// Paginated is a row-producing statement rewritten for one page.
type Paginated struct {
	// Query returns at most pageSize rows starting at offset.
	Query string
	// CountQuery returns the total row count of the statement.
	CountQuery string
	// Wrapped is true when the statement had its own LIMIT, OFFSET or FETCH
	// clause and was wrapped in a subquery.
	Wrapped bool
}

// Paginate rewrites stmt to fetch pageSize rows starting at offset.
//
// A statement that already carries LIMIT, OFFSET or FETCH FIRST is wrapped
// in a subquery and the page LIMIT/OFFSET is applied to the wrapper, so the
// user's clause still bounds the result while the page window always
// applies. Otherwise the LIMIT/OFFSET is appended to the statement.
func Paginate(stmt string, pageSize, offset int64) (Paginated, error) {
	clean := cleanStatement(stmt)
	switch {
	case clean == "":
		return Paginated{}, newError(ErrorKindPreparation, stmt, "cannot paginate an empty statement", nil)
	case pageSize <= 0:
		return Paginated{}, newError(ErrorKindPreparation, stmt, fmt.Sprintf("invalid page size %d", pageSize), nil)
	case offset < 0:
		return Paginated{}, newError(ErrorKindPreparation, stmt, fmt.Sprintf("invalid offset %d", offset), nil)
	}

	page := fmt.Sprintf("LIMIT %d OFFSET %d", pageSize, offset)
	p := Paginated{CountQuery: CountQuery(clean)}

	if HasLimit(clean) {
		p.Query = fmt.Sprintf("SELECT * FROM (%s) AS paginated_subquery %s", terminateComment(clean), page)
		p.Wrapped = true
		return p, nil
	}

	p.Query = terminateComment(clean) + " " + page
	return p, nil
}

// CountQuery wraps stmt in a COUNT(*) query.
func CountQuery(stmt string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS count_subquery", terminateComment(cleanStatement(stmt)))
}

// HasLimit reports whether stmt contains a LIMIT, OFFSET or FETCH FIRST/NEXT
// clause outside string literals, quoted identifiers and comments. Appending
// a page clause after any of them is a syntax error.
func HasLimit(stmt string) bool {
	return limitPattern.MatchString(maskLiterals(stmt))
}

// terminateComment appends a newline when stmt ends inside a line comment,
// so text appended after it is not commented out.
func terminateComment(stmt string) string {
	if endsInLineComment(stmt) {
		return stmt + "\n"
	}
	return stmt
}

func endsInLineComment(stmt string) bool {
	masked := maskLiterals(stmt)
	lastLine := masked[strings.LastIndex(masked, "\n")+1:]
	return strings.Contains(lastLine, "--")
}

// maskLiterals returns stmt with the contents of quoted strings, quoted
// identifiers and block comments replaced by spaces. Line comments keep
// their "--" marker so callers can still see them, but their text is
// blanked. The result has the same length in bytes as stmt.
func maskLiterals(stmt string) string {
	out := []byte(stmt)
	var quote byte
	for i := 0; i < len(out); i++ {
		ch := out[i]
		if quote != 0 {
			if ch == quote {
				if i+1 < len(out) && out[i+1] == quote {
					out[i], out[i+1] = ' ', ' '
					i++
					continue
				}
				quote = 0
				continue
			}
			if ch != '\n' {
				out[i] = ' '
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"':
			quote = ch
		case ch == '-' && i+1 < len(out) && out[i+1] == '-':
			i += 2
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case ch == '/' && i+1 < len(out) && out[i+1] == '*':
			out[i], out[i+1] = ' ', ' '
			i += 2
			for i < len(out) && !(out[i] == '*' && i+1 < len(out) && out[i+1] == '/') {
				if out[i] != '\n' {
					out[i] = ' '
				}
				i++
			}
			if i < len(out) {
				out[i], out[i+1] = ' ', ' '
				i++
			}
		}
	}
	return string(out)
}
