package query

import (
	"strings"
)

// Splitter breaks a buffer of SQL text into individual statements.
//
// A semicolon ends a statement only outside quoted strings and comments.
// Inside a string a doubled quote character is an escaped quote. Comments
// are removed from the output: a line comment up to (not including) its
// newline, a block comment replaced by a single space.
type Splitter struct {
	// BackslashEscapes makes \' and \" escaped quotes inside strings. Off
	// by default since DuckDB and standard SQL treat backslashes literally.
	BackslashEscapes bool
}

// DefaultSplitter uses standard SQL quoting.
var DefaultSplitter = Splitter{}

// SplitStatements splits sql with the default splitter.
func SplitStatements(sql string) []string {
	return DefaultSplitter.Split(sql)
}

// JoinStatements joins statements back into one buffer.
func JoinStatements(stmts []string) string {
	return strings.Join(stmts, ";\n")
}

// Split returns the trimmed, non-empty statements of sql in order.
// Unterminated strings and comments are passed through as-is.
func (s Splitter) Split(sql string) []string {
	var (
		stmts   []string
		current strings.Builder
		quote   rune // active quote character, 0 outside strings
	)

	flush := func() {
		if stmt := cleanStatement(current.String()); stmt != "" {
			stmts = append(stmts, stmt)
		}
		current.Reset()
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		if quote != 0 {
			current.WriteRune(ch)
			switch {
			case s.BackslashEscapes && ch == '\\' && next != 0:
				current.WriteRune(next)
				i++
			case ch == quote && next == quote:
				current.WriteRune(next)
				i++
			case ch == quote:
				quote = 0
			}
			continue
		}

		switch {
		case ch == '\'' || ch == '"':
			quote = ch
			current.WriteRune(ch)
		case ch == '-' && next == '-':
			// Skip to the end of the line, keeping the newline.
			for i+1 < len(runes) && runes[i+1] != '\n' {
				i++
			}
		case ch == '/' && next == '*':
			i += 2
			for i < len(runes) && !(runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/') {
				i++
			}
			i++ // closing '/'
			current.WriteRune(' ')
		case ch == ';':
			flush()
		default:
			current.WriteRune(ch)
		}
	}
	flush()

	return stmts
}

// cleanStatement trims whitespace and trailing semicolons.
func cleanStatement(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	for strings.HasSuffix(stmt, ";") {
		stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	}
	return stmt
}
