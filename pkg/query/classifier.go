// Package query provides statement splitting, classification, pagination
// rewriting and the background workers that execute statements.
package query

import (
	"strings"
	"unicode"
)

// Kind tells whether a statement is paged or executed once.
type Kind int

// Statement kinds.
const (
	KindNonRowProducing Kind = iota
	KindRowProducing
)

func (k Kind) String() string {
	if k == KindRowProducing {
		return "row-producing"
	}
	return "non-row-producing"
}

// StatementType represents the category of a SQL statement.
type StatementType int

// Statement types.
const (
	StatementTypeQuery       StatementType = iota // SELECT
	StatementTypeDML                              // INSERT, UPDATE, DELETE
	StatementTypeDDLCreate                        // CREATE TABLE, CREATE VIEW, etc.
	StatementTypeDDLDrop                          // DROP TABLE, DROP VIEW, etc.
	StatementTypeDDLAlter                         // ALTER TABLE, etc.
	StatementTypeCopy                             // COPY
	StatementTypeTransaction                      // BEGIN, COMMIT, ROLLBACK
	StatementTypeOther                            // WITH, EXPLAIN, SHOW, PRAGMA, SET, ...
)

// Classifier provides SQL statement classification functionality.
type Classifier struct{}

// NewClassifier creates a new SQL classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// ClassifyResult contains the classification result of a SQL statement.
type ClassifyResult struct {
	Kind    Kind
	Type    StatementType
	Keyword string // first keyword, upper-cased
}

// IsRowProducing reports whether the statement is eligible for pagination.
func (r ClassifyResult) IsRowProducing() bool {
	return r.Kind == KindRowProducing
}

// IsCommand reports whether the statement is DML, DDL, COPY or transaction
// control, whose result is a status rather than data.
func (r ClassifyResult) IsCommand() bool {
	return r.Type != StatementTypeQuery && r.Type != StatementTypeOther
}

// Classify analyzes a SQL statement and returns its classification.
//
// Only statements whose first keyword is SELECT are row-producing. WITH,
// EXPLAIN, SHOW, DESCRIBE and parenthesized queries run once without paging.
func (c *Classifier) Classify(sql string) ClassifyResult {
	keyword := firstKeyword(sql)
	result := ClassifyResult{
		Kind:    KindNonRowProducing,
		Type:    statementType(keyword),
		Keyword: keyword,
	}
	if keyword == "SELECT" {
		result.Kind = KindRowProducing
	}
	return result
}

// firstKeyword returns the leading run of letters after whitespace, upper-cased.
func firstKeyword(sql string) string {
	trimmed := strings.TrimLeftFunc(sql, unicode.IsSpace)
	end := strings.IndexFunc(trimmed, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	if end < 0 {
		end = len(trimmed)
	}
	return strings.ToUpper(trimmed[:end])
}

func statementType(keyword string) StatementType {
	switch keyword {
	case "SELECT":
		return StatementTypeQuery
	case "INSERT", "UPDATE", "DELETE", "MERGE":
		return StatementTypeDML
	case "CREATE":
		return StatementTypeDDLCreate
	case "DROP":
		return StatementTypeDDLDrop
	case "ALTER":
		return StatementTypeDDLAlter
	case "COPY":
		return StatementTypeCopy
	case "BEGIN", "START", "COMMIT", "ROLLBACK", "END", "ABORT":
		return StatementTypeTransaction
	default:
		return StatementTypeOther
	}
}

// AckLabel is the label used in the acknowledgment row of a statement that
// produced no result set ("CREATE statement executed successfully").
func (r ClassifyResult) AckLabel() string {
	if r.Keyword == "" {
		return "SQL"
	}
	return r.Keyword
}

// DefaultClassifier is the default SQL classifier instance.
var DefaultClassifier = NewClassifier()

// ClassifySQL is a convenience function using the default classifier.
func ClassifySQL(sql string) ClassifyResult {
	return DefaultClassifier.Classify(sql)
}

// IsRowProducing is a convenience function to check if SQL is paged.
func IsRowProducing(sql string) bool {
	return DefaultClassifier.Classify(sql).IsRowProducing()
}
