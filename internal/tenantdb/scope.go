package tenantdb

import (
	"fmt"
	"regexp"
	"strings"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokParam
	tokLiteral
	tokOp
	tokOpen
	tokClose
	tokComma
)

// sqlTok is one lexical token. Words are upper-cased and quoted identifiers
// are unquoted, so "tenant_id", tenant_id and t.TENANT_ID compare alike.
type sqlTok struct {
	text  string
	kind  tokenKind
	depth int // parenthesis depth; an opening or closing paren carries the outer depth
}

var (
	commentOrLiteral = regexp.MustCompile(`'(?:[^']|'')*'|(?s:/\*.*?\*/)|--[^\n]*`)
	sqlToken         = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"|\$\d+|[A-Za-z_][\w$]*(?:\.[A-Za-z_][\w$]*)*|\d+(?:\.\d+)?|[(),;]|[^\s\w(),;'"$]+`)
)

var statementWords = map[string]bool{"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true}

// lockPrefixes precede UPDATE in lock and conflict clauses, where it is not a
// statement.
var lockPrefixes = map[string]bool{"FOR": true, "DO": true, "KEY": true}

var comparisonWords = map[string]bool{
	"LIKE": true, "ILIKE": true, "IN": true, "IS": true, "BETWEEN": true,
	"SIMILAR": true, "NOT": true, "ANY": true, "ALL": true, "SOME": true,
}

var setComparisons = map[string]bool{"IN": true, "ANY": true, "ALL": true, "SOME": true}

// groupingWords may directly precede a parenthesis holding a bare tenant_id
// without making it a function argument.
var groupingWords = map[string]bool{
	"CONFLICT": true, "AS": true, "EXISTS": true, "VALUES": true, "WHERE": true,
	"AND": true, "OR": true, "NOT": true, "ON": true, "SELECT": true, "FROM": true,
	"JOIN": true, "USING": true, "BY": true, "RETURNING": true, "DISTINCT": true,
}

var setOperations = map[string]bool{"UNION": true, "INTERSECT": true, "EXCEPT": true}

var clauseEnds = map[string]bool{
	"GROUP": true, "ORDER": true, "LIMIT": true, "OFFSET": true, "RETURNING": true,
	"HAVING": true, "WINDOW": true, "FOR": true, "FETCH": true,
}

func unscoped(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnscopedStatement, fmt.Sprintf(format, args...))
}

// CheckScoped verifies that sql can only touch rows of the tenant bound to
// $1. The rules are structural:
//
//   - every comparison on tenant_id has the exact form tenant_id = $1;
//     tenant_id never appears on the right of an operator, inside IN/ANY
//     lists or as a function argument;
//   - SELECT, UPDATE and DELETE (each branch of a UNION) have a top-level
//     WHERE that contains tenant_id = $1 outside parentheses and no
//     top-level OR;
//   - INSERT names tenant_id in its column list and binds it to $1 in every
//     VALUES row;
//   - data-modifying statements do not appear inside subqueries, and only
//     one statement is allowed.
//
// It is a lexer, not a SQL parser: statements it does not understand are
// rejected rather than guessed at.
func CheckScoped(sql string) error {
	toks, err := tokenize(sql)
	if err != nil {
		return err
	}
	hasColumn, hasParam := false, false
	main := -1
	for i, t := range toks {
		switch {
		case isTenantColumn(t):
			hasColumn = true
			if err := checkTenantUse(toks, i); err != nil {
				return err
			}
		case t.kind == tokParam && t.text == "$1":
			hasParam = true
		case t.kind == tokWord && statementWords[t.text]:
			if t.depth == 0 {
				if main < 0 {
					main = i
				}
			} else if t.text != "SELECT" && (i == 0 || !lockPrefixes[toks[i-1].text]) {
				return unscoped("%s inside a subquery", t.text)
			}
		}
	}
	if !hasColumn {
		return unscoped("no tenant_id reference")
	}
	if !hasParam {
		return unscoped("tenant parameter $1 is not used")
	}
	if main < 0 {
		return unscoped("no SELECT, INSERT, UPDATE or DELETE at the top level")
	}
	if toks[main].text == "INSERT" {
		return checkInsert(toks, main)
	}
	start := main
	for i := main; i <= len(toks); i++ {
		if i == len(toks) || (toks[i].depth == 0 && toks[i].kind == tokWord && setOperations[toks[i].text]) {
			if err := checkWhere(toks[start:i]); err != nil {
				return err
			}
			start = i + 1
		}
	}
	return nil
}

func tokenize(sql string) ([]sqlTok, error) {
	sql = commentOrLiteral.ReplaceAllStringFunc(sql, func(m string) string {
		if strings.HasPrefix(m, "'") {
			return m
		}
		return " "
	})

	var toks []sqlTok
	depth, pos := 0, 0
	ended := false
	for _, loc := range sqlToken.FindAllStringIndex(sql, -1) {
		if gap := sql[pos:loc[0]]; strings.TrimSpace(gap) != "" {
			return nil, unscoped("unexpected %q", strings.TrimSpace(gap))
		}
		pos = loc[1]
		m := sql[loc[0]:loc[1]]
		if ended {
			return nil, unscoped("multiple statements")
		}

		t := sqlTok{text: m, depth: depth}
		switch {
		case m[0] == '\'':
			t.kind = tokLiteral
		case m[0] == '"':
			t.kind = tokWord
			t.text = strings.ToUpper(strings.ReplaceAll(m[1:len(m)-1], `""`, `"`))
		case m[0] == '$':
			t.kind = tokParam
		case m == "(":
			t.kind = tokOpen
			depth++
		case m == ")":
			t.kind = tokClose
			depth--
			if depth < 0 {
				return nil, unscoped("unbalanced parentheses")
			}
			t.depth = depth
		case m == ",":
			t.kind = tokComma
		case m == ";":
			ended = true
			continue
		case m[0] == '_' || m[0] >= '0' && m[0] <= '9' || m[0] >= 'A' && m[0] <= 'Z' || m[0] >= 'a' && m[0] <= 'z':
			t.kind = tokWord
			t.text = strings.ToUpper(m)
		default:
			t.kind = tokOp
		}
		toks = append(toks, t)
	}
	if rest := strings.TrimSpace(sql[pos:]); rest != "" {
		return nil, unscoped("unexpected %q", rest)
	}
	if depth != 0 {
		return nil, unscoped("unbalanced parentheses")
	}
	if len(toks) == 0 {
		return nil, unscoped("empty statement")
	}
	return toks, nil
}

func isTenantColumn(t sqlTok) bool {
	return t.kind == tokWord && (t.text == "TENANT_ID" || strings.HasSuffix(t.text, ".TENANT_ID"))
}

func isComparison(t sqlTok) bool {
	return t.kind == tokOp || t.kind == tokWord && comparisonWords[t.text]
}

// canonicalAt reports whether toks[i] starts an un-negated tenant_id = $1,
// optionally cast, that is not part of a larger expression.
func canonicalAt(toks []sqlTok, i int) bool {
	if i+2 >= len(toks) || toks[i+1].kind != tokOp || toks[i+1].text != "=" ||
		toks[i+2].kind != tokParam || toks[i+2].text != "$1" {
		return false
	}
	if i > 0 && toks[i-1].kind == tokWord && toks[i-1].text == "NOT" {
		return false
	}
	j := i + 3
	if j+1 < len(toks) && toks[j].text == "::" && toks[j+1].kind == tokWord {
		j += 2
	}
	return j >= len(toks) || toks[j].kind != tokOp
}

// checkTenantUse rejects any use of the tenant_id column at toks[i] that
// compares or transforms it other than tenant_id = $1.
func checkTenantUse(toks []sqlTok, i int) error {
	if i+1 < len(toks) && isComparison(toks[i+1]) {
		if !canonicalAt(toks, i) {
			return unscoped("tenant_id compared to a value other than $1")
		}
		return nil
	}
	if i == 0 {
		return nil
	}
	prev := toks[i-1]
	if isComparison(prev) {
		return unscoped("tenant_id compared to a value other than $1")
	}
	if prev.kind != tokOpen || i < 2 || toks[i-2].kind != tokWord {
		return nil
	}
	word := toks[i-2].text
	switch {
	case setComparisons[word]:
		return unscoped("tenant_id compared to a value other than $1")
	case groupingWords[word]:
		return nil
	case i >= 3 && toks[i-3].kind == tokWord && (toks[i-3].text == "INTO" || toks[i-3].text == "WITH"):
		return nil
	}
	return unscoped("tenant_id passed to %s", word)
}

// checkWhere requires a top-level WHERE in one SELECT, UPDATE or DELETE
// that is ANDed with tenant_id = $1.
func checkWhere(toks []sqlTok) error {
	where := -1
	for i, t := range toks {
		if t.depth == 0 && t.kind == tokWord && t.text == "WHERE" {
			where = i
			break
		}
	}
	if where < 0 {
		return unscoped("no top-level WHERE tenant_id = $1")
	}
	anchored := false
	for i := where + 1; i < len(toks); i++ {
		t := toks[i]
		if t.depth != 0 || t.kind != tokWord {
			continue
		}
		if clauseEnds[t.text] {
			break
		}
		if t.text == "OR" {
			return unscoped("top-level OR in WHERE")
		}
		if isTenantColumn(t) && canonicalAt(toks, i) {
			anchored = true
		}
	}
	if !anchored {
		return unscoped("WHERE is not restricted by tenant_id = $1")
	}
	return nil
}

// splitItems returns the comma-separated items of the parenthesized list
// opening at toks[open] and the index of its closing paren, or -1.
func splitItems(toks []sqlTok, open int) ([][]sqlTok, int) {
	d := toks[open].depth
	var items [][]sqlTok
	var cur []sqlTok
	for j := open + 1; j < len(toks); j++ {
		t := toks[j]
		switch {
		case t.kind == tokClose && t.depth == d:
			return append(items, cur), j
		case t.kind == tokComma && t.depth == d+1:
			items = append(items, cur)
			cur = nil
		default:
			cur = append(cur, t)
		}
	}
	return nil, -1
}

func boundToTenant(item []sqlTok) bool {
	if len(item) == 0 || item[0].kind != tokParam || item[0].text != "$1" {
		return false
	}
	return len(item) == 1 || len(item) == 3 && item[1].text == "::" && item[2].kind == tokWord
}

// checkInsert requires INSERT INTO t (..., tenant_id, ...) VALUES rows that
// all bind tenant_id to $1.
func checkInsert(toks []sqlTok, ins int) error {
	j := ins + 1
	if j >= len(toks) || toks[j].text != "INTO" {
		return unscoped("malformed INSERT")
	}
	j += 2
	if j >= len(toks) || toks[j].kind != tokOpen {
		return unscoped("INSERT without a column list")
	}
	cols, end := splitItems(toks, j)
	if end < 0 {
		return unscoped("malformed INSERT column list")
	}
	col := -1
	for k, c := range cols {
		if len(c) == 1 && isTenantColumn(c[0]) {
			col = k
			break
		}
	}
	if col < 0 {
		return unscoped("INSERT does not set tenant_id")
	}

	j = end + 1
	if j >= len(toks) || toks[j].text != "VALUES" {
		return unscoped("INSERT must use VALUES")
	}
	j++
	for {
		if j >= len(toks) || toks[j].kind != tokOpen {
			return unscoped("malformed VALUES")
		}
		row, end := splitItems(toks, j)
		if end < 0 || len(row) != len(cols) {
			return unscoped("VALUES row does not match the column list")
		}
		if !boundToTenant(row[col]) {
			return unscoped("tenant_id is not bound to $1")
		}
		j = end + 1
		if j < len(toks) && toks[j].kind == tokComma {
			j++
			continue
		}
		return nil
	}
}
