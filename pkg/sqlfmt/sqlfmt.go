// Package sqlfmt pretty-prints SQL statements for display: keywords are
// uppercased and each major clause starts on its own line. Literals,
// quoted identifiers and comments are passed through untouched.
package sqlfmt

import (
	"strings"
	"unicode"
)

type kind int

const (
	kWord kind = iota
	kString
	kQuoted
	kNumber
	kOperator
	kPunct
	kLineComment
	kBlockComment
)

type token struct {
	kind kind
	text string
}

var keywords = map[string]bool{
	"ADD": true, "ALL": true, "ALTER": true, "AND": true, "AS": true, "ASC": true,
	"BEGIN": true, "BETWEEN": true, "BY": true, "CASE": true, "COMMIT": true,
	"CONFLICT": true, "CREATE": true, "CROSS": true, "DEFAULT": true, "DELETE": true,
	"DESC": true, "DISTINCT": true, "DO": true, "DROP": true, "ELSE": true, "END": true,
	"EXISTS": true, "FALSE": true, "FOREIGN": true, "FROM": true, "FULL": true,
	"GROUP": true, "HAVING": true, "IF": true, "ILIKE": true, "IN": true,
	"INDEX": true, "INNER": true, "INSERT": true, "INTO": true, "IS": true,
	"JOIN": true, "KEY": true, "LEFT": true, "LIKE": true, "LIMIT": true,
	"NATURAL": true, "NOT": true, "NOTHING": true, "NULL": true, "OFFSET": true,
	"ON": true, "OR": true, "ORDER": true, "OUTER": true, "PRIMARY": true,
	"REFERENCES": true, "RETURNING": true, "RIGHT": true, "ROLLBACK": true,
	"SELECT": true, "SET": true, "TABLE": true, "THEN": true, "TRUE": true,
	"UNION": true, "UNIQUE": true, "UPDATE": true, "VALUES": true, "WHEN": true,
	"WHERE": true, "WITH": true,
}

// clauses start a new line at the current nesting level.
var clauses = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "ORDER": true,
	"HAVING": true, "LIMIT": true, "OFFSET": true, "INSERT": true, "VALUES": true,
	"UPDATE": true, "SET": true, "DELETE": true, "JOIN": true, "LEFT": true,
	"RIGHT": true, "INNER": true, "CROSS": true, "FULL": true, "NATURAL": true,
	"UNION": true, "RETURNING": true,
}

// joinPrefixes suppress the break on a following JOIN.
var joinPrefixes = map[string]bool{
	"LEFT": true, "RIGHT": true, "INNER": true, "OUTER": true,
	"CROSS": true, "FULL": true, "NATURAL": true,
}

const indent = "  "

// Format returns q with keywords uppercased and clauses reindented.
func Format(q string) string {
	toks := tokenize(strings.TrimSpace(q))
	if len(toks) == 0 {
		return ""
	}

	var (
		b        strings.Builder
		depth    int
		prev     token
		hasPrev  bool
		prevWord string // last keyword seen
		between  bool   // inside BETWEEN x AND y
		newline  bool
	)

	for _, t := range toks {
		kw := ""
		if t.kind == kWord {
			if upper := strings.ToUpper(t.text); keywords[upper] {
				t.text = upper
				kw = upper
			}
		}

		breakLine := newline
		extra := ""
		switch {
		case kw == "JOIN" && joinPrefixes[prevWord]:
		case kw == "FROM" && prevWord == "DELETE":
		case kw == "SET" && prevWord != "UPDATE":
		case clauses[kw] && hasPrev && !(prev.kind == kPunct && prev.text == "("):
			breakLine = true
		case (kw == "AND" || kw == "OR") && !between:
			breakLine = true
			extra = indent
		}
		switch kw {
		case "AND":
			between = false
		case "BETWEEN":
			between = true
		}

		switch {
		case !hasPrev:
		case breakLine:
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(indent, depth))
			b.WriteString(extra)
		case needsSpace(prev, t):
			b.WriteByte(' ')
		}
		newline = false

		b.WriteString(t.text)

		switch {
		case t.kind == kPunct && t.text == "(":
			depth++
		case t.kind == kPunct && t.text == ")":
			if depth > 0 {
				depth--
			}
		case t.kind == kLineComment:
			newline = true
		}

		if kw != "" {
			prevWord = kw
		}
		prev, hasPrev = t, true
	}

	return b.String()
}

func needsSpace(prev, cur token) bool {
	switch {
	case cur.kind == kPunct && (cur.text == "," || cur.text == ")" || cur.text == ";" || cur.text == "."):
		return false
	case prev.kind == kPunct && (prev.text == "(" || prev.text == "."):
		return false
	case cur.kind == kOperator && cur.text == "::", prev.kind == kOperator && prev.text == "::":
		return false
	case cur.kind == kPunct && cur.text == "(":
		// function call: name(...) but keyword (...)
		if prev.kind == kWord && !keywords[prev.text] {
			return false
		}
		if prev.kind == kQuoted {
			return false
		}
	}
	return true
}

func tokenize(s string) []token {
	var toks []token
	r := []rune(s)
	for i := 0; i < len(r); {
		c := r[i]
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '-' && i+1 < len(r) && r[i+1] == '-':
			j := i
			for j < len(r) && r[j] != '\n' {
				j++
			}
			toks = append(toks, token{kLineComment, strings.TrimRight(string(r[i:j]), " \t\r")})
			i = j
		case c == '/' && i+1 < len(r) && r[i+1] == '*':
			j := i + 2
			for j+1 < len(r) && !(r[j] == '*' && r[j+1] == '/') {
				j++
			}
			j = min(j+2, len(r))
			toks = append(toks, token{kBlockComment, string(r[i:j])})
			i = j
		case c == '\'':
			j := scanQuoted(r, i, '\'')
			toks = append(toks, token{kString, string(r[i:j])})
			i = j
		case c == '"' || c == '`':
			j := scanQuoted(r, i, c)
			toks = append(toks, token{kQuoted, string(r[i:j])})
			i = j
		case unicode.IsDigit(c) || (isSign(c) && i+1 < len(r) && unicode.IsDigit(r[i+1]) && signPosition(toks)):
			j := i + 1
			for j < len(r) && (unicode.IsDigit(r[j]) || r[j] == '.' || r[j] == 'e' || r[j] == 'E') {
				j++
			}
			toks = append(toks, token{kNumber, string(r[i:j])})
			i = j
		case isWordRune(c):
			j := i
			for j < len(r) && (isWordRune(r[j]) || unicode.IsDigit(r[j])) {
				j++
			}
			toks = append(toks, token{kWord, string(r[i:j])})
			i = j
		case strings.ContainsRune("<>=!|+-*/%:&^~", c):
			j := i
			for j < len(r) && strings.ContainsRune("<>=!|:&^~", r[j]) {
				j++
			}
			if j == i {
				j++
			}
			toks = append(toks, token{kOperator, string(r[i:j])})
			i = j
		default:
			toks = append(toks, token{kPunct, string(c)})
			i++
		}
	}
	return toks
}

func isSign(c rune) bool {
	return c == '-' || c == '+'
}

// signPosition reports whether a sign at this point starts a number rather
// than being a binary operator.
func signPosition(toks []token) bool {
	if len(toks) == 0 {
		return true
	}
	last := toks[len(toks)-1]
	switch last.kind {
	case kOperator:
		return true
	case kPunct:
		return last.text == "(" || last.text == ","
	case kWord:
		return keywords[strings.ToUpper(last.text)]
	}
	return false
}

func isWordRune(c rune) bool {
	return unicode.IsLetter(c) || c == '_' || c == '$' || c == '@'
}

// scanQuoted returns the index just past the closing quote, treating a
// doubled quote as an escape.
func scanQuoted(r []rune, start int, q rune) int {
	j := start + 1
	for j < len(r) {
		if r[j] == q {
			if j+1 < len(r) && r[j+1] == q {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(r)
}
