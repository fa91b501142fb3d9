package recorder

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interpolate substitutes args into the placeholders of query, giving the
// literal statement the database executed. It understands ?, $N, :name and
// @name placeholders and leaves string literals, quoted identifiers and
// comments alone. Placeholders without a matching argument are kept as is.
func Interpolate(query string, args []driver.NamedValue) string {
	if len(args) == 0 {
		return query
	}

	var (
		b          strings.Builder
		positional int
	)
	b.Grow(len(query) + 16*len(args))

	for i := 0; i < len(query); {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			j := skipQuoted(query, i, c)
			b.WriteString(query[i:j])
			i = j
		case c == '-' && i+1 < len(query) && query[i+1] == '-':
			j := strings.IndexByte(query[i:], '\n')
			if j < 0 {
				j = len(query) - i
			}
			b.WriteString(query[i : i+j])
			i += j
		case c == '/' && i+1 < len(query) && query[i+1] == '*':
			j := strings.Index(query[i+2:], "*/")
			end := len(query)
			if j >= 0 {
				end = i + 2 + j + 2
			}
			b.WriteString(query[i:end])
			i = end
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			b.WriteString("::")
			i += 2
		case c == '?':
			j := i + 1
			for j < len(query) && isDigit(query[j]) {
				j++
			}
			n := positional + 1
			if j > i+1 {
				// ?NNN names its ordinal; bare ? continues from the largest one seen
				n, _ = strconv.Atoi(query[i+1 : j])
				positional = max(positional, n)
			} else {
				positional++
			}
			if arg, ok := byOrdinal(args, n); ok {
				b.WriteString(literal(arg.Value))
			} else {
				b.WriteString(query[i:j])
			}
			i = j
		case c == '$' && i+1 < len(query) && isDigit(query[i+1]):
			j := i + 1
			for j < len(query) && isDigit(query[j]) {
				j++
			}
			n, _ := strconv.Atoi(query[i+1 : j])
			if arg, ok := byOrdinal(args, n); ok {
				b.WriteString(literal(arg.Value))
			} else {
				b.WriteString(query[i:j])
			}
			i = j
		case (c == ':' || c == '@') && i+1 < len(query) && isIdentStart(query[i+1]):
			j := i + 1
			for j < len(query) && isIdentPart(query[j]) {
				j++
			}
			if arg, ok := byName(args, query[i+1:j]); ok {
				b.WriteString(literal(arg.Value))
			} else {
				b.WriteString(query[i:j])
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

func byOrdinal(args []driver.NamedValue, n int) (driver.NamedValue, bool) {
	for _, a := range args {
		if a.Ordinal == n {
			return a, true
		}
	}
	return driver.NamedValue{}, false
}

func byName(args []driver.NamedValue, name string) (driver.NamedValue, bool) {
	for _, a := range args {
		if a.Name != "" && a.Name == name {
			return a, true
		}
	}
	return driver.NamedValue{}, false
}

// literal renders v the way it would appear in SQL text.
func literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return quote(val)
	case []byte:
		return "X'" + hex.EncodeToString(val) + "'"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case time.Time:
		return quote(val.Format("2006-01-02 15:04:05.999999999Z07:00"))
	case fmt.Stringer:
		return quote(val.String())
	default:
		return quote(fmt.Sprint(val))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func skipQuoted(s string, start int, q byte) int {
	j := start + 1
	for j < len(s) {
		if s[j] == q {
			if j+1 < len(s) && s[j+1] == q {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(s)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
