package text2sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrNoSQL is returned when a model response contains no statement.
	ErrNoSQL = errors.New("no SQL statement found")

	// ErrNotReadOnly rejects statements that could modify the database.
	ErrNotReadOnly = errors.New("only read-only SELECT statements are allowed")

	// ErrMultipleStatements rejects input holding more than one statement.
	ErrMultipleStatements = errors.New("multiple statements are not allowed")
)

var fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n(.*?)```")

// ExtractSQL pulls the statement out of a model response. The first fenced
// code block wins; without one the whole response is used when it starts
// with SELECT or WITH. A trailing semicolon is removed.
func ExtractSQL(text string) (string, error) {
	var candidate string
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		candidate = m[1]
	} else {
		candidate = text
		first := strings.ToUpper(firstWord(candidate))
		if first != "SELECT" && first != "WITH" {
			return "", ErrNoSQL
		}
	}
	candidate = strings.TrimSpace(candidate)
	candidate = strings.TrimSpace(strings.TrimSuffix(candidate, ";"))
	if candidate == "" {
		return "", ErrNoSQL
	}
	return candidate, nil
}

var forbiddenKeywords = map[string]struct{}{
	"INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "ALTER": {},
	"CREATE": {}, "TRUNCATE": {}, "ATTACH": {}, "DETACH": {}, "PRAGMA": {},
	"VACUUM": {}, "REINDEX": {}, "GRANT": {}, "REVOKE": {}, "MERGE": {},
	"UPSERT": {}, "ANALYZE": {},
}

// CheckReadOnly accepts a single SELECT (or WITH ... SELECT) statement and
// rejects everything else. Literals and comments are ignored when looking
// for data modifying keywords.
func CheckReadOnly(sql string) error {
	code := strings.TrimSpace(stripLiteralsAndComments(sql))
	code = strings.TrimSpace(strings.TrimSuffix(code, ";"))
	if code == "" {
		return ErrNoSQL
	}
	if strings.Contains(code, ";") {
		return ErrMultipleStatements
	}
	switch strings.ToUpper(firstWord(code)) {
	case "SELECT", "WITH":
	default:
		return fmt.Errorf("%w: statement starts with %q", ErrNotReadOnly, firstWord(code))
	}
	for _, w := range strings.FieldsFunc(code, isWordSeparator) {
		if _, bad := forbiddenKeywords[strings.ToUpper(w)]; bad {
			return fmt.Errorf("%w: found %s", ErrNotReadOnly, strings.ToUpper(w))
		}
	}
	return nil
}

func firstWord(s string) string {
	s = strings.TrimLeftFunc(s, func(r rune) bool { return unicode.IsSpace(r) || r == '(' })
	end := strings.IndexFunc(s, isWordSeparator)
	if end < 0 {
		return s
	}
	return s[:end]
}

func isWordSeparator(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_')
}

// stripLiteralsAndComments blanks out quoted strings, quoted identifiers and
// comments, keeping statement structure intact.
func stripLiteralsAndComments(sql string) string {
	var b strings.Builder
	rs := []rune(sql)
	for i := 0; i < len(rs); i++ {
		switch c := rs[i]; {
		case c == '\'' || c == '"' || c == '`':
			i++
			for i < len(rs) {
				if rs[i] == c {
					if i+1 < len(rs) && rs[i+1] == c {
						i += 2
						continue
					}
					break
				}
				i++
			}
			b.WriteRune(' ')
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
			b.WriteRune('\n')
		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/') {
				i++
			}
			i++
			b.WriteRune(' ')
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
