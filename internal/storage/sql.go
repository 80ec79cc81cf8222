package storage

import (
	"strconv"
	"strings"
)

func (b *sqlBackend) rebind(query string) string {
	return rebindQuery(b.driver, query)
}

func rebindQuery(driver, query string) string {
	if driver != "pgx" {
		return query
	}
	return rebindToPostgres(query)
}

// rebindToPostgres turns '?' placeholders into '$1, $2, ...', skipping
// quoted literals. Only the statement shapes used by this package are supported.
func rebindToPostgres(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	inSingleQuotes := false
	argIndex := 1

	for i := 0; i < len(query); i++ {
		ch := query[i]

		if ch == '\'' {
			// '' inside a literal is an escaped quote.
			if inSingleQuotes && i+1 < len(query) && query[i+1] == '\'' {
				b.WriteByte('\'')
				b.WriteByte('\'')
				i++
				continue
			}
			inSingleQuotes = !inSingleQuotes
			b.WriteByte(ch)
			continue
		}

		if ch == '?' && !inSingleQuotes {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(argIndex))
			argIndex++
			continue
		}

		b.WriteByte(ch)
	}

	return b.String()
}
