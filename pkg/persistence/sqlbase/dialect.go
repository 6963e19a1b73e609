package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines.
type Dialect struct {
	Name            string
	MigrationsTable string
	numbered        bool
}

// Postgres uses $N placeholders.
var Postgres = Dialect{
	Name: "postgres",
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`,
	numbered: true,
}

// SQLite uses ? placeholders.
var SQLite = Dialect{
	Name: "sqlite",
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`,
}

// Rebind rewrites ? placeholders for the dialect. Queries must not contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}

	var b strings.Builder

	b.Grow(len(query) + 8)

	n := 0

	for _, r := range query {
		if r == '?' {
			n++

			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))

			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}
