// Package sql implements the dialect.Driver interface over database/sql
// and provides the low-level statement building primitives the SQL store
// composes its queries from.
//
// Builder assembles one statement with dialect-aware identifier quoting and
// argument placeholders:
//
//	b := sql.NewBuilder(dialect.Postgres)
//	b.WriteString("SELECT ").Ident("id").WriteString(" FROM ").Ident("posts").
//		WriteString(" WHERE ").Ident("owner_id").WriteString(" = ").Arg(7)
//	query, args := b.Query()
//	// SELECT "id" FROM "posts" WHERE "owner_id" = $1
//
// Drivers are opened with Open, or wrapped around an existing *sql.DB with
// OpenDB.
package sql
