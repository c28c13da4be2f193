// Package dialect abstracts the database backends the SQL store runs on.
//
// A Driver executes statements and opens transactions; the concrete SQL
// implementation lives in dialect/sql. Three dialects are supported:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// Drivers can be wrapped with Debug to log every statement:
//
//	drv, err := sql.Open(dialect.SQLite, "file:app.db")
//	if err != nil {
//		log.Fatal(err)
//	}
//	store := sqlstore.New(dialect.Debug(drv), graph)
package dialect
